package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"tribechat/internal/logger"
	"tribechat/internal/rootpeer"
)

func serveCmd() *cobra.Command {
	var (
		listen []string
		dbPath string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := loadIdentity()
			if err != nil {
				return fmt.Errorf("loading identity (run keygen first): %w", err)
			}
			if len(listen) == 0 {
				listen = cfg.ListenAddrs
			}
			if dbPath == "" {
				dbPath = filepath.Join(home, "rootpeer.db")
			}

			log := logger.New(logger.LogLevel(cfg.LogLevel))
			store, err := rootpeer.OpenLog(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			srv, err := rootpeer.NewServer(ctx, rootpeer.ServerConfig{
				ListenAddrs:        listen,
				DiscoveryNamespace: cfg.RootPeer.DiscoveryNamespace,
				Identity:           keys,
			}, store, log)
			if err != nil {
				return err
			}
			defer srv.Close()

			fmt.Printf("Relay up, peer id anchored to public key %s\n", keys.PublicKey)
			for _, addr := range srv.Addrs() {
				fmt.Println("  ", addr)
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sig:
			case <-ctx.Done():
			}
			log.Info("shutting down")
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&listen, "listen", nil, "multiaddrs to listen on (default from config)")
	cmd.Flags().StringVar(&dbPath, "db", "", "message log path (default <home>/rootpeer.db)")
	return cmd
}
