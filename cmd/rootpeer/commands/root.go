// Package commands implements the relay CLI.
package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tribechat/internal/config"
)

var (
	home         string
	configPath   string
	identityFile string

	cfg *config.Config
)

func Execute() error {
	root := &cobra.Command{
		Use:   "rootpeer",
		Short: "Trusted relay for the encrypted chat network",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".tribechat")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}
			if configPath == "" {
				configPath = filepath.Join(home, "rootpeer.yaml")
			}
			var err error
			cfg, err = config.Load(configPath)
			return err
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "data dir (default ~/.tribechat)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <home>/rootpeer.yaml)")
	root.PersistentFlags().StringVar(&identityFile, "identity", "", "identity file (default <home>/identity.json)")

	root.AddCommand(keygenCmd(), serveCmd())
	return root.Execute()
}
