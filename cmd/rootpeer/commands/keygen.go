package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tribechat/internal/crypto"
	"tribechat/internal/models"
)

func identityPath() string {
	if identityFile != "" {
		return identityFile
	}
	return filepath.Join(home, "identity.json")
}

func loadIdentity() (models.KeyPair, error) {
	data, err := os.ReadFile(identityPath())
	if err != nil {
		return models.KeyPair{}, err
	}
	var keys models.KeyPair
	if err := json.Unmarshal(data, &keys); err != nil {
		return models.KeyPair{}, err
	}
	return keys, nil
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate the relay signing identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(identityPath()); err == nil {
				return fmt.Errorf("identity already exists at %s", identityPath())
			}
			keys, err := crypto.GenerateIdentityKeyPair()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(keys, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(identityPath(), data, 0o600); err != nil {
				return err
			}
			fmt.Printf("Identity created.\nPublic key: %s\n", keys.PublicKey)
			fmt.Println("Distribute the public key to clients as root_peer.public_key.")
			return nil
		},
	}
}
