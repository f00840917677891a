// Package config loads the chat subsystem configuration from YAML,
// falling back to defaults for anything unset.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tribechat/internal/utils"
)

var ErrBadConfig = utils.NewChatError("invalid configuration")

// RootPeerConfig identifies the trusted relay.
type RootPeerConfig struct {
	// DiscoveryNamespace seeds the rendezvous topic on which the root
	// peer announces itself.
	DiscoveryNamespace string `yaml:"discovery_namespace"`
	// PublicKey is the root peer's Ed25519 public key (hex). Announcements
	// failing verification against it are ignored.
	PublicKey string `yaml:"public_key"`
	// Addrs are optional static multiaddrs dialed before discovery kicks in.
	Addrs []string `yaml:"addrs,omitempty"`
}

type Config struct {
	ListenAddrs []string       `yaml:"listen_addrs"`
	RootPeer    RootPeerConfig `yaml:"root_peer"`

	// InboxDwell is how long an inbox drain stays joined before leaving.
	InboxDwell time.Duration `yaml:"inbox_dwell"`
	// SyncTimeout bounds a single sync round-trip to the root peer.
	SyncTimeout time.Duration `yaml:"sync_timeout"`
	// RootPeerWaitTimeout is the default WaitForRootPeer deadline.
	RootPeerWaitTimeout time.Duration `yaml:"root_peer_wait_timeout"`

	DatabasePath string `yaml:"database_path"`
	LogLevel     string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0", "/ip4/0.0.0.0/udp/0/quic-v1"},
		RootPeer: RootPeerConfig{
			DiscoveryNamespace: "tribechat-root-peer-discovery",
		},
		InboxDwell:          8 * time.Second,
		SyncTimeout:         10 * time.Second,
		RootPeerWaitTimeout: 5 * time.Second,
		DatabasePath:        "tribechat.db",
		LogLevel:            "INFO",
	}
}

// Load reads path and overlays it on the defaults. A missing file is not
// an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, ErrBadConfig.WithDetails(err.Error())
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, ErrBadConfig.WithDetails(err.Error())
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.ListenAddrs) == 0 {
		return ErrBadConfig.WithDetails("listen_addrs must not be empty")
	}
	if c.RootPeer.DiscoveryNamespace == "" {
		return ErrBadConfig.WithDetails("root_peer.discovery_namespace must not be empty")
	}
	if c.InboxDwell <= 0 || c.SyncTimeout <= 0 || c.RootPeerWaitTimeout <= 0 {
		return ErrBadConfig.WithDetails("timeouts must be positive")
	}
	return nil
}
