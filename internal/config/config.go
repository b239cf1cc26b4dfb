// Package config loads the node's configuration bundle from a JSON file,
// with environment-variable overrides applied afterward by reflection
// over `env:` struct tags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// NetworkConfig carries the wire-protocol-affecting and transport
// settings: where to bind, the magic peers must present, our
// self-connect nonce, and the full set of timing knobs the peer state
// machine reads.
type NetworkConfig struct {
	LocalEndpoint                   string   `json:"local_endpoint" env:"PEERNODE_LOCAL_ENDPOINT"`
	MagicHex                        string   `json:"magic" env:"PEERNODE_MAGIC"`
	Nonce                           uint64   `json:"nonce" env:"PEERNODE_NONCE"`
	MaxPeers                        int      `json:"max_peers" env:"PEERNODE_MAX_PEERS"`
	PingIntervalSeconds             uint32   `json:"ping_interval_seconds" env:"PEERNODE_PING_INTERVAL_SECONDS"`
	PingTimeoutMilliseconds         uint32   `json:"ping_timeout_milliseconds" env:"PEERNODE_PING_TIMEOUT_MS"`
	ProtocolHandshakeTimeoutSeconds uint32   `json:"protocol_handshake_timeout_seconds" env:"PEERNODE_HANDSHAKE_TIMEOUT_SECONDS"`
	InboundTimeoutSeconds           uint32   `json:"inbound_timeout_seconds" env:"PEERNODE_INBOUND_TIMEOUT_SECONDS"`
	OutboundTimeoutSeconds          uint32   `json:"outbound_timeout_seconds" env:"PEERNODE_OUTBOUND_TIMEOUT_SECONDS"`
	IdleTimeoutSeconds              uint32   `json:"idle_timeout_seconds" env:"PEERNODE_IDLE_TIMEOUT_SECONDS"`
	Seeds                           []string `json:"seeds" env:"PEERNODE_SEEDS"`
}

// ChainConfig carries the single chain-specific value the peer core
// consults: the default port to advertise when local_endpoint's port is
// unset (0).
type ChainConfig struct {
	DefaultPort uint16 `json:"default_port" env:"PEERNODE_CHAIN_DEFAULT_PORT"`
}

// NATOption is the advertised-address policy.
type NATOption string

const (
	NATNone       NATOption = "none"
	NATAuto       NATOption = "auto"
	NATExplicitIP NATOption = "explicit-ip"
)

// NATConfig controls how the node decides what address to advertise to
// peers.
type NATConfig struct {
	Option     NATOption `json:"option" env:"PEERNODE_NAT_OPTION"`
	ExplicitIP string    `json:"explicit_ip" env:"PEERNODE_NAT_EXPLICIT_IP"`
}

// TLSConfig locates the persisted self-signed certificate/key pair.
type TLSConfig struct {
	Directory   string `json:"directory" env:"PEERNODE_TLS_DIRECTORY"`
	KeyPassword string `json:"key_password" env:"PEERNODE_TLS_KEY_PASSWORD"`
	// AutoRegenerate authorizes overwriting an existing certificate/key
	// pair that fails to load or validate. Left false, a node with
	// invalid TLS material on disk aborts startup rather than silently
	// replacing its identity; the operator opts in explicitly via
	// config or the -tls-auto-regenerate flag.
	AutoRegenerate bool `json:"auto_regenerate" env:"PEERNODE_TLS_AUTO_REGENERATE"`
}

// LoggingConfig drives the ambient zap+lumberjack stack; it carries no
// wire-format effect.
type LoggingConfig struct {
	Level      string `json:"level" env:"PEERNODE_LOG_LEVEL"`
	Filename   string `json:"filename" env:"PEERNODE_LOG_FILE"`
	MaxSizeMB  int    `json:"max_size_mb" env:"PEERNODE_LOG_MAX_SIZE_MB"`
	MaxBackups int    `json:"max_backups" env:"PEERNODE_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `json:"max_age_days" env:"PEERNODE_LOG_MAX_AGE_DAYS"`
	Compress   bool   `json:"compress" env:"PEERNODE_LOG_COMPRESS"`
}

// MetricsConfig names the Prometheus namespace collectors are
// registered under; the core never binds an HTTP listener itself.
type MetricsConfig struct {
	Namespace  string `json:"namespace" env:"PEERNODE_METRICS_NAMESPACE"`
	ListenAddr string `json:"listen_addr" env:"PEERNODE_METRICS_LISTEN_ADDR"`
}

// RecentCacheConfig sizes the bigcache-backed recent-address tracker.
type RecentCacheConfig struct {
	TTLMinutes int `json:"ttl_minutes" env:"PEERNODE_RECENTCACHE_TTL_MINUTES"`
}

// Config is the full configuration bundle the application assembles
// and hands to the Hub.
type Config struct {
	Network     NetworkConfig     `json:"network"`
	ChainConfig ChainConfig       `json:"chain_config"`
	NAT         NATConfig         `json:"nat"`
	TLS         TLSConfig         `json:"tls"`
	Logging     LoggingConfig     `json:"logging"`
	Metrics     MetricsConfig     `json:"metrics"`
	RecentCache RecentCacheConfig `json:"recent_cache"`
	DataDir     string            `json:"data_dir" env:"PEERNODE_DATA_DIR"`
}

// DefaultConfig returns the configuration used when no file exists yet.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			LocalEndpoint:                   "0.0.0.0:0",
			MagicHex:                        "f9beb4d9",
			Nonce:                           0,
			MaxPeers:                        125,
			PingIntervalSeconds:             120,
			PingTimeoutMilliseconds:         120_000,
			ProtocolHandshakeTimeoutSeconds: 60,
			InboundTimeoutSeconds:           300,
			OutboundTimeoutSeconds:          300,
			IdleTimeoutSeconds:              1800,
		},
		ChainConfig: ChainConfig{DefaultPort: 8233},
		NAT:         NATConfig{Option: NATAuto},
		TLS:         TLSConfig{Directory: "tls"},
		Logging:     LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28, Compress: true},
		Metrics:     MetricsConfig{Namespace: "peernode", ListenAddr: "127.0.0.1:9090"},
		RecentCache: RecentCacheConfig{TTLMinutes: 30},
		DataDir:     "data",
	}
}

// Load reads configuration from path, creating a default file there if
// none exists, then applies any PEERNODE_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := Save(cfg, path); err != nil {
				return nil, err
			}
			return cfg, loadFromEnv(cfg)
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON, creating parent directories
// as needed.
func Save(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the bundle for internally-consistent values before
// it's handed to the Hub.
func Validate(cfg *Config) error {
	if cfg.Network.MaxPeers <= 0 {
		return errors.New("config: network.max_peers must be positive")
	}
	if len(cfg.Network.MagicHex) != 8 {
		return errors.New("config: network.magic must be 4 bytes of hex")
	}
	if cfg.Network.IdleTimeoutSeconds == 0 {
		return errors.New("config: network.idle_timeout_seconds must be positive")
	}
	switch cfg.NAT.Option {
	case NATNone, NATAuto, NATExplicitIP:
	default:
		return fmt.Errorf("config: nat.option %q is not one of none/auto/explicit-ip", cfg.NAT.Option)
	}
	if cfg.NAT.Option == NATExplicitIP && cfg.NAT.ExplicitIP == "" {
		return errors.New("config: nat.option explicit-ip requires nat.explicit_ip")
	}
	return nil
}
