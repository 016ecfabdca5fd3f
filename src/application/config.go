package application

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// IdentityConfig locates this agent's actor id file and permits an
// override for tests and ephemeral deployments.
type IdentityConfig struct {
	ActorFile     string `mapstructure:"actor_file"`
	ActorOverride string `mapstructure:"actor_override"`
}

// UpstreamConfig names one AAS server this agent ingresses from and
// egresses to. The first four fields mirror upstream.Config's connection
// fields; Mode selects poll vs event ingress for that upstream (spec
// §4.7), and AasID/SubmodelID name the document it watches.
type UpstreamConfig struct {
	Kind              string `mapstructure:"kind"`
	BaseURL           string `mapstructure:"base_url"`
	TLSCAPath         string `mapstructure:"tls_ca_path"`
	CredentialsEnvVar string `mapstructure:"credentials_env_var"`
	Mode              string `mapstructure:"mode"`
	AasID             string `mapstructure:"aas_id"`
	SubmodelID        string `mapstructure:"submodel_id"`
}

// TransportConfig configures the libp2p gossip mesh this agent joins.
type TransportConfig struct {
	ListenAddrs []string `mapstructure:"listen_addrs"`
	Bootstrap   []string `mapstructure:"bootstrap"`
}

// CompactionConfig governs the periodic delta-log GC loop.
type CompactionConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Policy   string        `mapstructure:"policy"`
}

// Config is the sync agent's full configuration surface (spec §6), loaded
// by viper from a YAML file plus DELTASYNC_-prefixed environment
// overrides — a direct generalization of the teacher's application.Config
// (DataDir/ListenPort/Bootstrap) plus its WireGuardConfig nested-block
// pattern for optional sub-configs.
type Config struct {
	Identity            IdentityConfig   `mapstructure:"identity"`
	Upstreams           []UpstreamConfig `mapstructure:"upstreams"`
	Transport           TransportConfig  `mapstructure:"transport"`
	DurabilityDir       string           `mapstructure:"durability_dir"`
	AntiEntropyInterval time.Duration    `mapstructure:"anti_entropy_interval"`
	ClockSkewBound      time.Duration    `mapstructure:"clock_skew_bound"`
	EgressQueueDepth    int              `mapstructure:"egress_queue_depth"`
	PollInterval        time.Duration    `mapstructure:"poll_interval"`
	Compaction          CompactionConfig `mapstructure:"compaction"`
	LogLevel            string           `mapstructure:"log_level"`
}

// DefaultConfig returns the agent's baseline configuration before any
// file or environment override is applied.
func DefaultConfig() *Config {
	dataDir := os.Getenv("DELTASYNC_DATA_DIR")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".deltasync")
	}

	return &Config{
		Identity: IdentityConfig{ActorFile: filepath.Join(dataDir, "actor.id")},
		Transport: TransportConfig{
			ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0", "/ip4/0.0.0.0/udp/0/quic-v1"},
		},
		DurabilityDir:       dataDir,
		AntiEntropyInterval: 30 * time.Second,
		ClockSkewBound:      60 * time.Second,
		EgressQueueDepth:    1024,
		PollInterval:        10 * time.Second,
		Compaction:          CompactionConfig{Interval: time.Minute, Policy: "all-peers-confirmed"},
		LogLevel:            "info",
	}
}

// LoadConfig reads configuration from path (if non-empty), else from
// ~/.deltasync/ and the working directory, then applies
// DELTASYNC_-prefixed environment overrides — following the teacher's
// src/interface/cli/root.go viper wiring (SetConfigName/AddConfigPath/
// SetEnvPrefix/AutomaticEnv), generalized to a dedicated *viper.Viper
// instance rather than the global one so tests can load without
// polluting process-wide state.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(home, ".deltasync"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Every scalar key is registered as a default so AutomaticEnv can
	// resolve it during Unmarshal — viper only consults the environment
	// for keys it already knows about, so an env-only override with no
	// matching default or config-file entry would otherwise be silently
	// dropped.
	v.SetDefault("identity.actor_file", cfg.Identity.ActorFile)
	v.SetDefault("identity.actor_override", cfg.Identity.ActorOverride)
	v.SetDefault("transport.listen_addrs", cfg.Transport.ListenAddrs)
	v.SetDefault("transport.bootstrap", cfg.Transport.Bootstrap)
	v.SetDefault("durability_dir", cfg.DurabilityDir)
	v.SetDefault("anti_entropy_interval", cfg.AntiEntropyInterval)
	v.SetDefault("clock_skew_bound", cfg.ClockSkewBound)
	v.SetDefault("egress_queue_depth", cfg.EgressQueueDepth)
	v.SetDefault("poll_interval", cfg.PollInterval)
	v.SetDefault("compaction.interval", cfg.Compaction.Interval)
	v.SetDefault("compaction.policy", cfg.Compaction.Policy)
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetEnvPrefix("DELTASYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if path != "" {
				return nil, fmt.Errorf("application: read config: %w", err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("application: unmarshal config: %w", err)
	}

	return cfg, nil
}
