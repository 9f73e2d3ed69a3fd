package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Bus     BusConfig     `mapstructure:"bus"`
	TLS     TLSConfig     `mapstructure:"tls"`
	State   StateConfig   `mapstructure:"state"`
	Devices DevicesConfig `mapstructure:"devices"`
	Auth    AuthConfig    `mapstructure:"auth"`
}

// ServerConfig configures the local admin/status API, not the per-device
// RPC endpoints (those get their ports from the allocator).
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type BusConfig struct {
	ConfigPath       string        `mapstructure:"config_path"`
	PluginPath       string        `mapstructure:"plugin_path"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	EventReadTimeout time.Duration `mapstructure:"event_read_timeout"`
	// SupervisorGrace is how long to pause after an under-voltage event so the
	// hardware's own supervisory controller can catch up before polling resumes.
	SupervisorGrace time.Duration `mapstructure:"supervisor_grace"`
}

// TLSConfig holds the certificate lifecycle parameters. The renewal threshold
// and period have changed between deployments before, so they are
// configuration rather than constants.
type TLSConfig struct {
	Validity         time.Duration `mapstructure:"validity"`
	RenewalThreshold time.Duration `mapstructure:"renewal_threshold"`
	RenewalPeriod    time.Duration `mapstructure:"renewal_period"`
}

type StateConfig struct {
	Dir       string `mapstructure:"dir"`
	ReadyFile string `mapstructure:"ready_file"`
}

type DevicesConfig struct {
	ConfigPath string `mapstructure:"config_path"`
}

type AuthConfig struct {
	APITokenHashEnv string `mapstructure:"api_token_hash_env"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")

	viper.SetDefault("bus.poll_interval", "1s")
	viper.SetDefault("bus.event_read_timeout", "100ms")
	viper.SetDefault("bus.supervisor_grace", "1s")

	viper.SetDefault("tls.validity", "8760h")          // 1 year
	viper.SetDefault("tls.renewal_threshold", "720h")  // 30 days
	viper.SetDefault("tls.renewal_period", "8760h")    // 1 year

	viper.SetDefault("state.dir", defaultStateDir())
	viper.SetDefault("state.ready_file", "")

	viper.SetDefault("devices.config_path", "configs/devices.json")
	viper.SetDefault("auth.api_token_hash_env", "LABHOST_API_TOKEN_HASH")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("OLH")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".labhost"
	}
	return filepath.Join(home, ".config", "labhost")
}

// APITokenHash reads the Argon2id hash of the admin API token from the
// environment. An empty value disables the protected endpoints.
func (a *AuthConfig) APITokenHash() string {
	envVar := a.APITokenHashEnv
	if envVar == "" {
		envVar = "LABHOST_API_TOKEN_HASH"
	}
	return os.Getenv(envVar)
}
