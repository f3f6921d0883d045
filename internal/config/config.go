// Package config provides a reusable loader for the proxy's configuration
// file and environment variables: a viper-backed unified struct plus
// env-var overrides for secrets and connection strings that should never
// live in a checked-in YAML file.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/unicitynetwork/aggregator-subscription-proxy/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a proxy replica.
type Config struct {
	Server struct {
		ListenAddr    string `mapstructure:"listen_addr" json:"listen_addr"`
		AdminAddr     string `mapstructure:"admin_addr" json:"admin_addr"`
		IdleTimeoutMS int    `mapstructure:"idle_timeout_ms" json:"idle_timeout_ms"`
		MaxHeaders    int    `mapstructure:"max_headers" json:"max_headers"`
		MaxBodyBytes  int64  `mapstructure:"max_body_bytes" json:"max_body_bytes"`
	} `mapstructure:"server" json:"server"`

	Auth struct {
		ProtectedMethods []string `mapstructure:"protected_methods" json:"protected_methods"`
	} `mapstructure:"auth" json:"auth"`

	Payment struct {
		SessionTTLMinutes  int    `mapstructure:"session_ttl_minutes" json:"session_ttl_minutes"`
		MinimumPayment     int64  `mapstructure:"minimum_payment" json:"minimum_payment"`
		PlanDurationDays   int    `mapstructure:"plan_duration_days" json:"plan_duration_days"`
		GraceMinutes       int    `mapstructure:"grace_minutes" json:"grace_minutes"`
		AggregatorBaseURL  string `mapstructure:"aggregator_base_url" json:"aggregator_base_url"`
		AcceptWaitSeconds  int    `mapstructure:"accept_wait_seconds" json:"accept_wait_seconds"`
		ProofWaitSeconds   int    `mapstructure:"proof_wait_seconds" json:"proof_wait_seconds"`
	} `mapstructure:"payment" json:"payment"`

	Database struct {
		MaxIdleConns    int `mapstructure:"max_idle_conns" json:"max_idle_conns"`
		MaxOpenConns    int `mapstructure:"max_open_conns" json:"max_open_conns"`
		ConnTimeoutSec  int `mapstructure:"conn_timeout_sec" json:"conn_timeout_sec"`
		IdleTimeoutMin  int `mapstructure:"idle_timeout_min" json:"idle_timeout_min"`
		MaxLifetimeMin  int `mapstructure:"max_lifetime_min" json:"max_lifetime_min"`
		LeakDetectSec   int `mapstructure:"leak_detect_sec" json:"leak_detect_sec"`
	} `mapstructure:"database" json:"database"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`

	// Secrets, loaded exclusively from the environment, never from YAML.
	DatabaseURL      string
	ShardConfigURI   string
	PaymentServerSecret string
}

// AppConfig holds the configuration loaded via Load.
var AppConfig Config

// Load reads default.yaml from ./config or the working directory (and an
// optional env-specific overlay from the same places),
// merges environment overrides, and stores the result in AppConfig.
func Load(env string) (*Config, error) {
	_ = godotenv.Load(".env")

	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
			}
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}

	AppConfig.DatabaseURL = utils.EnvOrDefault("DATABASE_URL", "")
	AppConfig.ShardConfigURI = utils.EnvOrDefault("SHARD_CONFIG_URI", "")
	AppConfig.PaymentServerSecret = utils.EnvOrDefault("PAYMENT_SERVER_SECRET", "")

	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the PROXY_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("PROXY_ENV", ""))
}

func setDefaults() {
	viper.SetDefault("server.listen_addr", ":8080")
	viper.SetDefault("server.admin_addr", ":8090")
	viper.SetDefault("server.idle_timeout_ms", 30000)
	viper.SetDefault("server.max_headers", 100)
	viper.SetDefault("server.max_body_bytes", 1<<20)

	viper.SetDefault("auth.protected_methods", []string{"submit_commitment"})

	viper.SetDefault("payment.session_ttl_minutes", 15)
	viper.SetDefault("payment.minimum_payment", 1000)
	viper.SetDefault("payment.plan_duration_days", 30)
	viper.SetDefault("payment.grace_minutes", 15)
	viper.SetDefault("payment.accept_wait_seconds", 30)
	viper.SetDefault("payment.proof_wait_seconds", 60)

	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.max_open_conns", 50)
	viper.SetDefault("database.conn_timeout_sec", 30)
	viper.SetDefault("database.idle_timeout_min", 10)
	viper.SetDefault("database.max_lifetime_min", 30)
	viper.SetDefault("database.leak_detect_sec", 60)

	viper.SetDefault("logging.level", "info")
}
