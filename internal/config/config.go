package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the engine.
type Config struct {
	Environment string `mapstructure:"environment"`

	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`

	Engine struct {
		Workers        int           `mapstructure:"workers"`
		TickResolution time.Duration `mapstructure:"tick_resolution"`
		MaxAttempts    int           `mapstructure:"max_attempts"`
		BackoffBase    time.Duration `mapstructure:"backoff_base"`
		BackoffMax     time.Duration `mapstructure:"backoff_max"`
		QueueDepth     int           `mapstructure:"queue_depth"`
	} `mapstructure:"engine"`

	Escalation struct {
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"escalation"`

	Auth struct {
		OktaDomain      string `mapstructure:"okta_domain"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
	} `mapstructure:"auth"`

	DevModeBypass bool `mapstructure:"dev_mode_bypass"`

	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setEngineDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A config file is optional; env and defaults still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Auth.OktaDomain = normalizeIssuer(config.Auth.OktaDomain)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setEngineDefaults() {
	viper.SetDefault("environment", "DEV")
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("engine.workers", 8)
	viper.SetDefault("engine.tick_resolution", time.Minute)
	viper.SetDefault("engine.max_attempts", 3)
	viper.SetDefault("engine.backoff_base", 500*time.Millisecond)
	viper.SetDefault("engine.backoff_max", 30*time.Second)
	viper.SetDefault("engine.queue_depth", 256)
	viper.SetDefault("escalation.sweep_interval", time.Minute)
}

func (c *Config) validate() error {
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive")
	}
	if c.Engine.TickResolution <= 0 {
		return fmt.Errorf("engine.tick_resolution must be positive")
	}
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be at least 1")
	}
	return nil
}

// normalizeIssuer ensures the provided issuer string is in a predictable
// form. It removes any trailing slash and leaves the scheme and path intact,
// so the full URL from the identity provider's admin console can be pasted
// without worrying about double prefixes.
func normalizeIssuer(input string) string {
	iss := strings.TrimSpace(input)
	if strings.HasSuffix(iss, "/") {
		iss = strings.TrimRight(iss, "/")
	}
	return iss
}
