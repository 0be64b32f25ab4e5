package config

import (
	"fmt"
	"os"
	"path/filepath"

	pkgconfig "github.com/wekeepgrowing/semo-dunning/pkg/config"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g. DUNNING_DATABASE_PASSWORD
const EnvPrefix = "DUNNING"

type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	JWT       JWTConfig       `yaml:"jwt"`
	Stripe    StripeConfig    `yaml:"stripe"`
	Dunning   DunningConfig   `yaml:"dunning"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Sweep     SweepConfig     `yaml:"sweep"`
}

// LoadConfig reads the YAML file at CONFIG_PATH (default ./configs/dunning.yaml),
// applies defaults and environment overrides, and validates the result.
func LoadConfig() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/dunning.yaml"
	}
	return LoadFile(configPath)
}

// LoadFile loads the configuration from an explicit path
func LoadFile(configPath string) (*Config, error) {
	// Ensure absolute path
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	// Read config file
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a configuration from YAML bytes
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	cfg.applyEnv(pkgconfig.NewEnv(EnvPrefix))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills unset values
func (c *Config) ApplyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "dunning"
	}
	if c.Service.Environment == "" {
		c.Service.Environment = "dev"
	}
	if c.Service.PaymentProvider == "" {
		c.Service.PaymentProvider = "stripe"
	}
	c.Database.applyDefaults()
	c.Server.applyDefaults()
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	c.Dunning.applyDefaults()
	c.Scheduler.applyDefaults()
	c.Sweep.applyDefaults()
}

// applyEnv overrides secrets and deployment-specific values from the environment
func (c *Config) applyEnv(env *pkgconfig.Env) {
	env.String("service.environment", &c.Service.Environment)
	env.String("service.payment_provider", &c.Service.PaymentProvider)

	env.String("database.host", &c.Database.Host)
	env.Int("database.port", &c.Database.Port)
	env.String("database.name", &c.Database.Name)
	env.String("database.user", &c.Database.User)
	env.String("database.password", &c.Database.Password)
	env.String("database.sslmode", &c.Database.SSLMode)

	env.String("redis.addr", &c.Redis.Addr)
	env.String("redis.password", &c.Redis.Password)
	env.Int("redis.db", &c.Redis.DB)

	env.Int("server.http.port", &c.Server.HTTP.Port)
	env.Int("server.grpc.port", &c.Server.GRPC.Port)

	env.String("log.level", &c.Log.Level)
	env.String("log.format", &c.Log.Format)

	env.String("jwt.secret", &c.JWT.Secret)
	env.StringSlice("jwt.allowed_roles", &c.JWT.AllowedRoles)

	env.String("stripe.secret_key", &c.Stripe.SecretKey)
	env.String("stripe.webhook_secret", &c.Stripe.WebhookSecret)
	env.String("stripe.api_base_url", &c.Stripe.APIBaseURL)

	env.String("sweep.schedule", &c.Sweep.Schedule)
	env.Bool("sweep.disabled", &c.Sweep.Disabled)
	env.Duration("scheduler.poll_interval", &c.Scheduler.PollInterval)
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	if c.Server.HTTP.Port <= 0 || c.Server.HTTP.Port > 65535 {
		return fmt.Errorf("server.http.port out of range: %d", c.Server.HTTP.Port)
	}
	if c.Server.GRPC.Port <= 0 || c.Server.GRPC.Port > 65535 {
		return fmt.Errorf("server.grpc.port out of range: %d", c.Server.GRPC.Port)
	}
	if c.Scheduler.BaseBackoff > c.Scheduler.MaxBackoff {
		return fmt.Errorf("scheduler.base_backoff (%s) exceeds scheduler.max_backoff (%s)", c.Scheduler.BaseBackoff, c.Scheduler.MaxBackoff)
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler.max_attempts must be positive")
	}
	if c.Sweep.Grace < 0 {
		return fmt.Errorf("sweep.grace must not be negative")
	}
	if _, err := c.Dunning.BuildLadder(); err != nil {
		return err
	}
	return nil
}
