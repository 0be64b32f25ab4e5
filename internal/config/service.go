package config

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	// PaymentProvider selects the gateway implementation
	PaymentProvider string `yaml:"payment_provider"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Output      string `yaml:"output"`
	FilePath    string `yaml:"file_path"`
	Development bool   `yaml:"development"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
	// AllowedRoles restricts the admin API to tokens carrying one of these roles
	AllowedRoles []string `yaml:"allowed_roles"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	// APIBaseURL points the client at a Stripe-compatible mock when set
	APIBaseURL string `yaml:"api_base_url"`
}
