package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	DBSchema    string `mapstructure:"DB_SCHEMA"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	ClassifierBackend string        `mapstructure:"CLASSIFIER_BACKEND"`
	ClassifierURL     string        `mapstructure:"CLASSIFIER_URL"`
	ClassifierTimeout time.Duration `mapstructure:"CLASSIFIER_TIMEOUT"`
	OpenAIAPIKey      string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `mapstructure:"OPENAI_BASE_URL"`
	OpenAIModel       string        `mapstructure:"OPENAI_MODEL"`

	RuleEvalInterval time.Duration `mapstructure:"RULE_EVAL_INTERVAL"`
	RuleEvalWorkers  int           `mapstructure:"RULE_EVAL_WORKERS"`

	DeliveryChannels           []string      `mapstructure:"DELIVERY_CHANNELS"`
	DeliveryMaxAttempts        int           `mapstructure:"DELIVERY_MAX_ATTEMPTS"`
	DeliveryBackoffBase        time.Duration `mapstructure:"DELIVERY_BACKOFF_BASE"`
	DeliveryRedispatchInterval time.Duration `mapstructure:"DELIVERY_REDISPATCH_INTERVAL"`
	DeliveryRedispatchMax      int           `mapstructure:"DELIVERY_REDISPATCH_MAX"`
	DeliveryStaleAfter         time.Duration `mapstructure:"DELIVERY_STALE_AFTER"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	WebhookURL    string `mapstructure:"WEBHOOK_URL"`
	WebhookSecret string `mapstructure:"WEBHOOK_SECRET"`

	RedisURL string `mapstructure:"REDIS_URL"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"CLASSIFIER_BACKEND", "CLASSIFIER_URL", "CLASSIFIER_TIMEOUT",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL",
	"RULE_EVAL_INTERVAL", "RULE_EVAL_WORKERS",
	"DELIVERY_CHANNELS", "DELIVERY_MAX_ATTEMPTS", "DELIVERY_BACKOFF_BASE",
	"DELIVERY_REDISPATCH_INTERVAL", "DELIVERY_REDISPATCH_MAX", "DELIVERY_STALE_AFTER",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
	"WEBHOOK_URL", "WEBHOOK_SECRET",
	"REDIS_URL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("CLASSIFIER_BACKEND", "http")
	v.SetDefault("CLASSIFIER_TIMEOUT", "10s")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("RULE_EVAL_INTERVAL", "5m")
	v.SetDefault("RULE_EVAL_WORKERS", 8)
	v.SetDefault("DELIVERY_CHANNELS", "in_app")
	v.SetDefault("DELIVERY_MAX_ATTEMPTS", 3)
	v.SetDefault("DELIVERY_BACKOFF_BASE", "1s")
	v.SetDefault("DELIVERY_REDISPATCH_INTERVAL", "10m")
	v.SetDefault("DELIVERY_REDISPATCH_MAX", 10)
	v.SetDefault("DELIVERY_STALE_AFTER", "15m")
	v.SetDefault("SMTP_PORT", 587)

	for _, k := range envKeys {
		v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Env values arrive as one comma-separated string; trim each entry.
	if raw := v.GetString("DELIVERY_CHANNELS"); raw != "" {
		cfg.DeliveryChannels = splitList(raw)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the service is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development a
// signing key is required so acknowledgments carry a verified actor.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}

	switch c.ClassifierBackend {
	case "http":
		if c.IsProduction() && c.ClassifierURL == "" {
			return fmt.Errorf("CLASSIFIER_URL is required for the http classifier in production")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when CLASSIFIER_BACKEND is \"openai\"")
		}
	default:
		return fmt.Errorf("CLASSIFIER_BACKEND must be \"http\" or \"openai\", got %q", c.ClassifierBackend)
	}
	if c.ClassifierTimeout <= 0 {
		return fmt.Errorf("CLASSIFIER_TIMEOUT must be positive")
	}

	if c.DeliveryMaxAttempts < 1 {
		return fmt.Errorf("DELIVERY_MAX_ATTEMPTS must be at least 1, got %d", c.DeliveryMaxAttempts)
	}
	if c.RuleEvalWorkers < 1 {
		return fmt.Errorf("RULE_EVAL_WORKERS must be at least 1, got %d", c.RuleEvalWorkers)
	}
	if len(c.DeliveryChannels) == 0 {
		return fmt.Errorf("DELIVERY_CHANNELS must name at least one channel")
	}
	for _, ch := range c.DeliveryChannels {
		switch ch {
		case "email":
			if c.SMTPHost == "" || c.SMTPFrom == "" {
				return fmt.Errorf("SMTP_HOST and SMTP_FROM are required for the email channel")
			}
		case "webhook":
			if c.WebhookURL == "" {
				return fmt.Errorf("WEBHOOK_URL is required for the webhook channel")
			}
		case "push":
			if c.RedisURL == "" {
				return fmt.Errorf("REDIS_URL is required for the push channel")
			}
		}
	}

	return nil
}
