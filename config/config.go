package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds everything read from the environment at process start.
type Config struct {
	Port    string `mapstructure:"PORT"`
	GinMode string `mapstructure:"GIN_MODE"`

	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBName     string `mapstructure:"DB_NAME"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	SessionSecret string `mapstructure:"SESSION_SECRET"`
	AdminAPIToken string `mapstructure:"ADMIN_API_TOKEN"`

	// PlanCreditsRaw is "plan:credits" pairs, comma separated.
	PlanCreditsRaw    string `mapstructure:"PLAN_CREDITS"`
	CancelPolicy      string `mapstructure:"CANCEL_POLICY"`
	ReconcileCopyUsed bool   `mapstructure:"RECONCILE_COPY_USED"`

	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripeSuccessURL    string `mapstructure:"STRIPE_SUCCESS_URL"`
	StripeCancelURL     string `mapstructure:"STRIPE_CANCEL_URL"`
	StripePriceStandard string `mapstructure:"STRIPE_PRICE_STANDARD"`
	StripePriceAgency   string `mapstructure:"STRIPE_PRICE_AGENCY"`

	OpenAIAPIKey string `mapstructure:"OPENAI_API_KEY"`
	StagingModel string `mapstructure:"STAGING_MODEL"`
	StagingSize  string `mapstructure:"STAGING_SIZE"`
	// StagingRatePerMinute limits staging requests per user; 0 disables it.
	StagingRatePerMinute int `mapstructure:"STAGING_RATE_PER_MINUTE"`

	// CORSAllowedOrigins is a comma separated list; empty allows none.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	ExpirySweepSchedule string `mapstructure:"EXPIRY_SWEEP_SCHEDULE"`

	SMTPHost string `mapstructure:"SMTP_HOST"`
	SMTPPort string `mapstructure:"SMTP_PORT"`
	SMTPUser string `mapstructure:"SMTP_USER"`
	SMTPPass string `mapstructure:"SMTP_PASS"`
	SMTPFrom string `mapstructure:"SMTP_FROM"`

	// PlanCredits is PlanCreditsRaw parsed by Load.
	PlanCredits map[string]int `mapstructure:"-"`
}

var keys = []string{
	"PORT", "GIN_MODE",
	"DB_USER", "DB_PASSWORD", "DB_HOST", "DB_PORT", "DB_NAME",
	"LOG_LEVEL", "LOG_FORMAT",
	"SESSION_SECRET", "ADMIN_API_TOKEN",
	"PLAN_CREDITS", "CANCEL_POLICY", "RECONCILE_COPY_USED",
	"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "STRIPE_SUCCESS_URL", "STRIPE_CANCEL_URL",
	"STRIPE_PRICE_STANDARD", "STRIPE_PRICE_AGENCY",
	"OPENAI_API_KEY", "STAGING_MODEL", "STAGING_SIZE", "STAGING_RATE_PER_MINUTE",
	"CORS_ALLOWED_ORIGINS",
	"EXPIRY_SWEEP_SCHEDULE",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS", "SMTP_FROM",
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// A missing .env is fine; production injects real env vars.
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("DB_HOST", "127.0.0.1")
	v.SetDefault("DB_PORT", "3306")
	v.SetDefault("DB_NAME", "staging")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "auto")
	v.SetDefault("CANCEL_POLICY", "keep")
	v.SetDefault("RECONCILE_COPY_USED", false)
	v.SetDefault("STAGING_MODEL", "dall-e-2")
	v.SetDefault("STAGING_SIZE", "1024x1024")
	v.SetDefault("STAGING_RATE_PER_MINUTE", 20)
	v.SetDefault("EXPIRY_SWEEP_SCHEDULE", "@every 1h")

	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.New("failed to unmarshal config: " + err.Error())
	}

	credits, err := ParsePlanCredits(cfg.PlanCreditsRaw)
	if err != nil {
		return nil, err
	}
	cfg.PlanCredits = credits
	return &cfg, nil
}

// ValidateServer checks the settings the HTTP server cannot run without.
func (c *Config) ValidateServer() error {
	if c.SessionSecret == "" {
		return errors.New("SESSION_SECRET is required")
	}
	if c.AdminAPIToken == "" {
		return errors.New("ADMIN_API_TOKEN is required")
	}
	if len(c.PlanCredits) == 0 {
		return errors.New("PLAN_CREDITS is required (e.g. standard:50,agency:300)")
	}
	return nil
}

// ParsePlanCredits parses "standard:50,agency:300". Plan names are lowercased.
func ParsePlanCredits(raw string) (map[string]int, error) {
	out := map[string]int{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("PLAN_CREDITS: entry %q is not plan:credits", pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("PLAN_CREDITS: invalid credits for %q", name)
		}
		out[strings.ToLower(strings.TrimSpace(name))] = n
	}
	return out, nil
}

// AllowedOrigins splits CORSAllowedOrigins.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// StripePrices maps plan names to configured Stripe price ids.
func (c *Config) StripePrices() map[string]string {
	out := map[string]string{}
	if c.StripePriceStandard != "" {
		out["standard"] = c.StripePriceStandard
	}
	if c.StripePriceAgency != "" {
		out["agency"] = c.StripePriceAgency
	}
	return out
}
