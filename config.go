package onboarding

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
)

// Config holds the session settings. Zero values are replaced by the same
// defaults the env tags declare.
type Config struct {
	APIBaseURL  string `env:"ONBOARDING_API_URL" envDefault:"https://api.mubee-platform.com"`
	LoginPath   string `env:"ONBOARDING_LOGIN_PATH" envDefault:"/v1/token/login"`
	RefreshPath string `env:"ONBOARDING_REFRESH_PATH" envDefault:"/v1/token/refresh-token"`
	UsersPath   string `env:"ONBOARDING_USERS_PATH" envDefault:"/v1/user/users"`

	ClientID       string `env:"ONBOARDING_CLIENT_ID" envDefault:"mykeego"`
	ClientSecret   string `env:"ONBOARDING_CLIENT_SECRET"`
	TenantID       string `env:"ONBOARDING_TENANT_ID" envDefault:"ranflat-sa"`
	OrganizationID string `env:"ONBOARDING_ORGANIZATION_ID"`

	TokenSafetyMargin time.Duration `env:"ONBOARDING_TOKEN_MARGIN" envDefault:"5m"`
	StrictRefresh     bool          `env:"ONBOARDING_STRICT_REFRESH" envDefault:"false"`
	HTTPTimeout       time.Duration `env:"ONBOARDING_HTTP_TIMEOUT" envDefault:"15s"`

	HydrationTimeout  time.Duration `env:"ONBOARDING_HYDRATION_TIMEOUT" envDefault:"1s"`
	EmailPollInterval time.Duration `env:"ONBOARDING_EMAIL_POLL_INTERVAL" envDefault:"3s"`
	SmsResendCooldown time.Duration `env:"ONBOARDING_SMS_RESEND_COOLDOWN" envDefault:"60s"`
	PhoneRegion       string        `env:"ONBOARDING_PHONE_REGION" envDefault:"AR"`

	VerificationClientID string `env:"ONBOARDING_VERIFICATION_CLIENT_ID"`
	VerificationFlowID   string `env:"ONBOARDING_VERIFICATION_FLOW_ID" envDefault:"619fa0e8ef554d001d186cb9"`
}

// DefaultConfig returns a Config populated with the declared defaults.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

// LoadConfig reads optional dotenv files and parses the environment into a
// Config. Missing dotenv files are ignored.
func LoadConfig(files ...string) (Config, error) {
	cfg := Config{}
	if err := LoadEnv(&cfg, files...); err != nil {
		return Config{}, err
	}
	return cfg.withDefaults(), nil
}

// LoadEnv loads dotenv files and parses env tags into target.
func LoadEnv(target any, files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to load dotenv file")
	}

	if err := env.Parse(target); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse environment")
	}
	return nil
}

func (c Config) withDefaults() Config {
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.APIBaseURL == "" {
		c.APIBaseURL = "https://api.mubee-platform.com"
	}
	if c.LoginPath == "" {
		c.LoginPath = "/v1/token/login"
	}
	if c.RefreshPath == "" {
		c.RefreshPath = "/v1/token/refresh-token"
	}
	if c.UsersPath == "" {
		c.UsersPath = "/v1/user/users"
	}
	if c.ClientID == "" {
		c.ClientID = "mykeego"
	}
	if c.TenantID == "" {
		c.TenantID = "ranflat-sa"
	}
	if c.OrganizationID == "" {
		c.OrganizationID = c.TenantID
	}
	if c.TokenSafetyMargin <= 0 {
		c.TokenSafetyMargin = 5 * time.Minute
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.HydrationTimeout <= 0 {
		c.HydrationTimeout = time.Second
	}
	if c.EmailPollInterval <= 0 {
		c.EmailPollInterval = 3 * time.Second
	}
	if c.SmsResendCooldown <= 0 {
		c.SmsResendCooldown = time.Minute
	}
	if c.PhoneRegion == "" {
		c.PhoneRegion = "AR"
	}
	if c.VerificationFlowID == "" {
		c.VerificationFlowID = "619fa0e8ef554d001d186cb9"
	}
	return c
}
