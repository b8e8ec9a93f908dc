package config

import (
	"errors"

	"github.com/spf13/viper"
)

// Config holds everything the server needs at startup. It is loaded once in
// main and passed down explicitly; nothing reads viper after Load returns.
type Config struct {
	HTTPAddr  string `mapstructure:"HTTP_ADDR"`
	DSN       string `mapstructure:"DSN"`
	JWTSecret string `mapstructure:"JWT_SECRET"`

	// PublicOrigin is the scheme+host the browser reaches us on; the
	// return/cancel/notify callback URLs are derived from it.
	PublicOrigin string `mapstructure:"PUBLIC_ORIGIN"`

	PayFastMerchantID     string `mapstructure:"PAYFAST_MERCHANT_ID"`
	PayFastMerchantKey    string `mapstructure:"PAYFAST_MERCHANT_KEY"`
	PayFastPassphrase     string `mapstructure:"PAYFAST_PASSPHRASE"`
	PayFastBaseURL        string `mapstructure:"PAYFAST_BASE_URL"`
	PayFastValidateSource bool   `mapstructure:"PAYFAST_VALIDATE_SOURCE"`

	SendgridAPIKey string `mapstructure:"SENDGRID_API_KEY"`
	FromEmail      string `mapstructure:"FROM_EMAIL"`
}

var ErrMissingMerchantCredentials = errors.New("config: PAYFAST_MERCHANT_ID and PAYFAST_MERCHANT_KEY are required")

// Load reads config.env from the working directory, with environment
// variables taking precedence.
func Load() (Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("PAYFAST_BASE_URL", "https://sandbox.payfast.co.za")
	v.SetDefault("PUBLIC_ORIGIN", "http://localhost:8080")
	v.SetDefault("FROM_EMAIL", "donations@localhost")

	// Unmarshal only sees keys viper knows about; bind the rest so a pure
	// environment deployment (no config.env) still works.
	for _, key := range []string{
		"DSN", "JWT_SECRET",
		"PAYFAST_MERCHANT_ID", "PAYFAST_MERCHANT_KEY", "PAYFAST_PASSPHRASE",
		"PAYFAST_VALIDATE_SOURCE", "SENDGRID_API_KEY",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing config.env is fine as long as the environment
		// supplies the required keys.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate fails loudly on anything that would otherwise surface as an
// unsigned or unroutable payment request at donation time.
func (c Config) Validate() error {
	if c.PayFastMerchantID == "" || c.PayFastMerchantKey == "" {
		return ErrMissingMerchantCredentials
	}
	if c.DSN == "" {
		return errors.New("config: DSN is required")
	}
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	return nil
}
