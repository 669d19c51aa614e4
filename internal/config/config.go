package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every environment-driven setting of the service.
type Config struct {
	Port    string
	Env     string
	BaseURL string

	StoreDriver string
	SessionTTL  time.Duration
	PixExpiry   time.Duration
	// ExpiryGrace is added to PixExpiry before a pending session is closed locally.
	ExpiryGrace time.Duration
	DatabaseURL string
	RedisURL    string

	Mangofy  MangofyConfig
	Customer CustomerDefaults
	Facebook FacebookConfig
	UTMify   UTMifyConfig

	AttributionTimeout time.Duration

	FirebaseCredentialsPath string
	BotFilterEnabled        bool
	SnowflakeNode           int64
	WorkerTick              time.Duration
}

// MangofyConfig configures the Pix gateway.
type MangofyConfig struct {
	APIURL          string
	Authorization   string
	StoreCodeHeader string
	StoreCodeBody   string
	PostbackURL     string
	Timeout         time.Duration
}

// Configured reports whether both the URL and the credential are present.
func (m MangofyConfig) Configured() bool {
	return m.APIURL != "" && m.Authorization != ""
}

// CustomerDefaults is the fallback payer sent to the gateway when none was collected.
type CustomerDefaults struct {
	Name     string
	Email    string
	Phone    string
	Document string
}

type FacebookConfig struct {
	PixelID       string
	AccessToken   string
	GraphAPIURL   string
	TestEventCode string
}

func (f FacebookConfig) Configured() bool {
	return f.PixelID != "" && f.AccessToken != ""
}

type UTMifyConfig struct {
	APIURL   string
	APIToken string
	Platform string
	IsTest   bool
}

func (u UTMifyConfig) Configured() bool {
	return u.APIURL != "" && u.APIToken != ""
}

// IsDevelopment reports whether ENV=development.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// LoadDotEnv loads .env into the process environment. Variables that are
// already set win. It reports whether a file was found.
func LoadDotEnv() bool {
	return godotenv.Load() == nil
}

// Load reads the configuration from the environment.
func Load() *Config {
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "production")
	v.SetDefault("BASE_URL", "")
	v.SetDefault("STORE_DRIVER", "memory")
	v.SetDefault("SESSION_TTL", 24*time.Hour)
	v.SetDefault("PIX_EXPIRY", 30*time.Minute)
	v.SetDefault("PIX_EXPIRY_GRACE", 5*time.Minute)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")

	v.SetDefault("MANGOFY_API_URL", "")
	v.SetDefault("MANGOFY_AUTHORIZATION", "")
	v.SetDefault("MANGOFY_STORE_CODE_HEADER", "")
	v.SetDefault("MANGOFY_STORE_CODE_BODY", "")
	v.SetDefault("MANGOFY_POSTBACK_URL", "")
	v.SetDefault("MANGOFY_TIMEOUT", 15*time.Second)

	v.SetDefault("DEFAULT_CUSTOMER_NAME", "")
	v.SetDefault("DEFAULT_CUSTOMER_EMAIL", "")
	v.SetDefault("DEFAULT_CUSTOMER_PHONE", "")
	v.SetDefault("DEFAULT_CUSTOMER_DOCUMENT", "")

	v.SetDefault("FACEBOOK_PIXEL_ID", "")
	v.SetDefault("FACEBOOK_ACCESS_TOKEN", "")
	v.SetDefault("FACEBOOK_GRAPH_API_URL", "https://graph.facebook.com/v19.0")
	v.SetDefault("FACEBOOK_TEST_EVENT_CODE", "")

	v.SetDefault("UTMIFY_API_URL", "")
	v.SetDefault("UTMIFY_API_TOKEN", "")
	v.SetDefault("UTMIFY_PLATFORM", "StreamVault")
	v.SetDefault("UTMIFY_IS_TEST", false)

	v.SetDefault("ATTRIBUTION_TIMEOUT", 10*time.Second)
	v.SetDefault("FIREBASE_CREDENTIALS_PATH", "")
	v.SetDefault("BOT_FILTER_ENABLED", true)
	v.SetDefault("SNOWFLAKE_NODE", 1)
	v.SetDefault("WORKER_TICK", 5*time.Minute)
	return v
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	cfg := &Config{
		Port:        v.GetString("PORT"),
		Env:         v.GetString("ENV"),
		BaseURL:     strings.TrimRight(v.GetString("BASE_URL"), "/"),
		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),
		SessionTTL:  v.GetDuration("SESSION_TTL"),
		PixExpiry:   v.GetDuration("PIX_EXPIRY"),
		ExpiryGrace: v.GetDuration("PIX_EXPIRY_GRACE"),
		DatabaseURL: v.GetString("DATABASE_URL"),
		RedisURL:    v.GetString("REDIS_URL"),
		Mangofy: MangofyConfig{
			APIURL:          strings.TrimRight(v.GetString("MANGOFY_API_URL"), "/"),
			Authorization:   v.GetString("MANGOFY_AUTHORIZATION"),
			StoreCodeHeader: v.GetString("MANGOFY_STORE_CODE_HEADER"),
			StoreCodeBody:   v.GetString("MANGOFY_STORE_CODE_BODY"),
			PostbackURL:     v.GetString("MANGOFY_POSTBACK_URL"),
			Timeout:         v.GetDuration("MANGOFY_TIMEOUT"),
		},
		Customer: CustomerDefaults{
			Name:     v.GetString("DEFAULT_CUSTOMER_NAME"),
			Email:    v.GetString("DEFAULT_CUSTOMER_EMAIL"),
			Phone:    v.GetString("DEFAULT_CUSTOMER_PHONE"),
			Document: v.GetString("DEFAULT_CUSTOMER_DOCUMENT"),
		},
		Facebook: FacebookConfig{
			PixelID:       v.GetString("FACEBOOK_PIXEL_ID"),
			AccessToken:   v.GetString("FACEBOOK_ACCESS_TOKEN"),
			GraphAPIURL:   strings.TrimRight(v.GetString("FACEBOOK_GRAPH_API_URL"), "/"),
			TestEventCode: v.GetString("FACEBOOK_TEST_EVENT_CODE"),
		},
		UTMify: UTMifyConfig{
			APIURL:   v.GetString("UTMIFY_API_URL"),
			APIToken: v.GetString("UTMIFY_API_TOKEN"),
			Platform: v.GetString("UTMIFY_PLATFORM"),
			IsTest:   v.GetBool("UTMIFY_IS_TEST"),
		},
		AttributionTimeout:      v.GetDuration("ATTRIBUTION_TIMEOUT"),
		FirebaseCredentialsPath: v.GetString("FIREBASE_CREDENTIALS_PATH"),
		BotFilterEnabled:        v.GetBool("BOT_FILTER_ENABLED"),
		SnowflakeNode:           v.GetInt64("SNOWFLAKE_NODE"),
		WorkerTick:              v.GetDuration("WORKER_TICK"),
	}

	if cfg.Mangofy.PostbackURL == "" && cfg.BaseURL != "" {
		cfg.Mangofy.PostbackURL = cfg.BaseURL + "/api/mangofy-callback"
	}
	return cfg
}
