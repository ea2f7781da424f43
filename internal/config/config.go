package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values must come from env (or a .env file loaded by Load).
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	Store      StoreConfig
	DB         DBConfig
	Redis      RedisConfig
	Feed       FeedConfig
	Provider   ProviderConfig
	Twilio     TwilioConfig
	Redelivery RedeliveryConfig
	HTTP       HTTPConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable origin (scheme+host) used for provider
	// callbacks and webhook signature checks.
	PublicBaseURL string
}

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	ProviderSandbox = "sandbox"
	ProviderTwilio  = "twilio"
)

type StoreConfig struct {
	Driver  string
	Migrate bool
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional; an empty Host disables the feed bridge and deferred redelivery.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type FeedConfig struct {
	Channel    string
	MaxPending int
	Heartbeat  time.Duration
}

type ProviderConfig struct {
	Driver  string
	Timeout time.Duration
	// SandboxSimulate replays a scripted lifecycle for sandbox calls.
	SandboxSimulate bool
}

type TwilioConfig struct {
	AccountSID         string
	AuthToken          string
	FromNumber         string
	APIBaseURL         string
	ValidateSignatures bool
	RecordCalls        bool
	StreamURL          string
	Greeting           string
}

type RedeliveryConfig struct {
	Delay       time.Duration
	MaxRetry    int
	Queue       string
	Concurrency int
}

type HTTPConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

// Load reads .env (when present) and the process environment, then validates.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a validated Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	r := envReader{get: getenv}
	c := Config{}

	c.App.Env = r.str("APP_ENV")
	c.App.Port = r.requiredInt("APP_PORT")
	c.App.PublicBaseURL = strings.TrimRight(r.str("PUBLIC_BASE_URL"), "/")

	c.Store.Driver = strings.ToLower(r.str("STORE_DRIVER"))
	c.Store.Migrate = r.boolean("DB_MIGRATE", false)

	c.DB.Host = r.str("DB_HOST")
	c.DB.Port = r.integer("DB_PORT", 5432)
	c.DB.User = r.str("DB_USER")
	c.DB.Password = getenv("DB_PASSWORD")
	c.DB.Name = r.str("DB_NAME")
	c.DB.SSLMode = r.str("DB_SSLMODE")

	c.Redis.Host = r.str("REDIS_HOST")
	c.Redis.Port = r.integer("REDIS_PORT", 6379)
	c.Redis.Password = getenv("REDIS_PASSWORD")
	c.Redis.DB = r.integer("REDIS_DB", 0)

	c.Feed.Channel = r.str("FEED_CHANNEL")
	c.Feed.MaxPending = r.integer("FEED_MAX_PENDING", 0)
	c.Feed.Heartbeat = r.duration("FEED_HEARTBEAT", 0)

	c.Provider.Driver = strings.ToLower(r.str("PROVIDER_DRIVER"))
	c.Provider.Timeout = r.duration("PROVIDER_TIMEOUT", 0)
	c.Provider.SandboxSimulate = r.boolean("SANDBOX_SIMULATE", true)

	c.Twilio.AccountSID = r.str("TWILIO_ACCOUNT_SID")
	c.Twilio.AuthToken = getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.FromNumber = r.str("TWILIO_FROM_NUMBER")
	c.Twilio.APIBaseURL = r.str("TWILIO_API_BASE_URL")
	c.Twilio.ValidateSignatures = r.boolean("TWILIO_VALIDATE_SIGNATURES", true)
	c.Twilio.RecordCalls = r.boolean("TWILIO_RECORD_CALLS", false)
	c.Twilio.StreamURL = r.str("TWILIO_STREAM_URL")
	c.Twilio.Greeting = r.str("CALL_GREETING")

	c.Redelivery.Delay = r.duration("REDELIVERY_DELAY", 0)
	c.Redelivery.MaxRetry = r.integer("REDELIVERY_MAX_RETRY", -1)
	c.Redelivery.Queue = r.str("REDELIVERY_QUEUE")
	c.Redelivery.Concurrency = r.integer("REDELIVERY_CONCURRENCY", 0)

	c.HTTP.RateLimitRPS = r.float("RATE_LIMIT_RPS", 0)
	c.HTTP.RateLimitBurst = r.integer("RATE_LIMIT_BURST", 0)
	c.HTTP.CORSOrigins = splitList(r.str("CORS_ALLOWED_ORIGINS"))

	if err := joinErrors(r.errs); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// applyDefaults fills optional values. Production-sensitive values stay empty so Validate
// can insist on them.
func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.DB.SSLMode == "" && !c.IsProduction() {
		c.DB.SSLMode = "disable"
	}
	if c.Feed.Channel == "" {
		c.Feed.Channel = "callsync:changes"
	}
	if c.Feed.MaxPending <= 0 {
		c.Feed.MaxPending = 1024
	}
	if c.Feed.Heartbeat <= 0 {
		c.Feed.Heartbeat = 15 * time.Second
	}
	if c.Provider.Driver == "" {
		c.Provider.Driver = ProviderSandbox
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 10 * time.Second
	}
	if c.Twilio.Greeting == "" {
		c.Twilio.Greeting = "Hello, this is an automated call."
	}
	if c.Redelivery.Delay <= 0 {
		c.Redelivery.Delay = 5 * time.Second
	}
	if c.Redelivery.MaxRetry < 0 {
		c.Redelivery.MaxRetry = 12
	}
	if c.Redelivery.Queue == "" {
		c.Redelivery.Queue = "webhooks"
	}
	if c.Redelivery.Concurrency <= 0 {
		c.Redelivery.Concurrency = 10
	}
	if c.HTTP.RateLimitRPS <= 0 {
		c.HTTP.RateLimitRPS = 1
	}
	if c.HTTP.RateLimitBurst <= 0 {
		c.HTTP.RateLimitBurst = 5
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	switch c.Store.Driver {
	case StorePostgres:
		errs = append(errs, c.validateDB()...)
	case StoreMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be memory or postgres, got %q", c.Store.Driver))
	}

	if c.RedisEnabled() && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	switch c.Provider.Driver {
	case ProviderTwilio:
		if c.Twilio.AccountSID == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required for PROVIDER_DRIVER=twilio"))
		}
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required for PROVIDER_DRIVER=twilio"))
		}
		if c.Twilio.FromNumber == "" {
			errs = append(errs, errors.New("TWILIO_FROM_NUMBER is required for PROVIDER_DRIVER=twilio"))
		}
		if c.App.PublicBaseURL == "" {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required for PROVIDER_DRIVER=twilio"))
		}
	case ProviderSandbox:
		if c.IsProduction() {
			errs = append(errs, errors.New("PROVIDER_DRIVER=sandbox is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("PROVIDER_DRIVER must be twilio or sandbox, got %q", c.Provider.Driver))
	}
	if c.IsProduction() && c.Provider.Driver == ProviderTwilio && !c.Twilio.ValidateSignatures {
		errs = append(errs, errors.New("TWILIO_VALIDATE_SIGNATURES cannot be disabled in production"))
	}

	if c.HTTP.RateLimitRPS < 0 || c.HTTP.RateLimitBurst < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be non-negative"))
	}

	return joinErrors(errs)
}

func (c Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	} else if !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// StatusCallbackURL is where the provider posts call status changes.
func (c Config) StatusCallbackURL() string {
	if c.App.PublicBaseURL == "" {
		return ""
	}
	return c.App.PublicBaseURL + "/webhooks/twilio/status"
}

type envReader struct {
	get  func(string) string
	errs []error
}

func (r *envReader) str(key string) string {
	return strings.TrimSpace(r.get(key))
}

func (r *envReader) requiredInt(key string) int {
	v := r.str(key)
	if v == "" {
		r.errs = append(r.errs, fmt.Errorf("%s is required", key))
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n
}

func (r *envReader) integer(key string, def int) int {
	v := r.str(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return def
	}
	return n
}

func (r *envReader) float(key string, def float64) float64 {
	v := r.str(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a number, got %q", key, v))
		return def
	}
	return f
}

func (r *envReader) boolean(key string, def bool) bool {
	v := r.str(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return def
	}
	return b
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a duration, got %q", key, v))
		return def
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
