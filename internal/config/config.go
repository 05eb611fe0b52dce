package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"smsalert/internal/db"
	"smsalert/internal/subscription"
)

// Prefix is prepended to every variable; the unprefixed name is used as a
// fallback, so TWILIO_AUTH_TOKEN works as well as SMSALERT_TWILIO_AUTH_TOKEN.
const Prefix = "SMSALERT"

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreDapr     = "dapr"
)

type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"smsalert"`
	Version     string `envconfig:"SERVICE_VERSION" default:"1.0.0"`
	Port        string `envconfig:"PORT" default:"3000"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	GinMode     string `envconfig:"GIN_MODE"`
	Tracing     bool   `envconfig:"TRACING_ENABLED" default:"true"`

	// Homepage is appended to every SMS reply.
	Homepage string `envconfig:"HOMEPAGE"`
	// PublicURL is the base URL Twilio calls; inbound signatures are
	// checked against it.
	PublicURL string `envconfig:"PUBLIC_URL"`

	Store     string `envconfig:"STORE" default:"memory"`
	TableName string `envconfig:"DB_TABLE_NAME" default:"phone_numbers"`
	SQLite    string `envconfig:"SQLITE_PATH" default:"smsalert.db"`
	DaprStore string `envconfig:"DAPR_STATE_STORE" default:"statestore"`

	// Groups are embedded so their variables keep flat names.
	db.PgConfig
	TwilioConfig
	CaptchaConfig
	KeywordConfig
	CarrierConfig
	SMSConfig
	ReportConfig
}

type TwilioConfig struct {
	AccountSID  string `envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken   string `envconfig:"TWILIO_AUTH_TOKEN"`
	PhoneNumber string `envconfig:"TWILIO_PHONE_NUMBER"`
	// ValidateSignatures rejects inbound webhooks without a valid
	// X-Twilio-Signature.
	ValidateSignatures bool `envconfig:"TWILIO_VALIDATE_SIGNATURES" default:"false"`
}

func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != ""
}

type CaptchaConfig struct {
	Secret    string `envconfig:"RECAPTCHA_SECRET_KEY"`
	VerifyURL string `envconfig:"RECAPTCHA_VERIFY_URL"`
}

type KeywordConfig struct {
	Enter   []string `envconfig:"KEYWORDS_ENTER" default:"ENTER,START"`
	Confirm []string `envconfig:"KEYWORDS_CONFIRM" default:"CONFIRM,YES"`
	Exit    []string `envconfig:"KEYWORDS_EXIT" default:"EXIT,STOP"`
}

func (k KeywordConfig) Keywords() subscription.Keywords {
	return subscription.Keywords{
		Enter:   trimAll(k.Enter),
		Confirm: trimAll(k.Confirm),
		Exit:    trimAll(k.Exit),
	}
}

type CarrierConfig struct {
	CacheTTL time.Duration `envconfig:"CARRIER_CACHE_TTL" default:"24h"`
}

type SMSConfig struct {
	SendTimeout time.Duration `envconfig:"SMS_SEND_TIMEOUT" default:"30s"`
}

type ReportConfig struct {
	Source      string `envconfig:"REPORT_URL"`
	Concurrency int    `envconfig:"REPORT_CONCURRENCY" default:"8"`
	// StartDate is the first day of the reporting window, YYYY-MM-DD. When
	// empty it is looked up once from the dataset.
	StartDate string `envconfig:"REPORT_START_DATE"`
}

// Load reads .env files if present and then the environment. Missing .env
// files are not an error. The result is not validated: callers apply their
// overrides first and then call Validate.
func Load(envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if cfg.Homepage == "" {
		cfg.Homepage = fmt.Sprintf("http://localhost:%s/", cfg.Port)
	}

	return &cfg, nil
}

func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Validate checks the configuration is semantically correct.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StorePostgres, StoreSQLite, StoreDapr:
	default:
		return fmt.Errorf("unknown store %q, expected one of memory, postgres, sqlite, dapr", c.Store)
	}

	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.TwilioConfig.ValidateSignatures && c.TwilioConfig.AuthToken == "" {
		return errors.New("twilio auth token is required to validate inbound signatures")
	}

	if c.TwilioConfig.Enabled() && c.TwilioConfig.PhoneNumber == "" {
		return errors.New("twilio phone number is required when twilio credentials are set")
	}

	keywords := c.Keywords()
	if len(keywords.Enter) == 0 || len(keywords.Confirm) == 0 || len(keywords.Exit) == 0 {
		return errors.New("every keyword set needs at least one keyword")
	}

	if c.ReportConfig.Concurrency < 1 {
		return fmt.Errorf("report concurrency must be positive, got %d", c.ReportConfig.Concurrency)
	}

	return nil
}

func trimAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}
