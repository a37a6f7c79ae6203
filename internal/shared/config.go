package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	LogLevel  string          `toml:"log_level"`
	Source    StoreConfig     `toml:"source"`
	Target    StoreConfig     `toml:"target"`
	Database  DatabaseConfig  `toml:"database"`
	Migration MigrationConfig `toml:"migration"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// StoreConfig describes how to reach one record store.
//
// A static Token takes precedence; otherwise ClientID/ClientSecret/TokenURL enable the
// OAuth2 client-credentials flow.
type StoreConfig struct {
	Name         string   `toml:"name"`
	BaseURL      string   `toml:"base_url" validate:"omitempty,url"`
	Token        string   `toml:"token"`
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	TokenURL     string   `toml:"token_url" validate:"omitempty,url"`
	Scopes       []string `toml:"scopes"`
	RateLimit    float64  `toml:"rate_limit" validate:"gte=0"`
	TimeoutSecs  int      `toml:"timeout_seconds" validate:"gte=0"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `toml:"max_idle_conns" validate:"gte=0"`
}

// MigrationConfig holds the inputs the migration engine consumes.
type MigrationConfig struct {
	Accounts             []string            `toml:"accounts"`
	Roots                map[string][]string `toml:"roots"`
	BatchSize            int                 `toml:"batch_size" validate:"min=1,max=2000"`
	FallbackOwnerID      string              `toml:"fallback_owner_id"`
	ChoiceFallback       string              `toml:"choice_fallback"`
	MultiChoiceDelimiter string              `toml:"multichoice_delimiter" validate:"required"`
	MultiChoiceMaxLength int                 `toml:"multichoice_max_length" validate:"min=1"`
	ExcludedFields       []string            `toml:"excluded_fields"`
	OwnerFields          []string            `toml:"owner_fields"`
	SourceIDField        string              `toml:"source_id_field"`
	MaskEmails           bool                `toml:"mask_emails"`
	Resume               bool                `toml:"resume"`
	ResolveOnPatch       bool                `toml:"resolve_on_patch"`
	SchemaPath           string              `toml:"schema_path"`
	Limits               LimitsConfig        `toml:"limits"`
	Dummies              map[string]string   `toml:"dummies"`
	BypassRecordTypes    map[string]string   `toml:"bypass_record_types"`
	NaturalKeys          map[string][]string `toml:"natural_keys"`
}

// LimitsConfig caps how many children are pulled per parent for each cascade step.
//
// 0 skips the step, -1 is unlimited.
type LimitsConfig struct {
	Locations      int `toml:"locations" validate:"gte=-1"`
	Contacts       int `toml:"contacts" validate:"gte=-1"`
	Opportunities  int `toml:"opportunities" validate:"gte=-1"`
	Cases          int `toml:"cases" validate:"gte=-1"`
	Quotes         int `toml:"quotes" validate:"gte=-1"`
	QuoteLineItems int `toml:"quote_line_items" validate:"gte=-1"`
	Orders         int `toml:"orders" validate:"gte=-1"`
	OrderItems     int `toml:"order_items" validate:"gte=-1"`
}

// MetricsConfig controls the Prometheus textfile written at the end of a run.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
	Textfile  string `toml:"textfile"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s: %w", path, err)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(parts, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Source.BaseURL != "" && sameStore(c.Source.BaseURL, c.Target.BaseURL) {
		return fmt.Errorf("%w: %s", ErrSameStore, c.Source.BaseURL)
	}
	return nil
}

// sameStore compares two base URLs ignoring case and trailing slashes.
func sameStore(a, b string) bool {
	ua, errA := url.Parse(strings.TrimRight(a, "/"))
	ub, errB := url.Parse(strings.TrimRight(b, "/"))
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	return strings.EqualFold(ua.Host, ub.Host) && strings.TrimRight(ua.Path, "/") == strings.TrimRight(ub.Path, "/")
}

// Limit returns the configured per-parent limit for a cascade step name.
func (l LimitsConfig) Limit(step string) int {
	switch step {
	case "locations":
		return l.Locations
	case "contacts":
		return l.Contacts
	case "opportunities":
		return l.Opportunities
	case "cases":
		return l.Cases
	case "quotes":
		return l.Quotes
	case "quote_line_items":
		return l.QuoteLineItems
	case "orders":
		return l.Orders
	case "order_items":
		return l.OrderItems
	default:
		return 0
	}
}
