package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./sandcastle.db" {
			t.Errorf("expected database path ./sandcastle.db, got %s", config.Database.Path)
		}

		if config.Migration.BatchSize != 200 {
			t.Errorf("expected batch size 200, got %d", config.Migration.BatchSize)
		}

		if config.Migration.MultiChoiceDelimiter != ";" {
			t.Errorf("expected delimiter ';', got %q", config.Migration.MultiChoiceDelimiter)
		}

		if config.Migration.MultiChoiceMaxLength != 255 {
			t.Errorf("expected multichoice max length 255, got %d", config.Migration.MultiChoiceMaxLength)
		}

		if config.Migration.ChoiceFallback != "Other" {
			t.Errorf("expected choice fallback Other, got %s", config.Migration.ChoiceFallback)
		}

		if config.Migration.Limits.QuoteLineItems != 20 {
			t.Errorf("expected quote line item limit 20, got %d", config.Migration.Limits.QuoteLineItems)
		}

		if config.Migration.BypassRecordTypes["Opportunity"] != "Bypass" {
			t.Errorf("expected Opportunity bypass record type, got %v", config.Migration.BypassRecordTypes)
		}

		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Database.Path != defaultConfig.Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"
max_open_conns = 4

[source]
base_url = "https://prod.example.com/api"
token = "abc"

[target]
base_url = "https://sandbox.example.com/api"

[migration]
accounts = ["001A", "001B"]
batch_size = 50
fallback_owner_id = "005FALLBACK"

[migration.limits]
contacts = -1
cases = 0

[migration.dummies]
Account = "001DUMMY"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}

		if len(config.Migration.Accounts) != 2 {
			t.Errorf("expected 2 root accounts, got %d", len(config.Migration.Accounts))
		}

		if config.Migration.BatchSize != 50 {
			t.Errorf("expected batch size 50, got %d", config.Migration.BatchSize)
		}

		if config.Migration.Limits.Contacts != -1 || config.Migration.Limits.Cases != 0 {
			t.Errorf("unexpected limits: %+v", config.Migration.Limits)
		}

		if config.Migration.Limits.Quotes != 10 {
			t.Errorf("unset limit should keep default 10, got %d", config.Migration.Limits.Quotes)
		}

		if config.Migration.Dummies["Account"] != "001DUMMY" {
			t.Errorf("expected Account dummy, got %v", config.Migration.Dummies)
		}

		if !config.Migration.MaskEmails {
			t.Error("mask_emails should keep its default")
		}
	})

	t.Run("LoadConfig missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("Validate", func(t *testing.T) {
		tt := []struct {
			name    string
			mutate  func(c *Config)
			wantErr error
		}{
			{name: "zero batch size", mutate: func(c *Config) { c.Migration.BatchSize = 0 }, wantErr: ErrInvalidConfig},
			{name: "oversized batch", mutate: func(c *Config) { c.Migration.BatchSize = 5000 }, wantErr: ErrInvalidConfig},
			{name: "limit below -1", mutate: func(c *Config) { c.Migration.Limits.Orders = -2 }, wantErr: ErrInvalidConfig},
			{name: "empty delimiter", mutate: func(c *Config) { c.Migration.MultiChoiceDelimiter = "" }, wantErr: ErrInvalidConfig},
			{name: "bad url", mutate: func(c *Config) { c.Target.BaseURL = "::not a url" }, wantErr: ErrInvalidConfig},
			{
				name: "same store",
				mutate: func(c *Config) {
					c.Source.BaseURL = "https://org.example.com/api/"
					c.Target.BaseURL = "https://ORG.example.com/api"
				},
				wantErr: ErrSameStore,
			},
			{name: "unlimited is fine", mutate: func(c *Config) { c.Migration.Limits.Contacts = -1 }},
		}

		for _, tc := range tt {
			t.Run(tc.name, func(t *testing.T) {
				config := DefaultConfig()
				tc.mutate(config)
				err := config.Validate()
				if tc.wantErr == nil {
					if err != nil {
						t.Fatalf("expected no error, got %v", err)
					}
					return
				}
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("expected %v, got %v", tc.wantErr, err)
				}
			})
		}
	})

	t.Run("Limit", func(t *testing.T) {
		limits := LimitsConfig{Locations: 1, Contacts: 2, Opportunities: 3, Cases: 4, Quotes: 5, QuoteLineItems: 6, Orders: 7, OrderItems: 8}
		steps := []string{"locations", "contacts", "opportunities", "cases", "quotes", "quote_line_items", "orders", "order_items"}
		for i, step := range steps {
			if got := limits.Limit(step); got != i+1 {
				t.Errorf("Limit(%s) = %d, want %d", step, got, i+1)
			}
		}
		if limits.Limit("widgets") != 0 {
			t.Error("unknown step should be skipped")
		}
	})
}
