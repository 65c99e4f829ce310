package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"archetype-quiz/internal/domain"
)

const (
	SourceSheets = "sheets"
	SourceTOML   = "toml"
)

// Keys read from the environment (or an optional config file).
const (
	keyContentSource   = "content_source"
	keySpreadsheetID   = "spreadsheet_id"
	keyParamPrefix     = "param_prefix"
	keyContentFile     = "content_file"
	keySessionTable    = "session_table"
	keyDefaultVariant  = "default_variant"
	keyItemTTL         = "item_ttl"
	keyListTTL         = "list_ttl"
	keyUpstreamTimeout = "upstream_timeout"
	keyAdminIDs        = "admin_ids"
	keySheetsBaseURL   = "sheets_base_url"
	keyConfigFile      = "config_file"
)

// Config is the process configuration. It is read once at startup.
type Config struct {
	ContentSource string
	// SpreadsheetID may be empty when PARAM_PREFIX holds it as spreadsheet-id.
	SpreadsheetID   string
	ParamPrefix     string
	ContentFile     string
	SessionTable    string
	DefaultVariant  domain.Variant
	ItemTTL         time.Duration
	ListTTL         time.Duration
	UpstreamTimeout time.Duration
	AdminIDs        []string
	SheetsBaseURL   string
}

// Load reads configuration through v. Environment variables use the upper-case
// key names (CONTENT_SOURCE, SPREADSHEET_ID, ...). CONFIG_FILE optionally names a
// file whose values sit below the environment.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault(keyContentSource, SourceSheets)
	v.SetDefault(keyDefaultVariant, string(domain.DefaultVariant))
	v.SetDefault(keyItemTTL, 5*time.Minute)
	v.SetDefault(keyListTTL, time.Hour)
	v.SetDefault(keyUpstreamTimeout, 15*time.Second)
	v.SetDefault(keySheetsBaseURL, "https://sheets.googleapis.com")

	if path := strings.TrimSpace(v.GetString(keyConfigFile)); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg := Config{
		ContentSource:   strings.ToLower(strings.TrimSpace(v.GetString(keyContentSource))),
		SpreadsheetID:   strings.TrimSpace(v.GetString(keySpreadsheetID)),
		ParamPrefix:     strings.TrimRight(strings.TrimSpace(v.GetString(keyParamPrefix)), "/"),
		ContentFile:     strings.TrimSpace(v.GetString(keyContentFile)),
		SessionTable:    strings.TrimSpace(v.GetString(keySessionTable)),
		ItemTTL:         v.GetDuration(keyItemTTL),
		ListTTL:         v.GetDuration(keyListTTL),
		UpstreamTimeout: v.GetDuration(keyUpstreamTimeout),
		AdminIDs:        splitList(v.GetString(keyAdminIDs)),
		SheetsBaseURL:   strings.TrimSpace(v.GetString(keySheetsBaseURL)),
	}

	variant, ok := domain.ParseVariant(v.GetString(keyDefaultVariant))
	if !ok {
		return Config{}, fmt.Errorf("config: unsupported default variant %q", v.GetString(keyDefaultVariant))
	}
	cfg.DefaultVariant = variant

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected content source has what it needs.
func (c Config) Validate() error {
	switch c.ContentSource {
	case SourceSheets:
		if c.ParamPrefix == "" {
			return errors.New("config: PARAM_PREFIX is required for the sheets content source")
		}
	case SourceTOML:
		if c.ContentFile == "" {
			return errors.New("config: CONTENT_FILE is required for the toml content source")
		}
	default:
		return fmt.Errorf("config: unknown content source %q", c.ContentSource)
	}
	if c.ItemTTL <= 0 || c.ListTTL <= 0 {
		return errors.New("config: cache TTLs must be positive")
	}
	if c.UpstreamTimeout <= 0 {
		return errors.New("config: UPSTREAM_TIMEOUT must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
