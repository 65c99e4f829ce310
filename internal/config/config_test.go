package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"archetype-quiz/internal/domain"
)

func TestLoad_SheetsDefaults(t *testing.T) {
	t.Setenv("PARAM_PREFIX", "/archetype-quiz/")
	t.Setenv("SPREADSHEET_ID", "sheet-1")

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	require.Equal(t, SourceSheets, cfg.ContentSource)
	require.Equal(t, "/archetype-quiz", cfg.ParamPrefix)
	require.Equal(t, "sheet-1", cfg.SpreadsheetID)
	require.Equal(t, domain.VariantFemale, cfg.DefaultVariant)
	require.Equal(t, 5*time.Minute, cfg.ItemTTL)
	require.Equal(t, time.Hour, cfg.ListTTL)
	require.Equal(t, 15*time.Second, cfg.UpstreamTimeout)
	require.Empty(t, cfg.SessionTable)
}

func TestLoad_SheetsRequiresPrefix(t *testing.T) {
	_, err := Load(viper.New())
	require.Error(t, err)
	require.Contains(t, err.Error(), "PARAM_PREFIX")
}

func TestLoad_TOMLSource(t *testing.T) {
	t.Setenv("CONTENT_SOURCE", "TOML")
	t.Setenv("CONTENT_FILE", "content.toml")
	t.Setenv("ITEM_TTL", "30s")
	t.Setenv("ADMIN_IDS", "42, 7")
	t.Setenv("DEFAULT_VARIANT", "male")

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	require.Equal(t, SourceTOML, cfg.ContentSource)
	require.Equal(t, 30*time.Second, cfg.ItemTTL)
	require.Equal(t, []string{"42", "7"}, cfg.AdminIDs)
	require.Equal(t, domain.VariantMale, cfg.DefaultVariant)
}

func TestLoad_UnknownVariant(t *testing.T) {
	t.Setenv("PARAM_PREFIX", "/p")
	t.Setenv("DEFAULT_VARIANT", "other")
	_, err := Load(viper.New())
	require.ErrorContains(t, err, "unsupported default variant")
}

func TestLoad_UnknownSource(t *testing.T) {
	t.Setenv("CONTENT_SOURCE", "postgres")
	_, err := Load(viper.New())
	require.ErrorContains(t, err, "unknown content source")
}

func TestLoad_ConfigFileBelowEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quiz.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
content_source = "toml"
content_file = "from-file.toml"
session_table = "sessions"
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SESSION_TABLE", "from-env")

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	require.Equal(t, "from-file.toml", cfg.ContentFile)
	require.Equal(t, "from-env", cfg.SessionTable)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	_, err := Load(viper.New())
	require.ErrorContains(t, err, "read config file")
}

func TestValidate_NonPositiveTTL(t *testing.T) {
	cfg := Config{ContentSource: SourceTOML, ContentFile: "x", ItemTTL: 0, ListTTL: time.Hour, UpstreamTimeout: time.Second}
	require.ErrorContains(t, cfg.Validate(), "TTL")
}
