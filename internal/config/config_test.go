package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RECORD_BACKEND", "")
	t.Setenv("ISSUE_PERSIST_MODE", "")
	t.Setenv("RESULTS_BASE_URL", "")

	cfg := Load()
	assert.Equal(t, "sql", cfg.RecordBackend)
	assert.Equal(t, "pgx", cfg.DBDriver)
	assert.Equal(t, "direct", cfg.IssuePersistMode)
	assert.Equal(t, "INV26", cfg.CertIDPrefix)
	assert.Equal(t, "./data/results", cfg.ResultsBaseURL)
	assert.Len(t, cfg.CardTemplates, 4)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 24*time.Hour, cfg.PendingIDTTL)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RESULTS_BASE_URL", "https://example.org/results/")
	t.Setenv("RESULTS_CACHE_TTL", "90s")
	t.Setenv("RATE_LIMIT_PER_MIN", "7")
	t.Setenv("DB_AUTO_MIGRATE", "true")
	t.Setenv("CARD_TEMPLATE_VOLUNTEER", "/srv/volunteer.png")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://innovit.example.org, http://localhost:5173,")

	cfg := Load()
	assert.Equal(t, "https://example.org/results", cfg.ResultsBaseURL)
	assert.Equal(t, 90*time.Second, cfg.ResultsCacheTTL)
	assert.Equal(t, 7, cfg.RateLimitPerMin)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, "/srv/volunteer.png", cfg.CardTemplates["volunteer"])
	assert.Equal(t, []string{"https://innovit.example.org", "http://localhost:5173"}, cfg.CORSOrigins)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("RESULTS_CACHE_TTL", "soon")
	t.Setenv("RATE_LIMIT_PER_MIN", "many")
	t.Setenv("DB_AUTO_MIGRATE", "maybe")

	cfg := Load()
	assert.Equal(t, 6*time.Hour, cfg.ResultsCacheTTL)
	assert.Equal(t, 60, cfg.RateLimitPerMin)
	assert.False(t, cfg.AutoMigrate)
}

func TestValidate(t *testing.T) {
	base := Load()

	sheets := base
	sheets.RecordBackend = "sheets"
	sheets.SpreadsheetID = ""
	assert.Error(t, sheets.Validate())

	sheets.SpreadsheetID = "sheet-1"
	sheets.GoogleServiceJSON = "/etc/sa.json"
	assert.NoError(t, sheets.Validate())

	badDriver := base
	badDriver.DBDriver = "mysql"
	assert.Error(t, badDriver.Validate())

	badMode := base
	badMode.IssuePersistMode = "later"
	assert.Error(t, badMode.Validate())

	badDate := base
	badDate.IssueDate = "18/01/2026"
	assert.Error(t, badDate.Validate())
}

func TestCloudinaryEnabled(t *testing.T) {
	cfg := App{CloudinaryCloudName: "demo", CloudinaryAPIKey: "k"}
	assert.False(t, cfg.CloudinaryEnabled())
	cfg.CloudinaryAPISecret = "s"
	assert.True(t, cfg.CloudinaryEnabled())
}
