package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EnvSubstitutionAndDurations(t *testing.T) {
	t.Setenv("PS_SHEET_ID", "sheet-42")

	path := filepath.Join(t.TempDir(), "profilesync.yaml")
	content := `
backend: sheets
sheets:
  spreadsheet_id: ${PS_SHEET_ID}
  credentials_file: /tmp/sa.json
writer:
  quota_backoff: 90s
pacer:
  min_delay: 500ms
  max_delay: 4s
upsert:
  audit_arrows: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sheet-42", cfg.Sheets.SpreadsheetID)
	assert.Equal(t, 90*time.Second, cfg.Writer.QuotaBackoff)
	assert.Equal(t, 500*time.Millisecond, cfg.Pacer.MinDelay)
	assert.Equal(t, 4*time.Second, cfg.Pacer.MaxDelay)
	assert.True(t, cfg.Upsert.AuditArrows)
	// untouched sections keep their defaults
	assert.Equal(t, 3, cfg.Writer.MaxAttempts)
	assert.Equal(t, "Profiles", cfg.Tabs.Profiles)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("PS_A", "alpha")
	assert.Equal(t, "x alpha y  z", substituteEnvVars("x ${PS_A} y ${PS_UNSET} z"))
	assert.Equal(t, "no vars", substituteEnvVars("no vars"))
	assert.Equal(t, "broken ${PS_A", substituteEnvVars("broken ${PS_A"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"memory backend", func(c *Config) { c.Backend = BackendMemory }, false},
		{"sheets without id", func(c *Config) {}, true},
		{"unknown backend", func(c *Config) { c.Backend = "ftp" }, true},
		{"zero attempts", func(c *Config) { c.Backend = BackendMemory; c.Writer.MaxAttempts = 0 }, true},
		{"inverted pacer", func(c *Config) {
			c.Backend = BackendMemory
			c.Pacer.MinDelay = 5 * time.Second
		}, true},
		{"cap below floor", func(c *Config) {
			c.Backend = BackendMemory
			c.Pacer.MaxDelayCap = time.Second
		}, true},
		{"header row", func(c *Config) { c.Backend = BackendMemory; c.Upsert.TopRow = 1 }, true},
		{"bad blank policy", func(c *Config) { c.Backend = BackendMemory; c.Upsert.BlankPolicy = "zap" }, true},
		{"batch min above max", func(c *Config) {
			c.Backend = BackendMemory
			c.Batch.Enabled = true
			c.Batch.MinSize = 30
		}, true},
		{"token policy", func(c *Config) { c.Backend = BackendMemory; c.Upsert.BlankPolicy = BlankToken }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
