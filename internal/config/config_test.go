package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsalert/internal/subscription"
)

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "phone_numbers", cfg.TableName)
	assert.Equal(t, "http://localhost:3000/", cfg.Homepage)
	assert.Equal(t, "5432", cfg.PgConfig.Port)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.SendTimeout)
	assert.Equal(t, subscription.DefaultKeywords(), cfg.Keywords())
	assert.False(t, cfg.TwilioConfig.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoadReadsUnprefixedAndPrefixedNames(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("TWILIO_PHONE_NUMBER", "+15005550006")
	t.Setenv("DB_TABLE_NAME", "subscribers")
	t.Setenv("SMSALERT_DB_TABLE_NAME", "alerts")
	t.Setenv("SMSALERT_KEYWORDS_EXIT", "QUIT, END")

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.True(t, cfg.TwilioConfig.Enabled())
	assert.Equal(t, "+15005550006", cfg.PhoneNumber)
	assert.Equal(t, "alerts", cfg.TableName)
	assert.Equal(t, []string{"QUIT", "END"}, cfg.Keywords().Exit)
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HOMEPAGE=https://example.org/\nSMSALERT_STORE=sqlite\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("HOMEPAGE")
		os.Unsetenv("SMSALERT_STORE")
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.org/", cfg.Homepage)
	assert.Equal(t, StoreSQLite, cfg.Store)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown store", env: map[string]string{"SMSALERT_STORE": "mongo"}},
		{name: "signature check without token", env: map[string]string{"TWILIO_VALIDATE_SIGNATURES": "true"}},
		{name: "credentials without sender", env: map[string]string{"TWILIO_ACCOUNT_SID": "AC123", "TWILIO_AUTH_TOKEN": "secret"}},
		{name: "empty keyword set", env: map[string]string{"SMSALERT_KEYWORDS_CONFIRM": " , "}},
		{name: "no report concurrency", env: map[string]string{"SMSALERT_REPORT_CONCURRENCY": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(missingEnvFile(t))
			require.NoError(t, err)
			assert.Error(t, cfg.Validate())
		})
	}
}
