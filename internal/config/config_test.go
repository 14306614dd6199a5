package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("IDENTITY_URL", "https://id.example.com/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "https://id.example.com", cfg.IdentityURL)
	assert.Equal(t, "sb-access-token", cfg.AccessCookie)
	assert.Equal(t, "access_token", cfg.LegacyAccessCookie)
	assert.Equal(t, time.Hour, cfg.AccessTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, "/account", cfg.ProtectedPrefix)
	assert.False(t, cfg.SecureCookies())
}

func TestLoadRejectsDiagnosticsInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("IDENTITY_URL", "https://id.example.com")
	t.Setenv("IDENTITY_API_KEY", "anon")
	t.Setenv("GATE_DIAGNOSTICS", "true")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GATE_DIAGNOSTICS")
}

func TestLoadRequiresIdentityInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("IDENTITY_URL", "")
	t.Setenv("IDENTITY_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "qa")
	_, err := Load()
	require.Error(t, err)
}

func TestDiagnosticsEnabled(t *testing.T) {
	cfg := Config{Environment: EnvStaging, GateDiagnostics: true}
	assert.True(t, cfg.DiagnosticsEnabled())
	assert.True(t, cfg.SecureCookies())

	cfg.Environment = EnvProduction
	assert.False(t, cfg.DiagnosticsEnabled())

	cfg = Config{Environment: EnvDevelopment}
	assert.False(t, cfg.DiagnosticsEnabled())
}

func TestLoadRejectsOverrideInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("IDENTITY_URL", "https://id.example.com")
	t.Setenv("IDENTITY_API_KEY", "anon")
	t.Setenv("GATE_OVERRIDE", "true")

	_, err := Load()
	require.Error(t, err)
}

func TestOverrideRequested(t *testing.T) {
	assert.True(t, Config{Environment: EnvStaging, GateOverride: true}.OverrideRequested())
	assert.False(t, Config{Environment: EnvProduction, GateOverride: true}.OverrideRequested())
}
