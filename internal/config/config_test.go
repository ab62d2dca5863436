package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadBreakerFallsBackOnGarbage(t *testing.T) {
	t.Setenv("BREAKER_FAILURES", "zero")
	t.Setenv("BREAKER_TIMEOUT_SECONDS", "-3")

	cfg := Load()
	assert.Equal(t, uint32(5), cfg.BreakerFailures)
	assert.Equal(t, 10*time.Second, cfg.BreakerTimeout)
}

func TestLocationDefaultsToKarachi(t *testing.T) {
	t.Setenv("BUSINESS_TIMEZONE", "")

	loc, err := Load().Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Karachi", loc.String())

	_, err = Config{BusinessTimezone: "Mars/Olympus"}.Location()
	assert.Error(t, err)
}
