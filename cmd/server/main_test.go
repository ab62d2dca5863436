package main

import (
	"testing"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "123456"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidatePINStrength(t *testing.T) {
	for _, pin := range []string{"222222", "345678", "876543", "112233"} {
		if err := validatePINStrength(pin); err == nil {
			t.Fatalf("expected %s to be rejected", pin)
		}
	}
	if err := validatePINStrength("730519"); err != nil {
		t.Fatalf("expected 730519 to pass, got %v", err)
	}
}

func TestRootCommandWiresSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "migrate", "reconcile"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected %s subcommand, got %v (err %v)", name, cmd, err)
		}
	}
	reconcile, _, _ := root.Find([]string{"reconcile"})
	if reconcile.Flags().Lookup("repair") == nil {
		t.Fatalf("expected --repair flag on reconcile")
	}
}

func TestBootstrapInMemory(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "test-admin-pass")
	t.Setenv("SEED_OPERATOR_PASSWORD", "test-operator-pass")
	cfg := config.Config{BusinessTimezone: "Asia/Karachi", BreakerFailures: 3}

	a, err := bootstrap(t.Context(), cfg)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if a.service == nil || a.metrics == nil || a.store == nil {
		t.Fatalf("expected wired app, got %+v", a)
	}
	if len(a.closers) != 0 {
		t.Fatalf("in-memory bootstrap should hold no closers, got %d", len(a.closers))
	}
}

func TestBootstrapRejectsBadTimezone(t *testing.T) {
	if _, err := bootstrap(t.Context(), config.Config{BusinessTimezone: "Mars/Olympus"}); err == nil {
		t.Fatalf("expected unknown timezone to fail bootstrap")
	}
}

func TestMigrateRequiresDatabaseURL(t *testing.T) {
	if err := runMigrate(t.Context(), config.Config{}); err == nil {
		t.Fatalf("expected migrate without DATABASE_URL to fail")
	}
}
