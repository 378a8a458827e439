package main

import (
	"testing"
	"time"
)

func TestModeValueDefaultsToDevelopment(t *testing.T) {
	if got := modeValue("", ""); got != "development" {
		t.Fatalf("expected development, got %q", got)
	}
	if got := modeValue("", "PRODUCTION"); got != "production" {
		t.Fatalf("expected production from env, got %q", got)
	}
	if got := modeValue("Production", "development"); got != "production" {
		t.Fatalf("expected flag to win, got %q", got)
	}
}

func TestResolveListenAddr(t *testing.T) {
	if got := resolveListenAddr("", "development", ""); got != ":8080" {
		t.Fatalf("expected :8080 default, got %q", got)
	}
	if got := resolveListenAddr("", "production", ""); got != ":80" {
		t.Fatalf("expected :80 in production, got %q", got)
	}
	if got := resolveListenAddr(":9000", "production", ":7000"); got != ":9000" {
		t.Fatalf("expected flag to win, got %q", got)
	}
	if got := resolveListenAddr("", "development", ":7000"); got != ":7000" {
		t.Fatalf("expected env value, got %q", got)
	}
}

func TestResolveStorageDriver(t *testing.T) {
	driver, err := resolveStorageDriver("", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if driver != "memory" {
		t.Fatalf("expected memory default, got %q", driver)
	}

	driver, err = resolveStorageDriver("", "", "postgres://localhost/vodforge")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if driver != "postgres" {
		t.Fatalf("expected postgres when DSN is set, got %q", driver)
	}

	driver, err = resolveStorageDriver("Memory", "postgres", "postgres://localhost/vodforge")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if driver != "memory" {
		t.Fatalf("expected flag to win, got %q", driver)
	}
}

func TestResolveQueueDriver(t *testing.T) {
	if got := resolveQueueDriver("", "", ""); got != "memory" {
		t.Fatalf("expected memory default, got %q", got)
	}
	if got := resolveQueueDriver("", "", "127.0.0.1:6379"); got != "redis" {
		t.Fatalf("expected redis when addr is set, got %q", got)
	}
	if got := resolveQueueDriver("memory", "redis", "127.0.0.1:6379"); got != "memory" {
		t.Fatalf("expected flag to win, got %q", got)
	}
}

func TestValidateProduction(t *testing.T) {
	if err := validateProduction("postgres", "postgres://localhost/vodforge", "redis"); err != nil {
		t.Fatalf("expected valid production config, got %v", err)
	}
	if err := validateProduction("memory", "", "redis"); err == nil {
		t.Fatal("expected error for memory datastore in production")
	}
	if err := validateProduction("postgres", "", "redis"); err == nil {
		t.Fatal("expected error for missing DSN in production")
	}
	if err := validateProduction("postgres", "postgres://localhost/vodforge", "memory"); err == nil {
		t.Fatal("expected error for memory queue in production")
	}
}

func TestResolveDurationFallback(t *testing.T) {
	if got := resolveDuration(0, "VODFORGE_TEST_UNSET_DURATION", 2*time.Second); got != 2*time.Second {
		t.Fatalf("expected fallback, got %s", got)
	}
	if got := resolveDuration(5*time.Second, "VODFORGE_TEST_UNSET_DURATION", 2*time.Second); got != 5*time.Second {
		t.Fatalf("expected flag value, got %s", got)
	}
	t.Setenv("VODFORGE_TEST_SET_DURATION", "750ms")
	if got := resolveDuration(0, "VODFORGE_TEST_SET_DURATION", time.Second); got != 750*time.Millisecond {
		t.Fatalf("expected env value, got %s", got)
	}
}
