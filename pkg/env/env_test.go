package env

import "testing"

func TestGetPrefersEarlierKeys(t *testing.T) {
	t.Setenv("ESCROW_LOG_FORMAT", "console")
	t.Setenv("LOG_FORMAT", "json")
	if got := Get("json", "ESCROW_LOG_FORMAT", "LOG_FORMAT"); got != "console" {
		t.Fatalf("expected console, got %q", got)
	}
}

func TestGetFallsBackWhenBlank(t *testing.T) {
	t.Setenv("ESCROW_LOG_FORMAT", "  ")
	t.Setenv("LOG_FORMAT", "")
	if got := Get("json", "ESCROW_LOG_FORMAT", "LOG_FORMAT"); got != "json" {
		t.Fatalf("expected fallback, got %q", got)
	}
}
