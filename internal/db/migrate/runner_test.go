package migrate

import (
	"strings"
	"testing"
)

func TestRun_EmptyDSN(t *testing.T) {
	err := Run("", "up")
	if err == nil {
		t.Fatal("Run with empty DSN should return error")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error = %q, want mention of DATABASE_URL", err)
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, direction := range []string{"", "sideways", "UP", "Down"} {
		if err := Run("postgres://localhost/test", direction); err == nil {
			t.Errorf("Run with direction %q should return error", direction)
		}
	}
}

func TestRun_MalformedDSN(t *testing.T) {
	// No URL scheme, so the migrate instance cannot be created. Fails before
	// any connection attempt.
	if err := Run("not-a-dsn", "up"); err == nil {
		t.Fatal("Run with malformed DSN should return error")
	}
}
