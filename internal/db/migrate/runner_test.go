package migrate

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func TestRun_EmptyDSN(t *testing.T) {
	for _, dsn := range []string{"", "   "} {
		err := Run(dsn, "up")
		if err == nil || !strings.Contains(err.Error(), "DATABASE_URL is not set") {
			t.Errorf("Run(%q) err = %v", dsn, err)
		}
	}
	if _, _, err := Version(""); err == nil {
		t.Error("Version with empty DSN should fail")
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, direction := range []string{"", "sideways", "UP", "Down"} {
		t.Run(direction, func(t *testing.T) {
			err := Run("postgres://localhost/test", direction)
			if err == nil || !strings.Contains(err.Error(), "direction") {
				t.Errorf("Run direction %q: err = %v", direction, err)
			}
		})
	}
}

func TestRun_InvalidDSN(t *testing.T) {
	for _, dsn := range []string{"invalid-dsn", "://localhost/test"} {
		if err := Run(dsn, "up"); err == nil {
			t.Errorf("Run(%q) should fail", dsn)
		}
	}
}

func TestErrNoChange(t *testing.T) {
	if ErrNoChange == nil || !errors.Is(ErrNoChange, ErrNoChange) {
		t.Fatal("ErrNoChange should be a usable sentinel")
	}
}

func TestRun_UpDownUp(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	if err := Run(dsn, "up"); err != nil {
		t.Fatalf("up: %v", err)
	}
	if err := Run(dsn, "up"); err != nil {
		t.Fatalf("second up should be a no-op: %v", err)
	}
	v, dirty, err := Version(dsn)
	if err != nil || dirty || v == 0 {
		t.Fatalf("Version = %d, dirty=%v, err=%v", v, dirty, err)
	}
}
