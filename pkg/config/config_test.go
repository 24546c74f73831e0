package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	Name    string        `envconfig:"NAME" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"3s"`
}

// unsetenv removes key for the test and restores it afterwards.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unsetenv %s: %v", key, err)
	}
}

func TestNewReadsEnvFile(t *testing.T) {
	unsetenv(t, "CHATIVE_TEST_NAME")
	unsetenv(t, EnvFileVar)

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("CHATIVE_TEST_NAME=alpha\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	SetEnvFile(path)
	t.Cleanup(func() { SetEnvFile("") })

	cfg, err := New[sampleConfig]("CHATIVE_TEST")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cfg.Name != "alpha" {
		t.Fatalf("Name = %q, want alpha", cfg.Name)
	}
	if cfg.Timeout != 3*time.Second {
		t.Fatalf("Timeout = %v, want 3s", cfg.Timeout)
	}
}

func TestNewMissingRequired(t *testing.T) {
	unsetenv(t, "CHATIVE_MISSING_NAME")
	unsetenv(t, EnvFileVar)
	SetEnvFile("")

	if _, err := New[sampleConfig]("CHATIVE_MISSING"); err == nil {
		t.Fatal("expected error for missing required value")
	}
}

func TestResolveEnvPathFallsBackToVariable(t *testing.T) {
	SetEnvFile("")
	t.Setenv(EnvFileVar, " /tmp/x.env ")

	if got := resolveEnvPath(); got != "/tmp/x.env" {
		t.Fatalf("resolveEnvPath() = %q", got)
	}
}
