package config

import (
	"os"
	"testing"
)

func TestLoadFromFlags(t *testing.T) {
	cfg, err := Load(Flags{
		ConcourseURI: "https://ci.example.com",
		CIUser:       "ci",
		CIPass:       "secret",
		Capacity:     3,
		PollInterval: 5,
		PollDeadline: 30,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Driver.EngineURL != "https://ci.example.com" {
		t.Errorf("EngineURL = %q", cfg.Driver.EngineURL)
	}
	if cfg.Capacity != 3 {
		t.Errorf("Capacity = %d, want 3", cfg.Capacity)
	}
	if cfg.Driver.Pass.Reveal() != "secret" {
		t.Errorf("Pass did not round-trip")
	}
}

func TestLoadFallsBackToEnv(t *testing.T) {
	t.Setenv("PATCHCI_CONCOURSE_URI", "https://env.example.com")
	t.Setenv("PATCHCI_CI_USER", "env-user")
	t.Setenv("PATCHCI_CI_PASS", "env-pass")

	cfg, err := Load(Flags{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Driver.EngineURL != "https://env.example.com" {
		t.Errorf("EngineURL = %q, want env fallback", cfg.Driver.EngineURL)
	}
	if cfg.Driver.User != "env-user" {
		t.Errorf("User = %q, want env fallback", cfg.Driver.User)
	}
}

func TestLoadRequiresConcourseURI(t *testing.T) {
	os.Unsetenv("PATCHCI_CONCOURSE_URI")
	_, err := Load(Flags{CIUser: "u", CIPass: "p"})
	if err == nil {
		t.Fatal("expected an error when concourse uri is unset")
	}
}
