package config

import (
	"os"
	"testing"
	"time"
)

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"TRIAGE_URL", "CODE_RUNNER_URL", "RUN_TIMEOUT_SECONDS", "UPSTREAM_TIMEOUT"} {
		unsetEnv(t, key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.TriageURL != DefaultTriageURL {
		t.Errorf("expected triage url %q, got %q", DefaultTriageURL, cfg.TriageURL)
	}
	if cfg.CodeRunnerURL != DefaultCodeRunnerURL {
		t.Errorf("expected runner url %q, got %q", DefaultCodeRunnerURL, cfg.CodeRunnerURL)
	}
	if cfg.RunTimeout != 10 {
		t.Errorf("expected run timeout 10, got %d", cfg.RunTimeout)
	}
	if cfg.UpstreamTimeout != 30*time.Second {
		t.Errorf("expected upstream timeout 30s, got %s", cfg.UpstreamTimeout)
	}
}

func TestLoadTrimsTrailingSlash(t *testing.T) {
	t.Setenv("TRIAGE_URL", "http://localhost:8001/")
	t.Setenv("CODE_RUNNER_URL", "http://localhost:8002//")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.TriageURL != "http://localhost:8001" {
		t.Errorf("unexpected triage url %q", cfg.TriageURL)
	}
	if cfg.CodeRunnerURL != "http://localhost:8002" {
		t.Errorf("unexpected runner url %q", cfg.CodeRunnerURL)
	}
}

func TestValidateRejectsBadUpstream(t *testing.T) {
	cases := map[string]string{
		"empty":     "",
		"no scheme": "triage-agent:8000",
		"ftp":       "ftp://triage-agent",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := &Config{
				Port:             "8080",
				DBPath:           DefaultDBPath,
				TriageURL:        raw,
				CodeRunnerURL:    DefaultCodeRunnerURL,
				DefaultLearnerID: "1",
				UpstreamTimeout:  time.Second,
				SessionTTL:       time.Minute,
				SweepInterval:    time.Minute,
			}
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %q", raw)
			}
		})
	}
}

func TestGetEnvDurationFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SESSION_TTL", "forever")
	if got := getEnvDuration("SESSION_TTL", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback 1m, got %s", got)
	}
}

func TestIsDevelopment(t *testing.T) {
	if !(&Config{}).IsDevelopment() {
		t.Error("empty frontend url should be development")
	}
	if (&Config{FrontendURL: "https://learnflow.example.com"}).IsDevelopment() {
		t.Error("public frontend url should not be development")
	}
}

func TestLoadRejectsNonNumericLearner(t *testing.T) {
	t.Setenv("DEFAULT_LEARNER_ID", "alice")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric learner id")
	}
}

func TestLearnerID(t *testing.T) {
	t.Setenv("DEFAULT_LEARNER_ID", "42")
	unsetEnv(t, "RATE_LIMIT_REQUESTS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LearnerID() != 42 {
		t.Errorf("expected learner 42, got %d", cfg.LearnerID())
	}
	if cfg.RateLimitRequests != 30 {
		t.Errorf("expected default rate limit 30, got %d", cfg.RateLimitRequests)
	}
}

func TestMaxTabsPerUser(t *testing.T) {
	unsetEnv(t, "MAX_TABS_PER_USER")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxTabsPerUser != 8 {
		t.Errorf("expected default tab limit 8, got %d", cfg.MaxTabsPerUser)
	}

	t.Setenv("MAX_TABS_PER_USER", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero tab limit")
	}
}
