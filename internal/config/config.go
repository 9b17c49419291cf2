// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTriageURL is the cluster-internal address of the tutoring agent.
	DefaultTriageURL = "http://triage-agent.learnflow.svc.cluster.local"
	// DefaultCodeRunnerURL is the cluster-internal address of the code runner.
	DefaultCodeRunnerURL = "http://code-runner.learnflow.svc.cluster.local"
	// DefaultDBPath keeps the session ledger in memory for the life of the process.
	DefaultDBPath = "file:learnflow?mode=memory&cache=shared"
	// DefaultGreeting opens every new chat transcript.
	DefaultGreeting = "Hi! I'm your Python tutor. Ask me anything about Python, loops, variables, lists, functions, and more!"
)

// Config holds all application configuration.
type Config struct {
	Port             string
	FrontendURL      string
	DBPath           string
	TriageURL        string
	CodeRunnerURL    string
	DefaultLearnerID string
	Greeting         string
	RunTimeout       int // seconds, forwarded to the code runner
	UpstreamTimeout  time.Duration
	SessionTTL       time.Duration
	SweepInterval    time.Duration
	MaxTabsPerUser   int

	// Per-user throttling on the routes that reach an upstream.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	HealthCheckTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	runTimeout := getEnvInt("RUN_TIMEOUT_SECONDS", 10)
	if runTimeout <= 0 {
		runTimeout = 10
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", DefaultDBPath),
		TriageURL:        strings.TrimRight(getEnv("TRIAGE_URL", DefaultTriageURL), "/"),
		CodeRunnerURL:    strings.TrimRight(getEnv("CODE_RUNNER_URL", DefaultCodeRunnerURL), "/"),
		DefaultLearnerID: getEnv("DEFAULT_LEARNER_ID", "1"),
		Greeting:         getEnv("TUTOR_GREETING", DefaultGreeting),
		RunTimeout:       runTimeout,
		UpstreamTimeout:  getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		SessionTTL:       getEnvDuration("SESSION_TTL", 60*time.Minute),
		SweepInterval:    getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		MaxTabsPerUser:   getEnvInt("MAX_TABS_PER_USER", 8),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		HealthCheckTimeout: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if err := validateBaseURL("TRIAGE_URL", c.TriageURL); err != nil {
		return err
	}
	if err := validateBaseURL("CODE_RUNNER_URL", c.CodeRunnerURL); err != nil {
		return err
	}
	if c.DefaultLearnerID == "" {
		return fmt.Errorf("DEFAULT_LEARNER_ID cannot be empty")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be > 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.MaxTabsPerUser <= 0 {
		return fmt.Errorf("MAX_TABS_PER_USER must be > 0")
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("HEALTH_CHECK_TIMEOUT must be > 0")
	}
	if _, err := strconv.Atoi(c.DefaultLearnerID); err != nil {
		return fmt.Errorf("DEFAULT_LEARNER_ID must be numeric: %w", err)
	}
	return nil
}

// LearnerID returns DefaultLearnerID as the integer the tutor expects.
// It is only meaningful on a validated config.
func (c *Config) LearnerID() int {
	n, _ := strconv.Atoi(c.DefaultLearnerID)
	return n
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func validateBaseURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", key, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host", key)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// IsContainer returns true if running inside a container.
func IsContainer() bool {
	if getEnvBool("CONTAINER", false) {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
