// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, the process exits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the matcher service.
type Config struct {
	Port               string
	DatabaseURL        string
	RedisURL           string
	CronSecret         string // bearer token expected on POST /run
	OpenAIAPIKey       string
	ResendAPIKey       string
	MailFrom           string
	AppBaseURL         string // used for listing deep links in digests
	ScoringPolicy      string // "hybrid" or "ai"
	RunIntervalMinutes int    // cron cadence
	RunTimeout         time.Duration
	ListingWindow      time.Duration // how far back to look for candidate listings
	AgentConcurrency   int
}

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	secret := os.Getenv("CRON_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("CRON_SECRET is required")
	}

	policy := os.Getenv("SCORING_POLICY")
	if policy == "" {
		policy = "hybrid"
	}

	interval := 60
	if s := os.Getenv("RUN_INTERVAL_MINUTES"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("RUN_INTERVAL_MINUTES must be a positive integer, got %q", s)
		}
		interval = v
	}

	timeout := 300
	if s := os.Getenv("RUN_TIMEOUT_SECONDS"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("RUN_TIMEOUT_SECONDS must be a positive integer, got %q", s)
		}
		timeout = v
	}

	// The window deliberately overlaps the run cadence; the idempotent match
	// upsert makes reprocessing the overlap safe.
	window := 75
	if s := os.Getenv("LISTING_WINDOW_MINUTES"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("LISTING_WINDOW_MINUTES must be a positive integer, got %q", s)
		}
		window = v
	}

	concurrency := 5
	if s := os.Getenv("AGENT_CONCURRENCY"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("AGENT_CONCURRENCY must be a positive integer, got %q", s)
		}
		concurrency = v
	}

	port := os.Getenv("MATCHER_PORT")
	if port == "" {
		port = "8082"
	}

	from := os.Getenv("MAIL_FROM")
	if from == "" {
		from = "Piata AI <noreply@piata-ai.ro>"
	}

	baseURL := os.Getenv("APP_BASE_URL")
	if baseURL == "" {
		baseURL = "https://piata-ai.ro"
	}

	return &Config{
		Port:               port,
		DatabaseURL:        dbURL,
		RedisURL:           redisURL,
		CronSecret:         secret,
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		ResendAPIKey:       os.Getenv("RESEND_API_KEY"),
		MailFrom:           from,
		AppBaseURL:         baseURL,
		ScoringPolicy:      policy,
		RunIntervalMinutes: interval,
		RunTimeout:         time.Duration(timeout) * time.Second,
		ListingWindow:      time.Duration(window) * time.Minute,
		AgentConcurrency:   concurrency,
	}, nil
}
