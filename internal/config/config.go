package config

import (
	"fmt"
	"os"
	"time"
)

const (
	defaultPollInterval        = 2 * time.Second
	defaultAlertActiveDuration = 10 * time.Minute
	defaultAPIAddr             = ":8124"
)

// Config holds the daemon configuration, read from the environment
type Config struct {
	// HomeAssistantURL is the base HTTP URL of the instance,
	// e.g. http://homeassistant.local:8123
	HomeAssistantURL string

	// Token is a long-lived Home Assistant access token
	Token string

	// PollInterval is how often the alert feeds are polled
	PollInterval time.Duration

	// AlertActiveDuration is how long a history entry counts as active
	AlertActiveDuration time.Duration

	// RealTimeURL and HistoryURL override the production feed
	// endpoints, mainly for tests and staging
	RealTimeURL string
	HistoryURL  string

	// APIAddr is the listen address of the operational HTTP server
	APIAddr string

	// ReadOnly logs intended changes without writing to Home Assistant
	ReadOnly bool
}

// Load reads the configuration from environment variables. HA_URL and
// HA_TOKEN are required; everything else has defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HomeAssistantURL:    os.Getenv("HA_URL"),
		Token:               os.Getenv("HA_TOKEN"),
		PollInterval:        defaultPollInterval,
		AlertActiveDuration: defaultAlertActiveDuration,
		RealTimeURL:         os.Getenv("OREF_REALTIME_URL"),
		HistoryURL:          os.Getenv("OREF_HISTORY_URL"),
		APIAddr:             defaultAPIAddr,
		ReadOnly:            os.Getenv("READ_ONLY") == "true",
	}

	if cfg.HomeAssistantURL == "" {
		return nil, fmt.Errorf("HA_URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("HA_TOKEN is required")
	}

	if v := os.Getenv("OREF_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid OREF_POLL_INTERVAL %q: %w", v, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("OREF_POLL_INTERVAL must be positive, got %q", v)
		}
		cfg.PollInterval = d
	}

	if v := os.Getenv("OREF_ALERT_ACTIVE_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid OREF_ALERT_ACTIVE_DURATION %q: %w", v, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("OREF_ALERT_ACTIVE_DURATION must be positive, got %q", v)
		}
		cfg.AlertActiveDuration = d
	}

	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.APIAddr = v
	}

	return cfg, nil
}
