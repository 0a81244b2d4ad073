package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a value is not configured anywhere.
const (
	DefaultStaggerDelay      = 5 * time.Second
	DefaultRestartDelay      = 10 * time.Second
	DefaultRequestsPerSecond = 5.0
	DefaultRequestBurst      = 5
	DefaultTimeZone          = "UTC"
	DefaultDaysBack          = 30
	DefaultDaysForward       = 60
	DefaultSyncInterval      = 5 * time.Minute
)

// Feed is one source feed mirrored into one destination calendar.
type Feed struct {
	Name         string        `yaml:"name"`                    // Name for logging and --feed selection
	URL          string        `yaml:"url"`                     // iCal feed URL; also the ownership marker on synced events
	CalendarName string        `yaml:"calendar_name,omitempty"` // Destination calendar display name (default: name)
	TimeZone     string        `yaml:"time_zone,omitempty"`     // Time zone for a newly created calendar
	DaysBack     int           `yaml:"days_back,omitempty"`     // Index window start, in days before now
	DaysForward  int           `yaml:"days_forward,omitempty"`  // Index window end, in days after now
	SyncInterval time.Duration `yaml:"sync_interval,omitempty"` // Pause between passes
	Schedule     string        `yaml:"schedule,omitempty"`      // Cron expression; takes precedence over sync_interval
	TokenPath    string        `yaml:"token_path,omitempty"`    // Per-feed OAuth token (default: global token_path)
}

// Config holds the configuration for the sync service.
type Config struct {
	CredentialsPath   string        `yaml:"credentials_path,omitempty"`
	TokenPath         string        `yaml:"token_path,omitempty"`
	StaggerDelay      time.Duration `yaml:"stagger_delay,omitempty"`
	RestartDelay      time.Duration `yaml:"restart_delay,omitempty"`
	RequestsPerSecond float64       `yaml:"requests_per_second,omitempty"`
	RequestBurst      int           `yaml:"request_burst,omitempty"`
	Feeds             []Feed        `yaml:"feeds"`
}

// Flags carries command-line overrides. Empty values leave the setting alone.
type Flags struct {
	CredentialsPath string
	TokenPath       string
}

// LoadConfigFromFile loads configuration from a YAML (or JSON) file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// LoadConfig loads configuration with the following precedence (highest to lowest):
// 1. Command-line flags
// 2. Environment variables
// 3. Config file
// 4. Defaults
// Returns an error if any required value is missing or invalid.
func LoadConfig(configFile string, flags Flags) (*Config, error) {
	var config Config

	// Step 1: Load from config file if provided
	if configFile != "" {
		fileConfig, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = *fileConfig
	}

	// Step 2: Override with environment variables
	if v := os.Getenv("ICALSYNC_CREDENTIALS_PATH"); v != "" {
		config.CredentialsPath = v
	}
	if v := os.Getenv("ICALSYNC_TOKEN_PATH"); v != "" {
		config.TokenPath = v
	}
	if v := os.Getenv("ICALSYNC_STAGGER_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ICALSYNC_STAGGER_DELAY value: %w", err)
		}
		config.StaggerDelay = d
	}
	if v := os.Getenv("ICALSYNC_RESTART_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ICALSYNC_RESTART_DELAY value: %w", err)
		}
		config.RestartDelay = d
	}
	if v := os.Getenv("ICALSYNC_REQUESTS_PER_SECOND"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ICALSYNC_REQUESTS_PER_SECOND value: %w", err)
		}
		config.RequestsPerSecond = rps
	}

	// Step 3: Override with command-line flags (highest priority)
	if flags.CredentialsPath != "" {
		config.CredentialsPath = flags.CredentialsPath
	}
	if flags.TokenPath != "" {
		config.TokenPath = flags.TokenPath
	}

	// Step 4: Apply defaults and validate required fields
	if config.CredentialsPath == "" {
		return nil, fmt.Errorf("credentials_path must be provided via --credentials-path flag, ICALSYNC_CREDENTIALS_PATH environment variable, or config file")
	}
	if config.TokenPath == "" {
		return nil, fmt.Errorf("token_path must be provided via --token-path flag, ICALSYNC_TOKEN_PATH environment variable, or config file")
	}
	if len(config.Feeds) == 0 {
		return nil, fmt.Errorf("feeds array must be provided in config file. At least one feed is required")
	}

	if config.StaggerDelay == 0 {
		config.StaggerDelay = DefaultStaggerDelay
	}
	if config.RestartDelay == 0 {
		config.RestartDelay = DefaultRestartDelay
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if config.RequestBurst == 0 {
		config.RequestBurst = DefaultRequestBurst
	}
	if config.StaggerDelay < 0 || config.RestartDelay < 0 || config.RequestsPerSecond < 0 || config.RequestBurst < 0 {
		return nil, fmt.Errorf("stagger_delay, restart_delay, requests_per_second and request_burst must not be negative")
	}

	seen := make(map[string]bool)
	for i := range config.Feeds {
		feed := &config.Feeds[i]
		if err := feed.applyDefaults(i, config.TokenPath); err != nil {
			return nil, err
		}
		if seen[feed.Name] {
			return nil, fmt.Errorf("feed[%d]: duplicate name %q", i, feed.Name)
		}
		seen[feed.Name] = true
	}

	return &config, nil
}

func (f *Feed) applyDefaults(i int, tokenPath string) error {
	if f.Name == "" {
		return fmt.Errorf("feed[%d]: name must be provided", i)
	}
	if f.URL == "" {
		return fmt.Errorf("feed[%d] (name: %s): url must be provided", i, f.Name)
	}
	if f.CalendarName == "" {
		f.CalendarName = f.Name
	}
	if f.TimeZone == "" {
		f.TimeZone = DefaultTimeZone
	}
	if _, err := time.LoadLocation(f.TimeZone); err != nil {
		return fmt.Errorf("feed[%d] (name: %s): invalid time_zone: %w", i, f.Name, err)
	}
	if f.DaysBack == 0 {
		f.DaysBack = DefaultDaysBack
	}
	if f.DaysForward == 0 {
		f.DaysForward = DefaultDaysForward
	}
	if f.DaysBack < 0 || f.DaysForward < 0 {
		return fmt.Errorf("feed[%d] (name: %s): days_back and days_forward must not be negative", i, f.Name)
	}
	if f.SyncInterval == 0 {
		f.SyncInterval = DefaultSyncInterval
	}
	if f.SyncInterval < 0 {
		return fmt.Errorf("feed[%d] (name: %s): sync_interval must be positive", i, f.Name)
	}
	if f.Schedule != "" {
		if _, err := cron.ParseStandard(f.Schedule); err != nil {
			return fmt.Errorf("feed[%d] (name: %s): invalid schedule: %w", i, f.Name, err)
		}
	}
	if f.TokenPath == "" {
		f.TokenPath = tokenPath
	}
	return nil
}

// FindFeed returns the feed with the given name.
func (c *Config) FindFeed(name string) (*Feed, error) {
	for i := range c.Feeds {
		if c.Feeds[i].Name == name {
			return &c.Feeds[i], nil
		}
	}
	return nil, fmt.Errorf("no feed named %q in config", name)
}
