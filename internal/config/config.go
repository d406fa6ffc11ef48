package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Sources   SourcesConfig   `yaml:"sources"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Server    ServerConfig    `yaml:"server"`
	Filter    FilterConfig    `yaml:"filter"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig configures the retry discipline and per-source cadences.
type SchedulerConfig struct {
	MaxRetries         int         `yaml:"max_retries"`
	RetryBackoff       string      `yaml:"retry_backoff"`
	ExponentialBackoff bool        `yaml:"exponential_backoff"`
	Jobs               []JobConfig `yaml:"jobs"`
}

// ParseRetryBackoff returns the retry backoff as time.Duration.
func (s SchedulerConfig) ParseRetryBackoff() time.Duration {
	d, err := time.ParseDuration(s.RetryBackoff)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// JobConfig schedules collection for one source: either daily at "HH:MM" or
// every N hours. Daily wins when both are set.
type JobConfig struct {
	Source        string `yaml:"source"`
	Daily         string `yaml:"daily"`
	IntervalHours int    `yaml:"interval_hours"`
}

// ParseDaily returns the daily firing time, if configured.
func (j JobConfig) ParseDaily() (hour, minute int, ok bool) {
	parts := strings.SplitN(j.Daily, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

// SourcesConfig holds configuration for all data sources.
type SourcesConfig struct {
	Reddit     RedditConfig     `yaml:"reddit"`
	GitHub     GitHubConfig     `yaml:"github"`
	HackerNews HackerNewsConfig `yaml:"hackernews"`
	RSS        RSSConfig        `yaml:"rss"`
}

// RedditConfig for the Reddit connector.
type RedditConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Subreddit string `yaml:"subreddit"`
	Limit     int    `yaml:"limit"`
}

// GitHubConfig for the GitHub connector.
type GitHubConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Token    string `yaml:"token"`
	Language string `yaml:"language"`
	Limit    int    `yaml:"limit"`
}

// HackerNewsConfig for the Hacker News connector.
type HackerNewsConfig struct {
	Enabled bool `yaml:"enabled"`
	Limit   int  `yaml:"limit"`
}

// RSSConfig for the RSS feed connector.
type RSSConfig struct {
	Enabled bool       `yaml:"enabled"`
	Feeds   []FeedItem `yaml:"feeds"`
}

// FeedItem is a single RSS feed entry.
type FeedItem struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// AlertsConfig configures job-failure alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// FilterConfig configures keyword filtering for HN and RSS collection.
type FilterConfig struct {
	IncludeKeywords []string `yaml:"include_keywords"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./snaptrack.db"},
		Scheduler: SchedulerConfig{
			MaxRetries:   3,
			RetryBackoff: "1m",
			Jobs: []JobConfig{
				{Source: "reddit", IntervalHours: 6},
				{Source: "github", IntervalHours: 6},
				{Source: "hackernews", IntervalHours: 6},
			},
		},
		Sources: SourcesConfig{
			Reddit:     RedditConfig{Enabled: true, Subreddit: "python", Limit: 100},
			GitHub:     GitHubConfig{Enabled: true, Language: "python", Limit: 100},
			HackerNews: HackerNewsConfig{Enabled: true, Limit: 100},
			RSS:        RSSConfig{Enabled: false},
		},
		Alerts: AlertsConfig{},
		Server: ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SNAPTRACK_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.Sources.GitHub.Token = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
}
