// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the configuration of the benchalert command.
//
// Values are read in order from the defaults, an optional YAML file,
// and the environment; later sources win.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/benchalert/benchalert/client"
	"github.com/benchalert/benchalert/storage"
)

// Config is the complete benchalert configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	GitHub  GitHubConfig  `yaml:"github"`
	Slack   SlackConfig   `yaml:"slack"`
	Alert   AlertConfig   `yaml:"alert"`
	Retry   RetryConfig   `yaml:"retry"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig locates the storage server and its login.
type StorageConfig struct {
	URL      string `yaml:"url"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// GitHubConfig holds the repository and its credentials: either a
// token or a GitHub App installation.
type GitHubConfig struct {
	APIURL     string `yaml:"api_url"`
	Repository string `yaml:"repository"`
	Token      string `yaml:"token"`

	AppID          string `yaml:"app_id"`
	InstallationID string `yaml:"installation_id"`
	PrivateKey     string `yaml:"private_key"` // PEM
}

// SlackConfig enables Slack messages when Token is set.
type SlackConfig struct {
	APIURL  string `yaml:"api_url"`
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// AlertConfig controls the comparison and the reports.
// A nil ZScoreThreshold leaves the choice to the storage server.
type AlertConfig struct {
	ZScoreThreshold          *float64 `yaml:"z_score_threshold"`
	WarnIfBaselineIsntParent bool     `yaml:"warn_if_baseline_isnt_parent"`
	BaselineRunType          string   `yaml:"baseline_run_type"`
	BuildURL                 string   `yaml:"build_url"`
	CheckName                string   `yaml:"check_name"`
	StatusContext            string   `yaml:"status_context"`
	SkipSlackOnSuccess       bool     `yaml:"skip_slack_on_success"`
}

// RetryConfig holds the retry budgets and timeouts of the HTTP
// clients. It can only be set from the YAML file.
type RetryConfig struct {
	RetryFor            time.Duration `yaml:"retry_for"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	LoginRetryFor       time.Duration `yaml:"login_retry_for"`
	LoginConnectTimeout time.Duration `yaml:"login_connect_timeout"`
	LoginReadTimeout    time.Duration `yaml:"login_read_timeout"`
}

// LoggingConfig selects the log level and the format, json or
// console.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load returns the configuration read from the YAML file at path
// (if path is not empty) and the environment.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		if err := loadFromFile(c, path); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}
	if err := loadFromEnvironment(c); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// Default returns the default configuration.
func Default() *Config {
	d := client.DefaultOptions()
	return &Config{
		Alert: AlertConfig{
			BaselineRunType: storage.BaselineLatestDefault,
		},
		Retry: RetryConfig{
			RetryFor:            d.RetryFor,
			ConnectTimeout:      d.ConnectTimeout,
			ReadTimeout:         d.ReadTimeout,
			LoginRetryFor:       d.LoginRetryFor,
			LoginConnectTimeout: d.LoginConnectTimeout,
			LoginReadTimeout:    d.LoginReadTimeout,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func loadFromFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	default:
		return fmt.Errorf("%s: unsupported config file format %q", path, ext)
	}
	return nil
}

func loadFromEnvironment(c *Config) error {
	for _, v := range []struct {
		key string
		dst *string
	}{
		{"BENCH_STORAGE_URL", &c.Storage.URL},
		{"BENCH_STORAGE_EMAIL", &c.Storage.Email},
		{"BENCH_STORAGE_PASSWORD", &c.Storage.Password},
		{"GITHUB_API_URL", &c.GitHub.APIURL},
		{"GITHUB_REPOSITORY", &c.GitHub.Repository},
		{"GITHUB_API_TOKEN", &c.GitHub.Token},
		{"GITHUB_APP_ID", &c.GitHub.AppID},
		{"GITHUB_APP_INSTALLATION_ID", &c.GitHub.InstallationID},
		{"GITHUB_APP_PRIVATE_KEY", &c.GitHub.PrivateKey},
		{"SLACK_API_URL", &c.Slack.APIURL},
		{"SLACK_API_TOKEN", &c.Slack.Token},
		{"SLACK_CHANNEL_ID", &c.Slack.Channel},
		{"BENCHALERT_BASELINE_RUN_TYPE", &c.Alert.BaselineRunType},
		{"BUILD_URL", &c.Alert.BuildURL},
		{"BENCHALERT_LOG_LEVEL", &c.Logging.Level},
		{"BENCHALERT_LOG_FORMAT", &c.Logging.Format},
	} {
		if s := os.Getenv(v.key); s != "" {
			*v.dst = s
		}
	}

	if s := os.Getenv("BENCHALERT_Z_SCORE_THRESHOLD"); s != "" {
		z, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("BENCHALERT_Z_SCORE_THRESHOLD: %w", err)
		}
		c.Alert.ZScoreThreshold = &z
	}
	if s := os.Getenv("BENCHALERT_WARN_IF_BASELINE_ISNT_PARENT"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("BENCHALERT_WARN_IF_BASELINE_ISNT_PARENT: %w", err)
		}
		c.Alert.WarnIfBaselineIsntParent = b
	}
	return nil
}

// Validate reports the first problem with c.
func (c *Config) Validate() error {
	if c.Storage.URL == "" {
		return fmt.Errorf("no storage URL (BENCH_STORAGE_URL)")
	}
	if c.Storage.Email != "" && c.Storage.Password == "" {
		return fmt.Errorf("storage email %s has no password", c.Storage.Email)
	}

	if c.GitHub.Repository == "" {
		return fmt.Errorf("no GitHub repository (GITHUB_REPOSITORY)")
	}
	if c.GitHub.AppID != "" {
		if c.GitHub.InstallationID == "" || c.GitHub.PrivateKey == "" {
			return fmt.Errorf("GitHub app %s needs an installation id and a private key", c.GitHub.AppID)
		}
	} else if c.GitHub.Token == "" {
		return fmt.Errorf("no GitHub credentials (GITHUB_API_TOKEN or GITHUB_APP_ID)")
	}

	if c.Slack.Token != "" && c.Slack.Channel == "" {
		return fmt.Errorf("slack token set without a channel (SLACK_CHANNEL_ID)")
	}

	if !slices.Contains(storage.BaselineTypes, c.Alert.BaselineRunType) {
		return fmt.Errorf("invalid baseline run type %q (want one of %v)", c.Alert.BaselineRunType, storage.BaselineTypes)
	}
	if z := c.Alert.ZScoreThreshold; z != nil && *z <= 0 {
		return fmt.Errorf("z-score threshold must be positive, got %v", *z)
	}

	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"retry_for", c.Retry.RetryFor},
		{"connect_timeout", c.Retry.ConnectTimeout},
		{"read_timeout", c.Retry.ReadTimeout},
		{"login_retry_for", c.Retry.LoginRetryFor},
		{"login_connect_timeout", c.Retry.LoginConnectTimeout},
		{"login_read_timeout", c.Retry.LoginReadTimeout},
	} {
		if d.v <= 0 {
			return fmt.Errorf("retry.%s must be positive, got %v", d.name, d.v)
		}
	}

	if _, err := zap.ParseAtomicLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid log format %q (want json or console)", c.Logging.Format)
	}
	return nil
}

// ClientOptions returns the HTTP client options for c.
func (c *Config) ClientOptions(log *zap.Logger, m *client.Metrics) *client.Options {
	opts := client.DefaultOptions()
	opts.Logger = log
	opts.Metrics = m
	opts.RetryFor = c.Retry.RetryFor
	opts.ConnectTimeout = c.Retry.ConnectTimeout
	opts.ReadTimeout = c.Retry.ReadTimeout
	opts.LoginRetryFor = c.Retry.LoginRetryFor
	opts.LoginConnectTimeout = c.Retry.LoginConnectTimeout
	opts.LoginReadTimeout = c.Retry.LoginReadTimeout
	return opts
}
