// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benchalert/benchalert/storage"
)

var envKeys = []string{
	"BENCH_STORAGE_URL", "BENCH_STORAGE_EMAIL", "BENCH_STORAGE_PASSWORD",
	"GITHUB_API_URL", "GITHUB_REPOSITORY", "GITHUB_API_TOKEN",
	"GITHUB_APP_ID", "GITHUB_APP_INSTALLATION_ID", "GITHUB_APP_PRIVATE_KEY",
	"SLACK_API_URL", "SLACK_API_TOKEN", "SLACK_CHANNEL_ID",
	"BENCHALERT_Z_SCORE_THRESHOLD", "BENCHALERT_WARN_IF_BASELINE_ISNT_PARENT",
	"BENCHALERT_BASELINE_RUN_TYPE", "BUILD_URL",
	"BENCHALERT_LOG_LEVEL", "BENCHALERT_LOG_FORMAT",
}

// setEnv clears every recognized variable (CI sets some of them) and
// then sets env.
func setEnv(t *testing.T, env map[string]string) {
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

var minimalEnv = map[string]string{
	"BENCH_STORAGE_URL": "https://bench.example.com",
	"GITHUB_REPOSITORY": "octo/bench",
	"GITHUB_API_TOKEN":  "t",
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Alert.BaselineRunType != storage.BaselineLatestDefault {
		t.Errorf("BaselineRunType = %q, want %q", c.Alert.BaselineRunType, storage.BaselineLatestDefault)
	}
	if c.Retry.RetryFor != 30*time.Minute || c.Retry.LoginConnectTimeout != 3100*time.Millisecond {
		t.Errorf("Retry = %+v", c.Retry)
	}
	if c.Alert.ZScoreThreshold != nil {
		t.Errorf("ZScoreThreshold = %v, want nil (server default)", *c.Alert.ZScoreThreshold)
	}
}

func TestLoadEnvironment(t *testing.T) {
	env := map[string]string{
		"BENCHALERT_Z_SCORE_THRESHOLD":            "3.5",
		"BENCHALERT_WARN_IF_BASELINE_ISNT_PARENT": "true",
		"BENCHALERT_BASELINE_RUN_TYPE":            "parent",
		"SLACK_API_TOKEN":                         "xoxb",
		"SLACK_CHANNEL_ID":                        "C1",
		"BUILD_URL":                               "https://ci.example.com/1",
	}
	for k, v := range minimalEnv {
		env[k] = v
	}
	setEnv(t, env)

	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Alert.ZScoreThreshold == nil || *c.Alert.ZScoreThreshold != 3.5 {
		t.Errorf("ZScoreThreshold = %v, want 3.5", c.Alert.ZScoreThreshold)
	}
	if !c.Alert.WarnIfBaselineIsntParent || c.Alert.BaselineRunType != "parent" {
		t.Errorf("Alert = %+v", c.Alert)
	}
	if c.Slack.Channel != "C1" || c.Alert.BuildURL != "https://ci.example.com/1" {
		t.Errorf("got Slack %+v, BuildURL %q", c.Slack, c.Alert.BuildURL)
	}
}

func TestLoadFile(t *testing.T) {
	setEnv(t, map[string]string{"GITHUB_API_TOKEN": "from-env"})
	path := filepath.Join(t.TempDir(), "benchalert.yaml")
	data := `
storage:
  url: https://bench.example.com
github:
  repository: octo/bench
  token: from-file
alert:
  z_score_threshold: 5
retry:
  retry_for: 2m
  login_read_timeout: 1s
logging:
  level: debug
  format: console
`
	if err := os.WriteFile(path, []byte(data), 0666); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.GitHub.Token != "from-env" {
		t.Errorf("Token = %q, want the environment to win", c.GitHub.Token)
	}
	if c.Retry.RetryFor != 2*time.Minute || c.Retry.LoginReadTimeout != time.Second {
		t.Errorf("Retry = %+v", c.Retry)
	}
	// Unset retry settings keep their defaults.
	if c.Retry.ReadTimeout != 120*time.Second {
		t.Errorf("ReadTimeout = %v, want default", c.Retry.ReadTimeout)
	}
	if *c.Alert.ZScoreThreshold != 5 || c.Logging.Format != "console" {
		t.Errorf("got Alert %+v, Logging %+v", c.Alert, c.Logging)
	}

	opts := c.ClientOptions(nil, nil)
	if opts.RetryFor != 2*time.Minute || opts.LoginReadTimeout != time.Second {
		t.Errorf("ClientOptions = %+v", opts)
	}
}

func TestLoadErrors(t *testing.T) {
	for _, test := range []struct {
		name string
		env  map[string]string
		want string
	}{
		{"no storage", map[string]string{"BENCH_STORAGE_URL": ""}, "storage URL"},
		{"no credentials", map[string]string{"GITHUB_API_TOKEN": ""}, "GitHub credentials"},
		{"app without key", map[string]string{"GITHUB_APP_ID": "1", "GITHUB_APP_INSTALLATION_ID": "2"}, "private key"},
		{"slack without channel", map[string]string{"SLACK_API_TOKEN": "xoxb"}, "channel"},
		{"bad baseline type", map[string]string{"BENCHALERT_BASELINE_RUN_TYPE": "grandparent"}, "baseline run type"},
		{"bad threshold", map[string]string{"BENCHALERT_Z_SCORE_THRESHOLD": "high"}, "BENCHALERT_Z_SCORE_THRESHOLD"},
		{"negative threshold", map[string]string{"BENCHALERT_Z_SCORE_THRESHOLD": "-1"}, "positive"},
		{"bad bool", map[string]string{"BENCHALERT_WARN_IF_BASELINE_ISNT_PARENT": "maybe"}, "BENCHALERT_WARN_IF_BASELINE_ISNT_PARENT"},
		{"bad level", map[string]string{"BENCHALERT_LOG_LEVEL": "loud"}, "log level"},
		{"bad format", map[string]string{"BENCHALERT_LOG_FORMAT": "xml"}, "log format"},
	} {
		t.Run(test.name, func(t *testing.T) {
			env := make(map[string]string)
			for k, v := range minimalEnv {
				env[k] = v
			}
			for k, v := range test.env {
				env[k] = v
			}
			setEnv(t, env)
			_, err := Load("")
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("Load error = %v, want it to mention %q", err, test.want)
			}
		})
	}
}

func TestLoadBadFile(t *testing.T) {
	setEnv(t, minimalEnv)
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Errorf("Load of a missing file succeeded")
	}
	toml := filepath.Join(dir, "c.toml")
	os.WriteFile(toml, []byte("a = 1"), 0666)
	if _, err := Load(toml); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("Load of a .toml file got %v", err)
	}
	bad := filepath.Join(dir, "c.yaml")
	os.WriteFile(bad, []byte("retry: [1, 2"), 0666)
	if _, err := Load(bad); err == nil {
		t.Errorf("Load of malformed YAML succeeded")
	}
}
