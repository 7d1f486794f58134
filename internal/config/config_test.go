package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
)

func TestDefaultsWithoutConfigFile(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(crawlIntervalEnv, "")

	cfg := Load()

	if cfg.Scheduler.IntervalHours != 3 {
		t.Fatalf("interval = %v", cfg.Scheduler.IntervalHours)
	}
	if cfg.Importance.BatchSize != 20 || cfg.Importance.MaxPerRun != 100 {
		t.Fatalf("importance defaults = %+v", cfg.Importance)
	}
	if len(cfg.Crawl.Platforms) == 0 {
		t.Fatal("no default platforms")
	}
	if cfg.Scheduler.Location() == nil {
		t.Fatal("timezone not bound")
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
logging:
  level: debug
storage:
  dataDir: /var/lib/hotspot
scheduler:
  intervalHours: 6
classifier:
  provider: glm
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)
	t.Setenv(aiAPIKeyEnv, "env-key")
	t.Setenv(crawlIntervalEnv, "12")

	cfg := Load()

	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if cfg.Storage.DataDir != "/var/lib/hotspot" {
		t.Fatalf("data dir = %q", cfg.Storage.DataDir)
	}
	if cfg.Classifier.Provider != "glm" || cfg.Classifier.APIKey != "env-key" {
		t.Fatalf("classifier = %+v", cfg.Classifier)
	}
	// Env override wins over the file value.
	if cfg.Scheduler.IntervalHours != 12 {
		t.Fatalf("interval = %v", cfg.Scheduler.IntervalHours)
	}
	// File silence keeps defaults.
	if cfg.Importance.BatchSize != 20 {
		t.Fatalf("batch size = %d", cfg.Importance.BatchSize)
	}
}

func TestClassifierValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     ClassifierConfig
		wantErr bool
	}{
		{"known provider with key", ClassifierConfig{Provider: "deepseek", APIKey: "k"}, false},
		{"unknown provider", ClassifierConfig{Provider: "mystery", APIKey: "k"}, true},
		{"unknown provider with base url", ClassifierConfig{Provider: "mystery", APIKey: "k", BaseURL: "http://localhost:9/v1"}, false},
		{"missing key", ClassifierConfig{Provider: "openai"}, true},
		{"local provider without key", ClassifierConfig{Provider: "ollama"}, false},
		{"gemini with key", ClassifierConfig{Provider: "gemini", APIKey: "k"}, false},
		{"gemini without key", ClassifierConfig{Provider: "gemini"}, true},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if tc.wantErr {
			var cfgErr *domain.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Errorf("%s: err = %v, want ConfigurationError", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
		}
	}
}

func TestClassifierEndpoint(t *testing.T) {
	t.Parallel()

	if got := (ClassifierConfig{Provider: "deepseek"}).Endpoint(); got != "https://api.deepseek.com/v1/chat/completions" {
		t.Fatalf("endpoint = %q", got)
	}
	if got := (ClassifierConfig{Provider: "deepseek", BaseURL: "http://localhost:1234/v1"}).Endpoint(); got != "http://localhost:1234/v1" {
		t.Fatalf("base url not honored: %q", got)
	}
}

func TestSchedulerInterval(t *testing.T) {
	t.Parallel()

	s := SchedulerConfig{IntervalHours: 1.5}
	if s.Interval() != 90*time.Minute {
		t.Fatalf("interval = %v", s.Interval())
	}
}
