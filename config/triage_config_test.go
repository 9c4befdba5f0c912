package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"triage_server/core/domain"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MODE", "")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("BATCH_ITEM_DELAY_MS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeAll || cfg.LLMProvider != "openai" {
		t.Errorf("mode/provider = %s/%s", cfg.Mode, cfg.LLMProvider)
	}
	if cfg.BatchMaxEmails != 50 || cfg.BatchItemDelay != 500*time.Millisecond || cfg.BatchItemTimeout != 30*time.Second {
		t.Errorf("batch defaults = %d %v %v", cfg.BatchMaxEmails, cfg.BatchItemDelay, cfg.BatchItemTimeout)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "Anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "ak")
	t.Setenv("BATCH_CONCURRENCY", "3")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLMProvider != "anthropic" || cfg.LLMAPIKey() != "ak" {
		t.Errorf("provider = %s key = %s", cfg.LLMProvider, cfg.LLMAPIKey())
	}
	if cfg.BatchConcurrency != 3 {
		t.Errorf("concurrency = %d", cfg.BatchConcurrency)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins = %q", cfg.AllowedOrigins)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Mode:             ModeAll,
			LLMProvider:      "openai",
			LLMTemperature:   0.2,
			BatchMaxEmails:   50,
			BatchConcurrency: 1,
			BatchItemTimeout: time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad mode", func(c *Config) { c.Mode = "batch" }, "MODE"},
		{"worker without redis", func(c *Config) { c.Mode = ModeWorker }, "REDIS_URL"},
		{"unknown provider", func(c *Config) { c.LLMProvider = "cohere" }, "LLM_PROVIDER"},
		{"zero concurrency", func(c *Config) { c.BatchConcurrency = 0 }, "BATCH_CONCURRENCY"},
		{"negative retries", func(c *Config) { c.BatchMaxRetries = -1 }, "BATCH_MAX_RETRIES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultPreferences_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	content := `priority_categories: [work, opportunity]
working_hours:
  start: "08:30"
  end: "16:00"
  days: [1, 2, 3, 4]
  timezone: Europe/Berlin
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	prefs, err := (&Config{PreferencesFile: path}).DefaultPreferences()
	if err != nil {
		t.Fatalf("DefaultPreferences: %v", err)
	}
	if len(prefs.PriorityCategories) != 2 || prefs.PriorityCategories[1] != domain.CategoryOpportunity {
		t.Errorf("categories = %v", prefs.PriorityCategories)
	}
	if prefs.WorkingHours.Start != "08:30" || prefs.WorkingHours.Timezone != "Europe/Berlin" || len(prefs.WorkingHours.Days) != 4 {
		t.Errorf("working hours = %+v", prefs.WorkingHours)
	}
	if !prefs.NotificationSettings.Push {
		t.Error("unset fields should keep built-in defaults")
	}
}

func TestDefaultPreferences_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	if err := os.WriteFile(path, []byte("working_hours:\n  start: \"18:00\"\n  end: \"09:00\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := (&Config{PreferencesFile: path}).DefaultPreferences(); err == nil {
		t.Error("expected error for inverted working hours")
	}
	if _, err := (&Config{PreferencesFile: filepath.Join(t.TempDir(), "missing.yaml")}).DefaultPreferences(); err == nil {
		t.Error("expected error for missing file")
	}
}
