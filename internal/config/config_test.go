package config

import (
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseDir != "db" {
		t.Fatalf("unexpected database dir: %q", cfg.DatabaseDir)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected log level: %q", cfg.LogLevel)
	}
	if cfg.HashAlgorithm != "sha512" || cfg.HashIterations != 100000 {
		t.Fatalf("unexpected hash defaults: %q/%d", cfg.HashAlgorithm, cfg.HashIterations)
	}
	if cfg.IgnoredChannels != nil {
		t.Fatalf("expected no ignored channels by default, got %v", cfg.IgnoredChannels)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value any
	}{
		{name: "blank database dir", key: "database.dir", value: "   "},
		{name: "blank salt", key: "hash.salt", value: ""},
		{name: "zero iterations", key: "hash.iterations", value: 0},
		{name: "negative iterations", key: "hash.iterations", value: -5},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set(testCase.key, testCase.value)
			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected validation error for %s", testCase.name)
			}
		})
	}
}

func TestLoadParsesIgnoredChannels(t *testing.T) {
	configViper := NewViper()
	configViper.Set("ingest.ignored_channels", map[string]string{
		"111": "10, 20,",
		"222": "30",
		"333": "  ",
	})

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := cfg.IgnoredChannels["111"]
	if len(first) != 2 || first[0] != "10" || first[1] != "20" {
		t.Fatalf("unexpected channels for guild 111: %v", first)
	}
	if second := cfg.IgnoredChannels["222"]; len(second) != 1 || second[0] != "30" {
		t.Fatalf("unexpected channels for guild 222: %v", second)
	}
	if _, exists := cfg.IgnoredChannels["333"]; exists {
		t.Fatalf("expected blank channel list to be dropped")
	}
}
