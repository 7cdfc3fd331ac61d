package config

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"10s", 10 * time.Second, false},
		{"1m", 1 * time.Minute, false},
		{"1.5h", 90 * time.Minute, false},
		{"1d", 24 * time.Hour, false},
		{"1w", 168 * time.Hour, false},
		{"2d2h", 50 * time.Hour, false},
		{"100ms", 100 * time.Millisecond, false},
		{"", 0, false},
		{"invalid", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDuration(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input    string
		expected Size
		wantErr  bool
	}{
		{"5MiB", 5 * 1024 * 1024, false},
		{"512KiB", 512 * 1024, false},
		{"1GiB", 1 << 30, false},
		{"2MB", 2_000_000, false},
		{"10KB", 10_000, false},
		{"1.5KiB", 1536, false},
		{"100B", 100, false},
		{"4096", 4096, false},
		{" 1 MiB ", 1 << 20, false},
		{"", 0, false},
		{"5XB", 0, true},
		{"-1MiB", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseSize(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.expected)
		}
	}
}

func TestSizeString(t *testing.T) {
	tests := []struct {
		size Size
		want string
	}{
		{5 * MiB, "5MiB"},
		{2 * GiB, "2GiB"},
		{3 * KiB, "3KiB"},
		{1500, "1500B"},
		{0, "0B"},
	}
	for _, tt := range tests {
		if got := tt.size.String(); got != tt.want {
			t.Errorf("Size(%d).String() = %q, want %q", int64(tt.size), got, tt.want)
		}
	}
}

func TestYAMLUnmarshal(t *testing.T) {
	type TestConfig struct {
		Time  Duration `yaml:"time"`
		Limit Size     `yaml:"limit"`
		Raw   Size     `yaml:"raw"`
	}

	yamlData := `
time: 2d
limit: 5MiB
raw: 2048
`
	var cfg TestConfig
	if err := yaml.Unmarshal([]byte(yamlData), &cfg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if time.Duration(cfg.Time) != 48*time.Hour {
		t.Errorf("Expected 48h, got %v", time.Duration(cfg.Time))
	}
	if cfg.Limit != 5*MiB {
		t.Errorf("Expected 5MiB, got %d", cfg.Limit)
	}
	if cfg.Raw != 2048 {
		t.Errorf("Expected 2048, got %d", cfg.Raw)
	}
}
