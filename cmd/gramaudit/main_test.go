package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/gramaudit/internal/audit"
	"github.com/hyperjump/gramaudit/internal/models"
)

func TestFlagsFirst(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after value are moved first",
			args:     []string{"BT Version", "-threshold", "0.8"},
			expected: []string{"-threshold", "0.8", "BT Version"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-threshold", "0.8", "BT Version"},
			expected: []string{"-threshold", "0.8", "BT Version"},
		},
		{
			name:     "value only returns unchanged",
			args:     []string{"BT Version"},
			expected: []string{"BT Version"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"Bluetooth", "Colour", "--format", "json"},
			expected: []string{"--format", "json", "Bluetooth", "Colour"},
		},
		{
			name:     "stdin marker is positional",
			args:     []string{"-"},
			expected: []string{"-"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := flagsFirst(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("flagsFirst() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestJoinArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"bluetooth"}, "bluetooth"},
		{"multiple words", []string{"memory", "size"}, "memory size"},
		{"single quoted phrase", []string{"memory size"}, "memory size"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinArgs(tt.args); got != tt.expected {
				t.Errorf("joinArgs(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestReadValues(t *testing.T) {
	got, err := readValues([]string{"-"}, strings.NewReader("Bluetooth\n\n  Colour \nMemory\n"))
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"Bluetooth", "Colour", "Memory"}; !reflect.DeepEqual(got, want) {
		t.Errorf("readValues(stdin) = %v, want %v", got, want)
	}

	args := []string{"a", "-"}
	got, err = readValues(args, strings.NewReader("ignored"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, args) {
		t.Errorf("readValues(args) = %v, want %v", got, args)
	}
}

func TestRecordsFromPoints(t *testing.T) {
	p2 := []audit.Point{
		{ValueHash: "a", Value: "Bluetooth", UsageCount: 2, Coordinates: models.Coordinates{1, 2}},
		{ValueHash: "b", Value: "Colour", Coordinates: models.Coordinates{3, 4}},
	}
	p3 := []audit.Point{
		{ValueHash: "a", Value: "Bluetooth", Coordinates: models.Coordinates{1, 2, 3}},
	}
	records := recordsFromPoints(p2, p3)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (only values projected in both)", len(records))
	}
	r := records[0]
	if r.RawValue != "Bluetooth" || r.UsageCount != 2 || len(r.Projected2D) != 2 || len(r.Projected3D) != 3 {
		t.Errorf("unexpected record: %+v", r)
	}
}

func TestUsageError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", usageError("gramaudit similar <value>"))
	var usage usageError
	if !errors.As(err, &usage) {
		t.Fatal("usageError should be detectable through wrapping")
	}
	if usage.Error() != "Usage: gramaudit similar <value>" {
		t.Errorf("Error() = %q", usage.Error())
	}
}

func TestConfigPathDefault(t *testing.T) {
	t.Setenv(configEnv, "")
	if got := configPathDefault(); got != defaultConfigPath {
		t.Errorf("configPathDefault() = %q, want %q", got, defaultConfigPath)
	}
	t.Setenv(configEnv, "/custom/config.yaml")
	if got := configPathDefault(); got != "/custom/config.yaml" {
		t.Errorf("configPathDefault() = %q, want env value", got)
	}
}

func TestServerURLDefault(t *testing.T) {
	t.Setenv(serverEnv, "")
	if got := serverURLDefault(); got != "" {
		t.Errorf("an explicitly empty env should disable the server, got %q", got)
	}
	os.Unsetenv(serverEnv)
	if got := serverURLDefault(); got != defaultServerURL {
		t.Errorf("serverURLDefault() = %q, want %q", got, defaultServerURL)
	}
}

func TestServerAvailable_unreachable(t *testing.T) {
	if serverAvailable("") {
		t.Error("empty URL should not be available")
	}
	if serverAvailable("http://127.0.0.1:1") {
		t.Error("closed port should not be available")
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "test.db") {
		t.Errorf("database path should resolve next to the config, got %s", cfg.Storage.DatabasePath)
	}
}
