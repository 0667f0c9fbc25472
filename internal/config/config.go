// Package config loads the optional per-workspace TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the config file name inside the workspace state directory.
const FileName = "config.toml"

type Config struct {
	Ports    PortsConfig
	Reclaim  ReclaimConfig
	Commands CommandsConfig
	Journal  JournalConfig
	Log      LogConfig
}

type PortsConfig struct {
	App      int   `toml:"app"`
	Package  int   `toml:"package"`
	Desktop  int   `toml:"desktop"`
	Codex    int   `toml:"codex"`
	DevExtra []int `toml:"dev_extra"`
}

type ReclaimConfig struct {
	TermGraceMS    int      `toml:"term_grace_ms"`
	PollIntervalMS int      `toml:"poll_interval_ms"`
	RuntimeTools   []string `toml:"runtime_tools"`
	StudioMarkers  []string `toml:"studio_markers"`
}

type CommandsConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

type JournalConfig struct {
	Enabled bool `toml:"enabled"`
	Retain  int  `toml:"retain"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type LoadResult struct {
	Config   Config
	Warnings []string
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Ports: PortsConfig{
			App:      3010,
			Package:  3020,
			Desktop:  3030,
			Codex:    3040,
			DevExtra: []int{3000, 3001, 4173, 5173, 8080},
		},
		Reclaim: ReclaimConfig{
			TermGraceMS:    2000,
			PollIntervalMS: 50,
			RuntimeTools:   []string{"node", "electron", "esbuild", "next-server", "vite", "tsx"},
			StudioMarkers: []string{
				"apps/repo-studio",
				"packages/repo-studio",
				".repo-studio",
				"node_modules/@openai/codex",
			},
		},
		Commands: CommandsConfig{TimeoutSeconds: 15},
		Journal:  JournalConfig{Enabled: true, Retain: 200},
		Log:      LogConfig{Level: "info"},
	}
}

// SafePorts is the narrow port set always owned by the tool's own servers:
// the three runtime-mode defaults plus the companion agent port. Sorted.
func (c Config) SafePorts() []int {
	return SortedUnique([]int{c.Ports.App, c.Ports.Package, c.Ports.Desktop, c.Ports.Codex})
}

// RepoPorts is SafePorts plus the common dev server ports. Sorted.
func (c Config) RepoPorts() []int {
	return SortedUnique(append(c.SafePorts(), c.Ports.DevExtra...))
}

// DefaultPortFor returns the default port of a runtime mode name.
func (c Config) DefaultPortFor(mode string) int {
	switch mode {
	case "app":
		return c.Ports.App
	case "desktop":
		return c.Ports.Desktop
	default:
		return c.Ports.Package
	}
}

func (c Config) TermGrace() time.Duration {
	return time.Duration(c.Reclaim.TermGraceMS) * time.Millisecond
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Reclaim.PollIntervalMS) * time.Millisecond
}

func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.Commands.TimeoutSeconds) * time.Second
}

// SortedUnique returns the distinct positive values of ports in ascending order.
func SortedUnique(ports []int) []int {
	seen := make(map[int]bool, len(ports))
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if p <= 0 || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// LoadFrom reads path, merging its values over DefaultConfig.
// A missing file yields the defaults.
func LoadFrom(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &LoadResult{Config: DefaultConfig()}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromString(string(data))
}

func LoadFromString(data string) (*LoadResult, error) {
	result := &LoadResult{Config: DefaultConfig()}
	if strings.TrimSpace(data) == "" {
		return result, nil
	}

	var raw map[string]any
	if _, err := toml.Decode(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	knownTopLevel := map[string]bool{
		"ports":    true,
		"reclaim":  true,
		"commands": true,
		"journal":  true,
		"log":      true,
	}
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !knownTopLevel[key] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unknown config key: %q", key))
		}
	}

	var tf tomlFile
	if _, err := toml.Decode(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	mergeFromRaw(&result.Config, &tf, raw)

	if err := validate(&result.Config); err != nil {
		return nil, err
	}
	return result, nil
}

type tomlFile struct {
	Ports    *PortsConfig    `toml:"ports"`
	Reclaim  *ReclaimConfig  `toml:"reclaim"`
	Commands *CommandsConfig `toml:"commands"`
	Journal  *JournalConfig  `toml:"journal"`
	Log      *LogConfig      `toml:"log"`
}

// mergeFromRaw copies only keys present in the file so absent keys keep defaults.
func mergeFromRaw(cfg *Config, tf *tomlFile, raw map[string]any) {
	if section, ok := rawSection(raw, "ports"); ok && tf.Ports != nil {
		if _, exists := section["app"]; exists {
			cfg.Ports.App = tf.Ports.App
		}
		if _, exists := section["package"]; exists {
			cfg.Ports.Package = tf.Ports.Package
		}
		if _, exists := section["desktop"]; exists {
			cfg.Ports.Desktop = tf.Ports.Desktop
		}
		if _, exists := section["codex"]; exists {
			cfg.Ports.Codex = tf.Ports.Codex
		}
		if _, exists := section["dev_extra"]; exists {
			cfg.Ports.DevExtra = tf.Ports.DevExtra
		}
	}
	if section, ok := rawSection(raw, "reclaim"); ok && tf.Reclaim != nil {
		if _, exists := section["term_grace_ms"]; exists {
			cfg.Reclaim.TermGraceMS = tf.Reclaim.TermGraceMS
		}
		if _, exists := section["poll_interval_ms"]; exists {
			cfg.Reclaim.PollIntervalMS = tf.Reclaim.PollIntervalMS
		}
		if _, exists := section["runtime_tools"]; exists {
			cfg.Reclaim.RuntimeTools = tf.Reclaim.RuntimeTools
		}
		if _, exists := section["studio_markers"]; exists {
			cfg.Reclaim.StudioMarkers = tf.Reclaim.StudioMarkers
		}
	}
	if section, ok := rawSection(raw, "commands"); ok && tf.Commands != nil {
		if _, exists := section["timeout_seconds"]; exists {
			cfg.Commands.TimeoutSeconds = tf.Commands.TimeoutSeconds
		}
	}
	if section, ok := rawSection(raw, "journal"); ok && tf.Journal != nil {
		if _, exists := section["enabled"]; exists {
			cfg.Journal.Enabled = tf.Journal.Enabled
		}
		if _, exists := section["retain"]; exists {
			cfg.Journal.Retain = tf.Journal.Retain
		}
	}
	if section, ok := rawSection(raw, "log"); ok && tf.Log != nil {
		if _, exists := section["level"]; exists {
			cfg.Log.Level = tf.Log.Level
		}
	}
}

func rawSection(raw map[string]any, key string) (map[string]any, bool) {
	v, ok := raw[key]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

func validate(cfg *Config) error {
	var errs []string

	named := []struct {
		name string
		port int
	}{
		{"app", cfg.Ports.App},
		{"package", cfg.Ports.Package},
		{"desktop", cfg.Ports.Desktop},
		{"codex", cfg.Ports.Codex},
	}
	for _, n := range named {
		if !validPort(n.port) {
			errs = append(errs, fmt.Sprintf("ports.%s must be 1-65535, got %d", n.name, n.port))
		}
	}
	for _, p := range cfg.Ports.DevExtra {
		if !validPort(p) {
			errs = append(errs, fmt.Sprintf("ports.dev_extra entries must be 1-65535, got %d", p))
		}
	}

	if cfg.Reclaim.TermGraceMS < 0 {
		errs = append(errs, fmt.Sprintf("term_grace_ms must not be negative, got %d", cfg.Reclaim.TermGraceMS))
	}
	if cfg.Reclaim.PollIntervalMS < 1 {
		errs = append(errs, fmt.Sprintf("poll_interval_ms must be positive, got %d", cfg.Reclaim.PollIntervalMS))
	}
	if len(cfg.Reclaim.StudioMarkers) == 0 {
		errs = append(errs, "studio_markers must not be empty")
	}
	if cfg.Commands.TimeoutSeconds < 1 {
		errs = append(errs, fmt.Sprintf("commands timeout_seconds must be positive, got %d", cfg.Commands.TimeoutSeconds))
	}
	if cfg.Journal.Retain < 1 {
		errs = append(errs, fmt.Sprintf("journal retain must be positive, got %d", cfg.Journal.Retain))
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log level must be debug, info, warn or error, got %q", cfg.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
