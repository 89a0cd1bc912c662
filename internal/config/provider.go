package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variables that override config file keys.
// FREIGHTDESK_BACKUP__RETRY__ATTEMPTS maps to backup.retry.attempts.
const EnvPrefix = "FREIGHTDESK_"

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "FREIGHTDESK_CONFIG"

// DefaultConfigPaths lists the config file locations searched in order.
var DefaultConfigPaths = []string{
	"freightdesk.yaml",
	"freightdesk.yml",
	"/etc/freightdesk/freightdesk.yaml",
}

// Provider resolves dotted configuration keys.
type Provider interface {
	// Get returns the raw value stored under key and whether it was set.
	Get(key string) (any, bool)
}

// MapProvider serves configuration from a flat map of dotted keys.
type MapProvider struct {
	values map[string]any
}

// NewMapProvider creates a provider over a copy of values.
func NewMapProvider(values map[string]any) *MapProvider {
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &MapProvider{values: copied}
}

// Get returns the value stored under key.
func (p *MapProvider) Get(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

// KoanfProvider serves configuration layered from a YAML file and the environment.
type KoanfProvider struct {
	k    *koanf.Koanf
	path string
}

// Load builds a provider from the YAML file at path (optional) overlaid with
// FREIGHTDESK_ environment variables. An empty path searches DefaultConfigPaths.
func Load(path string) (*KoanfProvider, error) {
	k := koanf.New(".")

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	return &KoanfProvider{k: k, path: path}, nil
}

// Get returns the value stored under key.
func (p *KoanfProvider) Get(key string) (any, bool) {
	if !p.k.Exists(key) {
		return nil, false
	}
	return p.k.Get(key), true
}

// Path returns the config file that was loaded, or empty when none was found.
func (p *KoanfProvider) Path() string {
	return p.path
}

// envKey maps FREIGHTDESK_BACKUP__STORAGE_PATH to backup.storage_path.
func envKey(name string) string {
	name = strings.TrimPrefix(name, EnvPrefix)
	if name == "" || name == "CONFIG" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(name), "__", ".")
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Values from YAML arrive typed; values from the environment arrive as strings.

func toString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case fmt.Stringer:
		return t.String(), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(t), true
	}
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case int32:
		return int(t), true
	case uint:
		return int(t), true
	case uint64:
		return int(t), true
	case float64:
		return int(t), true
	case float32:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on":
			return true, true
		case "false", "0", "no", "off":
			return false, true
		}
	case int:
		return t != 0, true
	}
	return false, false
}

func toStrings(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := toString(item)
			if !ok {
				continue
			}
			out = append(out, s)
		}
		return out, true
	case string:
		if strings.TrimSpace(t) == "" {
			return []string{}, true
		}
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, true
	default:
		return nil, false
	}
}
