package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/typeutil"
)

// EnvPrefix prefixes environment overrides, e.g. ONBOARDING_WEBHOOK_URL.
const EnvPrefix = "ONBOARDING_"

// ParseYAML decodes a YAML document into a flat key map.
// Nested sections are flattened, so `firebase: {database_url: x}` becomes
// `firebase_database_url`.
func ParseYAML(data []byte) (map[string]any, error) {
	raw := make(map[string]any)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return typeutil.Flatten(raw), nil
}

// EnvOverrides extracts prefixed variables from an environment listing in
// os.Environ format. Keys are lower-cased with the prefix removed.
func EnvOverrides(environ []string, prefix string) map[string]any {
	out := make(map[string]any)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		out[strings.ToLower(strings.TrimPrefix(key, prefix))] = value
	}
	return out
}

// Load builds a validated config from an optional YAML file and environment
// overrides. Overrides win over the file; the file wins over defaults.
func Load(path string, environ []string) (*OnboardingConfig, error) {
	merged := make(map[string]any)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		fromFile, err := ParseYAML(data)
		if err != nil {
			return nil, err
		}
		for k, v := range fromFile {
			merged[k] = v
		}
	}

	for k, v := range EnvOverrides(environ, EnvPrefix) {
		merged[k] = v
	}

	cfg := OnboardingConfigFromMap(merged)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
