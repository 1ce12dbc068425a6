package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Policy carries governance bootstrap data that must not be hardcoded in
// entities: the initial operator allowlist and fraction poll defaults.
type Policy struct {
	RootOperators         []string      `yaml:"root_operators"`
	DefaultFractionWindow time.Duration `yaml:"-"`

	RawFractionWindow string `yaml:"default_fraction_window"`
}

const defaultFractionWindow = 30 * 24 * time.Hour

// LoadPolicy reads the optional YAML policy file. A missing path yields the
// built-in defaults so local and test runs need no file at all.
func LoadPolicy(path string) (Policy, error) {
	policy := Policy{DefaultFractionWindow: defaultFractionWindow}
	if strings.TrimSpace(path) == "" {
		return policy, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read governance policy %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return Policy{}, fmt.Errorf("decode governance policy %s: %w", path, err)
	}

	cleaned := make([]string, 0, len(policy.RootOperators))
	for _, operator := range policy.RootOperators {
		operator = strings.TrimSpace(operator)
		if operator != "" {
			cleaned = append(cleaned, operator)
		}
	}
	policy.RootOperators = cleaned

	policy.DefaultFractionWindow = defaultFractionWindow
	if window := strings.TrimSpace(policy.RawFractionWindow); window != "" {
		parsed, err := time.ParseDuration(window)
		if err != nil {
			return Policy{}, fmt.Errorf("parse default_fraction_window %q: %w", window, err)
		}
		if parsed <= 0 {
			return Policy{}, fmt.Errorf("default_fraction_window must be positive, got %q", window)
		}
		policy.DefaultFractionWindow = parsed
	}
	return policy, nil
}
