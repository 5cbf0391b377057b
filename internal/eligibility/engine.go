package eligibility

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Engine answers the identity question the core treats as external: is this
// address eligible to act under the given role labels? Rules come from a
// YAML file; with no file configured every address is eligible.

type RoleRule struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

type Config struct {
	DefaultAction string              `yaml:"default_action"` // allow|deny
	Roles         map[string]RoleRule `yaml:"roles"`
}

type Engine struct {
	defaultAllow bool
	roles        map[string]RoleRule
	noop         bool
}

func NewAllowAll() *Engine {
	return &Engine{defaultAllow: true, roles: map[string]RoleRule{}, noop: true}
}

func LoadFromEnv() (*Engine, error) {
	path := strings.TrimSpace(os.Getenv("MARKET_ELIGIBILITY_FILE"))
	if path == "" {
		return NewAllowAll(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read eligibility file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse eligibility file: %w", err)
	}
	return NewFromConfig(cfg), nil
}

func NewFromConfig(cfg Config) *Engine {
	e := &Engine{
		defaultAllow: normalizeAction(cfg.DefaultAction) != "deny",
		roles:        map[string]RoleRule{},
	}
	for role, rule := range cfg.Roles {
		e.roles[strings.ToLower(strings.TrimSpace(role))] = rule
	}
	if e.defaultAllow && len(e.roles) == 0 {
		e.noop = true
	}
	return e
}

func (e *Engine) IsNoop() bool {
	return e.noop
}

// Allowed reports whether address may act under every one of the given role
// labels. Deny entries win over allow entries; a non-empty allow list makes
// the role closed to everyone not on it.
func (e *Engine) Allowed(address string, roles []string) bool {
	if e.noop {
		return true
	}
	address = strings.TrimSpace(address)
	for _, role := range roles {
		rule, ok := e.roles[strings.ToLower(strings.TrimSpace(role))]
		if !ok {
			if !e.defaultAllow {
				return false
			}
			continue
		}
		if containsAddress(rule.Deny, address) {
			return false
		}
		if len(rule.Allow) > 0 {
			if !containsAddress(rule.Allow, address) {
				return false
			}
			continue
		}
		if !e.defaultAllow {
			return false
		}
	}
	return true
}

func containsAddress(list []string, address string) bool {
	for _, a := range list {
		if strings.EqualFold(strings.TrimSpace(a), address) {
			return true
		}
	}
	return false
}

func normalizeAction(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "deny":
		return "deny"
	default:
		return "allow"
	}
}
