// Package redact masks credentials in pipeline command lines and command
// output before they reach the logs, the audit trail or the state database.
package redact

import (
	"fmt"
	"regexp"
	"sort"
)

const DefaultPlaceholder = "[REDACTED]"

// Config controls what the Redactor masks.
type Config struct {
	Enabled        bool     `yaml:"enabled"`
	CustomPatterns []string `yaml:"custom_patterns"`
	Placeholder    string   `yaml:"placeholder"`
}

// DefaultConfig enables the builtin rules.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Placeholder: DefaultPlaceholder,
	}
}

// Redactor applies a sorted set of redaction rules to strings.
type Redactor struct {
	rules       []rule
	placeholder string
}

// New compiles a Redactor. A disabled config yields a passthrough; an
// invalid custom pattern is an error.
func New(cfg Config) (*Redactor, error) {
	placeholder := cfg.Placeholder
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	if !cfg.Enabled {
		return &Redactor{placeholder: placeholder}, nil
	}

	rules := builtinRules(placeholder)
	for i, p := range cfg.CustomPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redact: custom pattern %q: %w", p, err)
		}
		rules = append(rules, rule{name: "custom", priority: 90 + i, pattern: re})
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].priority < rules[j].priority
	})
	return &Redactor{rules: rules, placeholder: placeholder}, nil
}

// Redact applies all rules in priority order.
func (r *Redactor) Redact(input string) string {
	result := input
	for _, rule := range r.rules {
		if rule.replace != nil {
			result = rule.pattern.ReplaceAllStringFunc(result, rule.replace)
		} else {
			result = rule.pattern.ReplaceAllString(result, r.placeholder)
		}
	}
	return result
}

// Args masks a command line. The word after a secret flag such as
// --password or --activationkey is replaced whole; every word then goes
// through Redact.
func (r *Redactor) Args(argv []string) []string {
	out := make([]string, len(argv))
	maskNext := false
	for i, a := range argv {
		switch {
		case len(r.rules) == 0:
			out[i] = a
		case maskNext:
			out[i] = r.placeholder
			maskNext = false
		default:
			out[i] = r.Redact(a)
			maskNext = secretFlagRe.MatchString(a)
		}
	}
	return out
}
