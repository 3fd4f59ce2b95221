// Package scrub removes credential-shaped material from asset content
// before it reaches the cache or the shared repository.
package scrub

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Rule pairs a compiled pattern with its replacement text.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Replace string
}

// Scrubber applies an ordered rule list to text.
type Scrubber struct {
	rules []Rule
}

// ruleSpec is the YAML shape of one user-supplied rule.
type ruleSpec struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`
}

type rulesFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

const redacted = "[REDACTED]"

// defaultRules cover the credential formats that most commonly leak
// into engineering notes.
var defaultRules = []Rule{
	{
		Name:    "aws-access-key",
		Pattern: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		Replace: redacted,
	},
	{
		Name:    "bearer-token",
		Pattern: regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-_.~+/]{16,}=*`),
		Replace: "Bearer " + redacted,
	},
	{
		Name:    "api-key-assignment",
		Pattern: regexp.MustCompile(`(?i)\b(api[_-]?key|apikey|secret[_-]?key|access[_-]?token)\s*[:=]\s*['"]?[A-Za-z0-9\-_.]{12,}['"]?`),
		Replace: "$1=" + redacted,
	},
	{
		Name:    "password-assignment",
		Pattern: regexp.MustCompile(`(?i)\b(password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]{6,}['"]?`),
		Replace: "$1=" + redacted,
	},
	{
		Name:    "private-key-block",
		Pattern: regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`),
		Replace: redacted,
	},
}

// New returns a scrubber with the built-in rule set.
func New() *Scrubber {
	return &Scrubber{rules: defaultRules}
}

// NewFromFile returns a scrubber with the built-in rules plus the
// rules loaded from a YAML file. User rules run after the defaults.
func NewFromFile(path string) (*Scrubber, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scrub rules: %w", err)
	}

	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse scrub rules: %w", err)
	}

	rules := make([]Rule, 0, len(defaultRules)+len(rf.Rules))
	rules = append(rules, defaultRules...)
	for _, spec := range rf.Rules {
		if spec.Pattern == "" {
			return nil, fmt.Errorf("scrub rule %q has no pattern", spec.Name)
		}
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("scrub rule %q: %w", spec.Name, err)
		}
		replace := spec.Replace
		if replace == "" {
			replace = redacted
		}
		rules = append(rules, Rule{Name: spec.Name, Pattern: re, Replace: replace})
	}

	return &Scrubber{rules: rules}, nil
}

// Scrub applies every rule in order and returns the cleaned text with
// the total number of replacements made.
func (s *Scrubber) Scrub(text string) (string, int) {
	hits := 0
	for _, r := range s.rules {
		matches := r.Pattern.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		hits += len(matches)
		text = r.Pattern.ReplaceAllString(text, r.Replace)
	}
	return text, hits
}
