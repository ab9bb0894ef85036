package invalidation

import (
	"bytes"
	"fmt"
	"io"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Rule maps a mutation type to the key patterns it makes stale.
type Rule struct {
	MutationType string    `yaml:"mutation" json:"mutation"`
	Patterns     []Pattern `yaml:"patterns" json:"patterns"`
}

// Validate checks the rule and every pattern in it.
func (r Rule) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MutationType, validation.Required),
		validation.Field(&r.Patterns, validation.Required),
	)
}

// Registry is an immutable, validated rule table. Several rules may share a
// mutation type; they are applied in registration order.
type Registry struct {
	byMutation map[string][]Rule
	rules      []Rule
}

// NewRegistry validates rules and builds the lookup table. Any invalid rule
// fails the whole registry.
func NewRegistry(rules ...Rule) (*Registry, error) {
	r := &Registry{byMutation: make(map[string][]Rule, len(rules))}
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("invalidation rule %d (%q): %w", i, rule.MutationType, err)
		}

		// copy so callers cannot mutate registered patterns
		rule.Patterns = append([]Pattern(nil), rule.Patterns...)
		r.byMutation[rule.MutationType] = append(r.byMutation[rule.MutationType], rule)
		r.rules = append(r.rules, rule)
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on invalid rules. Meant for
// package level rule tables.
func MustRegistry(rules ...Rule) *Registry {
	r, err := NewRegistry(rules...)
	if err != nil {
		panic(err)
	}
	return r
}

// Match returns the rules registered for mutationType.
func (r *Registry) Match(mutationType string) []Rule {
	if r == nil {
		return nil
	}
	return r.byMutation[mutationType]
}

// Rules returns every registered rule in order.
func (r *Registry) Rules() []Rule {
	if r == nil {
		return nil
	}
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rules)
}

// MutationTypes returns the distinct mutation types with at least one rule.
func (r *Registry) MutationTypes() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(r.byMutation))
	var out []string
	for _, rule := range r.rules {
		if _, ok := seen[rule.MutationType]; ok {
			continue
		}
		seen[rule.MutationType] = struct{}{}
		out = append(out, rule.MutationType)
	}
	return out
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML rule table:
//
//	rules:
//	  - mutation: updateInventory
//	    patterns:
//	      - kind: exact
//	        template: "inventory::{sku}"
//	      - kind: tenant
//	        template: "inventory-list::"
//
// Unknown fields are rejected.
func LoadRules(r io.Reader) (*Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file ruleFile
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode invalidation rules: %w", err)
	}
	return NewRegistry(file.Rules...)
}

// LoadRulesFile reads a YAML rule table from path.
func LoadRulesFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read invalidation rules: %w", err)
	}
	return LoadRules(bytes.NewReader(data))
}
