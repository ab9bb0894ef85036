package invalidation

import (
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-offline-cache/cache"
)

// Kind selects how a pattern matches cache keys.
type Kind string

const (
	// KindExact removes the single key the template resolves to.
	KindExact Kind = "exact"
	// KindPrefix removes every key starting with the resolved template, for
	// all tenants.
	KindPrefix Kind = "prefix"
	// KindTenantScoped removes keys inside the mutating tenant's namespace
	// that start with the resolved template. It never touches other tenants.
	KindTenantScoped Kind = "tenant"
)

// TenantVar is the placeholder replaced by the mutation's tenant id.
const TenantVar = "tenantId"

var placeholderRe = regexp.MustCompile(`\{([^{}]*)\}`)

// Pattern is one key template of a rule. Templates may reference mutation
// variables as {name} or {nested.name}, and the tenant as {tenantId}.
type Pattern struct {
	Kind     Kind   `yaml:"kind" json:"kind"`
	Template string `yaml:"template" json:"template"`
}

// Exact builds a KindExact pattern.
func Exact(template string) Pattern {
	return Pattern{Kind: KindExact, Template: template}
}

// Prefix builds a KindPrefix pattern.
func Prefix(template string) Pattern {
	return Pattern{Kind: KindPrefix, Template: template}
}

// TenantScoped builds a KindTenantScoped pattern.
func TenantScoped(template string) Pattern {
	return Pattern{Kind: KindTenantScoped, Template: template}
}

// Validate checks the kind and the template syntax. Prefix and tenant scoped
// templates also need literal text outside their placeholders.
func (p Pattern) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Kind, validation.Required, validation.In(KindExact, KindPrefix, KindTenantScoped)),
		validation.Field(&p.Template,
			validation.Required,
			validation.By(validTemplate),
			validation.When(p.Kind == KindPrefix || p.Kind == KindTenantScoped, validation.By(literalPrefix)),
		),
	)
}

func validTemplate(value any) error {
	template, _ := value.(string)
	if strings.Count(template, "{") != strings.Count(template, "}") {
		return fmt.Errorf("unbalanced placeholder braces")
	}
	stripped := placeholderRe.ReplaceAllString(template, "")
	if strings.ContainsAny(stripped, "{}") {
		return fmt.Errorf("malformed placeholder")
	}
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		if strings.TrimSpace(m[1]) == "" {
			return fmt.Errorf("empty placeholder")
		}
	}
	return nil
}

func literalPrefix(value any) error {
	template, _ := value.(string)
	if strings.TrimSpace(placeholderRe.ReplaceAllString(template, "")) == "" {
		return fmt.Errorf("must contain literal text outside placeholders")
	}
	return nil
}

// Placeholders returns the names referenced by the template in order.
func (p Pattern) Placeholders() []string {
	matches := placeholderRe.FindAllStringSubmatch(p.Template, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// Target is a resolved pattern ready to be applied to the cache.
type Target struct {
	Kind     Kind
	Key      string
	TenantID string
}

func (t Target) String() string {
	if t.TenantID != "" {
		return fmt.Sprintf("%s:%s@%s", t.Kind, t.Key, t.TenantID)
	}
	return fmt.Sprintf("%s:%s", t.Kind, t.Key)
}

// resolve substitutes variables into the template. It reports false when a
// placeholder has no value or a tenant scoped pattern has no tenant, in which
// case the pattern must be skipped.
func (p Pattern) resolve(variables map[string]any, tenantID string) (Target, bool) {
	if p.Kind == KindTenantScoped && tenantID == "" {
		return Target{}, false
	}

	missing := false
	key := placeholderRe.ReplaceAllStringFunc(p.Template, func(match string) string {
		name := match[1 : len(match)-1]
		if name == TenantVar {
			if tenantID == "" {
				missing = true
			}
			return tenantID
		}
		value, ok := lookup(variables, name)
		if !ok {
			missing = true
			return ""
		}
		return value
	})
	if missing || key == "" {
		return Target{}, false
	}

	switch p.Kind {
	case KindTenantScoped:
		return Target{Kind: p.Kind, Key: cache.TenantPrefix(tenantID) + key, TenantID: tenantID}, true
	default:
		return Target{Kind: p.Kind, Key: key}, true
	}
}

// lookup walks dotted paths through nested maps.
func lookup(variables map[string]any, path string) (string, bool) {
	var current any = variables
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current, ok = m[part]
		if !ok || current == nil {
			return "", false
		}
	}

	switch v := current.(type) {
	case string:
		return v, v != ""
	case map[string]any, []any:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}
