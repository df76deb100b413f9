package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// ErrOverlappingPrefix indicates two rules could match the same request path
	ErrOverlappingPrefix = errors.New("overlapping proxy prefixes")
	// ErrInvalidTarget indicates an upstream that is not an absolute http(s) URL
	ErrInvalidTarget = errors.New("invalid proxy target")
	// ErrInvalidRule indicates a rule source that could not be parsed or validated
	ErrInvalidRule = errors.New("invalid proxy rule")
)

// RewriteSpec replaces the first match of Pattern in the request path.
type RewriteSpec struct {
	Pattern     string `json:"pattern" yaml:"pattern" validate:"required"`
	Replacement string `json:"replacement" yaml:"replacement"`
}

// RuleSpec is a proxy rule as written in the rule source.
type RuleSpec struct {
	Prefix       string        `json:"prefix" yaml:"prefix" validate:"required,startswith=/"`
	Target       string        `json:"target" yaml:"target" validate:"required"`
	ChangeOrigin bool          `json:"changeOrigin" yaml:"changeOrigin"`
	Secure       bool          `json:"secure" yaml:"secure"`
	PathRewrite  []RewriteSpec `json:"pathRewrite,omitempty" yaml:"pathRewrite,omitempty" validate:"dive"`
}

type ruleFile struct {
	Rules []RuleSpec `yaml:"rules" validate:"dive"`
}

type rewrite struct {
	pattern     *regexp.Regexp
	replacement string
}

// Rule routes requests under Prefix to Target.
type Rule struct {
	Prefix       string
	Target       *url.URL
	ChangeOrigin bool
	Secure       bool

	rewrites []rewrite
}

// Match reports whether path falls under the rule prefix on a segment boundary.
func (r Rule) Match(path string) bool {
	return underPrefix(path, r.Prefix)
}

// RewritePath applies the first rewrite whose pattern matches p.
func (r Rule) RewritePath(p string) string {
	for _, rw := range r.rewrites {
		if rw.pattern.MatchString(p) {
			return rw.pattern.ReplaceAllString(p, rw.replacement)
		}
	}
	return p
}

// Spec converts the rule back into its source form.
func (r Rule) Spec() RuleSpec {
	spec := RuleSpec{
		Prefix:       r.Prefix,
		Target:       r.Target.String(),
		ChangeOrigin: r.ChangeOrigin,
		Secure:       r.Secure,
	}
	for _, rw := range r.rewrites {
		spec.PathRewrite = append(spec.PathRewrite, RewriteSpec{
			Pattern:     rw.pattern.String(),
			Replacement: rw.replacement,
		})
	}
	return spec
}

func (r Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Spec())
}

func (r Rule) MarshalYAML() (any, error) {
	return r.Spec(), nil
}

// Build compiles specs into rules, preserving their order.
func Build(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))

	for _, spec := range specs {
		rule, err := compile(spec)
		if err != nil {
			return nil, err
		}

		for _, existing := range rules {
			if overlaps(existing.Prefix, rule.Prefix) {
				return nil, fmt.Errorf("%w: %s and %s", ErrOverlappingPrefix, existing.Prefix, rule.Prefix)
			}
		}

		rules = append(rules, rule)
	}

	return rules, nil
}

// LoadFile reads a YAML rule source from path. A missing file yields no rules.
func LoadFile(path string) ([]Rule, error) {
	f, err := os.Open(path) // #nosec G304 - path is operator supplied
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open proxy rules: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load parses, validates and builds a YAML rule source.
func Load(r io.Reader) ([]Rule, error) {
	var file ruleFile

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	return Build(file.Rules)
}

func compile(spec RuleSpec) (Rule, error) {
	if !strings.HasPrefix(spec.Prefix, "/") {
		return Rule{}, fmt.Errorf("%w: prefix %q must start with /", ErrInvalidRule, spec.Prefix)
	}

	target, err := url.Parse(spec.Target)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %s: %w", ErrInvalidTarget, spec.Target, err)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return Rule{}, fmt.Errorf("%w: %s must be an absolute http or https URL", ErrInvalidTarget, spec.Target)
	}

	rule := Rule{
		Prefix:       normalizePrefix(spec.Prefix),
		Target:       target,
		ChangeOrigin: spec.ChangeOrigin,
		Secure:       spec.Secure,
	}

	for _, rw := range spec.PathRewrite {
		re, err := regexp.Compile(rw.Pattern)
		if err != nil {
			return Rule{}, fmt.Errorf("%w: rewrite %q: %w", ErrInvalidRule, rw.Pattern, err)
		}
		rule.rewrites = append(rule.rewrites, rewrite{pattern: re, replacement: rw.Replacement})
	}

	return rule, nil
}

func normalizePrefix(p string) string {
	if p == "/" {
		return p
	}
	return strings.TrimRight(p, "/")
}

func underPrefix(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func overlaps(a, b string) bool {
	return underPrefix(a, b) || underPrefix(b, a)
}
