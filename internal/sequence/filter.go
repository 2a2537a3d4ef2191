package sequence

import (
	"fmt"
	"slices"
	"strings"
)

// MaxParams bounds the parameter list of an ExcludeMethod rule. No real
// member declares more.
const MaxParams = 255

// RuleKind discriminates filter rules.
type RuleKind string

const (
	RuleExcludeType   RuleKind = "exclude_type"
	RuleExcludeMethod RuleKind = "exclude_method"
)

// Rule is one exclusion rule of a FilterChain.
type Rule struct {
	Kind       RuleKind `json:"kind"`
	TypeName   string   `json:"type"`
	MethodName string   `json:"method,omitempty"`
	// ParamTypes scopes an ExcludeMethod rule to one overload. Nil matches
	// every overload; an empty non-nil slice matches only the nullary one.
	ParamTypes []string `json:"params,omitempty"`
}

// ExcludeType hides a whole type. A name ending in "*" matches every type
// with that prefix.
func ExcludeType(typeFullName string) Rule {
	return Rule{Kind: RuleExcludeType, TypeName: typeFullName}
}

// ExcludeMethod hides one method. Pass nil paramTypes to hide all overloads.
func ExcludeMethod(typeFullName, methodName string, paramTypes []string) Rule {
	var params []string
	if paramTypes != nil {
		params = slices.Clone(paramTypes)
	}
	return Rule{Kind: RuleExcludeMethod, TypeName: typeFullName, MethodName: methodName, ParamTypes: params}
}

// ExcludeDescriptor hides exactly the given method overload.
func ExcludeDescriptor(m MethodDescriptor) Rule {
	return ExcludeMethod(m.TypeName(), m.Name(), m.ParamTypes())
}

// ParseMethodRule parses "pkg.Type.Method" (all overloads) or
// "pkg.Type.Method(int,string)" (one overload) into a validated rule.
func ParseMethodRule(s string) (Rule, error) {
	name, params, hasParams := strings.Cut(strings.TrimSpace(s), "(")
	i := strings.LastIndex(name, ".")
	if i <= 0 || i == len(name)-1 {
		return Rule{}, fmt.Errorf("%w: %q is not Type.Method", ErrMalformedFilterRule, s)
	}

	var paramTypes []string
	if hasParams {
		inner, ok := strings.CutSuffix(params, ")")
		if !ok {
			return Rule{}, fmt.Errorf("%w: %q has an unterminated parameter list", ErrMalformedFilterRule, s)
		}
		paramTypes = []string{}
		if strings.TrimSpace(inner) != "" {
			for _, p := range strings.Split(inner, ",") {
				paramTypes = append(paramTypes, strings.TrimSpace(p))
			}
		}
	}

	r := ExcludeMethod(name[:i], name[i+1:], paramTypes)
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Validate reports ErrMalformedFilterRule for rules that cannot match.
func (r Rule) Validate() error {
	if r.TypeName == "" {
		return fmt.Errorf("%w: empty type name", ErrMalformedFilterRule)
	}
	switch r.Kind {
	case RuleExcludeType:
		if r.MethodName != "" || r.ParamTypes != nil {
			return fmt.Errorf("%w: type rule with method scope", ErrMalformedFilterRule)
		}
	case RuleExcludeMethod:
		if r.MethodName == "" {
			return fmt.Errorf("%w: empty method name", ErrMalformedFilterRule)
		}
		if len(r.ParamTypes) > MaxParams {
			return fmt.Errorf("%w: %d parameters exceeds %d", ErrMalformedFilterRule, len(r.ParamTypes), MaxParams)
		}
		for i, p := range r.ParamTypes {
			if strings.TrimSpace(p) == "" {
				return fmt.Errorf("%w: parameter %d has no type", ErrMalformedFilterRule, i)
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedFilterRule, r.Kind)
	}
	return nil
}

// Equal reports whether two rules match exactly the same members.
func (r Rule) Equal(other Rule) bool {
	if r.Kind != other.Kind || r.TypeName != other.TypeName || r.MethodName != other.MethodName {
		return false
	}
	if (r.ParamTypes == nil) != (other.ParamTypes == nil) {
		return false
	}
	return slices.Equal(r.ParamTypes, other.ParamTypes)
}

// Matches reports whether the rule hides m.
func (r Rule) Matches(m MethodDescriptor) bool {
	if !matchTypePattern(r.TypeName, m.TypeName()) {
		return false
	}
	if r.Kind == RuleExcludeType {
		return true
	}
	if r.MethodName != m.Name() {
		return false
	}
	if r.ParamTypes == nil {
		return true
	}
	return slices.Equal(r.ParamTypes, m.paramTypes)
}

func (r Rule) String() string {
	if r.Kind == RuleExcludeType {
		return "exclude type " + r.TypeName
	}
	if r.ParamTypes == nil {
		return "exclude method " + r.TypeName + "." + r.MethodName + "(*)"
	}
	return "exclude method " + methodKey(r.TypeName, r.MethodName, r.ParamTypes)
}

// matchTypePattern matches a fully qualified type name against an exact name
// or a trailing-"*" prefix pattern.
func matchTypePattern(pattern, typeName string) bool {
	if pattern == typeName {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(typeName, prefix)
	}
	return false
}

// FilterChain is an ordered, additive-only list of exclusion rules. A
// descriptor is allowed iff no rule matches it.
//
// A chain is owned by one session and is not safe for concurrent mutation;
// builds read a Clone taken at start.
type FilterChain struct {
	rules []Rule
}

// NewFilterChain creates a chain from the given rules, rejecting the first
// malformed one.
func NewFilterChain(rules ...Rule) (*FilterChain, error) {
	fc := &FilterChain{}
	for _, r := range rules {
		if err := fc.AddFilter(r); err != nil {
			return nil, err
		}
	}
	return fc, nil
}

// AddFilter appends a rule. Adding a rule equal to an existing one has no
// effect. Malformed rules leave the chain unchanged.
func (fc *FilterChain) AddFilter(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	for _, existing := range fc.rules {
		if existing.Equal(r) {
			return nil
		}
	}
	fc.rules = append(fc.rules, r)
	return nil
}

// IsAllowed reports whether m may be expanded and displayed with internals.
func (fc *FilterChain) IsAllowed(m MethodDescriptor) bool {
	if fc == nil {
		return true
	}
	for _, r := range fc.rules {
		if r.Matches(m) {
			return false
		}
	}
	return true
}

// IsTypeAllowed reports whether no ExcludeType rule hides the object.
func (fc *FilterChain) IsTypeAllowed(o ObjectDescriptor) bool {
	if fc == nil {
		return true
	}
	for _, r := range fc.rules {
		if r.Kind == RuleExcludeType && matchTypePattern(r.TypeName, o.FullName()) {
			return false
		}
	}
	return true
}

// Rules returns the rules in insertion order.
func (fc *FilterChain) Rules() []Rule {
	if fc == nil {
		return nil
	}
	out := make([]Rule, len(fc.rules))
	for i, r := range fc.rules {
		out[i] = r
		if r.ParamTypes != nil {
			out[i].ParamTypes = slices.Clone(r.ParamTypes)
		}
	}
	return out
}

// Len returns the number of rules.
func (fc *FilterChain) Len() int {
	if fc == nil {
		return 0
	}
	return len(fc.rules)
}

// Clone returns an independent copy.
func (fc *FilterChain) Clone() *FilterChain {
	return &FilterChain{rules: fc.Rules()}
}
