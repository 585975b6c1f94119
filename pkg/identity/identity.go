package identity

import (
	"strings"
)

// TypeIdentity is the structural identity of a type declaration: the
// import-path segments of its declaring package and the outer-to-inner
// chain of declared type names. Go declarations carry a single-element
// chain; the derivation supports deeper chains so identities originating
// elsewhere resolve under the same rules.
type TypeIdentity struct {
	Namespace []string
	Chain     []string
}

// NewTypeIdentity builds an identity from an import path and a declared
// type name.
func NewTypeIdentity(importPath, name string) TypeIdentity {
	var ns []string
	if importPath != "" {
		ns = strings.Split(importPath, "/")
	}
	return TypeIdentity{Namespace: ns, Chain: []string{name}}
}

// IsZero reports whether the identity carries no type name.
func (t TypeIdentity) IsZero() bool {
	return len(t.Chain) == 0
}

// MetadataName returns the name used to locate the equivalent type in a
// separately compiled module: namespace segments joined by '.', the
// nested-type chain joined by '+'.
func (t TypeIdentity) MetadataName() string {
	chain := strings.Join(t.Chain, "+")
	if len(t.Namespace) == 0 {
		return chain
	}
	return strings.Join(t.Namespace, ".") + "." + chain
}

// FullName returns the fully dotted name of the type, nesting included.
func (t TypeIdentity) FullName() string {
	parts := make([]string, 0, len(t.Namespace)+len(t.Chain))
	parts = append(parts, t.Namespace...)
	parts = append(parts, t.Chain...)
	return strings.Join(parts, ".")
}

// Name returns the innermost declared type name.
func (t TypeIdentity) Name() string {
	if len(t.Chain) == 0 {
		return ""
	}
	return t.Chain[len(t.Chain)-1]
}

// PackagePath returns the import path of the declaring package.
func (t TypeIdentity) PackagePath() string {
	return strings.Join(t.Namespace, "/")
}

// ArtifactKey derives the unique artifact key for an (expander, target)
// pair: the target's metadata name joined with the expander's full name,
// passed through Sanitize. Distinct pairs never collide under the
// substitution rule beyond the residual risk the rule itself carries.
func ArtifactKey(target, expander TypeIdentity) string {
	return Sanitize(target.MetadataName() + "." + expander.FullName())
}

// CompileFailureKey derives the artifact key for the synthesized failure
// artifact emitted when the pass never produced a module to invoke. No
// target exists for these, so the key is a function of the expander alone.
func CompileFailureKey(expander TypeIdentity) string {
	return Sanitize(expander.FullName()) + ".compile-failure"
}

// Sanitize maps a derived name onto the filesystem-safe character class:
// arity backticks become 'g', angle brackets become '+', and every other
// rune that is not alphanumeric or '.' becomes '_'.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '`':
			b.WriteRune('g')
		case r == '<', r == '>':
			b.WriteRune('+')
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
