// Package mirror resolves structural type identities against a loaded
// module: the equivalent runtime type, and on it the fixed-signature entry
// method expanders must expose. The signature is shape-matched exactly
// once, at resolution time, never per call.
package mirror

import (
	"fmt"
	"reflect"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/spindleworks/spindle/pkg/identity"
	"github.com/spindleworks/spindle/pkg/loader"
)

// EntryMethodName is the literal name of the expander entry point.
const EntryMethodName = "Expand"

// typeCacheSize bounds the resolved-type memoization. One loaded module
// rarely exposes more mirrors than this; eviction only costs a re-eval.
const typeCacheSize = 256

// Resolver performs lookups against one loaded module. Resolved types are
// memoized by metadata name, so an identity that is both a registration
// and a target declaration is evaluated once per pass.
type Resolver struct {
	mod   *loader.Module
	types *lru.Cache[string, reflect.Type]
}

// NewResolver creates a resolver bound to a loaded module.
func NewResolver(mod *loader.Module) *Resolver {
	cache, _ := lru.New[string, reflect.Type](typeCacheSize)
	return &Resolver{mod: mod, types: cache}
}

// ResolveType finds the runtime type mirroring the given structural
// identity. Matching is exact and case-sensitive on the full derived name:
// the declaring package path selects the imported package, the type name
// the declaration within it. A missing mirror is a resolution failure,
// never a fatal error.
func (r *Resolver) ResolveType(id identity.TypeIdentity) (reflect.Type, error) {
	key := id.MetadataName()
	if typ, ok := r.types.Get(key); ok {
		return typ, nil
	}

	sel, err := r.selector(id)
	if err != nil {
		return nil, err
	}
	v, err := r.mod.Eval(fmt.Sprintf("new(%s)", sel))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, key)
	}
	typ := v.Type().Elem()
	r.types.Add(key, typ)
	return typ, nil
}

// ResolveEntry locates the entry method on the mirror of the given
// identity and shape-checks its signature: one descriptor parameter, two
// booleans, four mutable string outputs, boolean result. Any deviation is
// treated identically to the method being absent.
func (r *Resolver) ResolveEntry(id identity.TypeIdentity) (Entry, error) {
	if _, err := r.ResolveType(id); err != nil {
		return Entry{}, err
	}
	sel, err := r.selector(id)
	if err != nil {
		return Entry{}, err
	}

	fn, err := r.mod.Eval(fmt.Sprintf("new(%s).%s", sel, EntryMethodName))
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %s.%s", ErrEntryMissing, id.MetadataName(), EntryMethodName)
	}
	if !matchesEntryShape(fn.Type(), r.mod.DescriptorType()) {
		return Entry{}, fmt.Errorf("%w: %s.%s has the wrong shape", ErrEntryMissing, id.MetadataName(), EntryMethodName)
	}

	return Entry{fn: fn}, nil
}

// selector maps an identity onto the evaluatable selector for its mirror,
// qualified by the alias its declaring package was imported under. An
// unknown package path and a multi-element chain both fail as ordinary
// resolution failures.
func (r *Resolver) selector(id identity.TypeIdentity) (string, error) {
	if len(id.Chain) != 1 {
		return "", fmt.Errorf("%w: %s", ErrTypeNotFound, id.MetadataName())
	}
	alias, ok := r.mod.PackageAlias(id.PackagePath())
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTypeNotFound, id.MetadataName())
	}
	return alias + "." + id.Chain[0], nil
}

var (
	boolType      = reflect.TypeOf(true)
	stringPtrType = reflect.TypeOf((*string)(nil))
)

// matchesEntryShape checks the exact required signature:
// (descriptor, bool, bool, *string, *string, *string, *string) bool.
func matchesEntryShape(t reflect.Type, descriptor reflect.Type) bool {
	if t.Kind() != reflect.Func || t.IsVariadic() {
		return false
	}
	if t.NumIn() != 7 || t.NumOut() != 1 {
		return false
	}
	if t.In(0) != descriptor {
		return false
	}
	if t.In(1) != boolType || t.In(2) != boolType {
		return false
	}
	for i := 3; i < 7; i++ {
		if t.In(i) != stringPtrType {
			return false
		}
	}
	return t.Out(0) == boolType
}

// Entry is a resolved, shape-checked entry method, reusable for every
// target in the pass.
type Entry struct {
	fn reflect.Value
}

// Result is the structured output of one entry invocation: the requested
// flag, up to three diagnostic strings, and the proposed artifact text.
// Empty strings are the absent value.
type Result struct {
	Requested bool
	Info      string
	Warning   string
	Fault     string
	Source    string
}

// Invoke calls the entry method with the descriptor and flags, the four
// output slots pre-seeded to the absent value. A panic raised by the
// untrusted code is caught here and returned as an ordinary error; it
// never escapes the pipeline boundary.
func (e Entry) Invoke(descriptor reflect.Value, exported, isStruct bool) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = fmt.Errorf("%w: %v", ErrExecutionFault, r)
		}
	}()

	info := new(string)
	warning := new(string)
	fault := new(string)
	source := new(string)

	out := e.fn.Call([]reflect.Value{
		descriptor,
		reflect.ValueOf(exported),
		reflect.ValueOf(isStruct),
		reflect.ValueOf(info),
		reflect.ValueOf(warning),
		reflect.ValueOf(fault),
		reflect.ValueOf(source),
	})

	return Result{
		Requested: out[0].Bool(),
		Info:      *info,
		Warning:   *warning,
		Fault:     *fault,
		Source:    *source,
	}, nil
}
