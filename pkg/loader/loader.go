// Package loader wraps a compiled image in a freshly created, named,
// independently disposable execution context. One loaded module exists per
// pipeline instance; nothing obtained from it is valid after Close.
package loader

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/spindleworks/spindle/pkg/compiler"
)

// Module is a loaded compiled image plus the execution context that holds
// it. It is exclusively owned by one pipeline instance for one build pass.
type Module struct {
	name       string
	interp     *interp.Interpreter
	aliases    map[string]string
	descriptor reflect.Type
	log        *logrus.Logger
	closed     bool
}

// Load creates a new execution context for the image, binds the standard
// library symbol set, and evaluates the synthesized support package plus
// every module package in the image. Each package is imported under a
// generated alias so same-named packages in different directories never
// shadow each other. Errors here carry the interpreter's full diagnostic
// text; the caller folds them into the sticky compile-failure state.
func Load(img *compiler.Image, log *logrus.Logger) (*Module, error) {
	if log == nil {
		log = logrus.New()
	}
	name := "spindle-" + uuid.NewString()

	i := interp.New(interp.Options{
		GoPath:               img.GoPath,
		SourcecodeFilesystem: img.FS,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("%w: binding standard library symbols: %v", ErrLoadFailed, err)
	}

	if _, err := i.Eval(fmt.Sprintf("import %q", compiler.RuntimeImportPath)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	aliases := make(map[string]string, len(img.Packages))
	for n, pkg := range img.Packages {
		alias := fmt.Sprintf("p%d", n)
		if _, err := i.Eval(fmt.Sprintf("import %s %q", alias, pkg)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
		}
		aliases[pkg] = alias
	}

	desc, err := i.Eval("ext.TypeInfo{}")
	if err != nil {
		return nil, fmt.Errorf("%w: resolving descriptor type: %v", ErrLoadFailed, err)
	}

	log.WithFields(logrus.Fields{
		"context":  name,
		"module":   img.RootImport,
		"packages": len(aliases),
	}).Debug("loaded expander module")

	return &Module{
		name:       name,
		interp:     i,
		aliases:    aliases,
		descriptor: desc.Type(),
		log:        log,
	}, nil
}

// Name returns the execution context's name.
func (m *Module) Name() string {
	return m.name
}

// PackageAlias returns the alias a module package was imported under.
// Lookup is by exact import path; a false result means the package is not
// part of the loaded module.
func (m *Module) PackageAlias(importPath string) (string, bool) {
	alias, ok := m.aliases[importPath]
	return alias, ok
}

// DescriptorType returns the runtime type of the descriptor the entry
// method receives as its first parameter.
func (m *Module) DescriptorType() reflect.Type {
	return m.descriptor
}

// Eval evaluates an expression inside the module's context.
func (m *Module) Eval(expr string) (reflect.Value, error) {
	if m.closed {
		return reflect.Value{}, ErrModuleReleased
	}
	return m.interp.Eval(expr)
}

// NewDescriptor builds a descriptor value inside the module's context.
func (m *Module) NewDescriptor(name, metadataName, pkgPath string, exported, isStruct bool) (reflect.Value, error) {
	expr := fmt.Sprintf(
		"ext.TypeInfo{Name: %q, MetadataName: %q, PkgPath: %q, Exported: %v, Struct: %v}",
		name, metadataName, pkgPath, exported, isStruct,
	)
	return m.Eval(expr)
}

// Close releases the execution context. Unloading is best-effort: failures
// are swallowed, and every value previously obtained from the module is
// invalid afterwards.
func (m *Module) Close() {
	if m == nil || m.closed {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("context", m.name).Debugf("swallowed unload failure: %v", r)
		}
	}()
	m.closed = true
	m.interp = nil
	m.log.WithField("context", m.name).Debug("released expander module")
}
