// Package program models the read-only view of the host module that the
// expansion pipeline consumes: its source units, binary references, go
// directive, and the declarations the discovery walk extracts from it.
package program

import (
	"bufio"
	"bytes"
	"regexp"

	"github.com/spindleworks/spindle/pkg/diagnostics"
	"github.com/spindleworks/spindle/pkg/identity"
)

// SourceUnit is one host source file.
type SourceUnit struct {
	// Path is the file path relative to the module root.
	Path string
	// Content is the raw file content.
	Content []byte
	// Generated marks units whose origin is previously generated output.
	// The compiler excludes them to avoid feedback loops.
	Generated bool
}

// Reference is one resolvable dependency of the host compilation: an
// import path plus the on-disk directory holding its sources.
type Reference struct {
	ImportPath string
	Dir        string
}

// Program is the full read-only view of the host module under build.
type Program struct {
	// ModulePath is the module's import path from go.mod.
	ModulePath string
	// GoVersion is the module's go directive, e.g. "1.21".
	GoVersion string
	// Sources is the host source set, discovery order.
	Sources []SourceUnit
	// References are the host compilation's resolvable dependencies.
	References []Reference
}

// ExtensionDeclaration identifies one registered expander type and the
// source location of its registration. One exists per registration site;
// duplicates are never merged.
type ExtensionDeclaration struct {
	Type     identity.TypeIdentity
	Location diagnostics.Location
}

// TargetDeclaration is one type declaration in the host module.
type TargetDeclaration struct {
	Type identity.TypeIdentity
	// Exported reports whether the declaration is exported and may be
	// augmented by a generated counterpart file.
	Exported bool
	// Struct reports whether the declaration is a struct type.
	Struct   bool
	Location diagnostics.Location
}

var generatedRe = regexp.MustCompile(`^// Code generated .* DO NOT EDIT\.$`)

// IsGeneratedSource reports whether content carries the standard generated
// code marker before its package clause.
func IsGeneratedSource(content []byte) bool {
	sc := bufio.NewScanner(bytes.NewReader(content))
	for sc.Scan() {
		line := sc.Text()
		if generatedRe.MatchString(line) {
			return true
		}
		if bytes.HasPrefix([]byte(line), []byte("package ")) {
			return false
		}
	}
	return false
}
