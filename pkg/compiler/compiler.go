// Package compiler turns a filtered slice of host source plus one
// synthesized support unit into an in-memory image the isolated loader can
// execute. Compilation either fully succeeds or reports one aggregated
// error string; it never partially succeeds.
package compiler

import (
	"fmt"
	"go/parser"
	"go/scanner"
	"go/token"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"testing/fstest"

	"github.com/sirupsen/logrus"

	"github.com/spindleworks/spindle/pkg/program"
)

const (
	// RuntimeImportPath is the import path of the synthesized support
	// package host source registers expanders against.
	RuntimeImportPath = "spindle/ext"

	// BuildTag is the build constraint expected on expander source so the
	// host's real build ignores it. The compiler strips it when mounting.
	BuildTag = "spindle"
)

// runtimeSource is the one synthesized source unit added to every image.
// It declares the registration marker and the descriptor type the entry
// method receives.
const runtimeSource = `package ext

// TypeInfo describes one type declaration of the program under build.
type TypeInfo struct {
	Name         string
	MetadataName string
	PkgPath      string
	Exported     bool
	Struct       bool
}

// Register marks a type as an expander. Evaluated for its side effect of
// making registration sites compile; discovery reads the directive, not
// this call.
func Register(v interface{}) bool { return true }
`

// Image is the in-memory compilation output: a source filesystem laid out
// for the loader plus the module's package coordinates.
type Image struct {
	// FS holds the compiled-together source tree under src/<import path>/.
	FS fstest.MapFS
	// GoPath is the virtual GOPATH root inside FS.
	GoPath string
	// RootImport is the host module's import path.
	RootImport string
	// Packages lists the module's own package import paths in the image,
	// sorted. The loader imports every one of them.
	Packages []string
}

// Compile filters the host source set, synthesizes the support unit,
// mounts resolvable references from disk, and validates the result. All
// compiler diagnostics and any compiler panic are folded into a single
// error.
func Compile(prog *program.Program, log *logrus.Logger) (img *Image, err error) {
	if log == nil {
		log = logrus.New()
	}
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("compiler panic: %v", r)
		}
	}()

	if prog.ModulePath == "" {
		return nil, fmt.Errorf("host program has no module path")
	}

	fsys := fstest.MapFS{}
	fset := token.NewFileSet()
	var (
		msgs    []string
		imports = map[string]struct{}{}
		pkgs    = map[string]struct{}{}
	)

	included := 0
	for _, unit := range prog.Sources {
		if unit.Generated || program.IsGeneratedSource(unit.Content) {
			log.Debugf("excluding generated source unit: %s", unit.Path)
			continue
		}
		content := stripBuildConstraint(unit.Content)

		file, perr := parser.ParseFile(fset, unit.Path, content, parser.AllErrors)
		if file != nil && file.Name.Name == "main" {
			// Main packages cannot be imported into the execution context;
			// they carry no expandable surface and stay out of the image.
			log.Debugf("excluding main-package source unit: %s", unit.Path)
			continue
		}
		if perr != nil {
			msgs = append(msgs, flattenParseError(perr)...)
		}
		if file != nil {
			for _, imp := range file.Imports {
				if p, uerr := strconv.Unquote(imp.Path.Value); uerr == nil {
					imports[p] = struct{}{}
				}
			}
		}

		pkgs[unitImportPath(prog.ModulePath, unit.Path)] = struct{}{}
		fsys[path.Join("src", prog.ModulePath, unit.Path)] = &fstest.MapFile{Data: content}
		included++
	}

	if included == 0 {
		return nil, fmt.Errorf("no source units remain after filtering generated output")
	}

	fsys[path.Join("src", RuntimeImportPath, "ext.go")] = &fstest.MapFile{Data: []byte(runtimeSource)}

	mountReferences(fsys, fset, imports, prog, log)

	if len(msgs) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(msgs, "\n"))
	}

	paths := make([]string, 0, len(pkgs))
	for p := range pkgs {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	return &Image{
		FS:         fsys,
		GoPath:     ".",
		RootImport: prog.ModulePath,
		Packages:   paths,
	}, nil
}

// unitImportPath derives the import path of the package holding a source
// unit from its module-relative path.
func unitImportPath(modulePath, unitPath string) string {
	dir := path.Dir(unitPath)
	if dir == "." {
		return modulePath
	}
	return modulePath + "/" + dir
}

// mountReferences walks the image's unresolved imports and mounts matching
// reference sources from disk. Matching is by exact import path first, then
// by bare name against the reference paths. Imports that stay unresolved
// are left absent; they surface as load failures, not compile failures.
func mountReferences(fsys fstest.MapFS, fset *token.FileSet, initial map[string]struct{}, prog *program.Program, log *logrus.Logger) {
	pending := make([]string, 0, len(initial))
	for imp := range initial {
		pending = append(pending, imp)
	}
	visited := map[string]struct{}{}

	for len(pending) > 0 {
		imp := pending[0]
		pending = pending[1:]
		if _, seen := visited[imp]; seen {
			continue
		}
		visited[imp] = struct{}{}

		if !needsMount(imp, prog.ModulePath) {
			continue
		}
		ref, ok := resolveReference(imp, prog.References)
		if !ok {
			log.Debugf("reference not resolvable, leaving absent: %s", imp)
			continue
		}

		more, err := mountDir(fsys, fset, ref, log)
		if err != nil {
			log.Warnf("failed to mount reference %s from %s: %v", ref.ImportPath, ref.Dir, err)
			continue
		}
		pending = append(pending, more...)
	}
}

// needsMount reports whether an import must be satisfied by mounting
// reference sources: not the synthesized package, not module-local, and
// not provided by the loader's prebound standard library symbols.
func needsMount(imp, modulePath string) bool {
	if imp == RuntimeImportPath {
		return false
	}
	if imp == modulePath || strings.HasPrefix(imp, modulePath+"/") {
		return false
	}
	first := imp
	if i := strings.Index(imp, "/"); i >= 0 {
		first = imp[:i]
	}
	// Import paths without a dotted first segment are standard library.
	return strings.Contains(first, ".")
}

// resolveReference matches an import against the host compilation's
// references: exact import path, then bare name.
func resolveReference(imp string, refs []program.Reference) (program.Reference, bool) {
	for _, ref := range refs {
		if ref.ImportPath == imp {
			return program.Reference{ImportPath: imp, Dir: ref.Dir}, true
		}
	}
	for _, ref := range refs {
		if path.Base(ref.ImportPath) == path.Base(imp) {
			return program.Reference{ImportPath: imp, Dir: ref.Dir}, true
		}
	}
	return program.Reference{}, false
}

// mountDir loads a reference's sources from disk into the image and
// returns their imports for further resolution.
func mountDir(fsys fstest.MapFS, fset *token.FileSet, ref program.Reference, log *logrus.Logger) ([]string, error) {
	entries, err := os.ReadDir(ref.Dir)
	if err != nil {
		return nil, err
	}

	var more []string
	mounted := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		data, err := os.ReadFile(path.Join(ref.Dir, name))
		if err != nil {
			return nil, err
		}
		fsys[path.Join("src", ref.ImportPath, name)] = &fstest.MapFile{Data: data}
		mounted++

		// Reference parse errors are not host compile errors; the load
		// phase reports them if the package is actually reached.
		if file, _ := parser.ParseFile(fset, name, data, parser.ImportsOnly); file != nil {
			for _, imp := range file.Imports {
				if p, uerr := strconv.Unquote(imp.Path.Value); uerr == nil {
					more = append(more, p)
				}
			}
		}
	}

	log.Debugf("mounted reference %s (%d files)", ref.ImportPath, mounted)
	return more, nil
}

// stripBuildConstraint removes the expander build constraint so guarded
// source participates in the image.
func stripBuildConstraint(content []byte) []byte {
	lines := strings.Split(string(content), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "//go:build "+BuildTag || trimmed == "// +build "+BuildTag {
			continue
		}
		out = append(out, line)
	}
	return []byte(strings.Join(out, "\n"))
}

// flattenParseError expands a scanner error list into per-position lines.
func flattenParseError(err error) []string {
	if list, ok := err.(scanner.ErrorList); ok {
		msgs := make([]string, 0, len(list))
		for _, e := range list {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}
