// Package discovery builds the host program view the expansion pipeline
// consumes. LoadProgram reads a module directory into a Program; Scan
// extracts the target and expander declarations from it. Discovery is
// lenient where the compiler is strict: unparsable source is carried into
// the program unscanned so the compile phase owns the diagnostic.
package discovery

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/mod/modfile"

	"github.com/spindleworks/spindle/pkg/diagnostics"
	"github.com/spindleworks/spindle/pkg/identity"
	"github.com/spindleworks/spindle/pkg/program"
)

// Directive is the comment marking a type declaration as an expander
// registration.
const Directive = "//spindle:expander"

// LoadProgram reads a module directory into the program view: module path
// and go directive from go.mod, every non-test source unit under the root,
// and one reference per vendored package.
func LoadProgram(dir string, log *logrus.Logger) (*program.Program, error) {
	if log == nil {
		log = logrus.New()
	}

	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		return nil, fmt.Errorf("reading go.mod: %w", err)
	}
	mf, err := modfile.Parse("go.mod", data, nil)
	if err != nil {
		return nil, fmt.Errorf("parsing go.mod: %w", err)
	}
	if mf.Module == nil || mf.Module.Mod.Path == "" {
		return nil, fmt.Errorf("go.mod declares no module path")
	}

	prog := &program.Program{ModulePath: mf.Module.Mod.Path}
	if mf.Go != nil {
		prog.GoVersion = mf.Go.Version
	}

	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		name := d.Name()
		if d.IsDir() {
			if p == dir {
				return nil
			}
			if name == "vendor" || name == "testdata" ||
				strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			return nil
		}
		content, rerr := os.ReadFile(p)
		if rerr != nil {
			return rerr
		}
		rel, rerr := filepath.Rel(dir, p)
		if rerr != nil {
			return rerr
		}
		prog.Sources = append(prog.Sources, program.SourceUnit{
			Path:      filepath.ToSlash(rel),
			Content:   content,
			Generated: program.IsGeneratedSource(content),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking module sources: %w", err)
	}

	refs, err := scanVendor(filepath.Join(dir, "vendor"))
	if err != nil {
		return nil, fmt.Errorf("scanning vendored references: %w", err)
	}
	prog.References = refs

	log.WithFields(logrus.Fields{
		"module":     prog.ModulePath,
		"sources":    len(prog.Sources),
		"references": len(prog.References),
	}).Debug("host program loaded")
	return prog, nil
}

// scanVendor returns one reference per vendored package directory that
// directly contains Go source. A missing vendor directory is not an error.
func scanVendor(vendorDir string) ([]program.Reference, error) {
	info, err := os.Stat(vendorDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	dirs := map[string]string{}
	err = filepath.WalkDir(vendorDir, func(p string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		name := d.Name()
		if d.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			return nil
		}
		pkgDir := filepath.Dir(p)
		rel, rerr := filepath.Rel(vendorDir, pkgDir)
		if rerr != nil {
			return rerr
		}
		dirs[path.Clean(filepath.ToSlash(rel))] = pkgDir
		return nil
	})
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(dirs))
	for imp := range dirs {
		paths = append(paths, imp)
	}
	sort.Strings(paths)

	refs := make([]program.Reference, 0, len(paths))
	for _, imp := range paths {
		refs = append(refs, program.Reference{ImportPath: imp, Dir: dirs[imp]})
	}
	return refs, nil
}

// Scan walks the program's live source units and extracts declarations:
// every concrete type declaration becomes a target, and declarations
// carrying the expander directive additionally become extension
// declarations. Generic types are filtered here; duplicates are passed
// through untouched so the pipeline can reject the pass. Order follows
// source order.
func Scan(prog *program.Program, log *logrus.Logger) ([]program.ExtensionDeclaration, []program.TargetDeclaration) {
	if log == nil {
		log = logrus.New()
	}
	fset := token.NewFileSet()
	var (
		exts    []program.ExtensionDeclaration
		targets []program.TargetDeclaration
	)

	for _, unit := range prog.Sources {
		if unit.Generated {
			continue
		}
		file, err := parser.ParseFile(fset, unit.Path, unit.Content, parser.ParseComments)
		if file == nil {
			log.Debugf("skipping unparsable unit during scan: %s: %v", unit.Path, err)
			continue
		}
		if file.Name.Name == "main" {
			// Main packages never load into the execution context, so their
			// declarations have no mirrors to resolve against.
			continue
		}
		pkgPath := unitImportPath(prog.ModulePath, unit.Path)

		for _, decl := range file.Decls {
			gd, ok := decl.(*ast.GenDecl)
			if !ok || gd.Tok != token.TYPE {
				continue
			}
			for _, spec := range gd.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				pos := fset.Position(ts.Name.Pos())
				loc := diagnostics.Location{File: unit.Path, Line: pos.Line, Column: pos.Column}
				annotated := hasDirective(gd.Doc) || hasDirective(ts.Doc)

				if ts.TypeParams != nil {
					if annotated {
						log.Warnf("generic type %s.%s cannot be an expander, ignoring directive at %s",
							pkgPath, ts.Name.Name, loc)
					}
					continue
				}

				id := identity.NewTypeIdentity(pkgPath, ts.Name.Name)
				_, isStruct := ts.Type.(*ast.StructType)
				targets = append(targets, program.TargetDeclaration{
					Type:     id,
					Exported: ast.IsExported(ts.Name.Name),
					Struct:   isStruct,
					Location: loc,
				})
				if annotated {
					exts = append(exts, program.ExtensionDeclaration{Type: id, Location: loc})
				}
			}
		}
	}

	log.WithFields(logrus.Fields{
		"targets":   len(targets),
		"expanders": len(exts),
	}).Debug("declaration scan complete")
	return exts, targets
}

// hasDirective reports whether a comment group carries the expander
// directive. Directive comments are matched verbatim; go/ast keeps them
// out of CommentGroup.Text, so the raw list is checked.
func hasDirective(cg *ast.CommentGroup) bool {
	if cg == nil {
		return false
	}
	for _, c := range cg.List {
		if strings.TrimSpace(c.Text) == Directive {
			return true
		}
	}
	return false
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
