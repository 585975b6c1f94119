package engine

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spindleworks/spindle/pkg/artifacts"
	"github.com/spindleworks/spindle/pkg/diagnostics"
	"github.com/spindleworks/spindle/pkg/identity"
	"github.com/spindleworks/spindle/pkg/program"
)

const hostSource = `package app

import "spindle/ext"

type Widget struct{ N int }

type Gadget interface{ Do() }

type Gen struct{}

var _ = ext.Register(Gen{})

func (Gen) Expand(t ext.TypeInfo, exported, record bool, info, warning, fail, source *string) bool {
	*info = "hi from " + t.Name
	if t.Struct {
		*source = "type " + t.Name + "List []" + t.Name + "\n"
		return true
	}
	return false
}

type Boom struct{}

var _ = ext.Register(Boom{})

func (Boom) Expand(t ext.TypeInfo, exported, record bool, info, warning, fail, source *string) bool {
	panic("boom")
}

type Shapeless struct{}

var _ = ext.Register(Shapeless{})

func (Shapeless) Expand(t ext.TypeInfo) bool { return false }
`

func testProgram(goVersion, src string) *program.Program {
	return &program.Program{
		ModulePath: "example.com/app",
		GoVersion:  goVersion,
		Sources: []program.SourceUnit{
			{Path: "app.go", Content: []byte(src)},
		},
	}
}

func expanderDecl(name string) program.ExtensionDeclaration {
	return program.ExtensionDeclaration{
		Type:     identity.NewTypeIdentity("example.com/app", name),
		Location: diagnostics.Location{File: "app.go", Line: 1, Column: 1},
	}
}

func targetDecl(name string, isStruct bool) program.TargetDeclaration {
	return program.TargetDeclaration{
		Type:     identity.NewTypeIdentity("example.com/app", name),
		Exported: true,
		Struct:   isStruct,
		Location: diagnostics.Location{File: "app.go", Line: 5, Column: 6},
	}
}

// artifactBody returns an artifact's content without its provenance
// header.
func artifactBody(content string) string {
	if i := strings.Index(content, "\n\n"); i >= 0 {
		return content[i+2:]
	}
	return content
}

func newTestPipeline(t *testing.T, prog *program.Program, decls ...program.ExtensionDeclaration) (*Pipeline, *diagnostics.Collector, *artifacts.Memory) {
	t.Helper()
	col := diagnostics.NewCollector()
	reg := artifacts.NewMemory()
	log := logrus.New()
	log.SetOutput(io.Discard)
	p := New(prog, decls, Options{Reporter: col, Artifacts: reg, Log: log})
	t.Cleanup(p.Close)
	return p, col, reg
}

func TestBegin_NoDeclarations(t *testing.T) {
	p, col, reg := newTestPipeline(t, testProgram("1.21", hostSource))

	require.True(t, p.Begin(context.Background()))
	assert.Empty(t, col.Diagnostics())
	assert.Zero(t, reg.Len())

	// Targets fed to an idle pass produce nothing.
	require.NoError(t, p.Process(context.Background(), targetDecl("Widget", true)))
	assert.Empty(t, col.Diagnostics())
	assert.Zero(t, reg.Len())
}

func TestBegin_DuplicateRegistrations(t *testing.T) {
	p, col, reg := newTestPipeline(t, testProgram("1.21", hostSource),
		expanderDecl("Gen"), expanderDecl("Gen"))

	require.False(t, p.Begin(context.Background()))
	assert.Len(t, col.ByCode(diagnostics.CodeDuplicateRegistration), 2)
	assert.Zero(t, reg.Len())

	require.NoError(t, p.Process(context.Background(), targetDecl("Widget", true)))
	assert.Zero(t, reg.Len(), "a short-circuited pass never invokes")
}

func TestBegin_UnsupportedRuntime(t *testing.T) {
	p, col, reg := newTestPipeline(t, testProgram("1.99", hostSource),
		expanderDecl("Gen"), expanderDecl("Boom"))

	require.False(t, p.Begin(context.Background()))
	assert.Len(t, col.ByCode(diagnostics.CodeUnsupportedRuntime), 2)
	assert.Zero(t, reg.Len())
}

func TestBegin_CompileFailure(t *testing.T) {
	p, col, reg := newTestPipeline(t, testProgram("1.21", "package app\n\nfunc ("),
		expanderDecl("Gen"), expanderDecl("Boom"))

	require.False(t, p.Begin(context.Background()))
	assert.Len(t, col.ByCode(diagnostics.CodeCompileFailure), 2)

	// One synthesized failure artifact per expander, keyed without a target.
	require.Equal(t, 2, reg.Len())
	a, ok := reg.Get(identity.CompileFailureKey(identity.NewTypeIdentity("example.com/app", "Gen")))
	require.True(t, ok)
	assert.Contains(t, a.Content, "// Code generated by spindle")
	assert.Contains(t, a.Content, "compilation failed")

	// The failure is sticky: targets produce no further output.
	require.NoError(t, p.Process(context.Background(), targetDecl("Widget", true)))
	assert.Equal(t, 2, reg.Len())
	assert.Len(t, col.Diagnostics(), 2)
}

func TestBegin_MissingEntryMethod(t *testing.T) {
	p, col, reg := newTestPipeline(t, testProgram("1.21", hostSource),
		expanderDecl("Shapeless"))

	require.True(t, p.Begin(context.Background()))
	assert.Len(t, col.ByCode(diagnostics.CodeMissingEntryMethod), 1)

	require.NoError(t, p.Process(context.Background(), targetDecl("Widget", true)))
	assert.Zero(t, reg.Len())
}

func TestBegin_ExpanderTypeAbsent(t *testing.T) {
	p, col, _ := newTestPipeline(t, testProgram("1.21", hostSource),
		expanderDecl("Ghost"))

	require.True(t, p.Begin(context.Background()))
	assert.Len(t, col.ByCode(diagnostics.CodeResolutionFailure), 1)
	assert.Empty(t, col.ByCode(diagnostics.CodeMissingEntryMethod))
}

func TestProcess_RoundTrip(t *testing.T) {
	p, col, reg := newTestPipeline(t, testProgram("1.21", hostSource),
		expanderDecl("Gen"))
	require.True(t, p.Begin(context.Background()))

	widget := targetDecl("Widget", true)
	require.NoError(t, p.Process(context.Background(), widget))

	infos := col.ByCode(diagnostics.CodeExpanderInfo)
	require.Len(t, infos, 1)
	assert.Equal(t, "hi from Widget", infos[0].Message)
	assert.Equal(t, widget.Location, infos[0].Location)

	require.Equal(t, 1, reg.Len())
	key := identity.ArtifactKey(widget.Type, identity.NewTypeIdentity("example.com/app", "Gen"))
	a, ok := reg.Get(key)
	require.True(t, ok)
	assert.Equal(t, "type WidgetList []Widget\n", artifactBody(a.Content),
		"requested source survives verbatim under the provenance header")
	assert.True(t, program.IsGeneratedSource([]byte(a.Content)),
		"emitted artifacts must be excluded from the next pass's image")
}

func TestProcess_SubpackageTarget(t *testing.T) {
	prog := testProgram("1.21", hostSource)
	prog.Sources = append(prog.Sources, program.SourceUnit{
		Path:    "sub/sub.go",
		Content: []byte("package sub\n\ntype Orphan struct{ S string }\n"),
	})
	p, col, reg := newTestPipeline(t, prog, expanderDecl("Gen"))
	require.True(t, p.Begin(context.Background()))

	orphan := program.TargetDeclaration{
		Type:     identity.NewTypeIdentity("example.com/app/sub", "Orphan"),
		Exported: true,
		Struct:   true,
		Location: diagnostics.Location{File: "sub/sub.go", Line: 3, Column: 6},
	}
	require.NoError(t, p.Process(context.Background(), orphan))

	infos := col.ByCode(diagnostics.CodeExpanderInfo)
	require.Len(t, infos, 1)
	assert.Equal(t, "hi from Orphan", infos[0].Message)

	key := identity.ArtifactKey(orphan.Type, identity.NewTypeIdentity("example.com/app", "Gen"))
	_, ok := reg.Get(key)
	assert.True(t, ok, "subpackage targets resolve against their own package")

	// A bare name borrowed from the root package resolves nothing in sub.
	ghost := program.TargetDeclaration{
		Type:     identity.NewTypeIdentity("example.com/app/sub", "Widget"),
		Exported: true,
		Struct:   true,
		Location: diagnostics.Location{File: "sub/sub.go", Line: 1, Column: 1},
	}
	require.NoError(t, p.Process(context.Background(), ghost))
	assert.Len(t, col.ByCode(diagnostics.CodeResolutionFailure), 1)
	assert.Equal(t, 1, reg.Len())
}

func TestProcess_DeclinedTarget(t *testing.T) {
	p, col, reg := newTestPipeline(t, testProgram("1.21", hostSource),
		expanderDecl("Gen"))
	require.True(t, p.Begin(context.Background()))

	require.NoError(t, p.Process(context.Background(), targetDecl("Gadget", false)))

	assert.Zero(t, reg.Len(), "a false return emits no artifact")
	assert.Len(t, col.ByCode(diagnostics.CodeExpanderInfo), 1)
}

func TestProcess_PanicIsIsolated(t *testing.T) {
	p, col, reg := newTestPipeline(t, testProgram("1.21", hostSource),
		expanderDecl("Gen"), expanderDecl("Boom"))
	require.True(t, p.Begin(context.Background()))

	require.NoError(t, p.Process(context.Background(), targetDecl("Widget", true)))

	faults := col.ByCode(diagnostics.CodeExecutionFault)
	require.Len(t, faults, 1)
	assert.Contains(t, faults[0].Message, "boom")

	// The healthy expander's artifact plus the fault record.
	require.Equal(t, 2, reg.Len())
	key := identity.ArtifactKey(
		identity.NewTypeIdentity("example.com/app", "Widget"),
		identity.NewTypeIdentity("example.com/app", "Boom"))
	a, ok := reg.Get(key)
	require.True(t, ok)
	assert.Contains(t, a.Content, "// expander")

	// The pass keeps going after a fault.
	require.NoError(t, p.Process(context.Background(), targetDecl("Gadget", false)))
	assert.Len(t, col.ByCode(diagnostics.CodeExecutionFault), 2)
}

func TestProcess_TargetResolutionFailure(t *testing.T) {
	p, col, reg := newTestPipeline(t, testProgram("1.21", hostSource),
		expanderDecl("Gen"))
	require.True(t, p.Begin(context.Background()))

	require.NoError(t, p.Process(context.Background(), targetDecl("Missing", true)))

	assert.Len(t, col.ByCode(diagnostics.CodeResolutionFailure), 1)
	assert.Zero(t, reg.Len())
}

func TestProcess_Cancelled(t *testing.T) {
	p, col, reg := newTestPipeline(t, testProgram("1.21", hostSource),
		expanderDecl("Gen"))
	require.True(t, p.Begin(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Process(ctx, targetDecl("Widget", true))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, col.Diagnostics())
	assert.Zero(t, reg.Len())
}

func TestProcess_GeneratedSourcesExcludedFromImage(t *testing.T) {
	prog := testProgram("1.21", hostSource)
	prog.Sources = append(prog.Sources, program.SourceUnit{
		Path:      "widget_gen.go",
		Content:   []byte("// Code generated by spindle (expander x) for y. DO NOT EDIT.\n\npackage app\n\nthis would never parse\n"),
		Generated: true,
	})
	p, col, _ := newTestPipeline(t, prog, expanderDecl("Gen"))

	require.True(t, p.Begin(context.Background()), "prior output must not poison the next pass")
	assert.Empty(t, col.ByCode(diagnostics.CodeCompileFailure))
}

func TestPassID(t *testing.T) {
	a, _, _ := newTestPipeline(t, testProgram("1.21", hostSource))
	b, _, _ := newTestPipeline(t, testProgram("1.21", hostSource))

	assert.NotEmpty(t, a.PassID())
	assert.NotEqual(t, a.PassID(), b.PassID())
}
