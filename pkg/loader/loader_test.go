package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spindleworks/spindle/pkg/compiler"
	"github.com/spindleworks/spindle/pkg/program"
)

func buildImage(t *testing.T, sources ...program.SourceUnit) *compiler.Image {
	t.Helper()
	img, err := compiler.Compile(&program.Program{
		ModulePath: "example.com/app",
		GoVersion:  "1.21",
		Sources:    sources,
	}, nil)
	require.NoError(t, err)
	return img
}

func TestLoad(t *testing.T) {
	img := buildImage(t, program.SourceUnit{
		Path:    "app.go",
		Content: []byte("package app\n\ntype Foo struct{ N int }\n"),
	})

	mod, err := Load(img, nil)
	require.NoError(t, err)
	defer mod.Close()

	alias, ok := mod.PackageAlias("example.com/app")
	assert.True(t, ok)
	assert.NotEmpty(t, alias)
	_, ok = mod.PackageAlias("example.com/other")
	assert.False(t, ok)
	assert.NotEmpty(t, mod.Name())
	assert.NotNil(t, mod.DescriptorType())
}

func TestLoad_EvalSymbol(t *testing.T) {
	img := buildImage(t, program.SourceUnit{
		Path:    "app.go",
		Content: []byte("package app\n\nfunc Answer() int { return 42 }\n"),
	})

	mod, err := Load(img, nil)
	require.NoError(t, err)
	defer mod.Close()

	alias, ok := mod.PackageAlias("example.com/app")
	require.True(t, ok)

	v, err := mod.Eval(alias + ".Answer()")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int())
}

func TestLoad_MultiPackage(t *testing.T) {
	img := buildImage(t,
		program.SourceUnit{
			Path:    "app.go",
			Content: []byte("package app\n\nfunc Answer() int { return 42 }\n"),
		},
		program.SourceUnit{
			Path:    "sub/sub.go",
			Content: []byte("package sub\n\nfunc Answer() int { return 7 }\n"),
		},
	)

	mod, err := Load(img, nil)
	require.NoError(t, err)
	defer mod.Close()

	rootAlias, ok := mod.PackageAlias("example.com/app")
	require.True(t, ok)
	subAlias, ok := mod.PackageAlias("example.com/app/sub")
	require.True(t, ok)
	assert.NotEqual(t, rootAlias, subAlias)

	v, err := mod.Eval(subAlias + ".Answer()")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Int())
}

func TestLoad_SubpackageTypeErrorSurfacesAtLoad(t *testing.T) {
	img := buildImage(t,
		program.SourceUnit{
			Path:    "app.go",
			Content: []byte("package app\n\ntype Foo struct{}\n"),
		},
		program.SourceUnit{
			Path:    "sub/sub.go",
			Content: []byte("package sub\n\nvar X int = \"not an int\"\n"),
		},
	)

	_, err := Load(img, nil)
	assert.ErrorIs(t, err, ErrLoadFailed)
}

func TestLoad_TypeErrorSurfacesAtLoad(t *testing.T) {
	img := buildImage(t, program.SourceUnit{
		Path:    "app.go",
		Content: []byte("package app\n\nvar X int = \"not an int\"\n"),
	})

	_, err := Load(img, nil)
	assert.ErrorIs(t, err, ErrLoadFailed)
}

func TestLoad_HostSourceUsesSupportPackage(t *testing.T) {
	img := buildImage(t, program.SourceUnit{
		Path: "expander.go",
		Content: []byte(`package app

import "spindle/ext"

type Exp struct{}

var _ = ext.Register(Exp{})
`),
	})

	mod, err := Load(img, nil)
	require.NoError(t, err)
	defer mod.Close()
}

func TestNewDescriptor(t *testing.T) {
	img := buildImage(t, program.SourceUnit{
		Path:    "app.go",
		Content: []byte("package app\n\ntype Foo struct{}\n"),
	})

	mod, err := Load(img, nil)
	require.NoError(t, err)
	defer mod.Close()

	v, err := mod.NewDescriptor("Foo", "example.com.app.Foo", "example.com/app", true, true)
	require.NoError(t, err)
	assert.Equal(t, mod.DescriptorType(), v.Type())
	assert.Equal(t, "Foo", v.FieldByName("Name").String())
	assert.True(t, v.FieldByName("Struct").Bool())
}

func TestClose_InvalidatesModule(t *testing.T) {
	img := buildImage(t, program.SourceUnit{
		Path:    "app.go",
		Content: []byte("package app\n"),
	})

	mod, err := Load(img, nil)
	require.NoError(t, err)

	mod.Close()
	_, err = mod.Eval("1 + 1")
	assert.ErrorIs(t, err, ErrModuleReleased)

	// Closing twice is harmless.
	mod.Close()
}
