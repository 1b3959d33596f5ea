package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/risor-io/risor/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jward/paddock/scripts"
)

// --- Script loading ---

func TestLoadScript_FromFS(t *testing.T) {
	t.Parallel()

	content := `x := 42`
	mapFS := fstest.MapFS{
		"managers/sow.risor": &fstest.MapFile{Data: []byte(content)},
	}
	rt := NewRuntime("", WithRuntimeFS(mapFS))

	got, err := rt.LoadScript("managers/sow.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Leading separators are stripped within the FS.
	got, err = rt.LoadScript("/managers/sow.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestLoadScript_FromFS_NotFound(t *testing.T) {
	t.Parallel()

	rt := NewRuntime("", WithRuntimeFS(fstest.MapFS{}))
	_, err := rt.LoadScript("nonexistent.risor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from fs")
}

func TestLoadScript_FallsBackToDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := `z := 7`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "irrigate.risor"), []byte(content), 0644))

	got, err := NewRuntime(dir).LoadScript("irrigate.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// A file missing from the FS is still found in the scripts directory.
	got, err = NewRuntime(dir, WithRuntimeFS(fstest.MapFS{})).LoadScript("irrigate.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestEval_LoadedFromFS(t *testing.T) {
	t.Parallel()

	mapFS := fstest.MapFS{
		"test.risor": &fstest.MapFile{Data: []byte(`result := 1 + 1`)},
	}
	rt := NewRuntime("", WithRuntimeFS(mapFS))
	src, err := rt.LoadScript("test.risor")
	require.NoError(t, err)
	require.NoError(t, rt.Eval(context.Background(), src, "test.risor", nil))
}

func TestEval_ErrorNamesLabel(t *testing.T) {
	t.Parallel()

	err := NewRuntime("").Eval(context.Background(), `assert(false, "nope")`, ".Sim.Manager", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".Sim.Manager")
}

// --- Importers ---

func TestImport_FSImporter(t *testing.T) {
	t.Parallel()

	mapFS := fstest.MapFS{
		"lib_helpers.risor": &fstest.MapFile{Data: []byte(`
func greet(name) {
	return "hello " + name
}
`)},
	}
	rt := NewRuntime("", WithRuntimeFS(mapFS))

	script := `
import lib_helpers

msg := lib_helpers.greet("world")
assert(msg == "hello world", 'expected "hello world", got ' + msg)
`
	require.NoError(t, rt.Eval(context.Background(), script, "test", nil))
}

func TestImport_LocalImporter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "math_utils.risor"), []byte(`
func double(x) {
	return x * 2
}
`), 0644))

	script := `
import math_utils

result := math_utils.double(21)
assert(result == 42, 'expected 42, got {result}')
`
	require.NoError(t, NewRuntime(dir).Eval(context.Background(), script, "test", nil))
}

func TestImport_EmbeddedLibrary(t *testing.T) {
	t.Parallel()

	rt := NewRuntime("", WithRuntimeFS(scripts.Library()))
	script := `
import agronomy
import sowing

tt := agronomy.thermal_time(30.0, 10.0, 8.0)
assert(tt == 12.0, 'expected 12, got {tt}')
assert(agronomy.thermal_time(5.0, 1.0, 8.0) == 0.0)
assert(agronomy.clamp(15, 0, 10) == 10)
assert(sowing.can_sow(25.0, 120.0, 20.0, 100.0))
assert(!sowing.can_sow(5.0, 120.0, 20.0, 100.0))
`
	require.NoError(t, rt.Eval(context.Background(), script, "test", nil))
}

func TestImport_GlobalsAvailableInImportedModules(t *testing.T) {
	t.Parallel()

	mapFS := fstest.MapFS{
		"helper.risor": &fstest.MapFile{Data: []byte(`
func do_log(msg) {
	log.Info(msg)
}
`)},
	}
	core, logs := observer.New(zapcore.InfoLevel)
	rt := NewRuntime("", WithRuntimeFS(mapFS), WithRuntimeLogger(zap.New(core)))

	script := `
import helper
helper.do_log("sowing wheat")
`
	require.NoError(t, rt.Eval(context.Background(), script, "test", nil))
	require.Equal(t, 1, logs.FilterMessage("sowing wheat").Len())
	assert.Equal(t, "script", logs.All()[0].LoggerName)
}

// --- Host functions ---

func TestFunc_ConvertsArgumentsAndResults(t *testing.T) {
	t.Parallel()

	var got []any
	add := Func("add", func(_ context.Context, args []any) (any, error) {
		got = args
		a, err := Float(args, 0)
		if err != nil {
			return nil, err
		}
		b, err := Float(args, 1)
		if err != nil {
			return nil, err
		}
		return a + b, nil
	})

	script := `
x := add(1, 2.5)
assert(x == 3.5, 'expected 3.5, got {x}')
`
	require.NoError(t, NewRuntime("").Eval(context.Background(), script, "test", map[string]any{"add": add}))
	assert.Equal(t, []any{int64(1), 2.5}, got)
}

func TestFunc_ErrorRaisesInScript(t *testing.T) {
	t.Parallel()

	fail := Func("fail", func(context.Context, []any) (any, error) {
		return nil, errors.New("no soil")
	})
	err := NewRuntime("").Eval(context.Background(), `fail()`, "test", map[string]any{"fail": fail})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no soil")
}

func TestArgHelpers(t *testing.T) {
	t.Parallel()

	require.NoError(t, Arity([]any{1}, 1))
	require.Error(t, Arity(nil, 1))

	s, err := String([]any{"a"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "a", s)
	_, err = String([]any{int64(1)}, 0)
	require.Error(t, err)
	_, err = String(nil, 0)
	require.Error(t, err)

	f, err := Float([]any{int64(3)}, 0)
	require.NoError(t, err)
	assert.Equal(t, 3.0, f)
	_, err = Float([]any{"x"}, 0)
	require.Error(t, err)
}

// --- Conversion ---

func TestFromGoToGo(t *testing.T) {
	t.Parallel()

	in := map[string]any{
		"n":     int64(4),
		"x":     1.25,
		"s":     "wheat",
		"b":     true,
		"none":  nil,
		"list":  []any{int64(1), "two"},
		"layer": []float64{0.1, 0.2},
	}
	out := ToGo(FromGo(in))
	assert.Equal(t, map[string]any{
		"n":     int64(4),
		"x":     1.25,
		"s":     "wheat",
		"b":     true,
		"none":  nil,
		"list":  []any{int64(1), "two"},
		"layer": []any{0.1, 0.2},
	}, out)

	date := time.Date(2001, 2, 3, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2001-02-03", ToGo(FromGo(date)))
	assert.Equal(t, int64(7), ToGo(FromGo(7)))
	assert.Equal(t, object.Nil, FromGo(nil))
}
