package debugger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nanshuiyu/pytools/frontend"
	"github.com/nanshuiyu/pytools/interp"
	"github.com/nanshuiyu/pytools/interp/interptest"
)

// parkThread spawns a simulated thread that runs fill on its frame and parks
// on a breakpoint at line 10, returning once the hit event arrived.
func parkThread(env *debugEnv, tid int, fill func(f *interptest.Frame)) <-chan struct{} {
	env.t.Helper()

	assert.NoError(env.t, env.client.SetBreakpoint(1, 10, scriptFile, "", false))
	await[frontend.BreakpointFailed](env)

	done := env.rt.Spawn(tid, "MainThread", func(st *interptest.Thread) {
		mod := interptest.NewModuleFrame(moduleCode(scriptFile, 1, 9))
		fill(mod)
		st.Call(mod)
		st.Line(10)
		st.Return()
	})

	await[frontend.BreakpointHit](env)
	return done
}

func finishThread(env *debugEnv, done <-chan struct{}) {
	env.t.Helper()
	assert.NoError(env.t, env.client.ResumeAll())
	await[frontend.ThreadExit](env)
	awaitDone(env.t, done)
}

// TestEvaluateInParkedFrame schedules an expression on the parked thread and
// checks the full result descriptor.
func TestEvaluateInParkedFrame(t *testing.T) {
	env := newDebugEnv(t)
	env.dbg.InterceptThreads(false)

	done := parkThread(env, 41, func(f *interptest.Frame) {
		f.SetGlobal("x", &interptest.Int{N: 7})
		f.OnEval("x+1", func() (interp.Value, error) {
			return &interptest.Int{N: 8}, nil
		})
	})

	assert.NoError(t, env.client.ExecuteCode("x+1", 41, 0, 42))
	res, _ := await[frontend.ExecResult](env)
	assert.Equal(t, 42, res.EID)
	assert.Equal(t, "8", res.Value.Repr)
	assert.Equal(t, "0x8", res.Value.Hex)
	assert.True(t, res.Value.HasHex)
	assert.Equal(t, "int", res.Value.TypeName)
	assert.False(t, res.Value.Expandable)

	finishThread(env, done)
}

// TestEvaluateErrorReported reports a failing evaluation as an error event,
// never as a crash.
func TestEvaluateErrorReported(t *testing.T) {
	env := newDebugEnv(t)
	env.dbg.InterceptThreads(false)

	done := parkThread(env, 42, func(f *interptest.Frame) {})

	assert.NoError(t, env.client.ExecuteCode("missing", 42, 0, 5))
	res, _ := await[frontend.ExecError](env)
	assert.Equal(t, 5, res.EID)
	assert.Contains(t, res.Text, "missing")

	finishThread(env, done)
}

// TestEnumChildrenIndexable lists an indexable sequence: index names, index
// flag set, enumerate flag clear.
func TestEnumChildrenIndexable(t *testing.T) {
	env := newDebugEnv(t)
	env.dbg.InterceptThreads(false)

	done := parkThread(env, 43, func(f *interptest.Frame) {
		f.SetGlobal("res", &interptest.List{Elems: []interp.Value{
			&interptest.Int{N: 10},
			&interptest.Int{N: 20},
			&interptest.Int{N: 30},
		}})
	})

	assert.NoError(t, env.client.EnumChildren("res", 43, 0, 7, false))
	ch, _ := await[frontend.Children](env)
	assert.Equal(t, 7, ch.EID)
	assert.True(t, ch.IsIndex)
	assert.False(t, ch.IsEnumerate)
	if assert.Len(t, ch.Children, 3) {
		assert.Equal(t, "[0]", ch.Children[0].Name)
		assert.Equal(t, "10", ch.Children[0].Value.Repr)
		assert.Equal(t, "[1]", ch.Children[1].Name)
		assert.Equal(t, "20", ch.Children[1].Value.Repr)
		assert.Equal(t, "[2]", ch.Children[2].Name)
		assert.Equal(t, "30", ch.Children[2].Value.Repr)
	}

	finishThread(env, done)
}

// TestEnumChildrenGenerator refuses to consume a generator: no children and
// neither flag set.
func TestEnumChildrenGenerator(t *testing.T) {
	env := newDebugEnv(t)
	env.dbg.InterceptThreads(false)

	done := parkThread(env, 44, func(f *interptest.Frame) {
		f.SetGlobal("gen", &interptest.Generator{Elems: []interp.Value{
			&interptest.Int{N: 1},
		}})
	})

	assert.NoError(t, env.client.EnumChildren("gen", 44, 0, 8, false))
	ch, _ := await[frontend.Children](env)
	assert.Equal(t, 8, ch.EID)
	assert.False(t, ch.IsIndex)
	assert.False(t, ch.IsEnumerate)
	assert.Empty(t, ch.Children)

	finishThread(env, done)
}

// TestEnumChildrenMapping lists dict items keyed by the repr of each key.
func TestEnumChildrenMapping(t *testing.T) {
	env := newDebugEnv(t)
	env.dbg.InterceptThreads(false)

	done := parkThread(env, 45, func(f *interptest.Frame) {
		f.SetGlobal("cfg", &interptest.Dict{Entries: []interp.Entry{
			{Key: &interptest.Str{S: "host"}, Value: &interptest.Str{S: "localhost"}},
			{Key: &interptest.Str{S: "port"}, Value: &interptest.Int{N: 8765}},
		}})
	})

	assert.NoError(t, env.client.EnumChildren("cfg", 45, 0, 9, false))
	ch, _ := await[frontend.Children](env)
	assert.True(t, ch.IsIndex)
	assert.False(t, ch.IsEnumerate)
	if assert.Len(t, ch.Children, 2) {
		assert.Equal(t, "['host']", ch.Children[0].Name)
		assert.Equal(t, "'localhost'", ch.Children[0].Value.Repr)
		assert.Equal(t, "['port']", ch.Children[1].Name)
		assert.Equal(t, "8765", ch.Children[1].Value.Repr)
	}

	finishThread(env, done)
}

// TestEnumChildrenAttributes lists non-callable, non-dunder attributes of a
// plain object.
func TestEnumChildrenAttributes(t *testing.T) {
	env := newDebugEnv(t)
	env.dbg.InterceptThreads(false)

	done := parkThread(env, 46, func(f *interptest.Frame) {
		f.SetGlobal("obj", &interptest.Obj{
			Type: "Config",
			Attrs: []interptest.Attr{
				{Name: "__class__", Value: &interptest.Str{S: "Config"}},
				{Name: "host", Value: &interptest.Str{S: "localhost"}},
				{Name: "reload", Value: &interptest.Func{Name: "reload"}},
				{Name: "retries", Value: &interptest.Int{N: 3}},
			},
		})
	})

	assert.NoError(t, env.client.EnumChildren("obj", 46, 0, 10, false))
	ch, _ := await[frontend.Children](env)
	assert.False(t, ch.IsIndex)
	assert.False(t, ch.IsEnumerate)
	if assert.Len(t, ch.Children, 2) {
		assert.Equal(t, "host", ch.Children[0].Name)
		assert.Equal(t, "retries", ch.Children[1].Name)
	}

	finishThread(env, done)
}

// TestSetLineno moves the parked frame's next line and reports the result.
func TestSetLineno(t *testing.T) {
	env := newDebugEnv(t)
	env.dbg.InterceptThreads(false)

	done := parkThread(env, 47, func(f *interptest.Frame) {})

	assert.NoError(t, env.client.SetLineno(47, 0, 30))
	res, _ := await[frontend.SetLineResult](env)
	assert.True(t, res.OK)
	assert.Equal(t, 47, res.TID)
	assert.Equal(t, 30, res.Line)

	finishThread(env, done)
}

func TestSetLinenoUnknownThread(t *testing.T) {
	env := newDebugEnv(t)

	assert.NoError(t, env.client.SetLineno(12345, 0, 30))
	res, _ := await[frontend.SetLineResult](env)
	assert.False(t, res.OK)
	assert.Equal(t, 12345, res.TID)
	assert.Zero(t, res.Line)
}

func TestStripIndex(t *testing.T) {
	for _, tt := range []struct {
		in    string
		base  string
		index int
	}{
		{"res[0]", "res", 0},
		{"res[12]", "res", 12},
		{"items[3]", "items", 3},
		{"plain", "plain", 0},
	} {
		base, index := stripIndex(tt.in)
		assert.Equal(t, tt.base, base, tt.in)
		assert.Equal(t, tt.index, index, tt.in)
	}
}

func TestDescribeValue(t *testing.T) {
	obj := describeValue(&interptest.Int{N: 255})
	assert.Equal(t, "255", obj.Repr)
	assert.Equal(t, "0xff", obj.Hex)
	assert.True(t, obj.HasHex)
	assert.False(t, obj.Expandable)

	obj = describeValue(&interptest.List{Elems: []interp.Value{&interptest.Int{N: 1}}})
	assert.True(t, obj.Expandable)
	assert.False(t, obj.HasHex)

	// Known-empty collections are not expandable.
	obj = describeValue(&interptest.List{})
	assert.False(t, obj.Expandable)

	obj = describeValue(nil)
	assert.Equal(t, "<undefined>", obj.Repr)
}
