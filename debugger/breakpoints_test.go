package debugger

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nanshuiyu/pytools/frontend"
	"github.com/nanshuiyu/pytools/interp"
	"github.com/nanshuiyu/pytools/interp/interptest"
)

// TestBreakWhenChanged sets a change-triggered condition on a loop line and
// expects a hit on first evaluation and on every change of the value.
func TestBreakWhenChanged(t *testing.T) {
	env := newDebugEnv(t)
	env.dbg.InterceptThreads(false)

	assert.NoError(t, env.client.SetBreakpoint(2, 10, scriptFile, "x", true))
	await[frontend.BreakpointFailed](env)

	values := []int{1, 1, 2, 2, 3}
	done := env.rt.Spawn(11, "MainThread", func(st *interptest.Thread) {
		mod := interptest.NewModuleFrame(moduleCode(scriptFile, 1, 9))
		st.Call(mod)
		for _, v := range values {
			mod.SetGlobal("x", &interptest.Int{N: v})
			st.Line(10)
		}
		st.Return()
	})

	// First entry, then 1→2, then 2→3.
	for i := 0; i < 3; i++ {
		hit, skipped := await[frontend.BreakpointHit](env)
		assert.Equal(t, 2, hit.ID)
		assert.Equal(t, 11, hit.TID)
		assert.Zero(t, countEvents[frontend.BreakpointHit](skipped))
		assert.NoError(t, env.client.ResumeAll())
	}

	exit, skipped := await[frontend.ThreadExit](env)
	assert.Equal(t, 11, exit.TID)
	assert.Zero(t, countEvents[frontend.BreakpointHit](skipped))
	awaitDone(t, done)
}

// TestConditionalBreakpointTruthy breaks only when the expression is truthy:
// a false flag passes silently, a true flag hits.
func TestConditionalBreakpointTruthy(t *testing.T) {
	env := newDebugEnv(t)
	env.dbg.InterceptThreads(false)

	assert.NoError(t, env.client.SetBreakpoint(4, 10, scriptFile, "flag", false))
	await[frontend.BreakpointFailed](env)

	done := env.rt.Spawn(12, "MainThread", func(st *interptest.Thread) {
		mod := interptest.NewModuleFrame(moduleCode(scriptFile, 1, 9))
		st.Call(mod)

		mod.SetGlobal("flag", &interptest.Bool{B: false})
		st.Line(10) // no hit

		mod.SetGlobal("flag", &interptest.Bool{B: true})
		st.Line(10) // hit

		st.Return()
	})

	hit, skipped := await[frontend.BreakpointHit](env)
	assert.Equal(t, 4, hit.ID)
	assert.Zero(t, countEvents[frontend.BreakpointHit](skipped))
	assert.NoError(t, env.client.ResumeAll())

	await[frontend.ThreadExit](env)
	awaitDone(t, done)
}

// TestRemoveBreakpoint verifies the round trip: a bound breakpoint hits,
// and after removal later executions of the line pass silently.
func TestRemoveBreakpoint(t *testing.T) {
	env := newDebugEnv(t)
	env.dbg.InterceptThreads(false)

	assert.NoError(t, env.client.SetBreakpoint(6, 10, scriptFile, "", false))
	await[frontend.BreakpointFailed](env)

	done := env.rt.Spawn(13, "MainThread", func(st *interptest.Thread) {
		mod := interptest.NewModuleFrame(moduleCode(scriptFile, 1, 9))
		st.Call(mod)
		st.Line(10)
		st.Line(10)
		st.Line(10)
		st.Return()
	})

	hit, _ := await[frontend.BreakpointHit](env)
	assert.Equal(t, 6, hit.ID)

	assert.NoError(t, env.client.RemoveBreakpoint(10, 6))
	// The removal races the parked thread only through the table, which the
	// command loop has already mutated by the time the next command lands.
	assert.NoError(t, env.client.ResumeAll())

	exit, skipped := await[frontend.ThreadExit](env)
	assert.Equal(t, 13, exit.TID)
	assert.Zero(t, countEvents[frontend.BreakpointHit](skipped))
	awaitDone(t, done)
}

// TestPendingBreakpointBinding covers the unbound path: a breakpoint for a
// file that has not loaded reports failure, binds on module load, and then
// hits.
func TestPendingBreakpointBinding(t *testing.T) {
	env := newDebugEnv(t)
	env.dbg.InterceptThreads(false)

	assert.NoError(t, env.client.SetBreakpoint(8, 5, "/proj/other.py", "", false))
	fail, _ := await[frontend.BreakpointFailed](env)
	assert.Equal(t, 8, fail.ID)

	done := env.rt.Spawn(14, "MainThread", func(st *interptest.Thread) {
		mod := interptest.NewModuleFrame(moduleCode("/proj/other.py", 1, 9))
		st.Call(mod)
		st.Line(5)
		st.Return()
	})

	bound, _ := await[frontend.BreakpointSet](env)
	assert.Equal(t, 8, bound.ID)

	hit, _ := await[frontend.BreakpointHit](env)
	assert.Equal(t, 8, hit.ID)
	assert.Equal(t, 14, hit.TID)

	assert.NoError(t, env.client.ResumeAll())
	await[frontend.ThreadExit](env)
	awaitDone(t, done)
}

// TestBreakAllFanOut arms a break-all with two running threads: exactly one
// ASBR is emitted, stack snapshots cover the threads, and both park.
func TestBreakAllFanOut(t *testing.T) {
	env := newDebugEnv(t)
	env.dbg.InterceptThreads(false)

	var stop atomic.Bool
	worker := func(st *interptest.Thread) {
		fn := interptest.NewFrame(funcCode("work", "/proj/worker.py", 4, 1, 1), nil)
		st.Call(fn)
		for !stop.Load() {
			st.Line(5)
			st.Line(6)
		}
		st.Return()
	}

	done1 := env.rt.Spawn(21, "worker-1", worker)
	done2 := env.rt.Spawn(22, "worker-2", worker)
	await[frontend.NewThread](env)
	await[frontend.NewThread](env)

	assert.NoError(t, env.client.BreakAll())

	asbr, early := await[frontend.AsyncBreak](env)
	assert.Contains(t, []int{21, 22}, asbr.TID)

	// Both threads park, each sending its own named snapshot before its park
	// event, so the break-all winner's snapshot arrives ahead of ASBR; the
	// winner additionally snapshots, unnamed, any thread that had not parked
	// yet. Wait for both named snapshots so both threads are known parked
	// before resuming.
	seen := map[int]bool{}
	for _, ev := range early {
		if tf, ok := ev.(frontend.ThreadFrames); ok && tf.Named {
			seen[tf.TID] = true
		}
	}
	for len(seen) < 2 {
		tf, skipped := await[frontend.ThreadFrames](env)
		if tf.Named {
			seen[tf.TID] = true
		}
		assert.Zero(t, countEvents[frontend.AsyncBreak](skipped))
	}
	assert.True(t, seen[21] && seen[22])

	stop.Store(true)
	assert.NoError(t, env.client.ResumeAll())

	exitsSeen := map[int]bool{}
	for len(exitsSeen) < 2 {
		ev, skipped := await[frontend.ThreadExit](env)
		exitsSeen[ev.TID] = true
		assert.Zero(t, countEvents[frontend.AsyncBreak](skipped))
	}
	awaitDone(t, done1)
	awaitDone(t, done2)
}

var _ interp.Frame = (*interptest.Frame)(nil)
