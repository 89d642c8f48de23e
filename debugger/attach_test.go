package debugger

import (
	"bytes"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanshuiyu/pytools/frontend"
	"github.com/nanshuiyu/pytools/interp"
	"github.com/nanshuiyu/pytools/interp/interptest"
)

// TestDebugLaunch runs the full launch path: attach, launch-break at the
// first user line, resume, thread exit, process exit handshake.
func TestDebugLaunch(t *testing.T) {
	rt := interptest.NewRuntime()
	_, port, clientCh := listenFrontend(t)

	rt.OnExecFile(func(file string) error {
		require.Equal(t, "/proj/main.py", file)
		st := rt.NewThread()
		mod := interptest.NewModuleFrame(moduleCode("/proj/main.py", 1, 1))
		st.Call(mod)
		st.Line(1) // launch break parks here
		st.Line(2)
		st.Return()
		return nil
	})

	debugDone := make(chan error, 1)
	go func() {
		unbind := rt.Bind(1, "MainThread")
		defer unbind()
		debugDone <- Debug(rt, DebugOptions{
			Options: Options{Port: port, DebugID: "launch-test"},
			File:    "/proj/main.py",
		})
	}()

	client := <-clientCh
	t.Cleanup(func() { client.Close() })
	events := drainEvents(t, client)
	env := &debugEnv{t: t, rt: rt, client: client, events: events}

	nt, _ := await[frontend.NewThread](env)
	assert.Equal(t, 1, nt.TID)

	ml, _ := await[frontend.ModuleLoad](env)
	assert.Equal(t, "/proj/main.py", ml.Filename)

	load, _ := await[frontend.ProcessLoad](env)
	assert.Equal(t, 1, load.TID)

	assert.NoError(t, client.ResumeAll())

	exit, _ := await[frontend.ThreadExit](env)
	assert.Equal(t, 1, exit.TID)

	pe, _ := await[frontend.ProcessExit](env)
	assert.Zero(t, pe.Code)

	// Acknowledge the exit event so Debug returns.
	assert.NoError(t, client.Exit())
	assert.NoError(t, <-debugDone)
}

// TestDebugLaunchExitCode propagates a deliberate interpreter exit.
func TestDebugLaunchExitCode(t *testing.T) {
	rt := interptest.NewRuntime()
	_, port, clientCh := listenFrontend(t)

	rt.OnExecFile(func(file string) error {
		return &interp.ExitError{Code: 3}
	})

	debugDone := make(chan error, 1)
	go func() {
		unbind := rt.Bind(1, "MainThread")
		defer unbind()
		debugDone <- Debug(rt, DebugOptions{
			Options: Options{Port: port, DebugID: "exit-test"},
			File:    "/proj/main.py",
		})
	}()

	client := <-clientCh
	t.Cleanup(func() { client.Close() })
	env := &debugEnv{t: t, rt: rt, client: client, events: drainEvents(t, client)}

	pe, _ := await[frontend.ProcessExit](env)
	assert.Equal(t, 3, pe.Code)
	assert.NoError(t, client.Exit())

	err := <-debugDone
	var exitErr *interp.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
}

// TestAttachReportAndBlock parks the attaching thread on a process-loaded
// event, resumes it through the single-thread resume command, then detaches
// through the state Attach actually set up: new threads are traced while
// attached, and detach restores the spawn primitive.
func TestAttachReportAndBlock(t *testing.T) {
	rt := interptest.NewRuntime()
	_, port, clientCh := listenFrontend(t)

	type attachResult struct {
		d   *Debugger
		err error
	}
	attachDone := make(chan attachResult, 1)
	go func() {
		unbind := rt.Bind(1, "MainThread")
		defer unbind()
		d, err := Attach(rt, AttachOptions{
			Options:        Options{Port: port, DebugID: "attach-test"},
			ReportAndBlock: true,
		})
		attachDone <- attachResult{d: d, err: err}
	}()

	client := <-clientCh
	t.Cleanup(func() { client.Close() })
	env := &debugEnv{t: t, rt: rt, client: client, events: drainEvents(t, client)}

	nt, _ := await[frontend.NewThread](env)
	assert.Equal(t, 1, nt.TID)

	load, _ := await[frontend.ProcessLoad](env)
	assert.Equal(t, 1, load.TID)

	assert.NoError(t, client.ResumeThread(1))
	res := <-attachDone
	require.NoError(t, res.err)
	require.True(t, rt.Intercepted())

	// A thread spawned while attached goes through the wrapper and is
	// reported.
	done := rt.Spawn(2, "worker", func(st *interptest.Thread) {
		fn := interptest.NewFrame(funcCode("work", "/proj/worker.py", 4, 1), nil)
		st.Call(fn)
		st.Line(5)
		st.Return()
	})
	nt, _ = await[frontend.NewThread](env)
	assert.Equal(t, 2, nt.TID)
	exit, _ := await[frontend.ThreadExit](env)
	assert.Equal(t, 2, exit.TID)
	awaitDone(t, done)

	// Detach runs the full teardown: Attach did not mark for-attach
	// interception, so the spawn primitive is restored.
	assert.NoError(t, res.d.Detach())
	_, _ = await[frontend.Detached](env)
	assert.False(t, rt.Intercepted())
}

// TestDetachReleasesThreads detaches while a thread is parked: the detach
// event is emitted, the thread resumes and finishes without further events.
func TestDetachReleasesThreads(t *testing.T) {
	env := newDebugEnv(t)
	env.dbg.InterceptThreads(false)

	var detached sync.WaitGroup
	detached.Add(1)
	env.dbg.OnDetach(func() error {
		detached.Done()
		return nil
	})

	assert.NoError(t, env.client.SetBreakpoint(1, 10, scriptFile, "", false))
	await[frontend.BreakpointFailed](env)

	done := env.rt.Spawn(51, "MainThread", func(st *interptest.Thread) {
		mod := interptest.NewModuleFrame(moduleCode(scriptFile, 1, 9))
		st.Call(mod)
		st.Line(10) // parks
		st.Line(11) // runs free after detach
		st.Return()
	})

	await[frontend.BreakpointHit](env)

	assert.NoError(t, env.client.Detach())
	_, _ = await[frontend.Detached](env)

	detached.Wait()
	awaitDone(t, done)
}

// TestOutputRedirection forwards writes to the front-end and to the
// original stream.
func TestOutputRedirection(t *testing.T) {
	rt := interptest.NewRuntime()
	var original bytes.Buffer
	rt.SetStdout(&original)

	_, port, clientCh := listenFrontend(t)

	rt.OnExecFile(func(file string) error {
		rt.Stdout().Write([]byte("hello from debuggee\n"))
		return nil
	})

	debugDone := make(chan error, 1)
	go func() {
		unbind := rt.Bind(1, "MainThread")
		defer unbind()
		debugDone <- Debug(rt, DebugOptions{
			Options:        Options{Port: port, DebugID: "output-test"},
			File:           "/proj/main.py",
			RedirectOutput: true,
		})
	}()

	client := <-clientCh
	t.Cleanup(func() { client.Close() })
	env := &debugEnv{t: t, rt: rt, client: client, events: drainEvents(t, client)}

	out, _ := await[frontend.Output](env)
	assert.Equal(t, 1, out.TID)
	assert.Equal(t, "hello from debuggee\n", out.Text)

	pe, _ := await[frontend.ProcessExit](env)
	assert.Zero(t, pe.Code)
	assert.NoError(t, client.Exit())
	assert.NoError(t, <-debugDone)

	assert.Equal(t, "hello from debuggee\n", original.String())
}

// TestDetachCallbackErrorsAggregate collects every failing callback error.
func TestDetachCallbackErrorsAggregate(t *testing.T) {
	env := newDebugEnv(t)

	env.dbg.OnDetach(func() error { return errors.New("first") })
	env.dbg.OnDetach(func() error { return nil })
	env.dbg.OnDetach(func() error { return errors.New("second") })

	err := env.dbg.Detach()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "second")

	// A second detach is a no-op.
	assert.NoError(t, env.dbg.Detach())
}
