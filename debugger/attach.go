package debugger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nanshuiyu/pytools/interp"
	"github.com/nanshuiyu/pytools/wire"
)

// The front-end may still be binding its listener when the debuggee starts,
// so the connect retries briefly.
const (
	attachAttempts = 50
	attachInterval = 50 * time.Millisecond
)

// Options configures the connection to the front-end.
type Options struct {
	// Port on 127.0.0.1 the front-end listens on.
	Port int

	// DebugID is the handshake identity; generated when empty.
	DebugID string

	// SystemPrefixes are filename prefixes of interpreter-installation code
	// stepping never stops in.
	SystemPrefixes []string

	// ExcludeFiles are support files the debugger never breaks in at all.
	ExcludeFiles []string
}

// AttachOptions configures attaching to an already-running debuggee.
type AttachOptions struct {
	Options

	// ReportAndBlock enumerates pre-existing threads and modules to the
	// front-end and parks the calling thread on a process-loaded event.
	ReportAndBlock bool
}

// DebugOptions configures launching a file under the debugger.
type DebugOptions struct {
	Options

	File            string
	WaitOnException bool
	RedirectOutput  bool
	WaitOnExit      bool
}

func connect(rt interp.Runtime, opts Options) (*Debugger, error) {
	debugID := opts.DebugID
	if debugID == "" {
		debugID = uuid.NewString()
	}

	conn, err := wire.Dial(fmt.Sprintf("127.0.0.1:%d", opts.Port), attachAttempts, attachInterval)
	if err != nil {
		return nil, errors.Wrap(err, "debugger: attach")
	}

	d := newDebugger(rt, conn, opts)
	if err := conn.Batch(func(w *wire.Writer) error {
		return w.WriteString(debugID)
	}); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "debugger: handshake")
	}

	go d.serveCommands()
	return d, nil
}

// Attach opens the connection to the front-end and starts the command loop.
// With ReportAndBlock set it also registers and reports every pre-existing
// thread with an attach-break pending, reports known modules, parks the
// caller until the front-end resumes the process, and finally intercepts
// thread creation so later threads are traced from their first instruction.
func Attach(rt interp.Runtime, opts AttachOptions) (*Debugger, error) {
	d, err := connect(rt, opts.Options)
	if err != nil {
		return nil, err
	}

	// Record already-imported modules so breakpoints can bind against them.
	for _, mi := range rt.Modules() {
		d.modules.observe(mi.Filename)
	}

	if opts.ReportAndBlock {
		main := d.newThread(rt.ThreadID(), nil, true)
		for _, ts := range rt.Threads() {
			d.newThread(ts.ID, ts.Frame, true)
		}
		for _, entry := range d.modules.snapshot() {
			d.reportModuleLoad(entry.mod)
		}

		main.block(func() {
			main.reportedProcessLoaded.Store(true)
			d.reportProcessLoaded(main.id)
		})
	}

	// Attach always ends by taking over thread creation itself. An attach
	// agent that intercepted before attaching re-marks that afterwards with
	// InterceptThreads(true).
	if !d.interceptForAttach {
		d.InterceptThreads(false)
	}
	return d, nil
}

// Debug launches a file under the debugger: attach, optional output
// redirection, trace installation with a launch-break pending, execution,
// and process-exit reporting.
func Debug(rt interp.Runtime, opts DebugOptions) error {
	d, err := connect(rt, opts.Options)
	if err != nil {
		return err
	}

	if opts.RedirectOutput {
		d.redirectOutput()
	}

	t := d.newThread(rt.ThreadID(), nil, false)
	t.stepping.Store(stepLaunchBreak)
	t.prevTrace = rt.InstallTrace(t.traceFunc())

	d.InterceptThreads(false)

	runErr := rt.ExecFile(opts.File)

	rt.InstallTrace(nil)
	d.dropThread(t)

	var exitErr *interp.ExitError
	switch {
	case runErr == nil:
		if opts.WaitOnExit {
			d.doWait()
		}
		d.reportProcessExit(0)
		return nil

	case errors.As(runErr, &exitErr):
		d.reportProcessExit(exitErr.Code)
		if opts.WaitOnException && exitErr.Code != 0 {
			d.printException(runErr)
			d.doWait()
		}
		return runErr

	default:
		d.printException(runErr)
		if opts.WaitOnException {
			d.doWait()
		}
		d.reportProcessExit(1)
		return runErr
	}
}

// InterceptThreads replaces the runtime's thread-spawn primitive so every
// new thread installs the trace hook before running user code. It is its own
// entrypoint, independent of Attach: an attach agent that takes over thread
// creation before attaching calls it with forAttach set, and detach then
// leaves the host's spawn primitive, streams, and thread records in place
// for the agent to unwind. Normal attach and launch paths use forAttach
// false and detach restores everything.
func (d *Debugger) InterceptThreads(forAttach bool) {
	d.interceptForAttach = forAttach
	d.restoreSpawn = d.rt.InterceptSpawn(d.wrapThread)
}

func (d *Debugger) wrapThread(run func()) func() {
	return func() {
		t := d.newThread(d.rt.ThreadID(), nil, false)
		t.prevTrace = d.rt.InstallTrace(t.traceFunc())
		defer d.dropThread(t)
		run()
	}
}

// OnDetach registers a callback run after detach completes.
func (d *Debugger) OnDetach(fn func() error) {
	d.callbacksMu.Lock()
	d.detachCallbacks = append(d.detachCallbacks, fn)
	d.callbacksMu.Unlock()
}

// Detach tears the debugger down on front-end request: threads fall back to
// pass-through tracing, state is cleared, and the detach event is emitted.
func (d *Debugger) Detach() error {
	if !d.detaching.CompareAndSwap(false, true) {
		return nil
	}

	d.detachThreads()
	d.conn.Batch(func(w *wire.Writer) error {
		return w.WriteCommand(wire.EvtDetach)
	})
	d.detachProcess()
	return d.runDetachCallbacks()
}

// peerLoss is the connection's fault path: a failed send means the front-end
// is gone, which implies detach. It runs after the send lock is released so
// the teardown may touch the connection again.
func (d *Debugger) peerLoss(cause error) {
	logrus.WithError(cause).Debug("debugger: lost front-end connection")

	if !d.detaching.CompareAndSwap(false, true) {
		return
	}

	d.detachThreads()
	// Best effort: the connection has already faulted once, so a failure
	// here does not re-enter this path.
	d.conn.Batch(func(w *wire.Writer) error {
		return w.WriteCommand(wire.EvtDetach)
	})
	d.detachProcess()
	if err := d.runDetachCallbacks(); err != nil {
		logrus.WithError(err).Warn("debugger: detach callbacks")
	}
}

func (d *Debugger) detachThreads() {
	d.threadsMu.Lock()
	for _, t := range d.threads {
		if !d.interceptForAttach {
			t.detach.Store(true)
			t.stepping.Store(stepBreak)
		}
		if t.blocked {
			t.unblock()
		}
	}
	if !d.interceptForAttach {
		d.threads = make(map[int]*thread)
	}
	d.threadsMu.Unlock()

	d.breakpoints.clear()
	d.excPolicy.abort()
}

func (d *Debugger) detachProcess() {
	d.detached.Store(true)

	if !d.interceptForAttach {
		if d.origStdout != nil {
			d.rt.SetStdout(d.origStdout)
			d.origStdout = nil
		}
		if d.origStderr != nil {
			d.rt.SetStderr(d.origStderr)
			d.origStderr = nil
		}
		if d.restoreSpawn != nil {
			d.restoreSpawn()
			d.restoreSpawn = nil
		}
	}

	// A waiter on process-exit acknowledgement has no front-end left.
	d.releaseExit()
}

func (d *Debugger) runDetachCallbacks() error {
	d.callbacksMu.Lock()
	cbs := make([]func() error, len(d.detachCallbacks))
	copy(cbs, d.detachCallbacks)
	d.callbacksMu.Unlock()

	var result *multierror.Error
	for _, cb := range cbs {
		if err := cb(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (d *Debugger) printException(err error) {
	w := d.origStderr
	if w == nil {
		w = io.Writer(os.Stderr)
	}
	fmt.Fprintf(w, "%+v\n", err)
}

// doWait holds the process so the user can read final output before the
// console window closes.
func (d *Debugger) doWait() {
	out := d.origStdout
	if out == nil {
		out = io.Writer(os.Stdout)
	}
	fmt.Fprint(out, "Press any key to continue . . . ")

	var buf [1]byte
	os.Stdin.Read(buf[:])
}
