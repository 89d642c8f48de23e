// Package debugger implements the backend of a remote source-level debugger
// for a hosted dynamic-language runtime. It installs a trace hook on every
// interpreter thread, parks threads on breakpoints, steps, and exceptions,
// and talks to a front-end over a framed TCP protocol (see the wire package).
package debugger

import (
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nanshuiyu/pytools/interp"
	"github.com/nanshuiyu/pytools/wire"
)

// Stepping states. stepOver is a floor, not a terminal value: each call while
// stepping over increments past it and each return decrements, so a thread
// only truly steps when the state is exactly stepOver or stepInto.
// Symmetrically stepOut decrements below on call and increments on return.
const (
	stepOut         = -1
	stepNone        = 0
	stepBreak       = 1
	stepLaunchBreak = 2
	stepAttachBreak = 3
	stepInto        = 4
	stepOver        = 5
)

// Debugger is the per-process debugger state. The original held this in
// module globals; one value of this struct plays that role.
type Debugger struct {
	rt   interp.Runtime
	conn *wire.Conn

	threadsMu sync.Mutex
	threads   map[int]*thread

	modules     *moduleTable
	breakpoints *breakpointTable
	excPolicy   *exceptionPolicy

	detached atomic.Bool

	// sendBreakComplete arms the one-shot ASBR emission for break-all. It is
	// checked and cleared inside the send lock so exactly one thread reports.
	breakMu           sync.Mutex
	sendBreakComplete bool

	// attachSentBreak picks the single thread that reports process-loaded
	// when several park on attach-break together.
	attachMu        sync.Mutex
	attachSentBreak bool

	// exitCh is released by the front-end's exit command; process-exit
	// reporting waits on it so the event is acknowledged before teardown.
	exitCh   chan struct{}
	exitOnce sync.Once

	dontDebug   map[string]struct{}
	sysPrefixes []string

	callbacksMu     sync.Mutex
	detachCallbacks []func() error

	detaching atomic.Bool

	interceptForAttach bool
	restoreSpawn       func()
	origStdout         io.Writer
	origStderr         io.Writer
}

func newDebugger(rt interp.Runtime, conn *wire.Conn, opts Options) *Debugger {
	d := &Debugger{
		rt:          rt,
		conn:        conn,
		threads:     make(map[int]*thread),
		modules:     newModuleTable(),
		breakpoints: newBreakpointTable(),
		excPolicy:   newExceptionPolicy(),
		exitCh:      make(chan struct{}),
		dontDebug:   make(map[string]struct{}),
		sysPrefixes: opts.SystemPrefixes,
	}
	for _, f := range opts.ExcludeFiles {
		d.dontDebug[f] = struct{}{}
	}
	conn.OnPeerLoss(d.peerLoss)
	return d
}

// shouldDebug reports whether code may be broken into at all. The debugger's
// own support files are excluded.
func (d *Debugger) shouldDebug(code interp.Code) bool {
	_, excluded := d.dontDebug[code.Filename()]
	return !excluded
}

// isUserCode filters out interpreter-installation code for stepping stops.
func (d *Debugger) isUserCode(code interp.Code) bool {
	for _, prefix := range d.sysPrefixes {
		if strings.HasPrefix(code.Filename(), prefix) {
			return false
		}
	}
	return true
}

func (d *Debugger) getThread(id int) *thread {
	d.threadsMu.Lock()
	defer d.threadsMu.Unlock()
	return d.threads[id]
}

func (d *Debugger) allThreads() []*thread {
	d.threadsMu.Lock()
	defer d.threadsMu.Unlock()
	threads := make([]*thread, 0, len(d.threads))
	for _, t := range d.threads {
		threads = append(threads, t)
	}
	return threads
}

// newThread registers a thread record, reporting it to the front-end unless
// detached. frame seeds cur_frame for threads discovered mid-flight at
// attach time.
func (d *Debugger) newThread(id int, frame interp.Frame, setBreak bool) *thread {
	t := &thread{
		dbg:           d,
		id:            id,
		curFrame:      frame,
		resume:        make(chan struct{}, 1),
		stoppedOnLine: noLine,
	}
	if setBreak {
		t.stepping.Store(stepAttachBreak)
	}

	d.threadsMu.Lock()
	d.threads[id] = t
	d.threadsMu.Unlock()

	if !d.detached.Load() {
		d.reportNewThread(t)
	}
	return t
}

// dropThread removes a thread on its function return, emitting the exit
// event unless the thread was already told to detach.
func (d *Debugger) dropThread(t *thread) {
	d.threadsMu.Lock()
	detach := t.detach.Load()
	if !detach {
		delete(d.threads, t.id)
	}
	d.threadsMu.Unlock()

	if !detach {
		d.reportThreadExit(t)
	}
}

func (d *Debugger) markAllThreadsForBreak() {
	d.threadsMu.Lock()
	for _, t := range d.threads {
		t.stepping.Store(stepBreak)
	}
	d.threadsMu.Unlock()
}

// updateAllThreadStacks snapshots and sends the frame list of every thread
// that has not parked yet, so a break-all presents a consistent multi-thread
// stop before each thread reaches its own next event.
func (d *Debugger) updateAllThreadStacks(blocking *thread) {
	for _, t := range d.allThreads() {
		if t == blocking {
			continue
		}

		t.mu.Lock()
		if !t.blocked {
			// Drop the lock while collecting: walking frames runs user-level
			// reflection.
			t.mu.Unlock()

			frames := t.frameList()

			t.mu.Lock()
			if !t.blocked {
				d.sendFrameListNamed(t.id, "", false, frames)
			}
		}
		t.mu.Unlock()
	}
}
