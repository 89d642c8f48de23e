package debugger

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/nanshuiyu/pytools/interp"
	"github.com/nanshuiyu/pytools/wire"
)

// noLine is the stopped_on_line sentinel meaning "not parked anywhere yet";
// stepping stops are suppressed while the thread is still on that line.
const noLine = -1

// thread is the per-thread debugger record and tracer state machine. It is
// driven synchronously by trace events delivered on the interpreter thread
// it describes. The stepping state and flags are atomics because the command
// loop flips them while the thread is running.
type thread struct {
	dbg *Debugger

	id       int
	curFrame interp.Frame

	stepping      atomic.Int32
	stoppedOnLine int

	// Predecessor trace hooks. The hook observed at install time chains
	// after the debugger's own handling; the per-frame replacement hooks it
	// returns are pushed on call and popped on return.
	prevTrace  interp.TraceFunc
	traceStack []interp.TraceFunc

	// Park primitive. resume is the block lock: the parked thread receives,
	// a resumer sends the single token. mu guards the flag flips around
	// parking and the work hand-off.
	resume      chan struct{}
	mu          sync.Mutex
	blocked     bool
	working     atomic.Bool
	unblockWork func()

	reportedProcessLoaded atomic.Bool
	detach                atomic.Bool
}

// traceFunc returns the hook to install for this thread. The same bound
// handler is returned for every frame, so the per-frame replacement protocol
// degenerates to a stable callable owned by the record.
func (t *thread) traceFunc() interp.TraceFunc {
	return t.trace
}

func (t *thread) trace(f interp.Frame, ev interp.Event) (next interp.TraceFunc) {
	// A stack overflow or interrupt inside trace handling must not kill the
	// thread; swallow it and keep tracing on the next event.
	defer func() {
		if r := recover(); r != nil {
			logrus.Debugf("debugger: trace hook fault: %v", r)
			next = t.trace
		}
	}()

	if t.stepping.Load() == stepBreak && t.dbg.shouldDebug(f.Code()) {
		if t.curFrame == nil {
			// Happens during attach; parking needs a frame.
			t.curFrame = f
		}

		if t.detach.Load() {
			t.dbg.rt.InstallTrace(nil)
			return nil
		}

		t.asyncBreak()
	}

	switch ev.Kind {
	case interp.EventCall:
		return t.handleCall(f, ev)
	case interp.EventLine:
		return t.handleLine(f, ev)
	case interp.EventReturn:
		t.handleReturn(f, ev)
		return nil
	case interp.EventException:
		return t.handleException(f, ev)
	default:
		// c_call, c_return, c_exception carry nothing we react to.
		return t.trace
	}
}

func (t *thread) handleCall(f interp.Frame, ev interp.Event) interp.TraceFunc {
	t.curFrame = f

	code := f.Code()
	if code.Name() == "<module>" && code.Filename() != "<string>" {
		mod := t.dbg.modules.observe(code.Filename())
		if !t.dbg.detached.Load() {
			t.dbg.reportModuleLoad(mod)
			t.dbg.breakpoints.bindPending(t.dbg, code.Filename(), mod)
		}
	}

	switch stepping := t.stepping.Load(); {
	case stepping == stepNone:
	case stepping == stepInto:
		// Park at the first line inside the callee, not on the def itself,
		// even if it happens to be the line we last stopped on.
		t.stepping.Store(stepOver)
		t.stoppedOnLine = noLine
	case stepping >= stepOver:
		t.stepping.Add(1)
	case stepping <= stepOut:
		t.stepping.Add(-1)
	}

	// Chain to the predecessor hook, keeping its frame-local replacement for
	// the matching return.
	if old := t.prevTrace; old != nil {
		t.traceStack = append(t.traceStack, old)
		t.prevTrace = nil
		t.prevTrace = old(f, ev)
	}

	return t.trace
}

func (t *thread) handleLine(f interp.Frame, ev interp.Event) interp.TraceFunc {
	if !t.dbg.detached.Load() {
		if stepping := t.stepping.Load(); stepping != stepNone {
			if ((stepping == stepOver || stepping == stepInto) && f.Line() != t.stoppedOnLine) ||
				stepping == stepLaunchBreak ||
				stepping == stepAttachBreak {
				if (stepping == stepLaunchBreak && t.dbg.modules.empty()) ||
					!t.dbg.isUserCode(f.Code()) || !t.dbg.shouldDebug(f.Code()) {
					// Still inside interpreter start-up code; not a place to
					// surface a stop.
					return t.trace
				}
				t.blockMaybeAttach()
			}
		}

		if bp, cond, ok := t.dbg.breakpoints.match(f); ok {
			block := true
			if cond != nil {
				block = cond.shouldBreak(f)
			}
			if block {
				t.block(func() {
					t.dbg.reportBreakpointHit(bp, t.id)
					t.dbg.markAllThreadsForBreak()
				})
			}
		}
	}

	if old := t.prevTrace; old != nil {
		t.prevTrace = nil
		t.prevTrace = old(f, ev)
	}

	return t.trace
}

func (t *thread) handleReturn(f interp.Frame, ev interp.Event) {
	if !t.dbg.detached.Load() {
		switch stepping := t.stepping.Load(); {
		case stepping == stepNone:
		case stepping == stepOut:
			// Break at the next line of the caller.
			t.stepping.Store(stepOver)
			t.stoppedOnLine = noLine
		case stepping == stepOver:
			if f.Code().Name() == "<module>" && t.dbg.shouldDebug(f.Code()) {
				// Stepped over the end of the script.
				t.stepping.Store(stepNone)
				t.block(func() {
					t.dbg.reportStepDone(t.id)
				})
			}
		case stepping > stepOver:
			t.stepping.Add(-1)
		case stepping < stepOut:
			t.stepping.Add(1)
		}
	}

	if old := t.prevTrace; old != nil {
		old(f, ev)
	}
	if n := len(t.traceStack); n > 0 {
		t.prevTrace = t.traceStack[n-1]
		t.traceStack = t.traceStack[:n-1]
	}

	t.curFrame = f.Back()
}

func (t *thread) handleException(f interp.Frame, ev interp.Event) interp.TraceFunc {
	if t.stepping.Load() == stepAttachBreak {
		t.blockMaybeAttach()
	}

	if !t.dbg.detached.Load() && t.dbg.shouldDebug(f.Code()) &&
		t.dbg.excPolicy.shouldBreak(t.dbg, ev.Exc, f) {
		t.block(func() {
			t.dbg.reportException(ev.Exc, t.id)
		})
	}

	if old := t.prevTrace; old != nil {
		t.prevTrace = old(f, ev)
	}

	return t.trace
}

// blockMaybeAttach parks for a stepping or attach stop. On attach-break only
// the first thread to arrive reports process-loaded; the rest just park.
func (t *thread) blockMaybeAttach() {
	willReport := true
	if t.stepping.Load() == stepAttachBreak {
		t.dbg.attachMu.Lock()
		if t.dbg.attachSentBreak {
			willReport = false
		}
		t.dbg.attachSentBreak = true
		t.dbg.attachMu.Unlock()
	}

	stepping := t.stepping.Load()
	t.stepping.Store(stepNone)
	t.block(func() {
		if !willReport {
			return
		}
		if stepping == stepOver || stepping == stepInto {
			t.dbg.reportStepDone(t.id)
			return
		}
		if stepping == stepAttachBreak {
			t.reportedProcessLoaded.Store(true)
		}
		t.dbg.reportProcessLoaded(t.id)
	})
}

// asyncBreak parks for a break-all. Exactly one of the racing threads clears
// the armed flag under the send lock and emits ASBR, then snapshots the
// stacks of every thread that has not parked yet.
func (t *thread) asyncBreak() {
	send := func() {
		sent := false
		t.dbg.conn.Batch(func(w *wire.Writer) error {
			t.dbg.breakMu.Lock()
			armed := t.dbg.sendBreakComplete
			t.dbg.sendBreakComplete = false
			t.dbg.breakMu.Unlock()
			if !armed {
				return nil
			}
			sent = true
			if err := w.WriteCommand(wire.EvtAsyncBreak); err != nil {
				return err
			}
			return w.WriteInt(t.id)
		})

		if sent {
			// Threads still running get their frame lists captured now; any
			// that park later resend a fresher list themselves.
			t.dbg.updateAllThreadStacks(t)
		}
	}

	t.stepping.Store(stepNone)
	t.block(send)
}

// block parks the calling thread until the front-end resumes it, running any
// scheduled work on this thread's own stack in between. Only the thread
// itself may call block; only other threads unblock it.
func (t *thread) block(reason func()) {
	t.sendFramesLocally()
	if t.curFrame != nil {
		t.stoppedOnLine = t.curFrame.Line()
	}

	t.mu.Lock()
	t.blocked = true
	reason()
	t.mu.Unlock()

	for !t.dbg.detached.Load() {
		<-t.resume
		if t.unblockWork == nil {
			break
		}

		// The front-end wants an evaluation in this thread's context; run it
		// here and park again.
		t.working.Store(true)
		work := t.unblockWork
		t.unblockWork = nil
		work()
		t.working.Store(false)
	}

	t.mu.Lock()
	t.blocked = false
	t.mu.Unlock()
}

// unblock releases the park token, waking the thread. Releasing when no one
// waits leaves the token for the next park, matching the lock the original
// built this on.
func (t *thread) unblock() {
	select {
	case t.resume <- struct{}{}:
	default:
	}
}

// scheduleWork hands a closure to the parked thread and wakes it; the thread
// runs the closure on its own stack and parks again.
func (t *thread) scheduleWork(work func()) {
	t.mu.Lock()
	t.unblockWork = work
	t.unblock()
	t.mu.Unlock()
}
