package debugger

import (
	"github.com/nanshuiyu/pytools/interp"
	"github.com/nanshuiyu/pytools/wire"
)

// Outbound events. Every emitter runs its whole message inside conn.Batch so
// messages never interleave on the wire; write failures cascade to detach
// from the connection's fault path, so emitters ignore the returned error.

func (d *Debugger) reportNewThread(t *thread) {
	d.conn.Batch(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.EvtNewThread); err != nil {
			return err
		}
		return w.WriteInt(t.id)
	})
}

func (d *Debugger) reportThreadExit(t *thread) {
	d.conn.Batch(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.EvtThreadExit); err != nil {
			return err
		}
		return w.WriteInt(t.id)
	})
}

// reportProcessExit emits the exit code and then waits for the front-end to
// acknowledge with the exit command, so the event is not lost to teardown.
func (d *Debugger) reportProcessExit(code int) {
	err := d.conn.Batch(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.EvtProcessExit); err != nil {
			return err
		}
		return w.WriteInt(code)
	})
	if err != nil {
		return
	}
	<-d.exitCh
}

func (d *Debugger) reportModuleLoad(mod *Module) {
	d.conn.Batch(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.EvtModuleLoad); err != nil {
			return err
		}
		if err := w.WriteInt(mod.ID); err != nil {
			return err
		}
		return w.WriteString(mod.Filename)
	})
}

func (d *Debugger) reportStepDone(tid int) {
	d.conn.Batch(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.EvtStepDone); err != nil {
			return err
		}
		return w.WriteInt(tid)
	})
}

func (d *Debugger) reportProcessLoaded(tid int) {
	d.conn.Batch(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.EvtProcessLoad); err != nil {
			return err
		}
		return w.WriteInt(tid)
	})
}

func (d *Debugger) reportBreakpointBound(id int) {
	d.conn.Batch(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.EvtBreakpointSet); err != nil {
			return err
		}
		return w.WriteInt(id)
	})
}

func (d *Debugger) reportBreakpointFailed(id int) {
	d.conn.Batch(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.EvtBreakpointFailed); err != nil {
			return err
		}
		return w.WriteInt(id)
	})
}

func (d *Debugger) reportBreakpointHit(id, tid int) {
	d.conn.Batch(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.EvtBreakpointHit); err != nil {
			return err
		}
		if err := w.WriteInt(id); err != nil {
			return err
		}
		return w.WriteInt(tid)
	})
}

func (d *Debugger) reportException(exc interp.Exception, tid int) {
	d.conn.Batch(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.EvtException); err != nil {
			return err
		}
		if err := w.WriteString(exc.QualifiedName()); err != nil {
			return err
		}
		if err := w.WriteInt(tid); err != nil {
			return err
		}
		return w.WriteString(exc.Format())
	})
}

func (d *Debugger) reportExecutionError(text string, eid int) {
	d.conn.Batch(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.EvtExecError); err != nil {
			return err
		}
		if err := w.WriteInt(eid); err != nil {
			return err
		}
		return w.WriteString(text)
	})
}

func (d *Debugger) reportExecutionResult(eid int, v interp.Value) {
	obj := describeValue(v)
	d.conn.Batch(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.EvtExecResult); err != nil {
			return err
		}
		if err := w.WriteInt(eid); err != nil {
			return err
		}
		return w.WriteObject(obj)
	})
}

type childEntry struct {
	name string
	obj  wire.Object
}

func (d *Debugger) reportChildren(eid int, children []childEntry, isIndex, isEnumerate bool) {
	d.conn.Batch(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.EvtChildren); err != nil {
			return err
		}
		if err := w.WriteInt(eid); err != nil {
			return err
		}
		if err := w.WriteInt(len(children)); err != nil {
			return err
		}
		if err := w.WriteBool(isIndex); err != nil {
			return err
		}
		if err := w.WriteBool(isEnumerate); err != nil {
			return err
		}
		for _, c := range children {
			if err := w.WriteString(c.name); err != nil {
				return err
			}
			if err := w.WriteObject(c.obj); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Debugger) reportSetLine(ok bool, tid, line int) {
	d.conn.Batch(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.EvtSetLineno); err != nil {
			return err
		}
		if err := w.WriteBool(ok); err != nil {
			return err
		}
		if err := w.WriteInt(tid); err != nil {
			return err
		}
		return w.WriteInt(line)
	})
}

// sendFrameListNamed emits a THRF stack snapshot. named distinguishes a
// known-empty thread name from no name at all.
func (d *Debugger) sendFrameListNamed(tid int, name string, named bool, frames []frameInfo) {
	d.conn.Batch(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.EvtThreadFrames); err != nil {
			return err
		}
		if err := w.WriteInt(tid); err != nil {
			return err
		}
		if named {
			if err := w.WriteString(name); err != nil {
				return err
			}
		} else if err := w.WriteNullString(); err != nil {
			return err
		}

		if err := w.WriteInt(len(frames)); err != nil {
			return err
		}
		for _, f := range frames {
			if err := w.WriteInt(f.firstLine); err != nil {
				return err
			}
			if err := w.WriteInt(f.endLine); err != nil {
				return err
			}
			if err := w.WriteInt(f.curLine); err != nil {
				return err
			}
			if err := w.WriteString(f.name); err != nil {
				return err
			}
			if err := w.WriteString(f.filename); err != nil {
				return err
			}
			if err := w.WriteInt(f.argCount); err != nil {
				return err
			}
			if err := w.WriteInt(len(f.vars)); err != nil {
				return err
			}
			for _, v := range f.vars {
				if err := w.WriteString(v.name); err != nil {
					return err
				}
				if err := w.WriteObject(v.obj); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
