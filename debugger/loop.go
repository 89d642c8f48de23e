package debugger

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nanshuiyu/pytools/interp"
	"github.com/nanshuiyu/pytools/wire"
)

// errDetachRequested terminates the command loop after a detach command has
// already run the teardown.
var errDetachRequested = errors.New("debugger: detach requested")

// serveCommands is the command loop: a dedicated goroutine owning the
// connection's receive side, dispatching 4-byte opcodes to handlers that
// mutate the debugger state. Unknown opcodes and malformed payloads
// terminate the loop; the debuggee keeps running without a front-end.
func (d *Debugger) serveCommands() {
	r := d.conn.Reader()

	table := map[wire.Command]func(*wire.Reader) error{
		wire.CmdExit:           d.commandExit,
		wire.CmdStepInto:       d.commandStepInto,
		wire.CmdStepOut:        d.commandStepOut,
		wire.CmdStepOver:       d.commandStepOver,
		wire.CmdSetBreakpoint:  d.commandSetBreakpoint,
		wire.CmdSetCondition:   d.commandSetCondition,
		wire.CmdRemoveBP:       d.commandRemoveBreakpoint,
		wire.CmdBreakAll:       d.commandBreakAll,
		wire.CmdResumeAll:      d.commandResumeAll,
		wire.CmdResumeThread:   d.commandResumeThread,
		wire.CmdExecuteCode:    d.commandExecuteCode,
		wire.CmdEnumChildren:   d.commandEnumChildren,
		wire.CmdSetLineno:      d.commandSetLineno,
		wire.CmdDetach:         d.commandDetach,
		wire.CmdClearStepping:  d.commandClearStepping,
		wire.CmdSetExcInfo:     d.commandSetExceptionInfo,
		wire.CmdSetExcHandlers: d.commandSetExceptionHandlers,
	}

	for {
		cmd, err := r.ReadCommand()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logrus.WithError(err).Debug("debugger: command loop read")
			}
			return
		}

		fn := table[cmd]
		if fn == nil {
			logrus.Warnf("debugger: unknown command %s", cmd)
			return
		}

		if err := fn(r); err != nil {
			if !errors.Is(err, errDetachRequested) {
				logrus.WithError(err).Warnf("debugger: command %s failed", cmd)
			}
			return
		}
	}
}

func (d *Debugger) commandExit(*wire.Reader) error {
	d.releaseExit()
	return nil
}

func (d *Debugger) releaseExit() {
	d.exitOnce.Do(func() {
		close(d.exitCh)
	})
}

func (d *Debugger) stepCommand(r *wire.Reader, stepping int) error {
	tid, err := r.ReadInt()
	if err != nil {
		return err
	}
	if t := d.getThread(tid); t != nil {
		t.stepping.Store(int32(stepping))
		d.resumeAll()
	}
	return nil
}

func (d *Debugger) commandStepInto(r *wire.Reader) error {
	return d.stepCommand(r, stepInto)
}

func (d *Debugger) commandStepOut(r *wire.Reader) error {
	return d.stepCommand(r, stepOut)
}

func (d *Debugger) commandStepOver(r *wire.Reader) error {
	return d.stepCommand(r, stepOver)
}

func (d *Debugger) commandSetBreakpoint(r *wire.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	line, err := r.ReadInt()
	if err != nil {
		return err
	}
	filename, err := r.ReadString()
	if err != nil {
		return err
	}
	condition, err := r.ReadString()
	if err != nil {
		return err
	}
	breakWhenChanged, err := r.ReadBool()
	if err != nil {
		return err
	}

	d.breakpoints.set(d, id, line, filename, condition, breakWhenChanged)
	return nil
}

func (d *Debugger) commandSetCondition(r *wire.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	condition, err := r.ReadString()
	if err != nil {
		return err
	}
	breakWhenChanged, err := r.ReadBool()
	if err != nil {
		return err
	}

	d.breakpoints.setCondition(id, condition, breakWhenChanged)
	return nil
}

func (d *Debugger) commandRemoveBreakpoint(r *wire.Reader) error {
	line, err := r.ReadInt()
	if err != nil {
		return err
	}
	id, err := r.ReadInt()
	if err != nil {
		return err
	}

	d.breakpoints.remove(line, id)
	return nil
}

func (d *Debugger) commandBreakAll(*wire.Reader) error {
	d.breakMu.Lock()
	d.sendBreakComplete = true
	d.breakMu.Unlock()
	d.markAllThreadsForBreak()
	return nil
}

func (d *Debugger) commandResumeAll(*wire.Reader) error {
	d.resumeAll()
	return nil
}

func (d *Debugger) resumeAll() {
	for _, t := range d.allThreads() {
		t.mu.Lock()
		if t.blocked {
			if t.stepping.Load() == stepBreak {
				t.stepping.Store(stepNone)
			}
			t.unblock()
		}
		t.mu.Unlock()
	}
}

func (d *Debugger) commandResumeThread(r *wire.Reader) error {
	tid, err := r.ReadInt()
	if err != nil {
		return err
	}
	t := d.getThread(tid)
	if t == nil {
		return nil
	}

	if t.reportedProcessLoaded.Load() {
		// The initial attach stop resumes the whole process.
		t.reportedProcessLoaded.Store(false)
		d.resumeAll()
	} else {
		t.unblock()
	}
	return nil
}

func (d *Debugger) commandExecuteCode(r *wire.Reader) error {
	text, err := r.ReadString()
	if err != nil {
		return err
	}
	tid, err := r.ReadInt()
	if err != nil {
		return err
	}
	fid, err := r.ReadInt()
	if err != nil {
		return err
	}
	eid, err := r.ReadInt()
	if err != nil {
		return err
	}

	if t := d.getThread(tid); t != nil {
		if frame := frameAt(t, fid); frame != nil {
			t.runOnThread(text, frame, eid)
		}
	}
	return nil
}

func (d *Debugger) commandEnumChildren(r *wire.Reader) error {
	text, err := r.ReadString()
	if err != nil {
		return err
	}
	tid, err := r.ReadInt()
	if err != nil {
		return err
	}
	fid, err := r.ReadInt()
	if err != nil {
		return err
	}
	eid, err := r.ReadInt()
	if err != nil {
		return err
	}
	childIsEnumerate, err := r.ReadBool()
	if err != nil {
		return err
	}

	if t := d.getThread(tid); t != nil {
		if frame := frameAt(t, fid); frame != nil {
			t.enumChildOnThread(text, frame, eid, childIsEnumerate)
		}
	}
	return nil
}

func (d *Debugger) commandSetLineno(r *wire.Reader) error {
	tid, err := r.ReadInt()
	if err != nil {
		return err
	}
	if _, err := r.ReadInt(); err != nil { // frame id; the jump targets the top frame
		return err
	}
	line, err := r.ReadInt()
	if err != nil {
		return err
	}

	t := d.getThread(tid)
	if t == nil || t.curFrame == nil {
		d.reportSetLine(false, tid, 0)
		return nil
	}

	newLine, err := t.curFrame.SetLine(line)
	if err != nil {
		d.reportSetLine(false, tid, 0)
		return nil
	}
	d.reportSetLine(true, tid, newLine)
	return nil
}

func (d *Debugger) commandDetach(*wire.Reader) error {
	if err := d.Detach(); err != nil {
		logrus.WithError(err).Warn("debugger: detach callbacks")
	}
	return errDetachRequested
}

func (d *Debugger) commandClearStepping(r *wire.Reader) error {
	tid, err := r.ReadInt()
	if err != nil {
		return err
	}
	if t := d.getThread(tid); t != nil {
		t.stepping.Store(stepNone)
	}
	return nil
}

func (d *Debugger) commandSetExceptionInfo(r *wire.Reader) error {
	d.excPolicy.clear()

	mode, err := r.ReadInt()
	if err != nil {
		return err
	}
	d.excPolicy.setDefaultMode(mode)

	count, err := r.ReadInt()
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		mode, err := r.ReadInt()
		if err != nil {
			return err
		}
		name, err := r.ReadString()
		if err != nil {
			return err
		}
		d.excPolicy.add(name, mode)
	}
	return nil
}

func (d *Debugger) commandSetExceptionHandlers(r *wire.Reader) error {
	filename, err := r.ReadString()
	if err != nil {
		return err
	}

	count, err := r.ReadInt()
	if err != nil {
		// Wake any waiter even on a bad payload so no thread parks forever.
		d.excPolicy.release(filename)
		return err
	}

	handlers := make([]handlerRange, 0, count)
	for i := 0; i < count; i++ {
		lineStart, err := r.ReadInt()
		if err != nil {
			d.excPolicy.release(filename)
			return err
		}
		lineEnd, err := r.ReadInt()
		if err != nil {
			d.excPolicy.release(filename)
			return err
		}

		expressions := make(map[string]struct{})
		for {
			text, err := r.ReadString()
			if err != nil {
				d.excPolicy.release(filename)
				return err
			}
			text = strings.TrimSpace(text)
			if text == "-" {
				break
			}
			expressions[text] = struct{}{}
		}
		if len(expressions) == 0 {
			expressions["*"] = struct{}{}
		}

		handlers = append(handlers, handlerRange{
			lineStart:   lineStart,
			lineEnd:     lineEnd,
			expressions: expressions,
		})
	}

	d.excPolicy.setHandlers(filename, handlers)
	return nil
}

// frameAt walks fid frames back from the thread's top frame.
func frameAt(t *thread, fid int) interp.Frame {
	frame := t.curFrame
	for i := 0; i < fid && frame != nil; i++ {
		frame = frame.Back()
	}
	return frame
}
