package frontend

import "github.com/nanshuiyu/pytools/wire"

// Command senders. Each one holds the write side for the whole message so
// concurrent senders cannot interleave.

func (c *Client) send(fn func(w *wire.Writer) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c.w)
}

func (c *Client) sendTID(cmd wire.Command, tid int) error {
	return c.send(func(w *wire.Writer) error {
		if err := w.WriteCommand(cmd); err != nil {
			return err
		}
		return w.WriteInt(tid)
	})
}

func (c *Client) StepInto(tid int) error { return c.sendTID(wire.CmdStepInto, tid) }
func (c *Client) StepOut(tid int) error  { return c.sendTID(wire.CmdStepOut, tid) }
func (c *Client) StepOver(tid int) error { return c.sendTID(wire.CmdStepOver, tid) }

func (c *Client) ResumeThread(tid int) error  { return c.sendTID(wire.CmdResumeThread, tid) }
func (c *Client) ClearStepping(tid int) error { return c.sendTID(wire.CmdClearStepping, tid) }

func (c *Client) BreakAll() error {
	return c.send(func(w *wire.Writer) error {
		return w.WriteCommand(wire.CmdBreakAll)
	})
}

func (c *Client) ResumeAll() error {
	return c.send(func(w *wire.Writer) error {
		return w.WriteCommand(wire.CmdResumeAll)
	})
}

func (c *Client) Detach() error {
	return c.send(func(w *wire.Writer) error {
		return w.WriteCommand(wire.CmdDetach)
	})
}

func (c *Client) Exit() error {
	return c.send(func(w *wire.Writer) error {
		return w.WriteCommand(wire.CmdExit)
	})
}

func (c *Client) SetBreakpoint(id, line int, filename, condition string, breakWhenChanged bool) error {
	return c.send(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.CmdSetBreakpoint); err != nil {
			return err
		}
		if err := w.WriteInt(id); err != nil {
			return err
		}
		if err := w.WriteInt(line); err != nil {
			return err
		}
		if err := w.WriteRawString(filename); err != nil {
			return err
		}
		if err := w.WriteRawString(condition); err != nil {
			return err
		}
		return w.WriteBool(breakWhenChanged)
	})
}

func (c *Client) SetBreakpointCondition(id int, condition string, breakWhenChanged bool) error {
	return c.send(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.CmdSetCondition); err != nil {
			return err
		}
		if err := w.WriteInt(id); err != nil {
			return err
		}
		if err := w.WriteRawString(condition); err != nil {
			return err
		}
		return w.WriteBool(breakWhenChanged)
	})
}

func (c *Client) RemoveBreakpoint(line, id int) error {
	return c.send(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.CmdRemoveBP); err != nil {
			return err
		}
		if err := w.WriteInt(line); err != nil {
			return err
		}
		return w.WriteInt(id)
	})
}

func (c *Client) ExecuteCode(text string, tid, fid, eid int) error {
	return c.send(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.CmdExecuteCode); err != nil {
			return err
		}
		if err := w.WriteRawString(text); err != nil {
			return err
		}
		if err := w.WriteInt(tid); err != nil {
			return err
		}
		if err := w.WriteInt(fid); err != nil {
			return err
		}
		return w.WriteInt(eid)
	})
}

func (c *Client) EnumChildren(text string, tid, fid, eid int, childIsEnumerate bool) error {
	return c.send(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.CmdEnumChildren); err != nil {
			return err
		}
		if err := w.WriteRawString(text); err != nil {
			return err
		}
		if err := w.WriteInt(tid); err != nil {
			return err
		}
		if err := w.WriteInt(fid); err != nil {
			return err
		}
		if err := w.WriteInt(eid); err != nil {
			return err
		}
		return w.WriteBool(childIsEnumerate)
	})
}

func (c *Client) SetLineno(tid, fid, line int) error {
	return c.send(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.CmdSetLineno); err != nil {
			return err
		}
		if err := w.WriteInt(tid); err != nil {
			return err
		}
		if err := w.WriteInt(fid); err != nil {
			return err
		}
		return w.WriteInt(line)
	})
}

// ExceptionMode is one entry of the exception break policy.
type ExceptionMode struct {
	Mode int
	Name string
}

func (c *Client) SetExceptionInfo(defaultMode int, entries []ExceptionMode) error {
	return c.send(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.CmdSetExcInfo); err != nil {
			return err
		}
		if err := w.WriteInt(defaultMode); err != nil {
			return err
		}
		if err := w.WriteInt(len(entries)); err != nil {
			return err
		}
		for _, e := range entries {
			if err := w.WriteInt(e.Mode); err != nil {
				return err
			}
			if err := w.WriteRawString(e.Name); err != nil {
				return err
			}
		}
		return nil
	})
}

// HandlerRange describes one except clause sent in reply to a handler
// request. An empty Expressions list means catch-everything.
type HandlerRange struct {
	LineStart   int
	LineEnd     int
	Expressions []string
}

func (c *Client) SetExceptionHandlers(filename string, ranges []HandlerRange) error {
	return c.send(func(w *wire.Writer) error {
		if err := w.WriteCommand(wire.CmdSetExcHandlers); err != nil {
			return err
		}
		if err := w.WriteRawString(filename); err != nil {
			return err
		}
		if err := w.WriteInt(len(ranges)); err != nil {
			return err
		}
		for _, hr := range ranges {
			if err := w.WriteInt(hr.LineStart); err != nil {
				return err
			}
			if err := w.WriteInt(hr.LineEnd); err != nil {
				return err
			}
			for _, expr := range hr.Expressions {
				if err := w.WriteRawString(expr); err != nil {
					return err
				}
			}
			if err := w.WriteRawString("-"); err != nil {
				return err
			}
		}
		return nil
	})
}
