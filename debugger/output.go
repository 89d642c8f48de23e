package debugger

import (
	"io"

	"github.com/nanshuiyu/pytools/wire"
)

// outputWriter wraps one of the interpreter's standard streams, forwarding
// every write to the front-end as an output event before handing it to the
// original stream.
type outputWriter struct {
	dbg  *Debugger
	orig io.Writer
}

func (o *outputWriter) Write(p []byte) (int, error) {
	if !o.dbg.detached.Load() {
		tid := o.dbg.rt.ThreadID()
		o.dbg.conn.Batch(func(w *wire.Writer) error {
			if err := w.WriteCommand(wire.EvtOutput); err != nil {
				return err
			}
			if err := w.WriteInt(tid); err != nil {
				return err
			}
			return w.WriteString(string(p))
		})
	}
	return o.orig.Write(p)
}

// redirectOutput swaps the interpreter's stdout and stderr for forwarding
// wrappers; detach restores the originals.
func (d *Debugger) redirectOutput() {
	stdout := &outputWriter{dbg: d}
	stdout.orig = d.rt.SetStdout(stdout)
	d.origStdout = stdout.orig

	stderr := &outputWriter{dbg: d}
	stderr.orig = d.rt.SetStderr(stderr)
	d.origStderr = stderr.orig
}
