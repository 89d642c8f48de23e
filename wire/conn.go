package wire

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Conn owns the single TCP stream shared between the command-loop reader and
// every traced thread's event emitter. All writes go through Batch, which
// serializes them under the send lock so each outbound message is atomic on
// the wire.
type Conn struct {
	nc net.Conn
	r  *Reader

	mu sync.Mutex
	w  *Writer

	peerLoss func(error)
	faulted  sync.Once
}

func NewConn(nc net.Conn) *Conn {
	return &Conn{
		nc: nc,
		r:  NewReader(nc),
		w:  NewWriter(nc),
	}
}

// Dial connects to the front-end with retry. The front-end may not be
// listening yet when the debuggee starts.
func Dial(addr string, attempts int, interval time.Duration) (*Conn, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		nc, err := net.Dial("tcp", addr)
		if err == nil {
			return NewConn(nc), nil
		}
		lastErr = err
		time.Sleep(interval)
	}
	return nil, errors.Wrapf(lastErr, "wire: failed to connect to %s", addr)
}

// OnPeerLoss registers the callback invoked, once, when a write fails.
// The callback runs after the send lock is released so it may emit on the
// connection itself (a detach emits DETC on a best-effort basis).
func (c *Conn) OnPeerLoss(fn func(error)) {
	c.peerLoss = fn
}

// Batch runs fn with exclusive access to the send side. A write error marks
// the peer lost; the error is returned so emitters can stop early, but the
// detach cascade runs from here rather than from every call site.
func (c *Conn) Batch(fn func(w *Writer) error) error {
	c.mu.Lock()
	err := fn(c.w)
	c.mu.Unlock()

	if err != nil {
		c.fault(err)
	}
	return err
}

func (c *Conn) fault(err error) {
	c.faulted.Do(func() {
		if c.peerLoss != nil {
			c.peerLoss(err)
		}
	})
}

// Reader returns the receive side. Only the command loop reads it.
func (c *Conn) Reader() *Reader {
	return c.r
}

func (c *Conn) Close() error {
	return c.nc.Close()
}
