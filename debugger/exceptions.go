package debugger

import (
	"strings"
	"sync"

	"github.com/nanshuiyu/pytools/interp"
	"github.com/nanshuiyu/pytools/wire"
)

// Break modes mirror the front-end's exception-state enumeration. Always and
// unhandled are independent bits.
const (
	breakModeNever     = 0
	breakModeAlways    = 1
	breakModeUnhandled = 32
)

// handlerRange describes one except clause of a source file as supplied by
// the front-end: a half-open line range plus the textual type expressions it
// catches, with "*" as the catch-everything wildcard.
type handlerRange struct {
	lineStart   int
	lineEnd     int
	expressions map[string]struct{}
}

// exceptionPolicy decides whether a raised exception parks the thread. The
// per-file handler table is populated on demand: the first thread to need a
// file's handlers sends REQH and waits for the front-end's reply; concurrent
// requests for the same file coalesce onto one round-trip.
type exceptionPolicy struct {
	mu           sync.Mutex
	defaultMode  int
	breakOn      map[string]int
	handlerCache map[string][]handlerRange
	pendingReq   map[string]chan struct{}
	aborted      bool
}

func newExceptionPolicy() *exceptionPolicy {
	p := &exceptionPolicy{
		defaultMode:  breakModeUnhandled,
		breakOn:      make(map[string]int),
		handlerCache: make(map[string][]handlerRange),
		pendingReq:   make(map[string]chan struct{}),
	}
	for _, name := range []string{
		"exceptions.IndexError",
		"exceptions.KeyError",
		"exceptions.AttributeError",
		"exceptions.StopIteration",
		"exceptions.GeneratorExit",
	} {
		p.add(name, breakModeNever)
	}
	return p
}

// normalizeExcName rewrites legacy exceptions-module names to their builtins
// equivalents so old front-ends keep matching.
func normalizeExcName(name string) string {
	if strings.HasPrefix(name, "exceptions.") {
		return "builtins." + name[len("exceptions."):]
	}
	return name
}

func (p *exceptionPolicy) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultMode = breakModeUnhandled
	p.breakOn = make(map[string]int)
	p.handlerCache = make(map[string][]handlerRange)
}

func (p *exceptionPolicy) setDefaultMode(mode int) {
	p.mu.Lock()
	p.defaultMode = mode
	p.mu.Unlock()
}

func (p *exceptionPolicy) add(name string, mode int) {
	p.mu.Lock()
	p.breakOn[normalizeExcName(name)] = mode
	p.mu.Unlock()
}

func (p *exceptionPolicy) mode(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if mode, ok := p.breakOn[normalizeExcName(name)]; ok {
		return mode
	}
	return p.defaultMode
}

func (p *exceptionPolicy) shouldBreak(d *Debugger, exc interp.Exception, frame interp.Frame) bool {
	if exc == nil {
		return false
	}
	mode := p.mode(exc.QualifiedName())
	if mode&breakModeAlways != 0 {
		return true
	}
	return mode&breakModeUnhandled != 0 && !p.isHandled(d, exc, frame)
}

// isHandled walks frames outward from the raising frame looking for an
// except clause covering the current line whose type matches the raised one.
func (p *exceptionPolicy) isHandled(d *Debugger, exc interp.Exception, frame interp.Frame) bool {
	if exc.Propagated() {
		// Not the top of the traceback: the exception already escaped the
		// frame it was raised in, someone upstream is handling it.
		return true
	}

	for cur := frame; cur != nil; cur = cur.Back() {
		code := cur.Code()
		if !d.shouldDebug(code) {
			continue
		}

		handlers := p.handlersFor(d, code.Filename())
		if handlers == nil {
			// No handler data available; assume unhandled.
			return false
		}

		line := cur.Line()
		for _, h := range handlers {
			if line < h.lineStart || line >= h.lineEnd {
				continue
			}
			if _, ok := h.expressions["*"]; ok {
				return true
			}
			for text := range h.expressions {
				typ := interp.Resolve(cur, text)
				if typ != nil && exc.IsInstanceOf(typ) {
					return true
				}
			}
		}
	}
	return false
}

// handlersFor returns the cached handler ranges for a file, requesting them
// from the front-end on first use. Returns nil when the front-end has no
// data or the connection is gone.
func (p *exceptionPolicy) handlersFor(d *Debugger, filename string) []handlerRange {
	p.mu.Lock()
	if h, ok := p.handlerCache[filename]; ok {
		p.mu.Unlock()
		return h
	}
	if p.aborted {
		p.mu.Unlock()
		return nil
	}
	ch, inflight := p.pendingReq[filename]
	if !inflight {
		ch = make(chan struct{})
		p.pendingReq[filename] = ch
	}
	p.mu.Unlock()

	if !inflight {
		err := d.conn.Batch(func(w *wire.Writer) error {
			if err := w.WriteCommand(wire.EvtRequestHandlers); err != nil {
				return err
			}
			return w.WriteString(filename)
		})
		if err != nil {
			p.release(filename)
			return nil
		}
	}

	<-ch

	p.mu.Lock()
	h := p.handlerCache[filename]
	p.mu.Unlock()
	return h
}

// setHandlers installs the front-end's reply and wakes every waiter.
func (p *exceptionPolicy) setHandlers(filename string, handlers []handlerRange) {
	p.mu.Lock()
	p.handlerCache[filename] = handlers
	p.mu.Unlock()
	p.release(filename)
}

func (p *exceptionPolicy) release(filename string) {
	p.mu.Lock()
	if ch, ok := p.pendingReq[filename]; ok {
		close(ch)
		delete(p.pendingReq, filename)
	}
	p.mu.Unlock()
}

// abort wakes every outstanding handler request; used on detach so no
// tracer thread stays parked on a reply that will never come.
func (p *exceptionPolicy) abort() {
	p.mu.Lock()
	p.aborted = true
	for name, ch := range p.pendingReq {
		close(ch)
		delete(p.pendingReq, name)
	}
	p.mu.Unlock()
}
