// Package interptest provides a scripted implementation of the interp
// contract. Tests build frames and values by hand and drive trace events the
// way a real interpreter would: synchronously, on the goroutine standing in
// for the interpreter thread.
package interptest

import (
	"bytes"
	"io"
	"runtime"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/nanshuiyu/pytools/interp"
)

// Code is a scripted code object.
type Code struct {
	FuncName string
	File     string
	First    int
	Deltas   []int
	Args     int
	Vars     []string
}

func (c *Code) Name() string       { return c.FuncName }
func (c *Code) Filename() string   { return c.File }
func (c *Code) FirstLine() int     { return c.First }
func (c *Code) LineDeltas() []int  { return c.Deltas }
func (c *Code) ArgCount() int      { return c.Args }
func (c *Code) VarNames() []string { return c.Vars }

// scope is an insertion-ordered name table.
type scope struct {
	names []string
	vals  map[string]interp.Value
}

func newScope() *scope {
	return &scope{vals: make(map[string]interp.Value)}
}

func (s *scope) set(name string, v interp.Value) {
	if _, ok := s.vals[name]; !ok {
		s.names = append(s.names, name)
	}
	s.vals[name] = v
}

func (s *scope) get(name string) (interp.Value, bool) {
	v, ok := s.vals[name]
	return v, ok
}

// Frame is a scripted activation record.
type Frame struct {
	code *Code
	back *Frame
	line int

	moduleScope bool
	locals      *scope
	globals     *scope
	builtins    *scope

	evals map[string]func() (interp.Value, error)

	// SetLineHook overrides the default accept-any-line behavior.
	SetLineHook func(line int) (int, error)
}

// NewFrame builds a function frame.
func NewFrame(code *Code, back *Frame) *Frame {
	f := &Frame{
		code:     code,
		back:     back,
		line:     code.First,
		locals:   newScope(),
		globals:  newScope(),
		builtins: newScope(),
		evals:    make(map[string]func() (interp.Value, error)),
	}
	if back != nil {
		f.globals = back.globals
		f.builtins = back.builtins
	}
	return f
}

// NewModuleFrame builds a module-scope frame whose locals and globals are
// the same mapping.
func NewModuleFrame(code *Code) *Frame {
	f := NewFrame(code, nil)
	f.locals = f.globals
	f.moduleScope = true
	return f
}

func (f *Frame) Code() interp.Code { return f.code }
func (f *Frame) Line() int         { return f.line }
func (f *Frame) Back() interp.Frame {
	if f.back == nil {
		return nil
	}
	return f.back
}
func (f *Frame) ModuleScope() bool { return f.moduleScope }

func (f *Frame) SetLine(line int) (int, error) {
	if f.SetLineHook != nil {
		n, err := f.SetLineHook(line)
		if err == nil {
			f.line = n
		}
		return n, err
	}
	f.line = line
	return line, nil
}

func (f *Frame) Var(name string) (interp.Value, bool)    { return f.locals.get(name) }
func (f *Frame) Global(name string) (interp.Value, bool) { return f.globals.get(name) }
func (f *Frame) Builtin(name string) (interp.Value, bool) {
	return f.builtins.get(name)
}
func (f *Frame) GlobalNames() []string { return f.globals.names }

func (f *Frame) SetVar(name string, v interp.Value)     { f.locals.set(name, v) }
func (f *Frame) SetGlobal(name string, v interp.Value)  { f.globals.set(name, v) }
func (f *Frame) SetBuiltin(name string, v interp.Value) { f.builtins.set(name, v) }

// OnEval scripts the result of evaluating an expression in this frame.
func (f *Frame) OnEval(text string, fn func() (interp.Value, error)) {
	f.evals[text] = fn
}

// Eval runs a scripted evaluation, falling back to plain name lookup.
func (f *Frame) Eval(text string) (interp.Value, error) {
	if fn, ok := f.evals[text]; ok {
		return fn()
	}
	if v, ok := f.locals.get(text); ok {
		return v, nil
	}
	if v, ok := f.globals.get(text); ok {
		return v, nil
	}
	if v, ok := f.builtins.get(text); ok {
		return v, nil
	}
	return nil, errors.Errorf("interptest: name %q is not defined", text)
}

// Runtime is the scripted process-wide interpreter state. Thread identity is
// per goroutine: Bind associates the calling goroutine with a thread id and
// name before events are driven on it.
type Runtime struct {
	mu       sync.Mutex
	tids     map[int64]int
	names    map[int64]string
	traces   map[int64]interp.TraceFunc
	spawn    interp.SpawnWrapper
	stdout   io.Writer
	stderr   io.Writer
	modules  []interp.ModuleInfo
	threads  []interp.ThreadState
	execFile func(file string) error
}

func NewRuntime() *Runtime {
	return &Runtime{
		tids:   make(map[int64]int),
		names:  make(map[int64]string),
		traces: make(map[int64]interp.TraceFunc),
		stdout: io.Discard,
		stderr: io.Discard,
	}
}

// Bind associates the calling goroutine with an interpreter thread. The
// returned func unbinds it.
func (rt *Runtime) Bind(tid int, name string) func() {
	id := goid()
	rt.mu.Lock()
	rt.tids[id] = tid
	rt.names[id] = name
	rt.mu.Unlock()
	return func() {
		rt.mu.Lock()
		delete(rt.tids, id)
		delete(rt.names, id)
		delete(rt.traces, id)
		rt.mu.Unlock()
	}
}

func (rt *Runtime) ThreadID() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.tids[goid()]
}

func (rt *Runtime) ThreadName() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.names[goid()]
}

func (rt *Runtime) InstallTrace(fn interp.TraceFunc) interp.TraceFunc {
	id := goid()
	rt.mu.Lock()
	defer rt.mu.Unlock()
	old := rt.traces[id]
	if fn == nil {
		delete(rt.traces, id)
	} else {
		rt.traces[id] = fn
	}
	return old
}

func (rt *Runtime) currentTrace() interp.TraceFunc {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.traces[goid()]
}

func (rt *Runtime) InterceptSpawn(wrap interp.SpawnWrapper) func() {
	rt.mu.Lock()
	rt.spawn = wrap
	rt.mu.Unlock()
	return func() {
		rt.mu.Lock()
		rt.spawn = nil
		rt.mu.Unlock()
	}
}

// Intercepted reports whether a spawn wrapper is currently installed.
func (rt *Runtime) Intercepted() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.spawn != nil
}

func (rt *Runtime) SetStdout(w io.Writer) io.Writer {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	old := rt.stdout
	rt.stdout = w
	return old
}

func (rt *Runtime) SetStderr(w io.Writer) io.Writer {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	old := rt.stderr
	rt.stderr = w
	return old
}

// Stdout returns the currently installed stdout writer.
func (rt *Runtime) Stdout() io.Writer {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.stdout
}

func (rt *Runtime) AddModule(filename string) {
	rt.mu.Lock()
	rt.modules = append(rt.modules, interp.ModuleInfo{Filename: filename})
	rt.mu.Unlock()
}

func (rt *Runtime) Modules() []interp.ModuleInfo {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]interp.ModuleInfo(nil), rt.modules...)
}

// SetThreads scripts the pre-existing thread list reported at attach.
func (rt *Runtime) SetThreads(threads []interp.ThreadState) {
	rt.mu.Lock()
	rt.threads = threads
	rt.mu.Unlock()
}

func (rt *Runtime) Threads() []interp.ThreadState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]interp.ThreadState(nil), rt.threads...)
}

// OnExecFile scripts the body run for a launched file.
func (rt *Runtime) OnExecFile(fn func(file string) error) {
	rt.mu.Lock()
	rt.execFile = fn
	rt.mu.Unlock()
}

func (rt *Runtime) ExecFile(file string) error {
	rt.mu.Lock()
	fn := rt.execFile
	rt.mu.Unlock()
	if fn == nil {
		return errors.Errorf("interptest: no ExecFile script for %s", file)
	}
	return fn(file)
}

// Spawn starts a simulated interpreter thread, applying any intercepted
// spawn wrapper the way the real runtime would. The returned channel closes
// when the thread body finishes.
func (rt *Runtime) Spawn(tid int, name string, body func(st *Thread)) <-chan struct{} {
	done := make(chan struct{})

	rt.mu.Lock()
	wrap := rt.spawn
	rt.mu.Unlock()

	run := func() {
		body(&Thread{rt: rt})
	}
	if wrap != nil {
		run = wrap(run)
	}

	go func() {
		defer close(done)
		unbind := rt.Bind(tid, name)
		defer unbind()
		run()
	}()
	return done
}

// NewThread returns a simulated thread bound to the calling goroutine's
// identity; used when the thread body runs inline (e.g. a launched file)
// rather than through Spawn.
func (rt *Runtime) NewThread() *Thread {
	return &Thread{rt: rt}
}

// Thread replays the interpreter's trace dispatch for one simulated thread:
// the installed hook fires on call, and the per-frame hook it returns is
// kept for subsequent events of that frame.
type Thread struct {
	rt    *Runtime
	stack []frameTrace
}

type frameTrace struct {
	frame *Frame
	fn    interp.TraceFunc
}

// Call pushes a new frame, linking it under the current one if unlinked.
func (st *Thread) Call(f *Frame) {
	if f.back == nil && len(st.stack) > 0 {
		f.back = st.stack[len(st.stack)-1].frame
	}

	var local interp.TraceFunc
	if global := st.rt.currentTrace(); global != nil {
		local = global(f, interp.Event{Kind: interp.EventCall})
	}
	st.stack = append(st.stack, frameTrace{frame: f, fn: local})
}

// Line advances the top frame to a source line.
func (st *Thread) Line(line int) {
	top := &st.stack[len(st.stack)-1]
	top.frame.line = line
	if top.fn != nil {
		top.fn = top.fn(top.frame, interp.Event{Kind: interp.EventLine})
	}
}

// Return pops the top frame.
func (st *Thread) Return() {
	top := st.stack[len(st.stack)-1]
	if top.fn != nil {
		top.fn(top.frame, interp.Event{Kind: interp.EventReturn})
	}
	st.stack = st.stack[:len(st.stack)-1]
}

// Raise delivers an exception event on the top frame.
func (st *Thread) Raise(exc *Exception) {
	top := &st.stack[len(st.stack)-1]
	if top.fn != nil {
		top.fn = top.fn(top.frame, interp.Event{Kind: interp.EventException, Exc: exc})
	}
}

// Top returns the current top frame.
func (st *Thread) Top() *Frame {
	return st.stack[len(st.stack)-1].frame
}

// goid extracts the calling goroutine's id from the runtime stack header.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseInt(string(fields[1]), 10, 64)
	return id
}
