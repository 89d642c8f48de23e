package debugger

import (
	"sync"

	"github.com/nanshuiyu/pytools/interp"
)

// conditionInfo is the optional condition attached to a breakpoint. lastValue
// feeds break-when-changed comparisons; the evaluated flag stands in for the
// original's "never evaluated" sentinel so the first hit always breaks.
type conditionInfo struct {
	condition        string
	breakWhenChanged bool

	mu        sync.Mutex
	lastValue interp.Value
	evaluated bool
}

// shouldBreak evaluates the condition in the frame's scopes. A failing
// evaluation breaks: a condition the user got wrong is more interesting
// stopped than skipped.
func (c *conditionInfo) shouldBreak(f interp.Frame) bool {
	res, err := f.Eval(c.condition)
	if err != nil {
		return true
	}

	if !c.breakWhenChanged {
		return res.Truthy()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	changed := !c.evaluated || !res.Equal(c.lastValue)
	c.lastValue = res
	c.evaluated = true
	return changed
}

type bpKey struct {
	filename string
	id       int
}

// pendingBreakpoint is a breakpoint whose file matched no loaded module yet.
// It binds when a matching module load is observed.
type pendingBreakpoint struct {
	id               int
	line             int
	filename         string
	condition        string
	breakWhenChanged bool
}

// breakpointTable indexes bound breakpoints by line for hot-path matching.
// The command loop is the only writer apart from pending binds on module
// load; traced threads read under the shared lock.
type breakpointTable struct {
	mu      sync.RWMutex
	byLine  map[int]map[bpKey]*conditionInfo
	pending map[int]*pendingBreakpoint

	canon sync.Map // raw code filename -> canonical path
}

func newBreakpointTable() *breakpointTable {
	return &breakpointTable{
		byLine:  make(map[int]map[bpKey]*conditionInfo),
		pending: make(map[int]*pendingBreakpoint),
	}
}

func (b *breakpointTable) canonical(name string) string {
	if v, ok := b.canon.Load(name); ok {
		return v.(string)
	}
	c := canonicalPath(name)
	b.canon.Store(name, c)
	return c
}

// match probes the executing line for a breakpoint on the frame's file.
func (b *breakpointTable) match(f interp.Frame) (id int, cond *conditionInfo, ok bool) {
	b.mu.RLock()
	bucket := b.byLine[f.Line()]
	if len(bucket) == 0 {
		b.mu.RUnlock()
		return 0, nil, false
	}

	fname := b.canonical(f.Code().Filename())
	for k, c := range bucket {
		if k.filename == fname {
			b.mu.RUnlock()
			return k.id, c, true
		}
	}
	b.mu.RUnlock()
	return 0, nil, false
}

func (b *breakpointTable) add(filename string, line, id int, condition string, breakWhenChanged bool) {
	var cond *conditionInfo
	if condition != "" {
		cond = &conditionInfo{condition: condition, breakWhenChanged: breakWhenChanged}
	}

	b.mu.Lock()
	bucket := b.byLine[line]
	if bucket == nil {
		bucket = make(map[bpKey]*conditionInfo)
		b.byLine[line] = bucket
	}
	bucket[bpKey{filename: b.canonical(filename), id: id}] = cond
	b.mu.Unlock()
}

// tryBind binds a breakpoint request against one loaded module, reporting
// success to the front-end when the file matches.
func (b *breakpointTable) tryBind(d *Debugger, entry moduleEntry, id, line int, filename, condition string, breakWhenChanged bool) bool {
	if entry.mod.Filename != b.canonical(filename) {
		return false
	}
	b.add(entry.codeFilename, line, id, condition, breakWhenChanged)
	d.reportBreakpointBound(id)
	return true
}

// set handles a front-end breakpoint request: bind against a loaded module
// if one matches, otherwise keep it hot anyway under the requested filename,
// remember it as pending, and report the bind failure.
func (b *breakpointTable) set(d *Debugger, id, line int, filename, condition string, breakWhenChanged bool) {
	for _, entry := range d.modules.snapshot() {
		if b.tryBind(d, entry, id, line, filename, condition, breakWhenChanged) {
			return
		}
	}

	b.add(filename, line, id, condition, breakWhenChanged)
	b.mu.Lock()
	b.pending[id] = &pendingBreakpoint{
		id:               id,
		line:             line,
		filename:         filename,
		condition:        condition,
		breakWhenChanged: breakWhenChanged,
	}
	b.mu.Unlock()
	d.reportBreakpointFailed(id)
}

// bindPending drains pending breakpoints that match a freshly loaded module.
func (b *breakpointTable) bindPending(d *Debugger, codeFilename string, mod *Module) {
	b.mu.Lock()
	var candidates []*pendingBreakpoint
	for _, p := range b.pending {
		candidates = append(candidates, p)
	}
	b.mu.Unlock()

	entry := moduleEntry{codeFilename: codeFilename, mod: mod}
	for _, p := range candidates {
		if b.tryBind(d, entry, p.id, p.line, p.filename, p.condition, p.breakWhenChanged) {
			b.mu.Lock()
			delete(b.pending, p.id)
			b.mu.Unlock()
		}
	}
}

// setCondition replaces the condition of an existing breakpoint by id.
func (b *breakpointTable) setCondition(id int, condition string, breakWhenChanged bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, bucket := range b.byLine {
		for k := range bucket {
			if k.id == id {
				var cond *conditionInfo
				if condition != "" {
					cond = &conditionInfo{condition: condition, breakWhenChanged: breakWhenChanged}
				}
				bucket[k] = cond
				return
			}
		}
	}
}

// remove deletes a breakpoint; empty line buckets are dropped so the hot
// path stays a single map probe.
func (b *breakpointTable) remove(line, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bucket := b.byLine[line]
	for k := range bucket {
		if k.id == id {
			delete(bucket, k)
			if len(bucket) == 0 {
				delete(b.byLine, line)
			}
			return
		}
	}
}

// clear drops every bound breakpoint. Pending entries go too; a detached
// debugger has no front-end left to bind them for.
func (b *breakpointTable) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byLine = make(map[int]map[bpKey]*conditionInfo)
	b.pending = make(map[int]*pendingBreakpoint)
}
