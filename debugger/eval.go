package debugger

import (
	"strconv"

	"github.com/nanshuiyu/pytools/interp"
)

// maxChildren caps one enumeration reply; past it a marker child is appended
// and the walk stops.
const maxChildren = 10000

const evalBusyError = "<error: previous evaluation has not completed>"

// runOnThread schedules an expression evaluation on the parked thread's own
// stack so scope lookups resolve in that thread's context. A thread already
// running scheduled work reports busy instead of queueing.
func (t *thread) runOnThread(text string, frame interp.Frame, eid int) {
	if t.working.Load() {
		t.dbg.reportExecutionError(evalBusyError, eid)
		return
	}
	t.scheduleWork(func() {
		t.runLocally(text, frame, eid)
	})
}

func (t *thread) runLocally(text string, frame interp.Frame, eid int) {
	res, err := frame.Eval(text)
	if err != nil {
		t.dbg.reportExecutionError(err.Error(), eid)
		return
	}
	t.dbg.reportExecutionResult(eid, res)
}

func (t *thread) enumChildOnThread(text string, frame interp.Frame, eid int, childIsEnumerate bool) {
	if t.working.Load() {
		t.dbg.reportChildren(eid, nil, false, false)
		return
	}
	t.scheduleWork(func() {
		t.enumChildLocally(text, frame, eid, childIsEnumerate)
	})
}

// enumChildLocally evaluates text and enumerates the result's children.
// Dict-like values list their items, indexable values enumerate with an
// identity probe to distinguish true indexing from enumerate-only access,
// and everything else lists its non-callable, non-dunder attributes.
func (t *thread) enumChildLocally(text string, frame interp.Frame, eid int, childIsEnumerate bool) {
	var enumerateIndex int
	if childIsEnumerate {
		text, enumerateIndex = stripIndex(text)
	}

	res, err := frame.Eval(text)
	if err != nil {
		t.dbg.reportChildren(eid, nil, false, false)
		return
	}

	if childIsEnumerate {
		found := false
		if it, ok := res.(interp.Iterable); ok {
			if iter, err := it.Iterate(); err == nil {
				for i := 0; ; i++ {
					v, ok := iter.Next()
					if !ok {
						break
					}
					if i == enumerateIndex {
						res, found = v, true
						break
					}
				}
			}
		}
		if !found {
			// The value changed shape under us.
			t.dbg.reportChildren(eid, nil, false, false)
			return
		}
	}

	children, isIndex, isEnumerate := enumChildren(res)
	t.dbg.reportChildren(eid, children, isIndex, isEnumerate)
}

func enumChildren(res interp.Value) (children []childEntry, isIndex, isEnumerate bool) {
	if res.Kind() != interp.KindGenerator {
		if m, ok := res.(interp.Mapping); ok {
			if items, err := m.Items(); err == nil {
				for _, entry := range items {
					if len(children) >= maxChildren {
						children = append(children, truncationMarker())
						break
					}
					children = append(children, childEntry{
						name: "[" + safeRepr(entry.Key) + "]",
						obj:  describeValue(entry.Value),
					})
				}
				return children, true, false
			}
		}

		if it, ok := res.(interp.Iterable); ok {
			if children, isEnumerate, err := enumSequence(res, it); err == nil {
				return children, true, isEnumerate
			}
		}
	}

	// Non-enumerable: fall back to attributes, filtering callables and
	// dunder names.
	if obj, ok := res.(interp.Object); ok {
		for _, name := range obj.AttrNames() {
			if isDunder(name) {
				continue
			}
			item, err := obj.Attr(name)
			if err != nil || item.Callable() {
				continue
			}
			children = append(children, childEntry{name: name, obj: describeValue(item)})
		}
	}
	return children, false, false
}

// enumSequence walks an iterable, probing indexed access on each element: if
// indexing fails or yields a different object, values can only come back out
// through enumeration.
func enumSequence(res interp.Value, it interp.Iterable) (children []childEntry, isEnumerate bool, err error) {
	iter, err := it.Iterate()
	if err != nil {
		return nil, false, err
	}

	seq, indexable := res.(interp.Sequence)
	for i := 0; ; i++ {
		item, ok := iter.Next()
		if !ok {
			break
		}
		if len(children) >= maxChildren {
			children = append(children, truncationMarker())
			break
		}

		children = append(children, childEntry{
			name: "[" + strconv.Itoa(i) + "]",
			obj:  describeValue(item),
		})

		if !isEnumerate {
			if !indexable {
				isEnumerate = true
			} else if fetched, err := seq.Index(i); err != nil || !fetched.Identical(item) {
				isEnumerate = true
			}
		}
	}
	return children, isEnumerate, nil
}

func truncationMarker() childEntry {
	return childEntry{
		name: "[...]",
		obj:  wireString("Evaluation halted because sequence included too many items..."),
	}
}

func isDunder(name string) bool {
	return len(name) >= 4 && name[:2] == "__" && name[len(name)-2:] == "__"
}

// stripIndex removes a trailing [n] from an enumeration expression, returning
// the base expression and the index.
func stripIndex(text string) (string, int) {
	index := 0
	scale := 1
	for i := len(text) - 1; i >= 0; i-- {
		c := text[i]
		switch {
		case c >= '0' && c <= '9':
			index += scale * int(c-'0')
			scale *= 10
		case c == '[':
			return text[:i], index
		}
	}
	return text, index
}
