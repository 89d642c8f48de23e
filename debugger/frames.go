package debugger

import "github.com/nanshuiyu/pytools/wire"

type varInfo struct {
	name string
	obj  wire.Object
}

// frameInfo is one stack frame prepared for the wire: line extents, identity,
// and the variable snapshot.
type frameInfo struct {
	firstLine int
	endLine   int
	curLine   int
	name      string
	filename  string
	argCount  int
	vars      []varInfo
}

// frameList walks the thread's stack outward collecting user frames. The end
// line is reconstructed by summing the code's line-table deltas onto the
// first line.
func (t *thread) frameList() []frameInfo {
	var frames []frameInfo
	for cur := t.curFrame; cur != nil; cur = cur.Back() {
		code := cur.Code()

		endLine := code.FirstLine()
		for _, delta := range code.LineDeltas() {
			endLine += delta
		}

		// At module scope locals and globals are one mapping, so the global
		// names are the variable list; otherwise the code object declares it.
		var names []string
		if cur.ModuleScope() {
			names = cur.GlobalNames()
		} else {
			names = code.VarNames()
		}

		vars := make([]varInfo, 0, len(names))
		for _, name := range names {
			v, ok := cur.Var(name)
			if !ok {
				vars = append(vars, varInfo{name: name, obj: wire.Object{Repr: "<undefined>", TypeName: "str"}})
				continue
			}
			vars = append(vars, varInfo{name: name, obj: describeValue(v)})
		}

		frames = append(frames, frameInfo{
			firstLine: code.FirstLine(),
			endLine:   endLine,
			curLine:   cur.Line(),
			name:      code.Name(),
			filename:  canonicalPath(code.Filename()),
			argCount:  code.ArgCount(),
			vars:      vars,
		})
	}
	return frames
}

// sendFramesLocally snapshots and sends this thread's own stack; runs on the
// thread itself so the name and variable reads see its context.
func (t *thread) sendFramesLocally() {
	name := t.dbg.rt.ThreadName()
	t.dbg.sendFrameListNamed(t.id, name, name != "", t.frameList())
}
