// Package frontend implements the front-end side of the debugger wire
// protocol: it decodes backend events and encodes the command set. The
// production front-end lives elsewhere; this package exists for the console
// tool and for end-to-end tests of the backend.
package frontend

import (
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/nanshuiyu/pytools/wire"
)

// Client is the front-end end of one debuggee connection.
type Client struct {
	conn net.Conn
	r    *wire.Reader

	mu sync.Mutex
	w  *wire.Writer

	// DebugID is the identity string the debuggee sent at handshake.
	DebugID string
}

// NewClient wraps an accepted debuggee connection and consumes the
// handshake.
func NewClient(conn net.Conn) (*Client, error) {
	c := &Client{
		conn: conn,
		r:    wire.NewReader(conn),
		w:    wire.NewWriter(conn),
	}

	id, _, err := c.r.ReadPrefixedString()
	if err != nil {
		return nil, errors.Wrap(err, "frontend: handshake")
	}
	c.DebugID = id
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Event is one decoded backend event.
type Event interface {
	eventTag() wire.Command
}

type NewThread struct{ TID int }
type ThreadExit struct{ TID int }
type ProcessExit struct{ Code int }
type StepDone struct{ TID int }
type AsyncBreak struct{ TID int }
type ProcessLoad struct{ TID int }
type BreakpointSet struct{ ID int }
type BreakpointFailed struct{ ID int }
type Detached struct{}

type ModuleLoad struct {
	ModuleID int
	Filename string
}

type BreakpointHit struct {
	ID  int
	TID int
}

type Exception struct {
	Name      string
	TID       int
	Traceback string
}

type ExecResult struct {
	EID   int
	Value wire.Object
}

type ExecError struct {
	EID  int
	Text string
}

type NamedObject struct {
	Name  string
	Value wire.Object
}

type Children struct {
	EID         int
	IsIndex     bool
	IsEnumerate bool
	Children    []NamedObject
}

type Output struct {
	TID  int
	Text string
}

type RequestHandlers struct {
	Filename string
}

type Variable struct {
	Name  string
	Value wire.Object
}

type Frame struct {
	FirstLine   int
	EndLine     int
	CurrentLine int
	Name        string
	Filename    string
	ArgCount    int
	Variables   []Variable
}

type ThreadFrames struct {
	TID    int
	Name   string
	Named  bool
	Frames []Frame
}

type SetLineResult struct {
	OK   bool
	TID  int
	Line int
}

func (NewThread) eventTag() wire.Command        { return wire.EvtNewThread }
func (ThreadExit) eventTag() wire.Command       { return wire.EvtThreadExit }
func (ProcessExit) eventTag() wire.Command      { return wire.EvtProcessExit }
func (StepDone) eventTag() wire.Command         { return wire.EvtStepDone }
func (AsyncBreak) eventTag() wire.Command       { return wire.EvtAsyncBreak }
func (ProcessLoad) eventTag() wire.Command      { return wire.EvtProcessLoad }
func (BreakpointSet) eventTag() wire.Command    { return wire.EvtBreakpointSet }
func (BreakpointFailed) eventTag() wire.Command { return wire.EvtBreakpointFailed }
func (Detached) eventTag() wire.Command         { return wire.EvtDetach }
func (ModuleLoad) eventTag() wire.Command       { return wire.EvtModuleLoad }
func (BreakpointHit) eventTag() wire.Command    { return wire.EvtBreakpointHit }
func (Exception) eventTag() wire.Command        { return wire.EvtException }
func (ExecResult) eventTag() wire.Command       { return wire.EvtExecResult }
func (ExecError) eventTag() wire.Command        { return wire.EvtExecError }
func (Children) eventTag() wire.Command         { return wire.EvtChildren }
func (Output) eventTag() wire.Command           { return wire.EvtOutput }
func (RequestHandlers) eventTag() wire.Command  { return wire.EvtRequestHandlers }
func (ThreadFrames) eventTag() wire.Command     { return wire.EvtThreadFrames }
func (SetLineResult) eventTag() wire.Command    { return wire.EvtSetLineno }

// ReadEvent decodes the next backend event.
func (c *Client) ReadEvent() (Event, error) {
	tag, err := c.r.ReadCommand()
	if err != nil {
		return nil, err
	}

	switch tag {
	case wire.EvtNewThread:
		tid, err := c.r.ReadInt()
		return NewThread{TID: tid}, err
	case wire.EvtThreadExit:
		tid, err := c.r.ReadInt()
		return ThreadExit{TID: tid}, err
	case wire.EvtProcessExit:
		code, err := c.r.ReadInt()
		return ProcessExit{Code: code}, err
	case wire.EvtStepDone:
		tid, err := c.r.ReadInt()
		return StepDone{TID: tid}, err
	case wire.EvtAsyncBreak:
		tid, err := c.r.ReadInt()
		return AsyncBreak{TID: tid}, err
	case wire.EvtProcessLoad:
		tid, err := c.r.ReadInt()
		return ProcessLoad{TID: tid}, err
	case wire.EvtBreakpointSet:
		id, err := c.r.ReadInt()
		return BreakpointSet{ID: id}, err
	case wire.EvtBreakpointFailed:
		id, err := c.r.ReadInt()
		return BreakpointFailed{ID: id}, err
	case wire.EvtDetach:
		return Detached{}, nil
	case wire.EvtModuleLoad:
		return c.readModuleLoad()
	case wire.EvtBreakpointHit:
		return c.readBreakpointHit()
	case wire.EvtException:
		return c.readException()
	case wire.EvtExecResult:
		return c.readExecResult()
	case wire.EvtExecError:
		return c.readExecError()
	case wire.EvtChildren:
		return c.readChildren()
	case wire.EvtOutput:
		return c.readOutput()
	case wire.EvtRequestHandlers:
		fname, _, err := c.r.ReadPrefixedString()
		return RequestHandlers{Filename: fname}, err
	case wire.EvtThreadFrames:
		return c.readThreadFrames()
	case wire.EvtSetLineno:
		return c.readSetLineResult()
	default:
		return nil, errors.Wrapf(wire.ErrProtocol, "frontend: unknown event %s", tag)
	}
}

func (c *Client) readModuleLoad() (Event, error) {
	id, err := c.r.ReadInt()
	if err != nil {
		return nil, err
	}
	fname, _, err := c.r.ReadPrefixedString()
	return ModuleLoad{ModuleID: id, Filename: fname}, err
}

func (c *Client) readBreakpointHit() (Event, error) {
	id, err := c.r.ReadInt()
	if err != nil {
		return nil, err
	}
	tid, err := c.r.ReadInt()
	return BreakpointHit{ID: id, TID: tid}, err
}

func (c *Client) readException() (Event, error) {
	name, _, err := c.r.ReadPrefixedString()
	if err != nil {
		return nil, err
	}
	tid, err := c.r.ReadInt()
	if err != nil {
		return nil, err
	}
	text, _, err := c.r.ReadPrefixedString()
	return Exception{Name: name, TID: tid, Traceback: text}, err
}

func (c *Client) readExecResult() (Event, error) {
	eid, err := c.r.ReadInt()
	if err != nil {
		return nil, err
	}
	obj, err := c.r.ReadObject()
	return ExecResult{EID: eid, Value: obj}, err
}

func (c *Client) readExecError() (Event, error) {
	eid, err := c.r.ReadInt()
	if err != nil {
		return nil, err
	}
	text, _, err := c.r.ReadPrefixedString()
	return ExecError{EID: eid, Text: text}, err
}

func (c *Client) readChildren() (Event, error) {
	ev := Children{}
	var err error
	if ev.EID, err = c.r.ReadInt(); err != nil {
		return nil, err
	}
	count, err := c.r.ReadInt()
	if err != nil {
		return nil, err
	}
	if ev.IsIndex, err = c.r.ReadBool(); err != nil {
		return nil, err
	}
	if ev.IsEnumerate, err = c.r.ReadBool(); err != nil {
		return nil, err
	}
	for i := 0; i < count; i++ {
		name, _, err := c.r.ReadPrefixedString()
		if err != nil {
			return nil, err
		}
		obj, err := c.r.ReadObject()
		if err != nil {
			return nil, err
		}
		ev.Children = append(ev.Children, NamedObject{Name: name, Value: obj})
	}
	return ev, nil
}

func (c *Client) readOutput() (Event, error) {
	tid, err := c.r.ReadInt()
	if err != nil {
		return nil, err
	}
	text, _, err := c.r.ReadPrefixedString()
	return Output{TID: tid, Text: text}, err
}

func (c *Client) readThreadFrames() (Event, error) {
	ev := ThreadFrames{}
	var err error
	if ev.TID, err = c.r.ReadInt(); err != nil {
		return nil, err
	}
	if ev.Name, ev.Named, err = c.r.ReadPrefixedString(); err != nil {
		return nil, err
	}

	count, err := c.r.ReadInt()
	if err != nil {
		return nil, err
	}
	for i := 0; i < count; i++ {
		f, err := c.readFrame()
		if err != nil {
			return nil, err
		}
		ev.Frames = append(ev.Frames, f)
	}
	return ev, nil
}

func (c *Client) readFrame() (Frame, error) {
	var f Frame
	var err error
	if f.FirstLine, err = c.r.ReadInt(); err != nil {
		return f, err
	}
	if f.EndLine, err = c.r.ReadInt(); err != nil {
		return f, err
	}
	if f.CurrentLine, err = c.r.ReadInt(); err != nil {
		return f, err
	}
	if f.Name, _, err = c.r.ReadPrefixedString(); err != nil {
		return f, err
	}
	if f.Filename, _, err = c.r.ReadPrefixedString(); err != nil {
		return f, err
	}
	if f.ArgCount, err = c.r.ReadInt(); err != nil {
		return f, err
	}

	count, err := c.r.ReadInt()
	if err != nil {
		return f, err
	}
	for i := 0; i < count; i++ {
		name, _, err := c.r.ReadPrefixedString()
		if err != nil {
			return f, err
		}
		obj, err := c.r.ReadObject()
		if err != nil {
			return f, err
		}
		f.Variables = append(f.Variables, Variable{Name: name, Value: obj})
	}
	return f, nil
}

func (c *Client) readSetLineResult() (Event, error) {
	ok, err := c.r.ReadBool()
	if err != nil {
		return nil, err
	}
	tid, err := c.r.ReadInt()
	if err != nil {
		return nil, err
	}
	line, err := c.r.ReadInt()
	return SetLineResult{OK: ok, TID: tid, Line: line}, err
}
