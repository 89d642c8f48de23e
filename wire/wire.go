package wire

import (
	"bufio"
	"encoding/binary"
	"io"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Command is a fixed 4-byte ASCII tag, case-sensitive.
type Command [4]byte

func Cmd(s string) Command {
	if len(s) != 4 {
		panic("wire: command tag must be 4 bytes: " + s)
	}
	var c Command
	copy(c[:], s)
	return c
}

func (c Command) String() string {
	return string(c[:])
}

// Commands sent by the front-end to the debuggee.
var (
	CmdExit           = Cmd("exit")
	CmdStepInto       = Cmd("stpi")
	CmdStepOut        = Cmd("stpo")
	CmdStepOver       = Cmd("stpv")
	CmdSetBreakpoint  = Cmd("brkp")
	CmdSetCondition   = Cmd("brkc")
	CmdRemoveBP       = Cmd("brkr")
	CmdBreakAll       = Cmd("brka")
	CmdResumeAll      = Cmd("resa")
	CmdResumeThread   = Cmd("rest")
	CmdExecuteCode    = Cmd("exec")
	CmdEnumChildren   = Cmd("chld")
	CmdSetLineno      = Cmd("setl")
	CmdDetach         = Cmd("detc")
	CmdClearStepping  = Cmd("clst")
	CmdSetExcInfo     = Cmd("sexi")
	CmdSetExcHandlers = Cmd("sehi")
)

// Events sent by the debuggee to the front-end.
var (
	EvtAsyncBreak       = Cmd("ASBR")
	EvtSetLineno        = Cmd("SETL")
	EvtThreadFrames     = Cmd("THRF")
	EvtDetach           = Cmd("DETC")
	EvtNewThread        = Cmd("NEWT")
	EvtThreadExit       = Cmd("EXTT")
	EvtProcessExit      = Cmd("EXIT")
	EvtException        = Cmd("EXCP")
	EvtModuleLoad       = Cmd("MODL")
	EvtStepDone         = Cmd("STPD")
	EvtBreakpointSet    = Cmd("BRKS")
	EvtBreakpointFailed = Cmd("BRKF")
	EvtBreakpointHit    = Cmd("BRKH")
	EvtProcessLoad      = Cmd("LOAD")
	EvtExecError        = Cmd("EXCE")
	EvtExecResult       = Cmd("EXCR")
	EvtChildren         = Cmd("CHLD")
	EvtOutput           = Cmd("OUTP")
	EvtRequestHandlers  = Cmd("REQH")
)

// String prefixes. Strings written to the front-end carry one of these;
// strings read from the front-end are a bare length followed by UTF-8 bytes.
const (
	prefixNone    = 'N'
	prefixASCII   = 'A'
	prefixUnicode = 'U'
)

// maxStringLen bounds inbound string lengths. Anything larger is a framing
// error, not a plausible payload.
const maxStringLen = 1 << 24

// ErrProtocol reports a malformed or truncated inbound message. The command
// loop terminates on it; the debuggee keeps running without a front-end.
var ErrProtocol = errors.New("wire: protocol error")

// Object is the wire form of an evaluation result or variable value.
type Object struct {
	Repr       string
	Hex        string
	HasHex     bool
	TypeName   string
	Expandable bool
}

// Writer encodes the primitive wire types. It is not safe for concurrent
// use; Conn.Batch provides the exclusion.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) WriteCommand(c Command) error {
	if _, err := w.w.Write(c[:]); err != nil {
		return errors.Wrapf(err, "wire: write command %s", c)
	}
	return nil
}

func (w *Writer) WriteInt(v int) error {
	return w.WriteInt32(int32(v))
}

func (w *Writer) WriteInt32(v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	if _, err := w.w.Write(buf[:]); err != nil {
		return errors.Wrap(err, "wire: write int")
	}
	return nil
}

func (w *Writer) WriteBool(v bool) error {
	if v {
		return w.WriteInt32(1)
	}
	return w.WriteInt32(0)
}

// WriteString writes a prefixed string: 'A' when 7-bit clean, 'U' otherwise.
func (w *Writer) WriteString(s string) error {
	prefix := byte(prefixASCII)
	if !isASCII(s) {
		prefix = prefixUnicode
	}
	if _, err := w.w.Write([]byte{prefix}); err != nil {
		return errors.Wrap(err, "wire: write string prefix")
	}
	if err := w.WriteInt32(int32(len(s))); err != nil {
		return err
	}
	if _, err := io.WriteString(w.w, s); err != nil {
		return errors.Wrap(err, "wire: write string")
	}
	return nil
}

// WriteNullString writes the null string marker 'N'.
func (w *Writer) WriteNullString() error {
	if _, err := w.w.Write([]byte{prefixNone}); err != nil {
		return errors.Wrap(err, "wire: write null string")
	}
	return nil
}

// WriteRawString writes a bare length-prefixed string, the form the backend
// command loop reads. Used by front-end implementations.
func (w *Writer) WriteRawString(s string) error {
	if err := w.WriteInt32(int32(len(s))); err != nil {
		return err
	}
	if _, err := io.WriteString(w.w, s); err != nil {
		return errors.Wrap(err, "wire: write string")
	}
	return nil
}

func (w *Writer) WriteObject(o Object) error {
	if err := w.WriteString(o.Repr); err != nil {
		return err
	}
	if o.HasHex {
		if err := w.WriteString(o.Hex); err != nil {
			return err
		}
	} else if err := w.WriteNullString(); err != nil {
		return err
	}
	if err := w.WriteString(o.TypeName); err != nil {
		return err
	}
	return w.WriteBool(o.Expandable)
}

// Reader decodes the primitive wire types. Only one goroutine reads a
// connection.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

func (r *Reader) ReadCommand() (Command, error) {
	var c Command
	if _, err := io.ReadFull(r.r, c[:]); err != nil {
		return c, errors.Wrap(wrapRead(err), "wire: read command")
	}
	return c, nil
}

func (r *Reader) ReadInt() (int, error) {
	v, err := r.ReadInt32()
	return int(v), err
}

func (r *Reader) ReadInt32() (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, errors.Wrap(wrapRead(err), "wire: read int")
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadInt32()
	return v != 0, err
}

// ReadString reads a bare length-prefixed UTF-8 string, the form the
// front-end sends commands in.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n < 0 || n > maxStringLen {
		return "", errors.Wrapf(ErrProtocol, "wire: string length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return "", errors.Wrap(wrapRead(err), "wire: read string")
	}
	return string(buf), nil
}

// ReadPrefixedString reads an 'N'/'A'/'U' prefixed string, the form the
// backend emits. Used by front-end implementations. A null string reports
// ok=false.
func (r *Reader) ReadPrefixedString() (s string, ok bool, err error) {
	prefix, err := r.r.ReadByte()
	if err != nil {
		return "", false, errors.Wrap(wrapRead(err), "wire: read string prefix")
	}
	switch prefix {
	case prefixNone:
		return "", false, nil
	case prefixASCII, prefixUnicode:
		s, err := r.ReadString()
		return s, err == nil, err
	default:
		return "", false, errors.Wrapf(ErrProtocol, "wire: string prefix %q", prefix)
	}
}

// ReadObject reads a prefixed object descriptor. Used by front-end
// implementations.
func (r *Reader) ReadObject() (Object, error) {
	var o Object
	var err error
	if o.Repr, _, err = r.ReadPrefixedString(); err != nil {
		return o, err
	}
	if o.Hex, o.HasHex, err = r.ReadPrefixedString(); err != nil {
		return o, err
	}
	if o.TypeName, _, err = r.ReadPrefixedString(); err != nil {
		return o, err
	}
	o.Expandable, err = r.ReadBool()
	return o, err
}

// wrapRead folds unexpected stream ends into ErrProtocol so callers can
// distinguish framing faults from clean shutdown.
func wrapRead(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Wrap(ErrProtocol, err.Error())
	}
	return err
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
