package debugger

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nanshuiyu/pytools/frontend"
	"github.com/nanshuiyu/pytools/interp"
	"github.com/nanshuiyu/pytools/interp/interptest"
)

const eventTimeout = 5 * time.Second

// debugEnv wires a debugger backend to an in-process front-end client over a
// loopback TCP connection, with every backend event drained into a channel.
type debugEnv struct {
	t      *testing.T
	rt     *interptest.Runtime
	dbg    *Debugger
	client *frontend.Client
	events chan frontend.Event
}

// listenFrontend starts a loopback listener standing in for the front-end.
func listenFrontend(t *testing.T) (net.Listener, int, <-chan *frontend.Client) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	clientCh := make(chan *frontend.Client, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		client, err := frontend.NewClient(conn)
		if err != nil {
			conn.Close()
			return
		}
		clientCh <- client
	}()
	return ln, ln.Addr().(*net.TCPAddr).Port, clientCh
}

func drainEvents(t *testing.T, client *frontend.Client) chan frontend.Event {
	t.Helper()

	events := make(chan frontend.Event, 256)
	go func() {
		for {
			ev, err := client.ReadEvent()
			if err != nil {
				return
			}
			events <- ev
		}
	}()
	return events
}

func newDebugEnv(t *testing.T) *debugEnv {
	t.Helper()

	rt := interptest.NewRuntime()
	_, port, clientCh := listenFrontend(t)

	dbg, err := connect(rt, Options{Port: port, DebugID: "test-session"})
	require.NoError(t, err)

	client := <-clientCh
	t.Cleanup(func() { client.Close() })
	require.Equal(t, "test-session", client.DebugID)

	return &debugEnv{
		t:      t,
		rt:     rt,
		dbg:    dbg,
		client: client,
		events: drainEvents(t, client),
	}
}

// await returns the next event of type T, collecting every other event seen
// on the way.
func await[T frontend.Event](e *debugEnv) (T, []frontend.Event) {
	e.t.Helper()

	var zero T
	var skipped []frontend.Event
	deadline := time.After(eventTimeout)
	for {
		select {
		case ev := <-e.events:
			if want, ok := ev.(T); ok {
				return want, skipped
			}
			skipped = append(skipped, ev)
		case <-deadline:
			e.t.Fatalf("timed out waiting for %T (skipped %d events: %#v)", zero, len(skipped), skipped)
			return zero, skipped
		}
	}
}

func awaitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for simulated thread to finish")
	}
}

func countEvents[T frontend.Event](events []frontend.Event) int {
	n := 0
	for _, ev := range events {
		if _, ok := ev.(T); ok {
			n++
		}
	}
	return n
}

// moduleCode builds a module-level code object for a script file.
func moduleCode(file string, first int, deltas ...int) *interptest.Code {
	return &interptest.Code{
		FuncName: "<module>",
		File:     file,
		First:    first,
		Deltas:   deltas,
	}
}

func funcCode(name, file string, first int, deltas ...int) *interptest.Code {
	return &interptest.Code{
		FuncName: name,
		File:     file,
		First:    first,
		Deltas:   deltas,
	}
}

var _ interp.Runtime = (*interptest.Runtime)(nil)
