package commands

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/shlex"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nanshuiyu/pytools/frontend"
)

type serveOptions struct {
	port       int
	exceptions string
}

func serveCmd() *cobra.Command {
	var options serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for a debuggee connection and drive it interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(options)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&options.port, "port", "p", 8765, "port to listen on")
	flags.StringVar(&options.exceptions, "exceptions", "", "TOML file with default exception break modes")

	return cmd
}

// exceptionConfig is the TOML shape of the initial exception policy, e.g.
//
//	default_mode = "unhandled"
//	[break_on]
//	"builtins.ValueError" = "always"
type exceptionConfig struct {
	DefaultMode string            `toml:"default_mode"`
	BreakOn     map[string]string `toml:"break_on"`
}

var breakModes = map[string]int{
	"never":     0,
	"always":    1,
	"unhandled": 32,
}

func loadExceptionConfig(path string) (int, []frontend.ExceptionMode, error) {
	dt, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, errors.Wrap(err, "reading exception config")
	}

	var cfg exceptionConfig
	if err := toml.Unmarshal(dt, &cfg); err != nil {
		return 0, nil, errors.Wrap(err, "parsing exception config")
	}

	defaultMode, ok := breakModes[cfg.DefaultMode]
	if !ok {
		return 0, nil, errors.Errorf("unknown default_mode %q", cfg.DefaultMode)
	}

	var entries []frontend.ExceptionMode
	for name, mode := range cfg.BreakOn {
		m, ok := breakModes[mode]
		if !ok {
			return 0, nil, errors.Errorf("unknown break mode %q for %s", mode, name)
		}
		entries = append(entries, frontend.ExceptionMode{Mode: m, Name: name})
	}
	return defaultMode, entries, nil
}

func runServe(options serveOptions) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", options.port))
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	defer ln.Close()

	fmt.Printf("waiting for debuggee on %s\n", ln.Addr())
	conn, err := ln.Accept()
	if err != nil {
		return errors.Wrap(err, "accept")
	}

	client, err := frontend.NewClient(conn)
	if err != nil {
		return err
	}
	defer client.Close()
	fmt.Printf("attached: %s\n", client.DebugID)

	if options.exceptions != "" {
		defaultMode, entries, err := loadExceptionConfig(options.exceptions)
		if err != nil {
			return err
		}
		if err := client.SetExceptionInfo(defaultMode, entries); err != nil {
			return err
		}
	}

	eg := &errgroup.Group{}
	eg.Go(func() error {
		return eventLoop(client)
	})
	eg.Go(func() error {
		return replLoop(client)
	})
	return eg.Wait()
}

// eventLoop prints decoded events until the debuggee goes away. Handler
// requests are answered with an empty table: without static analysis of the
// debuggee source, every exception counts as unhandled.
func eventLoop(client *frontend.Client) error {
	for {
		ev, err := client.ReadEvent()
		if err != nil {
			logrus.WithError(err).Debug("event loop stopped")
			return nil
		}
		logrus.Debug(spew.Sdump(ev))

		switch ev := ev.(type) {
		case frontend.NewThread:
			fmt.Printf("thread %d started\n", ev.TID)
		case frontend.ThreadExit:
			fmt.Printf("thread %d exited\n", ev.TID)
		case frontend.ProcessExit:
			fmt.Printf("process exited with code %d\n", ev.Code)
			client.Exit()
			return nil
		case frontend.ProcessLoad:
			fmt.Printf("process loaded, thread %d paused\n", ev.TID)
		case frontend.ModuleLoad:
			fmt.Printf("module %d loaded: %s\n", ev.ModuleID, ev.Filename)
		case frontend.StepDone:
			fmt.Printf("thread %d finished step\n", ev.TID)
		case frontend.AsyncBreak:
			fmt.Printf("break-all completed by thread %d\n", ev.TID)
		case frontend.BreakpointSet:
			fmt.Printf("breakpoint %d bound\n", ev.ID)
		case frontend.BreakpointFailed:
			fmt.Printf("breakpoint %d pending (no matching module)\n", ev.ID)
		case frontend.BreakpointHit:
			fmt.Printf("thread %d hit breakpoint %d\n", ev.TID, ev.ID)
		case frontend.Exception:
			fmt.Printf("thread %d raised %s\n%s\n", ev.TID, ev.Name, ev.Traceback)
		case frontend.Output:
			fmt.Print(ev.Text)
		case frontend.ExecResult:
			fmt.Printf("[%d] = %s (%s)\n", ev.EID, ev.Value.Repr, ev.Value.TypeName)
		case frontend.ExecError:
			fmt.Printf("[%d] error: %s\n", ev.EID, ev.Text)
		case frontend.Children:
			for _, c := range ev.Children {
				fmt.Printf("  %s = %s\n", c.Name, c.Value.Repr)
			}
		case frontend.ThreadFrames:
			fmt.Printf("thread %d stack:\n", ev.TID)
			for _, f := range ev.Frames {
				fmt.Printf("  %s (%s:%d)\n", f.Name, f.Filename, f.CurrentLine)
			}
		case frontend.RequestHandlers:
			client.SetExceptionHandlers(ev.Filename, nil)
		case frontend.Detached:
			fmt.Println("debuggee detached")
			return nil
		}
	}
}

func replLoop(client *frontend.Client) error {
	nextBreakpointID := 1
	nextExecutionID := 1

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		args, err := shlex.Split(sc.Text())
		if err != nil || len(args) == 0 {
			continue
		}

		if err := dispatch(client, args, &nextBreakpointID, &nextExecutionID); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
	return sc.Err()
}

func dispatch(client *frontend.Client, args []string, nextBP, nextEID *int) error {
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}

	switch cmd := args[0]; cmd {
	case "c", "continue":
		return client.ResumeAll()
	case "ba", "break-all":
		return client.BreakAll()
	case "b", "break":
		if len(args) < 3 {
			return errors.New("usage: break <file> <line> [condition]")
		}
		condition := ""
		if len(args) > 3 {
			condition = args[3]
		}
		id := *nextBP
		*nextBP++
		return client.SetBreakpoint(id, atoi(args[2]), args[1], condition, false)
	case "clear":
		if len(args) < 3 {
			return errors.New("usage: clear <line> <id>")
		}
		return client.RemoveBreakpoint(atoi(args[1]), atoi(args[2]))
	case "n", "next":
		if len(args) < 2 {
			return errors.New("usage: next <tid>")
		}
		return client.StepOver(atoi(args[1]))
	case "s", "step":
		if len(args) < 2 {
			return errors.New("usage: step <tid>")
		}
		return client.StepInto(atoi(args[1]))
	case "o", "out":
		if len(args) < 2 {
			return errors.New("usage: out <tid>")
		}
		return client.StepOut(atoi(args[1]))
	case "r", "resume":
		if len(args) < 2 {
			return errors.New("usage: resume <tid>")
		}
		return client.ResumeThread(atoi(args[1]))
	case "e", "exec":
		if len(args) < 3 {
			return errors.New("usage: exec <tid> <expr>")
		}
		eid := *nextEID
		*nextEID++
		return client.ExecuteCode(args[2], atoi(args[1]), 0, eid)
	case "ls", "children":
		if len(args) < 3 {
			return errors.New("usage: children <tid> <expr>")
		}
		eid := *nextEID
		*nextEID++
		return client.EnumChildren(args[2], atoi(args[1]), 0, eid, false)
	case "jump":
		if len(args) < 3 {
			return errors.New("usage: jump <tid> <line>")
		}
		return client.SetLineno(atoi(args[1]), 0, atoi(args[2]))
	case "detach":
		return client.Detach()
	default:
		return errors.Errorf("unknown command %q", cmd)
	}
}
