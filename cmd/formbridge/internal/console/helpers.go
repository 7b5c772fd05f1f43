package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/tinyland-inc/formbridge/cmd/formbridge/internal"
	"github.com/tinyland-inc/formbridge/pkg/contentview"
	"github.com/tinyland-inc/formbridge/pkg/protocol"
	"github.com/tinyland-inc/formbridge/pkg/transport"
)

const helpText = `Commands:
  init [session-id] [locale]   send INIT from the simulated host
  state                        show lifecycle state and resolver mode
  lookup <query>               autocomplete through the bridge
  resolve <place-id|#n>        resolve a candidate (n from the last lookup)
  page <n> <total> [name]      report a page change
  set <name> <value>           record an answer
  save                         send SAVE_PROGRESS now
  complete                     submit the recorded answers
  silent on|off                stop or resume host replies
  exit                         quit`

func consoleCmd(debug bool, pages int) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	closeLog, err := internal.SetupLogging(cfg, debug)
	if err != nil {
		return err
	}
	defer closeLog()

	out := &lockedWriter{w: os.Stdout}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipe, end := transport.NewPipe(protocol.InboundNamespace())
	host := newSimHost(end, internal.NewProvider(cfg), out)
	go host.serve(ctx)

	view, err := internal.NewView(cfg, pipe, internal.StaticForm(pages))
	if err != nil {
		pipe.Close()
		return fmt.Errorf("error creating content view: %w", err)
	}
	defer view.Close()
	go view.RunAutosave(ctx)

	s := &session{view: view, host: host, out: out}
	view.Start(ctx)

	fmt.Fprintf(out, "%s formbridge console (type 'help', Ctrl+C to exit)\n\n", internal.Logo)
	interactiveMode(ctx, s)
	return nil
}

func interactiveMode(ctx context.Context, s *session) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "bridge> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".formbridge_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(s.out, "Error initializing readline: %v\n", err)
		fmt.Fprintln(s.out, "Falling back to simple input mode...")
		simpleInteractiveMode(ctx, s, os.Stdin)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(s.out, "Error reading input: %v\n", err)
			continue
		}
		if s.handle(ctx, line) {
			return
		}
	}
}

func simpleInteractiveMode(ctx context.Context, s *session, in io.Reader) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(s.out, "bridge> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(s.out, "Error reading input: %v\n", err)
			continue
		}
		if s.handle(ctx, line) {
			return
		}
	}
}

// session executes console commands against one content view.
type session struct {
	view *contentview.View
	host *simHost
	out  io.Writer

	lastCandidates []string
}

// handle runs one command line and reports whether the console should
// exit.
func (s *session) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "exit", "quit":
		fmt.Fprintln(s.out, "Goodbye!")
		return true
	case "help", "?":
		fmt.Fprintln(s.out, helpText)
	case "init":
		s.init(ctx, args)
	case "state":
		fmt.Fprintf(s.out, "state=%s mode=%s pending=%d\n",
			s.view.State(), s.view.Resolver().RefreshMode(), s.view.PendingRequests())
	case "lookup":
		s.lookup(ctx, strings.Join(args, " "))
	case "resolve":
		s.resolve(ctx, args)
	case "page":
		s.page(args)
	case "set":
		if len(args) < 2 {
			fmt.Fprintln(s.out, "usage: set <name> <value>")
			return false
		}
		s.view.ValueChanged(args[0], parseValue(strings.Join(args[1:], " ")), "")
	case "save":
		s.view.SaveProgress()
	case "complete":
		payload, err := s.view.Complete(ctx, nil)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintf(s.out, "completed with %d answer(s) in %dms\n", len(payload.Answers), payload.Duration)
	case "silent":
		on := len(args) == 0 || args[0] == "on"
		s.host.setSilent(on)
		if on {
			fmt.Fprintln(s.out, "host replies off")
		} else {
			fmt.Fprintln(s.out, "host replies on")
		}
	default:
		fmt.Fprintf(s.out, "unknown command %q (try 'help')\n", cmd)
	}
	return false
}

func (s *session) init(ctx context.Context, args []string) {
	cfg := protocol.RuntimeConfig{SessionID: uuid.NewString(), Locale: "en"}
	if len(args) > 0 {
		cfg.SessionID = args[0]
	}
	if len(args) > 1 {
		cfg.Locale = args[1]
	}
	if err := s.host.init(ctx, cfg); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
}

func (s *session) lookup(ctx context.Context, query string) {
	candidates, err := s.view.Lookup(ctx, query)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	s.lastCandidates = s.lastCandidates[:0]
	for i, c := range candidates {
		s.lastCandidates = append(s.lastCandidates, c.PlaceID)
		fmt.Fprintf(s.out, "  #%d %s  [%s]\n", i+1, c.Description, c.PlaceID)
	}
	if len(candidates) == 0 {
		fmt.Fprintln(s.out, "  no candidates")
	}
}

func (s *session) resolve(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "usage: resolve <place-id|#n>")
		return
	}
	id := args[0]
	if n, err := strconv.Atoi(strings.TrimPrefix(id, "#")); err == nil && strings.HasPrefix(id, "#") {
		if n < 1 || n > len(s.lastCandidates) {
			fmt.Fprintf(s.out, "no candidate %s\n", id)
			return
		}
		id = s.lastCandidates[n-1]
	}

	details, err := s.view.Resolve(ctx, id)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	a := details.Address()
	fmt.Fprintf(s.out, "  %s\n  %s %s, %s, %s %s, %s\n",
		details.FormattedAddress, a.StreetNumber, a.Route, a.Locality, a.Region, a.PostalCode, a.CountryCode)
}

func (s *session) page(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.out, "usage: page <n> <total> [name]")
		return
	}
	n, err1 := strconv.Atoi(args[0])
	total, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		fmt.Fprintln(s.out, "page numbers must be integers")
		return
	}
	name := ""
	if len(args) > 2 {
		name = strings.Join(args[2:], " ")
	}
	s.view.PageChanged(n, total, name)
}

// parseValue keeps numbers and booleans typed so answers serialize the
// way a form would send them.
func parseValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
