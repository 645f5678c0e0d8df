package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"llamachat/internal/acquire"
	"llamachat/internal/httpapi"
	"llamachat/internal/session"
)

// Warmup parameters used by /bench without arguments.
const (
	chatBenchPP = 8
	chatBenchTG = 4
	chatBenchPL = 1
	chatBenchNR = 1
)

const chatHelp = `Type a message to chat. Commands:
  /models                 list models in the current source
  /load <name|number>     acquire and load a model
  /bench [pp tg pl nr]    benchmark the loaded model
  /cancel                 stop the running reply
  /clear                  clear the transcript
  /source [folder]        show or change the model source
  /quit                   unload and exit`

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive terminal chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			store, _, cat, err := a.openCatalog()
			if err != nil {
				return err
			}
			defer store.Close()
			eng, err := a.newEngine()
			if err != nil {
				return err
			}
			ctrl, err := a.newController(eng, nil)
			if err != nil {
				return err
			}
			r := newREPL(ctrl, cat, cmd.InOrStdin(), cmd.OutOrStdout(), a.log)
			return r.run(ctx)
		},
	}
}

// syncWriter serialises writes from the event renderer and the command loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type repl struct {
	ctrl   *session.Controller
	cat    httpapi.Catalog
	in     io.Reader
	out    io.Writer
	log    zerolog.Logger
	models []acquire.Descriptor
}

func newREPL(ctrl *session.Controller, cat httpapi.Catalog, in io.Reader, out io.Writer, log zerolog.Logger) *repl {
	return &repl{ctrl: ctrl, cat: cat, in: in, out: &syncWriter{w: out}, log: log}
}

// run renders session events, performs the startup scan and then reads
// commands until /quit, end of input or ctx is done. The session is torn
// down before run returns.
func (r *repl) run(ctx context.Context) error {
	events, unsubscribe := r.ctrl.Subscribe(256)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		r.render(events)
	}()
	defer func() {
		r.ctrl.Teardown()
		unsubscribe()
		<-rendered
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	next := func() (string, bool) {
		select {
		case <-ctx.Done():
			return "", false
		case l, ok := <-lines:
			return l, ok
		}
	}

	if !r.startup(next) {
		return nil
	}
	fmt.Fprintln(r.out, chatHelp)
	for {
		line, ok := next()
		if !ok {
			return nil
		}
		if quit := r.dispatch(ctx, strings.TrimSpace(line)); quit {
			return nil
		}
	}
}

// render prints system notes as they are appended and streams assistant
// replies fragment by fragment.
func (r *repl) render(events <-chan session.Event) {
	for e := range events {
		switch e.Name {
		case session.EventTurn:
			origin, _ := e.Fields["origin"].(string)
			switch origin {
			case session.OriginSystem.String():
				fmt.Fprintf(r.out, "* %v\n", e.Fields["text"])
			case session.OriginAssistant.String():
				fmt.Fprint(r.out, "assistant> ")
			}
		case session.EventFragment:
			fmt.Fprint(r.out, e.Fields["text"])
		case session.EventClosed:
			fmt.Fprintln(r.out)
		case session.EventCleared:
			fmt.Fprintln(r.out, "* transcript cleared")
		}
	}
}

// startup reports the saved source and asks for another one while it yields
// no models. It returns false when input ends first.
func (r *repl) startup(next func() (string, bool)) bool {
	if note := memoryNote(); note != "" {
		r.note(note)
	}
	r.note("Scanning for models...")
	src, err := r.cat.Source()
	if err != nil {
		r.note("Could not read saved source: " + err.Error())
	}
	if src != "" {
		ds, err := r.cat.Models()
		switch {
		case err != nil:
			r.note("Invalid folder: " + err.Error())
		case len(ds) == 0:
			r.note("No .gguf files found, please reselect folder")
		default:
			r.models = ds
			r.note(fmt.Sprintf("Using saved folder: %s", src))
			r.note(fmt.Sprintf("Found %d model(s)", len(ds)))
			r.listModels()
			return true
		}
	} else {
		r.note("Please enter the models folder")
	}
	for {
		fmt.Fprint(r.out, "models folder> ")
		line, ok := next()
		if !ok {
			return false
		}
		if !r.setSource(strings.TrimSpace(line)) {
			continue
		}
		r.listModels()
		return true
	}
}

// setSource persists src when it yields at least one model.
func (r *repl) setSource(src string) bool {
	if src == "" {
		return false
	}
	ds, err := r.cat.SetSource(src)
	if err != nil {
		r.note("Invalid folder: " + err.Error())
		return false
	}
	if len(ds) == 0 {
		r.note("No .gguf files found in folder")
		return false
	}
	r.models = ds
	r.note(fmt.Sprintf("Folder selected: %s", src))
	r.note(fmt.Sprintf("Found %d model(s)", len(ds)))
	return true
}

// note records text in the transcript, or prints it directly while a reply
// is streaming and the session refuses notes.
func (r *repl) note(text string) {
	if err := r.ctrl.Note(text); err != nil {
		fmt.Fprintf(r.out, "* %s\n", text)
	}
}

func (r *repl) listModels() {
	for i, d := range r.models {
		mark := ""
		if d.LocalPath != "" && d.LocalPath == r.ctrl.Snapshot().ModelPath {
			mark = " (loaded)"
		}
		fmt.Fprintf(r.out, "  [%d] %s%s\n", i+1, d.Name, mark)
	}
}

// dispatch runs one input line. It reports whether the REPL should exit.
func (r *repl) dispatch(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.report(r.ctrl.Submit(line))
		return false
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/models":
		if ds, err := r.cat.Models(); err != nil {
			r.fail(err)
		} else {
			r.models = ds
			r.listModels()
		}
	case "/load":
		if len(fields) < 2 {
			fmt.Fprintln(r.out, "usage: /load <name|number>")
			return false
		}
		d, err := r.pick(strings.Join(fields[1:], " "))
		if err != nil {
			r.fail(err)
			return false
		}
		r.report(r.ctrl.Load(ctx, d))
	case "/bench":
		pp, tg, pl, nr, err := parseBenchArgs(fields[1:])
		if err != nil {
			r.fail(err)
			return false
		}
		r.report(r.ctrl.Bench(ctx, pp, tg, pl, nr))
	case "/cancel":
		if !r.ctrl.Cancel() {
			fmt.Fprintln(r.out, "nothing to cancel")
		}
	case "/clear":
		r.report(r.ctrl.Clear())
	case "/source":
		if len(fields) == 1 {
			src, err := r.cat.Source()
			if err != nil {
				r.fail(err)
				return false
			}
			fmt.Fprintln(r.out, src)
			return false
		}
		if r.setSource(strings.Join(fields[1:], " ")) {
			r.listModels()
		}
	default:
		fmt.Fprintf(r.out, "unknown command %s (try /help)\n", fields[0])
	}
	return false
}

// pick resolves a model by list number or name.
func (r *repl) pick(arg string) (acquire.Descriptor, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(r.models) {
			return acquire.Descriptor{}, fmt.Errorf("no model number %d", n)
		}
		return r.models[n-1], nil
	}
	return r.cat.Lookup(arg)
}

// report prints session errors that were rejected rather than recorded.
// Acquisition, engine and benchmark failures already appear in the
// transcript as system turns.
func (r *repl) report(err error) {
	switch {
	case err == nil:
	case session.IsBusy(err), session.IsNotReady(err), errors.Is(err, context.Canceled):
		fmt.Fprintln(r.out, "error:", err)
	default:
		r.log.Debug().Err(err).Msg("session error")
	}
}

// fail prints errors from outside the session, such as catalog lookups.
func (r *repl) fail(err error) {
	fmt.Fprintln(r.out, "error:", err)
}

// parseBenchArgs reads up to four positive integers; missing ones default to
// the warmup parameters.
func parseBenchArgs(args []string) (pp, tg, pl, nr int, err error) {
	vals := []int{chatBenchPP, chatBenchTG, chatBenchPL, chatBenchNR}
	if len(args) > len(vals) {
		return 0, 0, 0, 0, fmt.Errorf("usage: /bench [pp tg pl nr]")
	}
	for i, a := range args {
		n, convErr := strconv.Atoi(a)
		if convErr != nil || n <= 0 {
			return 0, 0, 0, 0, fmt.Errorf("invalid bench argument %q", a)
		}
		vals[i] = n
	}
	return vals[0], vals[1], vals[2], vals[3], nil
}
