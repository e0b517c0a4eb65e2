package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/adaptivechat/internal/chat"
	"github.com/user/adaptivechat/internal/dispatch"
	"github.com/user/adaptivechat/internal/types"
)

var (
	chatThread  string
	chatProject string
)

func init() {
	chatCmd.Flags().StringVar(&chatThread, "thread", "", "resume an existing thread")
	chatCmd.Flags().StringVar(&chatProject, "project", "", "project of the resumed thread")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in the terminal",
	Long: `Chat in the terminal. Ctrl-C stops a running answer and exits when idle.
Commands: /new starts a new thread, /open <thread> [project] resumes one, /quit exits.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}

	rt.sessions.Start()
	defer rt.sessions.Stop()

	s := rt.newSession()
	defer s.Close()

	ctx := cmd.Context()
	if chatThread != "" {
		if err := s.Open(ctx, types.ProjectID(chatProject), types.ThreadID(chatThread)); err != nil {
			return fmt.Errorf("open thread: %w", err)
		}
		for _, m := range s.Snapshot().Messages {
			fmt.Printf("%s: %s\n", m.Role, m.Content)
		}
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	r := &repl{
		session:    s,
		out:        os.Stdout,
		lines:      readLines(os.Stdin),
		interrupts: interrupts,
	}
	return r.run(ctx)
}

// repl drives one chat session from line input.
type repl struct {
	session    *chat.Session
	out        io.Writer
	lines      <-chan string
	interrupts <-chan os.Signal
}

func (r *repl) run(ctx context.Context) error {
	for {
		fmt.Fprint(r.out, "> ")
		select {
		case <-r.interrupts:
			fmt.Fprintln(r.out)
			return nil
		case line, ok := <-r.lines:
			if !ok {
				fmt.Fprintln(r.out)
				return nil
			}
			quit, err := r.handle(ctx, strings.TrimSpace(line))
			if err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	switch {
	case line == "":
		return false, nil
	case line == "/quit":
		return true, nil
	case line == "/new":
		return false, r.session.Open(ctx, "", "")
	case strings.HasPrefix(line, "/open"):
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return false, errors.New("usage: /open <thread> [project]")
		}
		var project types.ProjectID
		if len(fields) > 2 {
			project = types.ProjectID(fields[2])
		}
		return false, r.session.Open(ctx, project, types.ThreadID(fields[1]))
	}
	return false, r.send(ctx, line)
}

// send submits text and renders the reply as it streams. Input lines are
// read only while a question is pending, and answer it.
func (r *repl) send(ctx context.Context, text string) error {
	done := make(chan error, 1)
	go func() { done <- r.session.SendMessage(ctx, text) }()

	var shown string
	var asked, answered *dispatch.Question
	var lines <-chan string
	for {
		select {
		case err := <-done:
			r.finish(shown)
			return err

		case <-r.session.Updates():
			snap := r.session.Snapshot()
			if rest, ok := strings.CutPrefix(snap.StreamContent, shown); ok && rest != "" {
				fmt.Fprint(r.out, rest)
				shown = snap.StreamContent
			}
			if q := snap.Question; q != nil && q != asked {
				fmt.Fprintf(r.out, "%s [%s/%s] ", q.Prompt, q.YesLabel, q.NoLabel)
			}
			asked = snap.Question
			lines = nil
			if asked != nil && asked != answered {
				lines = r.lines
			}

		case <-r.interrupts:
			r.session.StopAgent()

		case line, ok := <-lines:
			if !ok {
				lines = nil
				r.session.StopAgent()
				continue
			}
			if err := r.answer(asked, strings.TrimSpace(line)); err != nil {
				fmt.Fprintln(r.out, err)
				continue
			}
			answered, lines = asked, nil
		}
	}
}

func (r *repl) answer(q *dispatch.Question, line string) error {
	switch strings.ToLower(line) {
	case "y", "yes", strings.ToLower(q.YesLabel):
		return r.session.Confirm()
	case "n", "no", strings.ToLower(q.NoLabel):
		return r.session.Decline()
	}
	return fmt.Errorf("answer %s or %s", q.YesLabel, q.NoLabel)
}

// finish prints whatever part of the settled reply has not been shown.
func (r *repl) finish(shown string) {
	snap := r.session.Snapshot()
	var reply string
	if n := len(snap.Messages); n > 0 && snap.Messages[n-1].Role == types.RoleAssistant {
		reply = snap.Messages[n-1].Content
	}
	if rest, ok := strings.CutPrefix(reply, shown); ok {
		fmt.Fprint(r.out, rest)
	}
	switch snap.StreamError {
	case "":
	case dispatch.CancelledReason:
		fmt.Fprint(r.out, " (stopped)")
	default:
		fmt.Fprintf(r.out, "\n(error: %s)", snap.StreamError)
	}
	if reply != "" || snap.StreamError != "" {
		fmt.Fprintln(r.out)
	}
}

func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
