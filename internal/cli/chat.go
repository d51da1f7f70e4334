package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/soyeahso/wayfarer/internal/api"
	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/soyeahso/wayfarer/internal/conversation"
	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/hooks"
	"github.com/soyeahso/wayfarer/internal/protocol"
	"github.com/soyeahso/wayfarer/internal/socket"
	"github.com/soyeahso/wayfarer/internal/stream"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var (
		userID       string
		sessionID    string
		firstMessage string
	)

	cmd := &cobra.Command{
		Use:   "chat <profiling|brainstorm|planning>",
		Short: "Run an interactive chat session",
		Long: `Starts a realtime chat session and reads lines from stdin.

Plain lines are sent as messages. Commands:
  /more                      show older history
  /retry <id>                resend a failed message
  /rate <proposal> <1-3>     rate a proposal card
  /reject <proposal>         reject a proposal card
  /quit                      leave the session`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseSessionKind(args[0])
			if err != nil {
				return err
			}
			if userID == "" {
				userID = cfg.User.ID
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			backend, err := openBackend()
			if err != nil {
				return fmt.Errorf("opening cache: %w", err)
			}
			defer backend.Close()

			hookMgr := hooks.NewManager(log)
			hookMgr.OnAll("log", hooks.LogHandler(log))

			out := newChatPrinter(cmd.OutOrStdout())
			ctrl, err := conversation.New(cfg, kind, log,
				conversation.WithPersister(backend.Threads),
				conversation.WithProfiles(backend.Profiles),
				conversation.WithHooks(hookMgr),
				conversation.WithListener(out.listener()),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if sessionID != "" {
				err = ctrl.Attach(ctx, domain.Session{ID: sessionID, Kind: kind, UserID: userID}, firstMessage)
			} else {
				_, err = ctrl.Start(ctx, api.NewClient(cfg.API, log), userID)
			}
			if err != nil {
				return err
			}
			defer ctrl.Close(context.WithoutCancel(ctx))

			return runChat(ctx, ctrl, cmd.InOrStdin(), out)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (default user.id from config)")
	cmd.Flags().StringVar(&sessionID, "session", "", "attach to an existing session instead of starting one")
	cmd.Flags().StringVar(&firstMessage, "first-message", "", "opening message to seed when attaching to an empty thread")

	return cmd
}

// chatSession is the part of the controller the input loop drives.
type chatSession interface {
	Send(text string) (string, error)
	Retry(id string) (string, error)
	Decide(proposalID string, d domain.Decision) (bool, error)
	LoadMore(ctx context.Context) (int, error)
	Visible() []domain.ChatMessage
}

type chatCommand struct {
	name string // "send" for plain text
	args []string
	text string
}

var errQuit = errors.New("quit")

func parseChatLine(line string) (chatCommand, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return chatCommand{}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return chatCommand{name: "send", text: line}, nil
	}

	fields := strings.Fields(line)
	c := chatCommand{name: strings.TrimPrefix(fields[0], "/"), args: fields[1:]}
	want := map[string]int{"more": 0, "quit": 0, "retry": 1, "reject": 1, "rate": 2}
	n, ok := want[c.name]
	if !ok {
		return chatCommand{}, fmt.Errorf("unknown command /%s", c.name)
	}
	if len(c.args) != n {
		return chatCommand{}, fmt.Errorf("/%s takes %d argument(s)", c.name, n)
	}
	return c, nil
}

// runChat feeds stdin lines to the session until the input ends, the user
// quits, or the session finishes.
func runChat(ctx context.Context, sess chatSession, in io.Reader, out *chatPrinter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-out.done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleChatLine(ctx, sess, line, out); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				out.printf("! %v\n", err)
			}
		}
	}
}

func handleChatLine(ctx context.Context, sess chatSession, line string, out *chatPrinter) error {
	c, err := parseChatLine(line)
	if err != nil {
		return err
	}

	switch c.name {
	case "":
		return nil
	case "send":
		_, err := sess.Send(c.text)
		return err
	case "quit":
		return errQuit
	case "retry":
		_, err := sess.Retry(c.args[0])
		return err
	case "reject":
		return decide(sess, c.args[0], domain.Reject(), out)
	case "rate":
		n, err := strconv.Atoi(c.args[1])
		if err != nil {
			return fmt.Errorf("rating must be 1-3: %q", c.args[1])
		}
		d, err := domain.Rate(n)
		if err != nil {
			return err
		}
		return decide(sess, c.args[0], d, out)
	case "more":
		revealed, err := sess.LoadMore(ctx)
		if err != nil {
			return err
		}
		if revealed == 0 {
			out.printf("(no older messages)\n")
			return nil
		}
		visible := sess.Visible()
		if revealed > len(visible) {
			revealed = len(visible)
		}
		out.printf("--- %d older message(s) ---\n", revealed)
		for _, m := range visible[:revealed] {
			out.printMessage(m)
		}
		return nil
	}
	return nil
}

func decide(sess chatSession, proposalID string, d domain.Decision, out *chatPrinter) error {
	changed, err := sess.Decide(proposalID, d)
	if err != nil {
		return err
	}
	if !changed {
		out.printf("(proposal %s already decided)\n", proposalID)
		return nil
	}
	out.printf("proposal %s: %s\n", proposalID, d)
	return nil
}

// chatPrinter renders listener callbacks as terminal lines. Each message is
// printed once, and again only if its status changes.
type chatPrinter struct {
	mu        sync.Mutex
	w         io.Writer
	seen      map[string]domain.MessageStatus
	composing bool

	done     chan struct{}
	doneOnce sync.Once
}

func newChatPrinter(w io.Writer) *chatPrinter {
	return &chatPrinter{
		w:    w,
		seen: make(map[string]domain.MessageStatus),
		done: make(chan struct{}),
	}
}

func (p *chatPrinter) finish() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *chatPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *chatPrinter) printMessage(m domain.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeMessageLocked(m)
}

func (p *chatPrinter) writeMessageLocked(m domain.ChatMessage) {
	who := string(m.Role)
	if m.Author != "" {
		who = m.Author
	}
	switch m.Status {
	case domain.StatusSending:
		fmt.Fprintf(p.w, "%s> %s (sending)\n", who, m.Text)
	case domain.StatusError:
		fmt.Fprintf(p.w, "%s> %s (failed, /retry %s)\n", who, m.Text, m.ID)
	default:
		fmt.Fprintf(p.w, "%s> %s\n", who, m.Text)
	}
	for _, pr := range m.Proposals {
		fmt.Fprintf(p.w, "    [%s] %s", pr.ID, pr.Name)
		if pr.Description != "" {
			fmt.Fprintf(p.w, ": %s", pr.Description)
		}
		fmt.Fprintf(p.w, " (%s)\n", pr.Decision)
	}
	if len(m.QuickReplies) > 0 {
		labels := make([]string, len(m.QuickReplies))
		for i, q := range m.QuickReplies {
			labels[i] = q.Label
		}
		fmt.Fprintf(p.w, "    suggestions: %s\n", strings.Join(labels, " | "))
	}
}

func (p *chatPrinter) onThread(visible []domain.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range visible {
		prev, ok := p.seen[m.ID]
		if ok && prev == m.Status {
			continue
		}
		// A sent echo of something already on screen needs no reprint.
		if ok && m.Status == domain.StatusSent {
			p.seen[m.ID] = m.Status
			continue
		}
		p.seen[m.ID] = m.Status
		if m.ClientID != "" {
			if _, shown := p.seen[m.ClientID]; shown {
				continue
			}
		}
		p.writeMessageLocked(m)
	}
}

func (p *chatPrinter) onComposing(s stream.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.Composing && !p.composing {
		fmt.Fprintln(p.w, "(assistant is typing)")
	}
	p.composing = s.Composing
}

func (p *chatPrinter) listener() conversation.Listener {
	return conversation.Listener{
		OnThread:    p.onThread,
		OnComposing: p.onComposing,
		OnProgress: func(pr protocol.Progress) {
			p.printf("[question %s]\n", pr)
		},
		OnValidation: func(v protocol.Validation) {
			if v.Status == protocol.ValidationInsufficient && v.Feedback != "" {
				p.printf("(%s)\n", v.Feedback)
			}
		},
		OnComplete: func(c protocol.Completion) {
			if c.ProfileID != "" {
				p.printf("profile %s complete (%.0f%%)\n", c.ProfileID, c.Completeness*100)
			} else {
				p.printf("session complete\n")
			}
			p.finish()
		},
		OnTripUpdate: func(updates []protocol.TripUpdate) {
			for _, u := range updates {
				v := string(u.Value)
				if u.Currency != "" {
					v += " " + u.Currency
				}
				p.printf("trip: %s = %s\n", u.Field, v)
			}
		},
		OnPhotos: func(photos []protocol.Photo) {
			for _, ph := range photos {
				p.printf("photo: %s %s\n", ph.Caption, ph.URL)
			}
		},
		OnError: func(err error) {
			p.printf("! %v\n", err)
		},
		OnStatus: func(s domain.ConnectionState) {
			p.printf("[%s]\n", s)
		},
		OnTerminal: func(err *socket.TerminalError) {
			p.printf("session ended: %v\n", err)
			p.finish()
		},
	}
}
