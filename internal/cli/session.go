// Package cli is the interactive terminal client for the chat session.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/oops"

	"github.com/comigor/floatchat-go/internal/agent"
	"github.com/comigor/floatchat-go/internal/history"
	"github.com/comigor/floatchat-go/internal/identity"
)

// ErrQuit is returned by Execute when the user asks to leave.
var ErrQuit = errors.New("quit")

const helpText = `Commands:
  /new                 start a new conversation
  /list                show chat history
  /open <n|id>         open a conversation
  /delete <n|id>       delete a conversation and its messages
  /examples            list example questions
  /example <n>         ask example question n
  /login [name]        sign in
  /logout              sign out
  /viz                 show the current visualization
  /pane <name>         switch pane (history, chat, viz)
  /help                show this help
  /quit                exit
Anything else is sent as a question.`

// Session executes input lines against the orchestrator and writes the
// result to out.
type Session struct {
	orch    *agent.Orchestrator
	auth    *identity.Local
	out     io.Writer
	palette Palette
}

func NewSession(orch *agent.Orchestrator, auth *identity.Local, out io.Writer, palette Palette) *Session {
	s := &Session{orch: orch, auth: auth, out: out, palette: palette}
	orch.Subscribe(func(ev agent.Event) {
		if ev.Notice != nil {
			fmt.Fprint(s.out, s.palette.RenderNotice(*ev.Notice))
		}
	})
	return s
}

// Execute runs a single input line.
func (s *Session) Execute(ctx context.Context, input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}
	if !strings.HasPrefix(input, "/") {
		return s.ask(ctx, input)
	}

	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]
	arg := strings.Join(args, " ")

	switch cmd {
	case "/quit", "/q", "/exit":
		return ErrQuit
	case "/help", "/h":
		fmt.Fprintln(s.out, s.palette.Info.Render(helpText))
	case "/new":
		s.orch.NewConversation()
		fmt.Fprint(s.out, s.palette.RenderExamples(s.orch.ExampleQueries()))
	case "/list", "/history":
		fmt.Fprint(s.out, s.palette.RenderConversations(s.orch.State()))
	case "/open":
		c, err := s.resolve(arg)
		if err != nil {
			return err
		}
		s.orch.SelectConversation(c.ID)
		s.printPane()
	case "/delete":
		c, err := s.resolve(arg)
		if err != nil {
			return err
		}
		// the failure notice has already been printed
		_ = s.orch.DeleteConversation(ctx, c.ID)
	case "/examples":
		fmt.Fprint(s.out, s.palette.RenderExamples(s.orch.ExampleQueries()))
	case "/example":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return oops.In("cli").Errorf("usage: /example <n>")
		}
		if !s.signedIn() {
			return nil
		}
		if err := s.orch.SubmitExample(ctx, n-1); err != nil {
			return err
		}
		s.printReply()
	case "/login":
		return s.login(ctx, arg)
	case "/logout":
		if err := s.orch.SignOut(ctx); err != nil {
			return err
		}
		fmt.Fprintln(s.out, s.palette.Info.Render("Signed out."))
	case "/viz":
		fmt.Fprint(s.out, s.palette.RenderVisualization(s.orch.State().Visualization))
	case "/pane":
		p, ok := agent.ParsePane(arg)
		if !ok {
			return oops.In("cli").Errorf("unknown pane %q (history, chat, viz)", arg)
		}
		s.orch.SetPane(p)
		s.printPane()
	default:
		return oops.In("cli").Errorf("unknown command %s, try /help", cmd)
	}
	return nil
}

func (s *Session) ask(ctx context.Context, query string) error {
	if !s.signedIn() {
		return nil
	}
	s.orch.SetInput(query)
	fmt.Fprintln(s.out, s.palette.Muted.Render("FloatChat is analyzing..."))
	s.orch.Submit(ctx, query)
	s.printReply()
	return nil
}

func (s *Session) login(ctx context.Context, name string) error {
	var (
		u   *identity.User
		err error
	)
	if name == "" {
		u, err = s.orch.SignIn(ctx)
	} else {
		u, err = s.auth.SignInAs(ctx, name)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, s.palette.Info.Render("Signed in as "+u.Name+"."))
	return nil
}

func (s *Session) signedIn() bool {
	if s.orch.State().User != nil {
		return true
	}
	fmt.Fprintln(s.out, s.palette.Error.Render("Sign in first with /login <name>."))
	return false
}

// resolve finds a conversation by 1-based list position, id or id prefix.
func (s *Session) resolve(ref string) (history.Conversation, error) {
	st := s.orch.State()
	if ref == "" {
		return history.Conversation{}, oops.In("cli").Errorf("which conversation? see /list")
	}

	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(st.Conversations) {
		return st.Conversations[n-1], nil
	}
	if c, ok := st.Conversation(ref); ok {
		return c, nil
	}
	matches := pie.Filter(st.Conversations, func(c history.Conversation) bool {
		return strings.HasPrefix(c.ID, ref)
	})
	if len(matches) == 1 {
		return matches[0], nil
	}
	return history.Conversation{}, oops.In("cli").With("ref", ref).Errorf("no conversation matches %q", ref)
}

// printReply shows the outcome of the last turn.
func (s *Session) printReply() {
	st := s.orch.State()
	if st.Mobile && st.Pane != agent.PaneChat {
		s.printPane()
		return
	}
	if n := len(st.Messages); n > 0 {
		fmt.Fprint(s.out, s.palette.RenderMessage(st.Messages[n-1]))
	}
	if !st.Mobile && st.Visualization != nil {
		fmt.Fprint(s.out, s.palette.RenderVisualization(st.Visualization))
	}
}

// printPane shows the selected pane on narrow screens and everything
// otherwise.
func (s *Session) printPane() {
	st := s.orch.State()
	if !st.Mobile {
		fmt.Fprint(s.out, s.palette.RenderMessages(st, s.orch.ExampleQueries()))
		if st.Visualization != nil {
			fmt.Fprint(s.out, s.palette.RenderVisualization(st.Visualization))
		}
		return
	}

	switch st.Pane {
	case agent.PaneHistory:
		fmt.Fprint(s.out, s.palette.RenderConversations(st))
	case agent.PaneVisualization:
		fmt.Fprint(s.out, s.palette.RenderVisualization(st.Visualization))
	default:
		fmt.Fprint(s.out, s.palette.RenderMessages(st, s.orch.ExampleQueries()))
	}
}
