package agent

import (
	"slices"

	"github.com/elliotchance/pie/v2"

	"github.com/comigor/floatchat-go/internal/history"
	"github.com/comigor/floatchat-go/internal/identity"
	"github.com/comigor/floatchat-go/internal/visualization"
)

// Pane is the panel shown when only one fits on screen.
type Pane string

const (
	PaneHistory       Pane = "history"
	PaneChat          Pane = "chat"
	PaneVisualization Pane = "visualization"
)

// ParsePane accepts the pane names plus "viz" as a short form.
func ParsePane(s string) (Pane, bool) {
	switch s {
	case "history":
		return PaneHistory, true
	case "chat":
		return PaneChat, true
	case "visualization", "viz":
		return PaneVisualization, true
	}
	return "", false
}

// State is the session as seen by a renderer.
type State struct {
	User                 *identity.User
	ActiveConversationID string
	Conversations        []history.Conversation
	Messages             []history.Message
	Visualization        *visualization.Visualization
	Busy                 bool
	Input                string
	Pane                 Pane
	Mobile               bool
}

// Conversation looks up a listed conversation by id.
func (s State) Conversation(id string) (history.Conversation, bool) {
	i := pie.FindFirstUsing(s.Conversations, func(c history.Conversation) bool { return c.ID == id })
	if i < 0 {
		return history.Conversation{}, false
	}
	return s.Conversations[i], true
}

func (s State) clone() State {
	s.Conversations = slices.Clone(s.Conversations)
	s.Messages = slices.Clone(s.Messages)
	return s
}

// Notice is a transient, user-facing notification.
type Notice struct {
	Title       string
	Description string
	Destructive bool
}

var (
	noticeChatDeleted = Notice{
		Title:       "Chat Deleted",
		Description: "The conversation has been permanently removed.",
	}
	noticeDeleteFailed = Notice{
		Title:       "Error Deleting Chat",
		Description: "There was an issue deleting the conversation. Please try again.",
		Destructive: true,
	}
)

// Event is published after every state change.
type Event struct {
	State  State
	Notice *Notice
}
