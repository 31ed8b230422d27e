package history

import (
	"time"

	"github.com/comigor/floatchat-go/internal/visualization"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message. It is never changed after it is stored.
type Message struct {
	ID            string                       `json:"id"`
	Role          Role                         `json:"role"`
	Content       string                       `json:"content"`
	Timestamp     time.Time                    `json:"timestamp"`
	Visualization *visualization.Visualization `json:"visualization,omitempty"`
}

// Conversation is one entry of a user's chat history.
type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	LastMessage string    `json:"last_message"`
	Timestamp   time.Time `json:"timestamp"`
}

const noMessagesYet = "No messages yet"

// WithDefaults fills the display fallbacks used by the history list.
func (c Conversation) WithDefaults() Conversation {
	if c.Title == "" {
		c.Title = "Chat " + c.ID
	}
	if c.LastMessage == "" {
		c.LastMessage = noMessagesYet
	}
	return c
}

// LatestVisualization returns the visualization of the most recent message
// that carries one, or nil.
func LatestVisualization(msgs []Message) *visualization.Visualization {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Visualization != nil {
			return msgs[i].Visualization
		}
	}
	return nil
}
