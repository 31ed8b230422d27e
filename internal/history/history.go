// Package history defines the conversation persistence contract shared by
// every storage backend. Documents are addressed as
// users/{userID}/chats/{conversationID}/messages/{messageID}.
package history

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("conversation not found")

// Unsubscribe releases a subscription. Calling it twice is harmless.
type Unsubscribe func()

// Store is the persistence collaborator of the orchestrator.
//
// Subscriptions push a full snapshot on registration and after every change
// to their scope. Conversations are ordered most recent first, messages by
// timestamp ascending.
type Store interface {
	SubscribeConversations(userID string, fn func([]Conversation)) (Unsubscribe, error)
	SubscribeMessages(userID, conversationID string, fn func([]Message)) (Unsubscribe, error)

	CreateConversation(ctx context.Context, userID, title string) (string, error)
	AppendMessage(ctx context.Context, userID, conversationID string, msg Message) (string, error)
	UpdateConversationSummary(ctx context.Context, userID, conversationID, lastMessage string) error
	TouchConversation(ctx context.Context, userID, conversationID string) error
	ListMessages(ctx context.Context, userID, conversationID string) ([]Message, error)

	// DeleteConversationCascade removes every message of the conversation
	// in one batch and only then the conversation record.
	DeleteConversationCascade(ctx context.Context, userID, conversationID string) error

	Close() error
}

// MessagesScope is the broker scope of a conversation's messages.
func MessagesScope(userID, conversationID string) string {
	return userID + "/" + conversationID
}
