// Package memory is a non-persistent history.Store, used for local runs, as
// the fallback when SQLite cannot be opened, and in tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/comigor/floatchat-go/internal/history"
)

type chat struct {
	conv     history.Conversation
	seq      int
	messages []history.Message
}

type Store struct {
	mu    sync.RWMutex
	chats map[string]map[string]*chat // userID -> conversationID
	seq   int
	now   func() time.Time

	// FailDeletes makes DeleteConversationCascade fail before touching
	// anything. Tests use it to exercise the delete error path.
	FailDeletes error

	conversations *history.Broker[history.Conversation]
	messages      *history.Broker[history.Message]
}

var _ history.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		chats:         make(map[string]map[string]*chat),
		now:           time.Now,
		conversations: history.NewBroker[history.Conversation](),
		messages:      history.NewBroker[history.Message](),
	}
}

func (s *Store) errs() oops.OopsErrorBuilder {
	return oops.In("storage").Tags("memory")
}

func (s *Store) SubscribeConversations(userID string, fn func([]history.Conversation)) (history.Unsubscribe, error) {
	unsub := s.conversations.Subscribe(userID, fn)
	fn(s.listConversations(userID))
	return unsub, nil
}

func (s *Store) SubscribeMessages(userID, conversationID string, fn func([]history.Message)) (history.Unsubscribe, error) {
	unsub := s.messages.Subscribe(history.MessagesScope(userID, conversationID), fn)
	fn(s.listMessages(userID, conversationID))
	return unsub, nil
}

func (s *Store) CreateConversation(_ context.Context, userID, title string) (string, error) {
	s.mu.Lock()
	if s.chats[userID] == nil {
		s.chats[userID] = make(map[string]*chat)
	}
	s.seq++
	id := uuid.NewString()
	s.chats[userID][id] = &chat{
		conv: history.Conversation{ID: id, Title: title, Timestamp: s.now()},
		seq:  s.seq,
	}
	s.mu.Unlock()

	s.publishConversations(userID)
	return id, nil
}

func (s *Store) AppendMessage(_ context.Context, userID, conversationID string, msg history.Message) (string, error) {
	s.mu.Lock()
	c, ok := s.chats[userID][conversationID]
	if !ok {
		s.mu.Unlock()
		return "", s.errs().Code("append_message").With("conversation_id", conversationID).Wrap(history.ErrNotFound)
	}
	msg.ID = uuid.NewString()
	msg.Timestamp = s.now()
	c.messages = append(c.messages, msg)
	s.mu.Unlock()

	s.publishMessages(userID, conversationID)
	return msg.ID, nil
}

func (s *Store) UpdateConversationSummary(_ context.Context, userID, conversationID, lastMessage string) error {
	s.mu.Lock()
	c, ok := s.chats[userID][conversationID]
	if !ok {
		// merge-set semantics: the record is created when missing
		if s.chats[userID] == nil {
			s.chats[userID] = make(map[string]*chat)
		}
		s.seq++
		c = &chat{conv: history.Conversation{ID: conversationID}, seq: s.seq}
		s.chats[userID][conversationID] = c
	}
	c.conv.LastMessage = lastMessage
	s.mu.Unlock()

	s.publishConversations(userID)
	return nil
}

func (s *Store) TouchConversation(_ context.Context, userID, conversationID string) error {
	s.mu.Lock()
	c, ok := s.chats[userID][conversationID]
	if !ok {
		s.mu.Unlock()
		return s.errs().Code("touch_conversation").With("conversation_id", conversationID).Wrap(history.ErrNotFound)
	}
	s.seq++
	c.seq = s.seq
	c.conv.Timestamp = s.now()
	s.mu.Unlock()

	s.publishConversations(userID)
	return nil
}

func (s *Store) ListMessages(_ context.Context, userID, conversationID string) ([]history.Message, error) {
	return s.listMessages(userID, conversationID), nil
}

func (s *Store) DeleteConversationCascade(_ context.Context, userID, conversationID string) error {
	if s.FailDeletes != nil {
		return s.errs().Code("delete_messages").With("conversation_id", conversationID).Wrap(s.FailDeletes)
	}

	s.mu.Lock()
	c, ok := s.chats[userID][conversationID]
	if ok {
		c.messages = nil
		delete(s.chats[userID], conversationID)
	}
	s.mu.Unlock()

	s.publishMessages(userID, conversationID)
	s.publishConversations(userID)
	return nil
}

func (s *Store) Close() error { return nil }

// Shutdown lets the DI container close the store.
func (s *Store) Shutdown() error { return s.Close() }

func (s *Store) listConversations(userID string) []history.Conversation {
	s.mu.RLock()
	chats := make([]*chat, 0, len(s.chats[userID]))
	for _, c := range s.chats[userID] {
		chats = append(chats, c)
	}
	s.mu.RUnlock()

	slices.SortFunc(chats, func(a, b *chat) int {
		if c := b.conv.Timestamp.Compare(a.conv.Timestamp); c != 0 {
			return c
		}
		return b.seq - a.seq
	})

	out := make([]history.Conversation, 0, len(chats))
	for _, c := range chats {
		out = append(out, c.conv.WithDefaults())
	}
	return out
}

func (s *Store) listMessages(userID, conversationID string) []history.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[userID][conversationID]
	if !ok {
		return []history.Message{}
	}
	out := make([]history.Message, len(c.messages))
	copy(out, c.messages)
	slices.SortStableFunc(out, func(a, b history.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}

func (s *Store) publishConversations(userID string) {
	if s.conversations.Active(userID) {
		s.conversations.Publish(userID, s.listConversations(userID))
	}
}

func (s *Store) publishMessages(userID, conversationID string) {
	scope := history.MessagesScope(userID, conversationID)
	if s.messages.Active(scope) {
		s.messages.Publish(scope, s.listMessages(userID, conversationID))
	}
}
