// Package agent owns the chat session: the signed-in user, the active
// conversation, its messages and the visualization derived from them.
package agent

import (
	"context"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/comigor/floatchat-go/internal/history"
	"github.com/comigor/floatchat-go/internal/identity"
	"github.com/comigor/floatchat-go/internal/llm"
	"github.com/comigor/floatchat-go/internal/logger"
	"github.com/comigor/floatchat-go/internal/visualization"
)

const titleLimit = 30

var exampleQueries = []string{
	"Show me temperature profiles from the North Atlantic",
	"What's the salinity trend in the Southern Ocean?",
	"Find float data near the Gulf Stream",
	"Compare temperatures between 2020 and 2023",
}

// Options tweaks an Orchestrator.
type Options struct {
	// Mobile switches to the chat pane on navigation.
	Mobile bool
}

// Orchestrator runs query turns and keeps the session state in sync with the
// store. Its lock is never held while calling the store, the provider, the
// identity provider or listeners.
type Orchestrator struct {
	store    history.Store
	provider llm.Provider
	auth     identity.Provider

	mu                 sync.Mutex
	state              State
	generation         uint64
	unsubConversations history.Unsubscribe
	unsubMessages      history.Unsubscribe
	stopAuth           func()

	listenersMu  sync.Mutex
	listeners    map[int]func(Event)
	nextListener int
}

// New creates an Orchestrator and starts following auth changes.
func New(store history.Store, provider llm.Provider, auth identity.Provider, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		provider:  provider,
		auth:      auth,
		state:     State{Pane: PaneChat, Mobile: opts.Mobile},
		listeners: make(map[int]func(Event)),
	}

	stop := auth.OnAuthChange(o.handleAuthChange)
	o.mu.Lock()
	o.stopAuth = stop
	o.mu.Unlock()
	return o
}

// Subscribe registers fn for every state change. fn must not block.
func (o *Orchestrator) Subscribe(fn func(Event)) func() {
	o.listenersMu.Lock()
	id := o.nextListener
	o.nextListener++
	o.listeners[id] = fn
	o.listenersMu.Unlock()

	return func() {
		o.listenersMu.Lock()
		delete(o.listeners, id)
		o.listenersMu.Unlock()
	}
}

// State returns a snapshot of the session.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// ExampleQueries lists the suggested starter questions.
func (o *Orchestrator) ExampleQueries() []string {
	return append([]string(nil), exampleQueries...)
}

func (o *Orchestrator) emit(notice *Notice) {
	o.mu.Lock()
	snap := o.state.clone()
	o.mu.Unlock()

	o.listenersMu.Lock()
	fns := make([]func(Event), 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	o.listenersMu.Unlock()

	ev := Event{State: snap, Notice: notice}
	for _, fn := range fns {
		fn(ev)
	}
}

// update applies fn to the state under the lock and notifies listeners.
func (o *Orchestrator) update(fn func(s *State)) {
	o.mu.Lock()
	fn(&o.state)
	o.mu.Unlock()
	o.emit(nil)
}

// ─────────────────────────────────────────
// Auth
// ─────────────────────────────────────────

func (o *Orchestrator) SignIn(ctx context.Context) (*identity.User, error) {
	return o.auth.SignIn(ctx)
}

func (o *Orchestrator) SignOut(ctx context.Context) error {
	return o.auth.SignOut(ctx)
}

func (o *Orchestrator) handleAuthChange(u *identity.User) {
	o.mu.Lock()
	prev := o.state.User
	if (prev == nil && u == nil) || (prev != nil && u != nil && prev.ID == u.ID) {
		o.mu.Unlock()
		return
	}
	// a turn started by the previous user may still be running
	o.state = State{User: u, Pane: PaneChat, Mobile: o.state.Mobile, Busy: o.state.Busy}
	o.generation++
	oldConversations, oldMessages := o.unsubConversations, o.unsubMessages
	o.unsubConversations, o.unsubMessages = nil, nil
	o.mu.Unlock()

	if oldMessages != nil {
		oldMessages()
	}
	if oldConversations != nil {
		oldConversations()
	}

	if u != nil {
		logger.L.Info("user signed in", "user_id", u.ID)
		o.subscribeConversations(u.ID)
	} else {
		logger.L.Info("user signed out")
	}
	o.emit(nil)
}

func (o *Orchestrator) subscribeConversations(userID string) {
	unsub, err := o.store.SubscribeConversations(userID, func(list []history.Conversation) {
		o.mu.Lock()
		if o.state.User == nil || o.state.User.ID != userID {
			o.mu.Unlock()
			return
		}
		o.state.Conversations = list
		o.mu.Unlock()
		o.emit(nil)
	})
	if err != nil {
		logger.L.Error("failed to subscribe to conversations", "user_id", userID, "error", err)
		return
	}

	o.mu.Lock()
	if o.state.User != nil && o.state.User.ID == userID && o.unsubConversations == nil {
		o.unsubConversations = unsub
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	unsub()
}

// subscribeMessages replaces the message subscription with one for
// conversationID. Snapshots from older subscriptions are dropped.
func (o *Orchestrator) subscribeMessages(userID, conversationID string) {
	o.mu.Lock()
	o.generation++
	gen := o.generation
	old := o.unsubMessages
	o.unsubMessages = nil
	o.mu.Unlock()

	if old != nil {
		old()
	}

	unsub, err := o.store.SubscribeMessages(userID, conversationID, func(msgs []history.Message) {
		o.mu.Lock()
		if o.generation != gen || o.state.ActiveConversationID != conversationID {
			o.mu.Unlock()
			return
		}
		o.state.Messages = msgs
		o.state.Visualization = history.LatestVisualization(msgs)
		o.mu.Unlock()
		o.emit(nil)
	})
	if err != nil {
		logger.L.Error("failed to subscribe to messages", "conversation_id", conversationID, "error", err)
		return
	}

	o.mu.Lock()
	if o.generation == gen {
		o.unsubMessages = unsub
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	unsub()
}

func (o *Orchestrator) dropMessageSubscription() {
	o.mu.Lock()
	o.generation++
	old := o.unsubMessages
	o.unsubMessages = nil
	o.mu.Unlock()

	if old != nil {
		old()
	}
}

// ─────────────────────────────────────────
// Navigation
// ─────────────────────────────────────────

// SelectConversation makes id the active conversation.
func (o *Orchestrator) SelectConversation(id string) {
	o.mu.Lock()
	user := o.state.User
	if user == nil || id == "" {
		o.mu.Unlock()
		return
	}
	o.state.ActiveConversationID = id
	o.state.Messages = nil
	o.state.Visualization = nil
	if o.state.Mobile {
		o.state.Pane = PaneChat
	}
	o.mu.Unlock()

	o.subscribeMessages(user.ID, id)
	o.emit(nil)
}

// NewConversation leaves the active conversation; the next query starts a
// new one.
func (o *Orchestrator) NewConversation() {
	o.dropMessageSubscription()
	o.update(func(s *State) {
		s.ActiveConversationID = ""
		s.Messages = nil
		s.Input = ""
		s.Visualization = nil
		if s.Mobile {
			s.Pane = PaneChat
		}
	})
}

func (o *Orchestrator) SetInput(text string) {
	o.update(func(s *State) { s.Input = text })
}

func (o *Orchestrator) SetPane(p Pane) {
	o.update(func(s *State) { s.Pane = p })
}

// ─────────────────────────────────────────
// Conversations
// ─────────────────────────────────────────

// DeleteConversation removes the conversation and all of its messages.
func (o *Orchestrator) DeleteConversation(ctx context.Context, id string) error {
	o.mu.Lock()
	user := o.state.User
	o.mu.Unlock()
	if user == nil {
		return nil
	}

	if err := o.store.DeleteConversationCascade(ctx, user.ID, id); err != nil {
		logger.L.Error("error deleting chat", "conversation_id", id, "error", err)
		notice := noticeDeleteFailed
		o.emit(&notice)
		return oops.In("agent").Code("delete_failed").With("conversation_id", id).Wrap(err)
	}

	o.mu.Lock()
	wasActive := o.state.ActiveConversationID == id
	o.mu.Unlock()
	if wasActive {
		o.NewConversation()
	}

	notice := noticeChatDeleted
	o.emit(&notice)
	return nil
}

// SaveMessage appends a message to the active conversation, creating one
// titled after the first 30 characters of content when none is active.
// It returns the conversation id, or "" when nobody is signed in.
func (o *Orchestrator) SaveMessage(ctx context.Context, role history.Role, content string, viz *visualization.Visualization) (string, error) {
	o.mu.Lock()
	user := o.state.User
	conversationID := o.state.ActiveConversationID
	o.mu.Unlock()
	if user == nil {
		return "", nil
	}

	errs := oops.In("agent").Code("save_message").With("user_id", user.ID)

	if conversationID == "" {
		id, err := o.store.CreateConversation(ctx, user.ID, truncateTitle(content))
		if err != nil {
			return "", errs.Wrap(err)
		}
		conversationID = id
		o.activate(user.ID, id)
	}

	msg := history.Message{Role: role, Content: content, Visualization: viz}
	if _, err := o.store.AppendMessage(ctx, user.ID, conversationID, msg); err != nil {
		return conversationID, errs.With("conversation_id", conversationID).Wrap(err)
	}
	if err := o.store.UpdateConversationSummary(ctx, user.ID, conversationID, content); err != nil {
		return conversationID, errs.With("conversation_id", conversationID).Wrap(err)
	}
	if err := o.store.TouchConversation(ctx, user.ID, conversationID); err != nil {
		return conversationID, errs.With("conversation_id", conversationID).Wrap(err)
	}
	return conversationID, nil
}

// activate makes a freshly created conversation active and follows its
// messages.
func (o *Orchestrator) activate(userID, conversationID string) {
	o.mu.Lock()
	o.state.ActiveConversationID = conversationID
	o.state.Messages = nil
	o.mu.Unlock()

	o.subscribeMessages(userID, conversationID)
	o.emit(nil)
}

func truncateTitle(s string) string {
	r := []rune(s)
	if len(r) <= titleLimit {
		return s
	}
	return string(r[:titleLimit])
}

// ─────────────────────────────────────────
// Queries
// ─────────────────────────────────────────

// Submit runs one query turn. It does nothing when query is blank, a turn is
// already running or nobody is signed in. Failures end up as assistant
// messages, never as returned errors.
func (o *Orchestrator) Submit(ctx context.Context, query string) {
	o.mu.Lock()
	if strings.TrimSpace(query) == "" || o.state.Busy || o.state.User == nil {
		o.mu.Unlock()
		return
	}
	o.state.Busy = true
	o.state.Input = ""
	user := o.state.User
	conversationID := o.state.ActiveConversationID
	o.mu.Unlock()
	o.emit(nil)

	defer o.update(func(s *State) { s.Busy = false })

	t := &turn{
		o:              o,
		userID:         user.ID,
		conversationID: conversationID,
		query:          query,
	}
	t.run(ctx)
}

// SubmitExample submits the i-th example query.
func (o *Orchestrator) SubmitExample(ctx context.Context, i int) error {
	if i < 0 || i >= len(exampleQueries) {
		return oops.In("agent").Code("unknown_example").With("index", i).Errorf("no example query #%d", i)
	}
	q := exampleQueries[i]
	o.SetInput(q)
	o.Submit(ctx, q)
	return nil
}

// setVisualization replaces the displayed visualization if conversationID is
// still the active conversation.
func (o *Orchestrator) setVisualization(conversationID string, v *visualization.Visualization) {
	o.mu.Lock()
	if o.state.ActiveConversationID != conversationID {
		o.mu.Unlock()
		return
	}
	o.state.Visualization = v
	o.mu.Unlock()
	o.emit(nil)
}

// Shutdown stops following auth changes and releases store subscriptions.
func (o *Orchestrator) Shutdown() error {
	o.mu.Lock()
	stop := o.stopAuth
	conversations, messages := o.unsubConversations, o.unsubMessages
	o.stopAuth, o.unsubConversations, o.unsubMessages = nil, nil, nil
	o.generation++
	o.mu.Unlock()

	if stop != nil {
		stop()
	}
	if messages != nil {
		messages()
	}
	if conversations != nil {
		conversations()
	}
	return nil
}
