package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/floatchat-go/internal/history"
	"github.com/comigor/floatchat-go/internal/identity"
	"github.com/comigor/floatchat-go/internal/storage/memory"
	"github.com/comigor/floatchat-go/internal/visualization"
)

const northAtlanticAnswer = "Here you go:\n```json\n" + `{
  "is_valid_query": true,
  "summary": "Temperatures in the North Atlantic drop from 18.5C at the surface to 4C at 1000m.",
  "mapPoints": [{"lat": 34.5, "lng": -45.2, "id": "float-1", "temp": 18.5}],
  "chartData": {
    "labels": ["0m", "500m", "1000m"],
    "xAxisLabel": "Depth (m)",
    "yAxisLabel": "Temperature (C)",
    "datasets": [{"label": "Temperature Profile", "data": [18.5, 9.1, 4.0], "backgroundColor": "red"}]
  }
}` + "\n```"

const gibberishAnswer = `{"is_valid_query": false, "summary": "Sorry, I can only answer questions regarding oceanographic data."}`

// mockProvider implements llm.Provider for testing
type mockProvider struct {
	mu      sync.Mutex
	answers []string
	err     error
	prompts []string

	started chan struct{}
	release chan struct{}
}

func (m *mockProvider) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	started, release := m.started, m.release
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if len(m.answers) == 0 {
		panic("mockProvider: no more answers configured for prompt: " + prompt)
	}
	a := m.answers[0]
	m.answers = m.answers[1:]
	return a, nil
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

type harness struct {
	store    *memory.Store
	provider *mockProvider
	auth     *identity.Local
	orch     *Orchestrator
	user     *identity.User

	mu     sync.Mutex
	events []Event
}

func newHarness(t *testing.T, answers ...string) *harness {
	t.Helper()
	h := &harness{
		store:    memory.NewStore(),
		provider: &mockProvider{answers: answers},
		auth:     identity.NewLocal("marina"),
	}
	h.orch = New(h.store, h.provider, h.auth, Options{})
	h.orch.Subscribe(func(ev Event) {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
	})
	t.Cleanup(func() { _ = h.orch.Shutdown() })

	u, err := h.orch.SignIn(context.Background())
	require.NoError(t, err)
	h.user = u
	return h
}

func (h *harness) messages(t *testing.T, conversationID string) []history.Message {
	t.Helper()
	msgs, err := h.store.ListMessages(context.Background(), h.user.ID, conversationID)
	require.NoError(t, err)
	return msgs
}

func (h *harness) notices() []Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Notice
	for _, ev := range h.events {
		if ev.Notice != nil {
			out = append(out, *ev.Notice)
		}
	}
	return out
}

func TestSubmit_VisualizationTurn(t *testing.T) {
	h := newHarness(t, northAtlanticAnswer)
	ctx := context.Background()
	query := "Show me temperature profiles from the North Atlantic"

	h.orch.SetInput(query)
	h.orch.Submit(ctx, query)

	st := h.orch.State()
	require.False(t, st.Busy)
	require.Empty(t, st.Input)
	require.NotEmpty(t, st.ActiveConversationID)

	msgs := h.messages(t, st.ActiveConversationID)
	require.Len(t, msgs, 2)
	require.Equal(t, history.RoleUser, msgs[0].Role)
	require.Equal(t, query, msgs[0].Content)
	require.Nil(t, msgs[0].Visualization)
	require.Equal(t, history.RoleAssistant, msgs[1].Role)
	require.True(t, strings.HasPrefix(msgs[1].Content, "Temperatures in the North Atlantic"))

	v := msgs[1].Visualization
	require.NotNil(t, v)
	require.Len(t, v.MapPoints, 1)
	ds := v.ChartData.Datasets[0]
	require.Equal(t, visualization.DefaultBorderColor, ds.BorderColor)
	require.Equal(t, "red", ds.BackgroundColor)
	require.Equal(t, v, st.Visualization)
	require.Equal(t, st.Messages, msgs)

	conv, ok := st.Conversation(st.ActiveConversationID)
	require.True(t, ok)
	require.Equal(t, query, conv.Title)
	require.Equal(t, msgs[1].Content, conv.LastMessage)

	require.Len(t, h.provider.prompts, 1)
	require.Contains(t, h.provider.prompts[0], `User's Query: "`+query+`"`)
}

func TestSubmit_IrrelevantQuery(t *testing.T) {
	h := newHarness(t, gibberishAnswer)
	h.orch.Submit(context.Background(), "asdkjasd")

	st := h.orch.State()
	msgs := h.messages(t, st.ActiveConversationID)
	require.Len(t, msgs, 2)
	require.Equal(t, FallbackReply, msgs[1].Content)
	require.Nil(t, msgs[1].Visualization)
	require.Nil(t, st.Visualization)

	conv, ok := st.Conversation(st.ActiveConversationID)
	require.True(t, ok)
	require.Equal(t, "asdkjasd", conv.Title)
	require.Equal(t, FallbackReply, conv.LastMessage)
}

func TestSubmit_ValidWithoutChartIsSummaryOnly(t *testing.T) {
	answer := `{"is_valid_query": true, "summary": "Floats are drifting.", "mapPoints": [{"lat": 1, "lng": 2, "id": "f"}]}`
	h := newHarness(t, answer)
	h.orch.Submit(context.Background(), "where are the floats?")

	st := h.orch.State()
	msgs := h.messages(t, st.ActiveConversationID)
	require.Len(t, msgs, 2)
	require.Equal(t, "Floats are drifting.", msgs[1].Content)
	require.Nil(t, msgs[1].Visualization)
	require.Nil(t, st.Visualization)
}

func TestSubmit_UnparseableAnswer(t *testing.T) {
	h := newHarness(t, "I would rather talk about the weather.")
	h.orch.Submit(context.Background(), "hello")

	st := h.orch.State()
	msgs := h.messages(t, st.ActiveConversationID)
	require.Len(t, msgs, 2)
	require.Equal(t, FallbackReply, msgs[1].Content)
	require.Nil(t, msgs[1].Visualization)
	require.Nil(t, st.Visualization)

	conv, _ := st.Conversation(st.ActiveConversationID)
	require.Equal(t, FallbackSummary, conv.LastMessage)
}

func TestSubmit_ProviderErrorKeepsVisualization(t *testing.T) {
	h := newHarness(t, northAtlanticAnswer)
	ctx := context.Background()

	h.orch.Submit(ctx, "North Atlantic temperatures")
	before := h.orch.State()
	require.NotNil(t, before.Visualization)

	h.provider.mu.Lock()
	h.provider.err = errors.New("network unreachable")
	h.provider.mu.Unlock()

	h.orch.Submit(ctx, "and the salinity?")

	st := h.orch.State()
	require.False(t, st.Busy)
	require.Equal(t, before.ActiveConversationID, st.ActiveConversationID)
	require.Equal(t, before.Visualization, st.Visualization)

	msgs := h.messages(t, st.ActiveConversationID)
	require.Len(t, msgs, 4)
	require.Equal(t, "and the salinity?", msgs[2].Content)
	require.Equal(t, UnexpectedErrorReply, msgs[3].Content)

	// the summary is not touched by a failed turn
	conv, _ := st.Conversation(st.ActiveConversationID)
	require.Equal(t, msgs[1].Content, conv.LastMessage)
}

// failingCreateStore refuses to create conversations.
type failingCreateStore struct {
	*memory.Store
}

func (failingCreateStore) CreateConversation(context.Context, string, string) (string, error) {
	return "", errors.New("permission denied")
}

func TestSubmit_CreateFailureLeavesNoTrace(t *testing.T) {
	store := failingCreateStore{memory.NewStore()}
	provider := &mockProvider{}
	auth := identity.NewLocal("marina")
	o := New(store, provider, auth, Options{})
	t.Cleanup(func() { _ = o.Shutdown() })
	_, err := o.SignIn(context.Background())
	require.NoError(t, err)

	o.Submit(context.Background(), "anything")

	st := o.State()
	require.False(t, st.Busy)
	require.Empty(t, st.ActiveConversationID)
	require.Empty(t, st.Conversations)
	require.Zero(t, provider.calls())
}

func TestSubmit_IgnoredInputs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.orch.Submit(ctx, "")
	h.orch.Submit(ctx, "   \n\t")
	require.Zero(t, h.provider.calls())
	require.Empty(t, h.orch.State().Conversations)

	require.NoError(t, h.orch.SignOut(ctx))
	h.orch.Submit(ctx, "What's the salinity trend in the Southern Ocean?")
	require.Zero(t, h.provider.calls())
}

func TestSubmit_SecondSubmitWhileBusyIsIgnored(t *testing.T) {
	h := newHarness(t, gibberishAnswer)
	h.provider.started = make(chan struct{}, 1)
	h.provider.release = make(chan struct{})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.orch.Submit(ctx, "first")
	}()

	select {
	case <-h.provider.started:
	case <-time.After(5 * time.Second):
		t.Fatal("provider was never called")
	}
	require.True(t, h.orch.State().Busy)

	h.orch.Submit(ctx, "second")
	require.Equal(t, 1, h.provider.calls())

	close(h.provider.release)
	<-done

	st := h.orch.State()
	require.False(t, st.Busy)
	msgs := h.messages(t, st.ActiveConversationID)
	require.Len(t, msgs, 2)
	require.Equal(t, "first", msgs[0].Content)
}

func TestSelectConversation_RestoresLatestVisualization(t *testing.T) {
	h := newHarness(t, northAtlanticAnswer, gibberishAnswer)
	ctx := context.Background()

	h.orch.Submit(ctx, "North Atlantic temperatures")
	withViz := h.orch.State()

	h.orch.NewConversation()
	h.orch.Submit(ctx, "asdkjasd")
	withoutViz := h.orch.State()
	require.NotEqual(t, withViz.ActiveConversationID, withoutViz.ActiveConversationID)
	require.Nil(t, withoutViz.Visualization)

	// most recent first
	require.Len(t, withoutViz.Conversations, 2)
	require.Equal(t, withoutViz.ActiveConversationID, withoutViz.Conversations[0].ID)

	h.orch.SelectConversation(withViz.ActiveConversationID)
	st := h.orch.State()
	require.Equal(t, withViz.ActiveConversationID, st.ActiveConversationID)
	require.Equal(t, withViz.Visualization, st.Visualization)
	require.Len(t, st.Messages, 2)

	h.orch.SelectConversation(withoutViz.ActiveConversationID)
	st = h.orch.State()
	require.Nil(t, st.Visualization)
	require.Equal(t, "asdkjasd", st.Messages[0].Content)
}

func TestSelectConversation_IgnoresStaleSnapshots(t *testing.T) {
	h := newHarness(t, northAtlanticAnswer)
	ctx := context.Background()

	h.orch.Submit(ctx, "North Atlantic temperatures")
	first := h.orch.State().ActiveConversationID

	second, err := h.store.CreateConversation(ctx, h.user.ID, "other")
	require.NoError(t, err)
	h.orch.SelectConversation(second)

	// writes to the old conversation must not leak into the new one
	_, err = h.store.AppendMessage(ctx, h.user.ID, first, history.Message{Role: history.RoleUser, Content: "late"})
	require.NoError(t, err)

	st := h.orch.State()
	require.Equal(t, second, st.ActiveConversationID)
	require.Empty(t, st.Messages)
	require.Nil(t, st.Visualization)
}

func TestNewConversation_ResetsSession(t *testing.T) {
	h := newHarness(t, northAtlanticAnswer)
	h.orch.Submit(context.Background(), "North Atlantic temperatures")
	h.orch.SetInput("draft")

	h.orch.NewConversation()

	st := h.orch.State()
	require.Empty(t, st.ActiveConversationID)
	require.Empty(t, st.Messages)
	require.Empty(t, st.Input)
	require.Nil(t, st.Visualization)
	require.Len(t, st.Conversations, 1)
}

func TestDeleteConversation(t *testing.T) {
	h := newHarness(t, northAtlanticAnswer, gibberishAnswer)
	ctx := context.Background()

	h.orch.Submit(ctx, "North Atlantic temperatures")
	keep := h.orch.State().ActiveConversationID
	h.orch.NewConversation()
	h.orch.Submit(ctx, "asdkjasd")
	doomed := h.orch.State().ActiveConversationID

	require.NoError(t, h.orch.DeleteConversation(ctx, doomed))

	st := h.orch.State()
	require.Empty(t, st.ActiveConversationID)
	require.Nil(t, st.Visualization)
	require.Len(t, st.Conversations, 1)
	require.Equal(t, keep, st.Conversations[0].ID)
	require.Empty(t, h.messages(t, doomed))
	require.Equal(t, []Notice{noticeChatDeleted}, h.notices())

	// deleting a conversation that is not active leaves the session alone
	h.orch.SelectConversation(keep)
	other, err := h.store.CreateConversation(ctx, h.user.ID, "scratch")
	require.NoError(t, err)
	require.NoError(t, h.orch.DeleteConversation(ctx, other))
	require.Equal(t, keep, h.orch.State().ActiveConversationID)
}

func TestDeleteConversation_Failure(t *testing.T) {
	h := newHarness(t, northAtlanticAnswer)
	ctx := context.Background()

	h.orch.Submit(ctx, "North Atlantic temperatures")
	before := h.orch.State()

	boom := errors.New("unavailable")
	h.store.FailDeletes = boom

	err := h.orch.DeleteConversation(ctx, before.ActiveConversationID)
	require.ErrorIs(t, err, boom)

	st := h.orch.State()
	require.Equal(t, before.ActiveConversationID, st.ActiveConversationID)
	require.Equal(t, before.Visualization, st.Visualization)
	require.Len(t, st.Conversations, 1)
	require.Len(t, h.messages(t, before.ActiveConversationID), 2)
	require.Equal(t, []Notice{noticeDeleteFailed}, h.notices())
	require.True(t, h.notices()[0].Destructive)
}

func TestSaveMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	long := "Temperature anomalies along the Gulf Stream in late summer"

	id, err := h.orch.SaveMessage(ctx, history.RoleUser, long, nil)
	require.NoError(t, err)
	require.Equal(t, id, h.orch.State().ActiveConversationID)

	again, err := h.orch.SaveMessage(ctx, history.RoleAssistant, "Noted.", nil)
	require.NoError(t, err)
	require.Equal(t, id, again)

	st := h.orch.State()
	conv, ok := st.Conversation(id)
	require.True(t, ok)
	require.Equal(t, "Temperature anomalies along th", conv.Title)
	require.Len(t, []rune(conv.Title), 30)
	require.Equal(t, "Noted.", conv.LastMessage)
	require.Len(t, st.Messages, 2)

	h.orch.NewConversation()
	_, err = h.orch.SaveMessage(ctx, history.RoleUser, "short", nil)
	require.NoError(t, err)
	st = h.orch.State()
	require.Equal(t, "short", st.Conversations[0].Title)
}

func TestSaveMessage_SignedOut(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.SignOut(context.Background()))

	id, err := h.orch.SaveMessage(context.Background(), history.RoleUser, "hi", nil)
	require.NoError(t, err)
	require.Empty(t, id)
}

func TestSignOut_ResetsSession(t *testing.T) {
	h := newHarness(t, northAtlanticAnswer)
	ctx := context.Background()
	h.orch.Submit(ctx, "North Atlantic temperatures")

	require.NoError(t, h.orch.SignOut(ctx))
	st := h.orch.State()
	require.Nil(t, st.User)
	require.Empty(t, st.ActiveConversationID)
	require.Empty(t, st.Conversations)
	require.Nil(t, st.Visualization)

	// history comes back with the same user
	_, err := h.orch.SignIn(ctx)
	require.NoError(t, err)
	require.Len(t, h.orch.State().Conversations, 1)
}

func TestSubmitExample(t *testing.T) {
	h := newHarness(t, northAtlanticAnswer)
	ctx := context.Background()

	examples := h.orch.ExampleQueries()
	require.Len(t, examples, 4)

	require.NoError(t, h.orch.SubmitExample(ctx, 0))
	st := h.orch.State()
	require.Equal(t, examples[0], st.Messages[0].Content)
	require.Empty(t, st.Input)

	require.Error(t, h.orch.SubmitExample(ctx, 4))
	require.Error(t, h.orch.SubmitExample(ctx, -1))
}

func TestMobilePaneSwitching(t *testing.T) {
	store := memory.NewStore()
	auth := identity.NewLocal("marina")
	o := New(store, &mockProvider{}, auth, Options{Mobile: true})
	t.Cleanup(func() { _ = o.Shutdown() })
	_, err := o.SignIn(context.Background())
	require.NoError(t, err)

	o.SetPane(PaneHistory)
	require.Equal(t, PaneHistory, o.State().Pane)

	id, err := store.CreateConversation(context.Background(), o.State().User.ID, "t")
	require.NoError(t, err)
	o.SelectConversation(id)
	require.Equal(t, PaneChat, o.State().Pane)

	o.SetPane(PaneVisualization)
	o.NewConversation()
	require.Equal(t, PaneChat, o.State().Pane)
}

func TestBuildPrompt(t *testing.T) {
	q := `temps near "Bermuda" {query}`
	p := BuildPrompt(q)
	require.True(t, strings.HasPrefix(p, "You are FloatChat"))
	require.Contains(t, p, `User's Query: "`+q+`"`)
	require.True(t, strings.HasSuffix(p, "Now, generate the appropriate JSON response."))
}

func TestParsePane(t *testing.T) {
	p, ok := ParsePane("viz")
	require.True(t, ok)
	require.Equal(t, PaneVisualization, p)
	_, ok = ParsePane("sidebar")
	require.False(t, ok)
}

func TestSubmit_BusySurvivesReauthentication(t *testing.T) {
	h := newHarness(t, gibberishAnswer)
	h.provider.started = make(chan struct{}, 1)
	h.provider.release = make(chan struct{})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.orch.Submit(ctx, "first")
	}()

	select {
	case <-h.provider.started:
	case <-time.After(5 * time.Second):
		t.Fatal("provider was never called")
	}

	require.NoError(t, h.orch.SignOut(ctx))
	_, err := h.orch.SignIn(ctx)
	require.NoError(t, err)
	require.True(t, h.orch.State().Busy, "turn is still in flight")

	h.orch.Submit(ctx, "second")
	require.Equal(t, 1, h.provider.calls())

	close(h.provider.release)
	<-done
	require.False(t, h.orch.State().Busy)
}

// failingWriteStore rejects assistant replies or summary updates.
type failingWriteStore struct {
	*memory.Store
	failReply   bool
	failSummary bool
}

func (s failingWriteStore) AppendMessage(ctx context.Context, userID, conversationID string, msg history.Message) (string, error) {
	if s.failReply && msg.Role == history.RoleAssistant && msg.Content != UnexpectedErrorReply {
		return "", errors.New("quota exceeded")
	}
	return s.Store.AppendMessage(ctx, userID, conversationID, msg)
}

func (s failingWriteStore) UpdateConversationSummary(ctx context.Context, userID, conversationID, lastMessage string) error {
	if s.failSummary {
		return errors.New("quota exceeded")
	}
	return s.Store.UpdateConversationSummary(ctx, userID, conversationID, lastMessage)
}

func TestSubmit_ReplyWriteFailure(t *testing.T) {
	tests := []struct {
		name     string
		store    failingWriteStore
		contents []string
	}{
		{
			name:     "assistant message rejected",
			store:    failingWriteStore{Store: memory.NewStore(), failReply: true},
			contents: []string{"gibberish", UnexpectedErrorReply},
		},
		{
			name:  "summary update rejected",
			store: failingWriteStore{Store: memory.NewStore(), failSummary: true},
			// the reply is already stored when the summary fails
			contents: []string{"gibberish", "Sorry, I can only answer questions regarding oceanographic data.", UnexpectedErrorReply},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			provider := &mockProvider{answers: []string{gibberishAnswer}}
			o := New(tt.store, provider, identity.NewLocal("marina"), Options{})
			t.Cleanup(func() { _ = o.Shutdown() })
			u, err := o.SignIn(ctx)
			require.NoError(t, err)

			o.Submit(ctx, "gibberish")

			st := o.State()
			require.False(t, st.Busy)
			require.NotEmpty(t, st.ActiveConversationID)

			msgs, err := tt.store.ListMessages(ctx, u.ID, st.ActiveConversationID)
			require.NoError(t, err)
			var contents []string
			for _, m := range msgs {
				contents = append(contents, m.Content)
			}
			require.Equal(t, tt.contents, contents)

			conv, ok := st.Conversation(st.ActiveConversationID)
			require.True(t, ok)
			require.Equal(t, "No messages yet", conv.LastMessage)
		})
	}
}
