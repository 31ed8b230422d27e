package agent

import (
	"context"
	"errors"

	"github.com/qmuntal/stateless"

	"github.com/comigor/floatchat-go/internal/history"
	"github.com/comigor/floatchat-go/internal/logger"
	"github.com/comigor/floatchat-go/internal/visualization"
)

const (
	FallbackReply        = "Sorry, I can only answer questions regarding oceanographic data."
	FallbackSummary      = "Invalid query"
	UnexpectedErrorReply = "Sorry, an unexpected error occurred. Please try again."
)

// FSM States
type turnState string

const (
	stateIdle                  turnState = "Idle"
	statePersistingQuery       turnState = "PersistingQuery"
	stateAwaitingAnswer        turnState = "AwaitingAnswer"
	stateInterpreting          turnState = "Interpreting"
	stateReplyingVisualization turnState = "ReplyingVisualization"
	stateReplyingSummary       turnState = "ReplyingSummary"
	stateReplyingFallback      turnState = "ReplyingFallback"
	stateDone                  turnState = "Done"   // Terminal: reply persisted
	stateFailed                turnState = "Failed" // Terminal: error reply attempted
)

// FSM Triggers
type turnTrigger string

const (
	triggerStart          turnTrigger = "Start"
	triggerQueryPersisted turnTrigger = "QueryPersisted"
	triggerAnswerReceived turnTrigger = "AnswerReceived"
	triggerRelevant       turnTrigger = "Relevant"
	triggerIrrelevant     turnTrigger = "Irrelevant"
	triggerUnparseable    turnTrigger = "Unparseable"
	triggerReplied        turnTrigger = "Replied"
	triggerErrorOccurred  turnTrigger = "ErrorOccurred"
)

// turn carries the data of a single Submit through the state machine.
type turn struct {
	o              *Orchestrator
	userID         string
	conversationID string
	query          string

	raw     string
	viz     *visualization.Visualization
	lastErr error
	fsm     *stateless.StateMachine
}

func (t *turn) fail(ctx context.Context, err error) error {
	t.lastErr = err
	return t.fsm.FireCtx(ctx, triggerErrorOccurred)
}

func (t *turn) run(ctx context.Context) turnState {
	fsm := stateless.NewStateMachine(stateIdle)
	t.fsm = fsm

	fsm.OnTransitioned(func(_ context.Context, tr stateless.Transition) {
		logger.L.Debug("turn transition", "from", tr.Source, "to", tr.Destination, "trigger", tr.Trigger, "conversation_id", t.conversationID)
	})

	fsm.Configure(stateIdle).
		Permit(triggerStart, statePersistingQuery)

	// State: PersistingQuery
	// Action: create the conversation if needed, then store the user message.
	fsm.Configure(statePersistingQuery).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if t.conversationID == "" {
				id, err := t.o.store.CreateConversation(ctx, t.userID, t.query)
				if err != nil {
					return t.fail(ctx, err)
				}
				t.conversationID = id
				t.o.activate(t.userID, id)
			}

			msg := history.Message{Role: history.RoleUser, Content: t.query}
			if _, err := t.o.store.AppendMessage(ctx, t.userID, t.conversationID, msg); err != nil {
				return t.fail(ctx, err)
			}
			return fsm.FireCtx(ctx, triggerQueryPersisted)
		}).
		Permit(triggerQueryPersisted, stateAwaitingAnswer).
		Permit(triggerErrorOccurred, stateFailed)

	// State: AwaitingAnswer
	// Action: call the provider with the composed prompt.
	fsm.Configure(stateAwaitingAnswer).
		OnEntry(func(ctx context.Context, _ ...any) error {
			raw, err := t.o.provider.Generate(ctx, BuildPrompt(t.query))
			if err != nil {
				logger.L.Error("LLM call failed", "conversation_id", t.conversationID, "error", err)
				return t.fail(ctx, err)
			}
			t.raw = raw
			return fsm.FireCtx(ctx, triggerAnswerReceived)
		}).
		Permit(triggerAnswerReceived, stateInterpreting).
		Permit(triggerErrorOccurred, stateFailed)

	// State: Interpreting
	// Action: decode the answer and pick the reply branch.
	fsm.Configure(stateInterpreting).
		OnEntry(func(ctx context.Context, _ ...any) error {
			v, err := visualization.Parse(t.raw)
			if err != nil {
				logger.L.Warn("could not parse AI response, treating as invalid query", "conversation_id", t.conversationID, "error", err)
				return fsm.FireCtx(ctx, triggerUnparseable)
			}
			t.viz = v
			if v.Renderable() {
				return fsm.FireCtx(ctx, triggerRelevant)
			}
			return fsm.FireCtx(ctx, triggerIrrelevant)
		}).
		Permit(triggerRelevant, stateReplyingVisualization).
		Permit(triggerIrrelevant, stateReplyingSummary).
		Permit(triggerUnparseable, stateReplyingFallback)

	fsm.Configure(stateReplyingVisualization).
		OnEntry(func(ctx context.Context, _ ...any) error {
			t.viz.ApplyDefaultColors()
			t.o.setVisualization(t.conversationID, t.viz)
			return t.reply(ctx, t.viz.Summary, t.viz, t.viz.Summary)
		}).
		Permit(triggerReplied, stateDone).
		Permit(triggerErrorOccurred, stateFailed)

	fsm.Configure(stateReplyingSummary).
		OnEntry(func(ctx context.Context, _ ...any) error {
			t.o.setVisualization(t.conversationID, nil)
			return t.reply(ctx, t.viz.Summary, nil, t.viz.Summary)
		}).
		Permit(triggerReplied, stateDone).
		Permit(triggerErrorOccurred, stateFailed)

	fsm.Configure(stateReplyingFallback).
		OnEntry(func(ctx context.Context, _ ...any) error {
			t.o.setVisualization(t.conversationID, nil)
			return t.reply(ctx, FallbackReply, nil, FallbackSummary)
		}).
		Permit(triggerReplied, stateDone).
		Permit(triggerErrorOccurred, stateFailed)

	fsm.Configure(stateDone)

	// State: Failed
	// Action: leave an apology in the conversation when there is one.
	fsm.Configure(stateFailed).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if t.lastErr == nil {
				t.lastErr = errors.New("turn failed without a specific error")
			}
			logger.L.Error("error in submit", "conversation_id", t.conversationID, "error", t.lastErr)
			if t.conversationID == "" {
				return nil
			}
			msg := history.Message{Role: history.RoleAssistant, Content: UnexpectedErrorReply}
			if _, err := t.o.store.AppendMessage(ctx, t.userID, t.conversationID, msg); err != nil {
				logger.L.Error("failed to store error reply", "conversation_id", t.conversationID, "error", err)
			}
			return nil
		})

	if err := fsm.FireCtx(ctx, triggerStart); err != nil {
		logger.L.Warn("FSM fire error", "error", err)
	}

	state, err := fsm.State(ctx)
	if err != nil {
		logger.L.Error("FSM error when retrieving state", "error", err)
		return stateFailed
	}
	return state.(turnState)
}

// reply stores the assistant message, then the conversation summary.
func (t *turn) reply(ctx context.Context, content string, v *visualization.Visualization, lastMessage string) error {
	msg := history.Message{Role: history.RoleAssistant, Content: content, Visualization: v}
	if _, err := t.o.store.AppendMessage(ctx, t.userID, t.conversationID, msg); err != nil {
		return t.fail(ctx, err)
	}
	if err := t.o.store.UpdateConversationSummary(ctx, t.userID, t.conversationID, lastMessage); err != nil {
		return t.fail(ctx, err)
	}
	return t.fsm.FireCtx(ctx, triggerReplied)
}
