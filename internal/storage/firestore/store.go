// Package firestore stores conversations in Cloud Firestore under
// users/{uid}/chats/{chatId}/messages/{messageId}, ordered by a
// server-assigned timestamp.
package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/elliotchance/pie/v2"
	"github.com/samber/oops"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/comigor/floatchat-go/internal/history"
	"github.com/comigor/floatchat-go/internal/logger"
	"github.com/comigor/floatchat-go/internal/visualization"
)

type Store struct {
	client *firestore.Client
}

var _ history.Store = (*Store)(nil)

// NewStore creates a Firestore store for projectID.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, oops.In("storage").Tags("firestore").Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, oops.In("storage").Tags("firestore").With("project_id", projectID).Wrapf(err, "creating firestore client")
	}
	return &Store{client: client}, nil
}

func (s *Store) errs(op string) oops.OopsErrorBuilder {
	return oops.In("storage").Tags("firestore").Code(op)
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) chatsCol(userID string) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(userID).Collection("chats")
}

func (s *Store) chatDoc(userID, conversationID string) *firestore.DocumentRef {
	return s.chatsCol(userID).Doc(conversationID)
}

func (s *Store) messagesCol(userID, conversationID string) *firestore.CollectionRef {
	return s.chatDoc(userID, conversationID).Collection("messages")
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type chatDoc struct {
	Title       string    `firestore:"title"`
	LastMessage string    `firestore:"lastMessage"`
	Timestamp   time.Time `firestore:"timestamp"`
}

type messageDoc struct {
	Role          string                       `firestore:"role"`
	Content       string                       `firestore:"content"`
	Timestamp     time.Time                    `firestore:"timestamp"`
	Visualization *visualization.Visualization `firestore:"visualization,omitempty"`
}

func toConversation(snap *firestore.DocumentSnapshot) (history.Conversation, error) {
	var doc chatDoc
	if err := snap.DataTo(&doc); err != nil {
		return history.Conversation{}, err
	}
	return history.Conversation{
		ID:          snap.Ref.ID,
		Title:       doc.Title,
		LastMessage: doc.LastMessage,
		Timestamp:   doc.Timestamp,
	}.WithDefaults(), nil
}

func toMessage(snap *firestore.DocumentSnapshot) (history.Message, error) {
	var doc messageDoc
	if err := snap.DataTo(&doc); err != nil {
		return history.Message{}, err
	}
	return history.Message{
		ID:            snap.Ref.ID,
		Role:          history.Role(doc.Role),
		Content:       doc.Content,
		Timestamp:     doc.Timestamp,
		Visualization: doc.Visualization,
	}, nil
}

// ─────────────────────────────────────────
// Subscriptions
// ─────────────────────────────────────────

// listen runs a snapshot listener until the returned Unsubscribe is called.
func listen[T any](q firestore.Query, scope string, decode func(*firestore.DocumentSnapshot) (T, error), fn func([]T)) history.Unsubscribe {
	ctx, cancel := context.WithCancel(context.Background())
	it := q.Snapshots(ctx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
					return
				}
				logger.L.Error("firestore snapshot listener failed", "scope", scope, "error", err)
				return
			}

			docs, err := snap.Documents.GetAll()
			if err != nil {
				logger.L.Error("firestore snapshot read failed", "scope", scope, "error", err)
				continue
			}
			out := make([]T, 0, len(docs))
			for _, d := range docs {
				item, err := decode(d)
				if err != nil {
					logger.L.Warn("skipping undecodable document", "path", d.Ref.Path, "error", err)
					continue
				}
				out = append(out, item)
			}
			fn(out)
		}
	}()

	return history.Unsubscribe(cancel)
}

func (s *Store) SubscribeConversations(userID string, fn func([]history.Conversation)) (history.Unsubscribe, error) {
	q := s.chatsCol(userID).OrderBy("timestamp", firestore.Desc)
	return listen(q, userID, toConversation, fn), nil
}

func (s *Store) SubscribeMessages(userID, conversationID string, fn func([]history.Message)) (history.Unsubscribe, error) {
	q := s.messagesCol(userID, conversationID).OrderBy("timestamp", firestore.Asc)
	return listen(q, history.MessagesScope(userID, conversationID), toMessage, fn), nil
}

// ─────────────────────────────────────────
// Writes
// ─────────────────────────────────────────

func (s *Store) CreateConversation(ctx context.Context, userID, title string) (string, error) {
	ref, _, err := s.chatsCol(userID).Add(ctx, map[string]any{
		"title":     title,
		"timestamp": firestore.ServerTimestamp,
	})
	if err != nil {
		return "", s.errs("create_conversation").With("user_id", userID).Wrap(err)
	}
	return ref.ID, nil
}

func (s *Store) AppendMessage(ctx context.Context, userID, conversationID string, msg history.Message) (string, error) {
	data := map[string]any{
		"role":      string(msg.Role),
		"content":   msg.Content,
		"timestamp": firestore.ServerTimestamp,
	}
	if msg.Visualization != nil {
		data["visualization"] = msg.Visualization
	}

	ref, _, err := s.messagesCol(userID, conversationID).Add(ctx, data)
	if err != nil {
		return "", s.errs("append_message").With("conversation_id", conversationID).Wrap(err)
	}
	return ref.ID, nil
}

func (s *Store) UpdateConversationSummary(ctx context.Context, userID, conversationID, lastMessage string) error {
	_, err := s.chatDoc(userID, conversationID).Set(ctx, map[string]any{
		"lastMessage": lastMessage,
	}, firestore.MergeAll)
	if err != nil {
		return s.errs("update_summary").With("conversation_id", conversationID).Wrap(err)
	}
	return nil
}

func (s *Store) TouchConversation(ctx context.Context, userID, conversationID string) error {
	_, err := s.chatDoc(userID, conversationID).Set(ctx, map[string]any{
		"timestamp": firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return s.errs("touch_conversation").With("conversation_id", conversationID).Wrap(err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, userID, conversationID string) ([]history.Message, error) {
	iter := s.messagesCol(userID, conversationID).OrderBy("timestamp", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	out := []history.Message{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, s.errs("list_messages").With("conversation_id", conversationID).Wrap(err)
		}
		m, err := toMessage(snap)
		if err != nil {
			return nil, s.errs("list_messages").With("path", snap.Ref.Path).Wrapf(err, "decode messageDoc")
		}
		out = append(out, m)
	}
	return out, nil
}

// maxBatchWrites is Firestore's per-batch write limit.
const maxBatchWrites = 500

// deleteChunks splits refs into groups that each fit in one write batch.
func deleteChunks(refs []*firestore.DocumentRef) [][]*firestore.DocumentRef {
	return pie.Chunk(refs, maxBatchWrites)
}

// DeleteConversationCascade deletes all messages in write batches of at most
// maxBatchWrites and removes the chat document only once every batch has
// committed. Each batch is atomic on its own; if one fails the chat document
// and the remaining messages are kept.
func (s *Store) DeleteConversationCascade(ctx context.Context, userID, conversationID string) error {
	errs := s.errs("delete_conversation").With("user_id", userID, "conversation_id", conversationID)
	chatRef := s.chatDoc(userID, conversationID)

	snaps, err := chatRef.Collection("messages").Documents(ctx).GetAll()
	if err != nil {
		return errs.Wrapf(err, "list messages")
	}

	refs := pie.Map(snaps, func(d *firestore.DocumentSnapshot) *firestore.DocumentRef { return d.Ref })
	for i, chunk := range deleteChunks(refs) {
		batch := s.client.Batch()
		for _, ref := range chunk {
			batch.Delete(ref)
		}
		if _, err := batch.Commit(ctx); err != nil {
			return errs.With("batch", i).Wrapf(err, "delete messages")
		}
	}

	if _, err := chatRef.Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return errs.Wrapf(err, "delete chat")
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Shutdown lets the DI container close the store.
func (s *Store) Shutdown() error { return s.Close() }
