// Package sqlite provides a SQLite-backed history.Store.
// The database file and its tables are created on first open.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/comigor/floatchat-go/internal/history"
	"github.com/comigor/floatchat-go/internal/logger"
	"github.com/comigor/floatchat-go/internal/visualization"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    last_message TEXT NOT NULL DEFAULT '',
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS conversations_user ON conversations (user_id, timestamp);
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    visualization TEXT,
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_conversation ON messages (user_id, conversation_id, timestamp);
`

type Store struct {
	db  *sql.DB
	now func() time.Time

	conversations *history.Broker[history.Conversation]
	messages      *history.Broker[history.Message]
}

var _ history.Store = (*Store)(nil)

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	errs := oops.In("storage").Tags("sqlite").With("path", path)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.Wrapf(err, "create database directory")
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, errs.Wrapf(err, "open database")
	}
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errs.Wrapf(err, "create tables")
	}
	logger.L.Info("sqlite history DB initialized", "path", path)

	return &Store{
		db:            db,
		now:           time.Now,
		conversations: history.NewBroker[history.Conversation](),
		messages:      history.NewBroker[history.Message](),
	}, nil
}

func (s *Store) errs(op string) oops.OopsErrorBuilder {
	return oops.In("storage").Tags("sqlite").Code(op)
}

func (s *Store) SubscribeConversations(userID string, fn func([]history.Conversation)) (history.Unsubscribe, error) {
	unsub := s.conversations.Subscribe(userID, fn)
	initial, err := s.listConversations(context.Background(), userID)
	if err != nil {
		unsub()
		return nil, err
	}
	fn(initial)
	return unsub, nil
}

func (s *Store) SubscribeMessages(userID, conversationID string, fn func([]history.Message)) (history.Unsubscribe, error) {
	unsub := s.messages.Subscribe(history.MessagesScope(userID, conversationID), fn)
	initial, err := s.ListMessages(context.Background(), userID, conversationID)
	if err != nil {
		unsub()
		return nil, err
	}
	fn(initial)
	return unsub, nil
}

func (s *Store) CreateConversation(ctx context.Context, userID, title string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, timestamp) VALUES (?, ?, ?, ?);`,
		id, userID, title, s.now().UnixNano())
	if err != nil {
		return "", s.errs("create_conversation").With("user_id", userID).Wrap(err)
	}
	s.publishConversations(ctx, userID)
	return id, nil
}

func (s *Store) AppendMessage(ctx context.Context, userID, conversationID string, msg history.Message) (string, error) {
	errs := s.errs("append_message").With("conversation_id", conversationID)

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM conversations WHERE id = ? AND user_id = ?;`, conversationID, userID).Scan(&exists)
	if err != nil {
		return "", errs.Wrap(err)
	}
	if exists == 0 {
		return "", errs.Wrap(history.ErrNotFound)
	}

	var vizJSON sql.NullString
	if msg.Visualization != nil {
		b, err := json.Marshal(msg.Visualization)
		if err != nil {
			return "", errs.Wrapf(err, "encode visualization")
		}
		vizJSON = sql.NullString{String: string(b), Valid: true}
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, user_id, role, content, visualization, timestamp) VALUES (?,?,?,?,?,?,?);`,
		id, conversationID, userID, string(msg.Role), msg.Content, vizJSON, s.now().UnixNano())
	if err != nil {
		return "", errs.Wrap(err)
	}

	s.publishMessages(ctx, userID, conversationID)
	return id, nil
}

func (s *Store) UpdateConversationSummary(ctx context.Context, userID, conversationID, lastMessage string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, last_message, timestamp) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET last_message = excluded.last_message;`,
		conversationID, userID, lastMessage, s.now().UnixNano())
	if err != nil {
		return s.errs("update_summary").With("conversation_id", conversationID).Wrap(err)
	}
	s.publishConversations(ctx, userID)
	return nil
}

func (s *Store) TouchConversation(ctx context.Context, userID, conversationID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET timestamp = ? WHERE id = ? AND user_id = ?;`,
		s.now().UnixNano(), conversationID, userID)
	errs := s.errs("touch_conversation").With("conversation_id", conversationID)
	if err != nil {
		return errs.Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Wrap(history.ErrNotFound)
	}
	s.publishConversations(ctx, userID)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, userID, conversationID string) ([]history.Message, error) {
	errs := s.errs("list_messages").With("conversation_id", conversationID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, visualization, timestamp FROM messages
		 WHERE user_id = ? AND conversation_id = ? ORDER BY timestamp ASC, rowid ASC;`,
		userID, conversationID)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer rows.Close()

	out := []history.Message{}
	for rows.Next() {
		var (
			m       history.Message
			role    string
			vizJSON sql.NullString
			ts      int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &vizJSON, &ts); err != nil {
			return nil, errs.Wrap(err)
		}
		m.Role = history.Role(role)
		m.Timestamp = time.Unix(0, ts)
		if vizJSON.Valid {
			var v visualization.Visualization
			if err := json.Unmarshal([]byte(vizJSON.String), &v); err != nil {
				logger.L.Warn("stored visualization is corrupt; dropping it", "message_id", m.ID, "error", err)
			} else {
				m.Visualization = &v
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err)
	}
	return out, nil
}

func (s *Store) DeleteConversationCascade(ctx context.Context, userID, conversationID string) error {
	errs := s.errs("delete_conversation").With("conversation_id", conversationID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM messages WHERE user_id = ? AND conversation_id = ?;`, userID, conversationID); err != nil {
		return errs.Wrapf(err, "delete messages")
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM conversations WHERE user_id = ? AND id = ?;`, userID, conversationID); err != nil {
		return errs.Wrapf(err, "delete conversation")
	}
	if err = tx.Commit(); err != nil {
		return errs.Wrap(err)
	}

	s.publishMessages(ctx, userID, conversationID)
	s.publishConversations(ctx, userID)
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Shutdown lets the DI container close the store.
func (s *Store) Shutdown() error { return s.Close() }

func (s *Store) listConversations(ctx context.Context, userID string) ([]history.Conversation, error) {
	errs := s.errs("list_conversations").With("user_id", userID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, last_message, timestamp FROM conversations
		 WHERE user_id = ? ORDER BY timestamp DESC, rowid DESC;`, userID)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer rows.Close()

	out := []history.Conversation{}
	for rows.Next() {
		var (
			c  history.Conversation
			ts int64
		)
		if err := rows.Scan(&c.ID, &c.Title, &c.LastMessage, &ts); err != nil {
			return nil, errs.Wrap(err)
		}
		c.Timestamp = time.Unix(0, ts)
		out = append(out, c.WithDefaults())
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err)
	}
	return out, nil
}

func (s *Store) publishConversations(ctx context.Context, userID string) {
	if !s.conversations.Active(userID) {
		return
	}
	list, err := s.listConversations(ctx, userID)
	if err != nil {
		logger.L.Error("failed to load conversations snapshot", "user_id", userID, "error", err)
		return
	}
	s.conversations.Publish(userID, list)
}

func (s *Store) publishMessages(ctx context.Context, userID, conversationID string) {
	scope := history.MessagesScope(userID, conversationID)
	if !s.messages.Active(scope) {
		return
	}
	msgs, err := s.ListMessages(ctx, userID, conversationID)
	if err != nil {
		logger.L.Error("failed to load messages snapshot", "conversation_id", conversationID, "error", err)
		return
	}
	s.messages.Publish(scope, msgs)
}
