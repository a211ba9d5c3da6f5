// ABOUTME: SQLite-backed conversation and item store using modernc.org/sqlite
// ABOUTME: Implements the OpenAI-style conversations surface with automatic schema creation

package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a conversation or item does not exist.
var ErrNotFound = errors.New("not found")

// Conversation is one stored conversation.
type Conversation struct {
	ID        string            `json:"id"`
	Object    string            `json:"object"`
	CreatedAt int64             `json:"created_at"`
	Metadata  map[string]string `json:"metadata"`
}

// Item is one stored conversation item. Data holds the caller-provided body;
// the id and created_at fields are injected into the JSON representation.
type Item struct {
	ID             string
	ConversationID string
	CreatedAt      int64
	Data           map[string]any
}

// Payload returns the wire representation of the item.
func (i *Item) Payload() map[string]any {
	out := make(map[string]any, len(i.Data)+2)
	for k, v := range i.Data {
		out[k] = v
	}
	out["id"] = i.ID
	out["created_at"] = i.CreatedAt
	return out
}

// Store persists conversations and their items in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the conversation database at path. Parent
// directories are created if needed; ":memory:" is accepted for tests.
func NewStore(path string) (*Store, error) {
	logger := slog.Default().With("component", "conversation")

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	// WAL improves concurrent read behavior for file-backed databases.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("conversation store initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		);

		CREATE TABLE IF NOT EXISTS items (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			data TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_items_conversation_id
			ON items(conversation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversation stores a new conversation with the given metadata.
func (s *Store) CreateConversation(ctx context.Context, metadata map[string]string) (*Conversation, error) {
	conv := &Conversation{
		ID:        "conv_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Object:    "conversation",
		CreatedAt: time.Now().Unix(),
		Metadata:  metadata,
	}
	if conv.Metadata == nil {
		conv.Metadata = map[string]string{}
	}

	metaJSON, err := json.Marshal(conv.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, created_at, metadata) VALUES (?, ?, ?)",
		conv.ID, conv.CreatedAt, string(metaJSON))
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns the conversation or ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, created_at, metadata FROM conversations WHERE id = ?", id)
	return scanConversation(row)
}

// UpdateConversation replaces the conversation's metadata.
func (s *Store) UpdateConversation(ctx context.Context, id string, metadata map[string]string) (*Conversation, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET metadata = ? WHERE id = ?", string(metaJSON), id)
	if err != nil {
		return nil, fmt.Errorf("updating conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return s.GetConversation(ctx, id)
}

// DeleteConversation removes the conversation and all of its items.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListConversations returns conversations whose metadata contains every
// key/value pair in filter, newest first. An empty filter matches all.
func (s *Store) ListConversations(ctx context.Context, filter map[string]string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, created_at, metadata FROM conversations ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		if metadataMatches(conv.Metadata, filter) {
			out = append(out, conv)
		}
	}
	return out, rows.Err()
}

func metadataMatches(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// AddItems appends items to a conversation in the given order.
func (s *Store) AddItems(ctx context.Context, conversationID string, items []map[string]any) ([]*Item, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	out := make([]*Item, 0, len(items))
	for _, data := range items {
		item := &Item{
			ID:             "item_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
			ConversationID: conversationID,
			CreatedAt:      now,
			Data:           data,
		}
		dataJSON, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding item: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO items (id, conversation_id, created_at, data) VALUES (?, ?, ?, ?)",
			item.ID, conversationID, item.CreatedAt, string(dataJSON)); err != nil {
			return nil, fmt.Errorf("inserting item: %w", err)
		}
		out = append(out, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing items: %w", err)
	}
	return out, nil
}

// ListItems returns up to limit items in insertion order (order "asc") or
// reverse ("desc"), starting after the item with id after when given. The
// second return value reports whether more items remain.
func (s *Store) ListItems(ctx context.Context, conversationID string, limit int, after, order string) ([]*Item, bool, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, false, err
	}
	if limit <= 0 {
		limit = 100
	}
	desc := order == "desc"

	query := "SELECT id, conversation_id, created_at, data FROM items WHERE conversation_id = ?"
	args := []any{conversationID}

	if after != "" {
		afterSeq, err := s.itemSeq(ctx, conversationID, after)
		if err != nil {
			return nil, false, err
		}
		if desc {
			query += " AND seq < ?"
		} else {
			query += " AND seq > ?"
		}
		args = append(args, afterSeq)
	}

	if desc {
		query += " ORDER BY seq DESC"
	} else {
		query += " ORDER BY seq ASC"
	}
	query += " LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, false, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

// GetItem returns a single item scoped to the conversation, or ErrNotFound.
func (s *Store) GetItem(ctx context.Context, conversationID, itemID string) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, conversation_id, created_at, data FROM items WHERE conversation_id = ? AND id = ?",
		conversationID, itemID)
	return scanItem(row)
}

func (s *Store) itemSeq(ctx context.Context, conversationID, itemID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		"SELECT seq FROM items WHERE conversation_id = ? AND id = ?",
		conversationID, itemID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("resolving pagination cursor: %w", err)
	}
	return seq, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var metaJSON string
	err := row.Scan(&conv.ID, &conv.CreatedAt, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	conv.Object = "conversation"
	if err := json.Unmarshal([]byte(metaJSON), &conv.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return &conv, nil
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var dataJSON string
	err := row.Scan(&item.ID, &item.ConversationID, &item.CreatedAt, &dataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning item: %w", err)
	}
	if err := json.Unmarshal([]byte(dataJSON), &item.Data); err != nil {
		return nil, fmt.Errorf("decoding item data: %w", err)
	}
	return &item, nil
}
