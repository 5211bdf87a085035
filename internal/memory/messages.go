package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/omegacore/omegad/pkg/identifiers"
)

// Message is spec §3's Message entity: one turn of a conversation.
type Message struct {
	ID             string
	ConversationID string
	Role           string // "user", "assistant", "system"
	Content        string
	Metadata       map[string]string
	CreatedAt      time.Time
}

// recallMatchLimit and recallTruncateLen bound FTS5 recall per spec §4.3:
// at most 5 matches, each truncated to 200 characters.
const (
	recallMatchLimit  = 5
	recallTruncateLen = 200
)

// AppendMessage stores one conversation turn and bumps the parent
// conversation's last_activity_at in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string, metadata map[string]string) (*Message, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("memory: marshal message metadata: %w", err)
	}
	id := identifiers.New()
	ts := now()

	_, err = s.db.ExecContext(ctx, `INSERT INTO messages(id, conversation_id, role, content, metadata, created_at) VALUES (?,?,?,?,?,?)`,
		id, conversationID, role, content, string(meta), ts)
	if err != nil {
		return nil, fmt.Errorf("memory: append message: %w", err)
	}
	if err := s.Touch(ctx, conversationID); err != nil {
		return nil, err
	}
	return &Message{ID: id, ConversationID: conversationID, Role: role, Content: content, Metadata: metadata, CreatedAt: parseTime(ts)}, nil
}

// RecentMessages returns the last limit messages of a conversation in
// chronological order, for context assembly's history window.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 40
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, metadata, created_at FROM (
			SELECT * FROM messages WHERE conversation_id=? ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ftsOperatorStrip removes FTS5 query-syntax characters from a free-text
// recall query so a message containing quotes, hyphens or asterisks never
// trips an FTS5 syntax error.
var ftsOperatorStrip = regexp.MustCompile(`["*^:()-]`)

// Recall runs an FTS5 keyword search over a sender's message history,
// returning up to recallMatchLimit matches each truncated to
// recallTruncateLen characters (spec §4.3's recall operation).
func (s *Store) Recall(ctx context.Context, senderID, query string) ([]string, error) {
	cleaned := strings.TrimSpace(ftsOperatorStrip.ReplaceAllString(query, " "))
	if cleaned == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.content FROM messages_fts
		JOIN messages m ON m.rowid = messages_fts.rowid
		JOIN conversations c ON c.id = m.conversation_id
		WHERE messages_fts MATCH ? AND c.sender_id = ?
		ORDER BY rank LIMIT ?`, cleaned, senderID, recallMatchLimit)
	if err != nil {
		return nil, fmt.Errorf("memory: recall: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		out = append(out, Truncate(content, recallTruncateLen))
	}
	return out, rows.Err()
}

// Truncate shortens s to maxLen runes, appending an ellipsis when cut.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "…"
}

func scanMessages(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]*Message, error) {
	var out []*Message
	for rows.Next() {
		var m Message
		var metaJSON, created string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &metaJSON, &created); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(metaJSON), &m.Metadata)
		m.CreatedAt = parseTime(created)
		out = append(out, &m)
	}
	return out, rows.Err()
}
