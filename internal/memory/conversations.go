package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/omegacore/omegad/pkg/identifiers"
)

// IdleThreshold is the gap since last activity after which a conversation
// is considered stale and a lookup starts a fresh one instead of resuming
// it (spec's resolved Open Question: 120 minutes, not 30).
const IdleThreshold = 120 * time.Minute

// Conversation is spec §3's Conversation entity: the unit of session
// continuity for one (channel, sender, project) tuple.
type Conversation struct {
	ID             string
	Channel        string
	SenderID       string
	Project        string
	Status         string // "active" or "closed"
	StartedAt      time.Time
	LastActivityAt time.Time
	SessionID      string
	Language       string
	Summary        string
}

// LookupOrCreate enforces "at most one active conversation per (channel,
// sender_id, project)": it resumes the existing active row if its last
// activity is within IdleThreshold, closes and replaces it if stale, or
// creates a fresh one if none exists.
func (s *Store) LookupOrCreate(ctx context.Context, channel, senderID, project string) (*Conversation, error) {
	var conv *Conversation
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, status, started_at, last_activity_at, session_id, language
			FROM conversations WHERE channel=? AND sender_id=? AND project=? AND status='active'
			ORDER BY last_activity_at DESC LIMIT 1`, channel, senderID, project)

		var id, status, startedAt, lastActivity, sessionID, language string
		err := row.Scan(&id, &status, &startedAt, &lastActivity, &sessionID, &language)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// fall through to create
		case err != nil:
			return err
		default:
			last := parseTime(lastActivity)
			if time.Since(last) <= IdleThreshold {
				conv = &Conversation{
					ID: id, Channel: channel, SenderID: senderID, Project: project,
					Status: status, StartedAt: parseTime(startedAt), LastActivityAt: last,
					SessionID: sessionID, Language: language,
				}
				return nil
			}
			if _, err := tx.ExecContext(ctx, `UPDATE conversations SET status='closed' WHERE id=?`, id); err != nil {
				return err
			}
		}

		newID := identifiers.New()
		ts := now()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversations(id, channel, sender_id, project, status, started_at, last_activity_at, session_id, language)
			VALUES (?, ?, ?, ?, 'active', ?, ?, '', '')`, newID, channel, senderID, project, ts, ts); err != nil {
			return err
		}
		conv = &Conversation{
			ID: newID, Channel: channel, SenderID: senderID, Project: project,
			Status: "active", StartedAt: parseTime(ts), LastActivityAt: parseTime(ts),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory: lookup or create conversation: %w", err)
	}
	return conv, nil
}

// Touch bumps a conversation's last_activity_at to now, keeping it alive
// past the idle threshold for as long as messages keep arriving.
func (s *Store) Touch(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET last_activity_at=? WHERE id=?`, now(), conversationID)
	return err
}

// SetSessionID records the completion backend's resume handle for a
// conversation, so the next turn can continue the same backend session.
func (s *Store) SetSessionID(ctx context.Context, conversationID, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET session_id=? WHERE id=?`, sessionID, conversationID)
	return err
}

// SetLanguage records the active language for a conversation (marker
// LANG_SWITCH's effect).
func (s *Store) SetLanguage(ctx context.Context, conversationID, language string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET language=? WHERE id=?`, language, conversationID)
	return err
}

// CloseConversation marks a conversation closed, used by the summarizer
// loop when it decides a conversation has gone idle past the threshold and
// its summary has been extracted, and by FORGET_CONVERSATION's effect.
func (s *Store) CloseConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET status='closed' WHERE id=?`, conversationID)
	return err
}

// CloseWithSummary closes a conversation and records its summary in one
// write, the summarizer loop's effect once it has extracted one from an
// idle conversation's tail.
func (s *Store) CloseWithSummary(ctx context.Context, conversationID, summary string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET status='closed', summary=? WHERE id=?`, summary, conversationID)
	return err
}

// RecentSummaries returns the most recent closed-conversation summaries
// for (channel, sender, project), used by context assembly's "summaries"
// ContextNeeds flag (spec §4.2 stage 7).
func (s *Store) RecentSummaries(ctx context.Context, channel, senderID, project string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT summary FROM conversations
		WHERE channel=? AND sender_id=? AND project=? AND status='closed' AND summary != ''
		ORDER BY last_activity_at DESC LIMIT ?`, channel, senderID, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ActiveIdleConversations returns every active conversation whose last
// activity is older than IdleThreshold, for the summarizer loop's idle
// sweep.
func (s *Store) ActiveIdleConversations(ctx context.Context) ([]*Conversation, error) {
	cutoff := time.Now().Add(-IdleThreshold).UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, sender_id, project, status, started_at, last_activity_at, session_id, language
		FROM conversations WHERE status='active' AND last_activity_at < ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		var c Conversation
		var started, last string
		if err := rows.Scan(&c.ID, &c.Channel, &c.SenderID, &c.Project, &c.Status, &started, &last, &c.SessionID, &c.Language); err != nil {
			return nil, err
		}
		c.StartedAt = parseTime(started)
		c.LastActivityAt = parseTime(last)
		out = append(out, &c)
	}
	return out, rows.Err()
}
