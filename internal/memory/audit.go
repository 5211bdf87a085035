package memory

import (
	"context"

	"github.com/omegacore/omegad/pkg/identifiers"
)

// AuditEntry is spec §3's Audit entry: an append-only log line covering
// every pipeline stage, scheduler action, and heartbeat cycle.
type AuditEntry struct {
	ID             string
	Timestamp      string
	Channel        string
	SenderID       string
	ConversationID string
	Kind           string
	Content        string
}

// AppendAudit writes one audit entry. Audit is append-only: there is no
// update or delete operation anywhere in this package.
func (s *Store) AppendAudit(ctx context.Context, channel, senderID, conversationID, kind, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit(id, ts, channel, sender_id, conversation_id, kind, content) VALUES (?,?,?,?,?,?,?)`,
		identifiers.New(), now(), channel, senderID, conversationID, kind, content)
	return err
}

// RecentAudit returns the most recent audit entries for a sender.
func (s *Store) RecentAudit(ctx context.Context, senderID string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, channel, sender_id, conversation_id, kind, content
		FROM audit WHERE sender_id=? ORDER BY ts DESC LIMIT ?`, senderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var a AuditEntry
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.Channel, &a.SenderID, &a.ConversationID, &a.Kind, &a.Content); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// CLISession returns the resume handle stored for a (channel, sender,
// project) tuple — spec §3's CLI session entity — or ok=false if none.
func (s *Store) CLISession(ctx context.Context, channel, senderID, project string) (string, bool, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx, `SELECT session_id FROM cli_sessions WHERE channel=? AND sender_id=? AND project=?`,
		channel, senderID, project).Scan(&sessionID)
	if err != nil {
		return "", false, nil
	}
	return sessionID, true, nil
}

// SetCLISession records the resume handle for a (channel, sender, project)
// tuple, overwriting any previous one.
func (s *Store) SetCLISession(ctx context.Context, channel, senderID, project, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cli_sessions(channel, sender_id, project, session_id, updated_at) VALUES (?,?,?,?,?)
		ON CONFLICT(channel, sender_id, project) DO UPDATE SET session_id=excluded.session_id, updated_at=excluded.updated_at`,
		channel, senderID, project, sessionID, now())
	return err
}

// Limitation is spec §3's Limitation entity: a known-issue note the
// BUG_REPORT marker records, deduplicated case-insensitively by title.
type Limitation struct {
	ID     string
	Title  string
	Detail string
}

// RecordLimitation inserts a limitation, or is a no-op if a
// case-insensitive title match already exists (spec's "dedup on
// case-insensitive title").
func (s *Store) RecordLimitation(ctx context.Context, title, detail string) error {
	norm := normalizeTitle(title)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO limitations(id, title, title_norm, detail, created_at) VALUES (?,?,?,?,?)
		ON CONFLICT(title_norm) DO NOTHING`, identifiers.New(), title, norm, detail, now())
	return err
}

func normalizeTitle(title string) string {
	out := make([]rune, 0, len(title))
	for _, r := range title {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}
