package memory

import (
	"context"
	"fmt"
)

// systemFactKeys are facts the gateway itself maintains (profile, project
// state, onboarding progress) rather than ones a marker or /forget command
// writes on the user's behalf. PurgeFacts leaves these alone; only a direct
// call from gatewaycore's own bookkeeping may overwrite them.
var systemFactKeys = map[string]bool{
	"profile.language":  true,
	"profile.name":      true,
	"onboarding.stage":  true,
	"project.active":    true,
	"personality.style": true,
}

// Fact is spec §3's Fact entity: a durable sender-scoped key/value pair.
type Fact struct {
	SenderID string
	Key      string
	Value    string
	System   bool
}

func systemFlag(key string) int {
	if systemFactKeys[key] {
		return 1
	}
	return 0
}

// UpsertFact writes or replaces one fact for a sender.
func (s *Store) UpsertFact(ctx context.Context, senderID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facts(sender_id, key, value, system, updated_at) VALUES (?,?,?,?,?)
		ON CONFLICT(sender_id, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		senderID, key, value, systemFlag(key), now())
	if err != nil {
		return fmt.Errorf("memory: upsert fact: %w", err)
	}
	return nil
}

// Facts returns every fact stored for a sender.
func (s *Store) Facts(ctx context.Context, senderID string) ([]*Fact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sender_id, key, value, system FROM facts WHERE sender_id=? ORDER BY key`, senderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Fact
	for rows.Next() {
		var f Fact
		var system int
		if err := rows.Scan(&f.SenderID, &f.Key, &f.Value, &system); err != nil {
			return nil, err
		}
		f.System = system == 1
		out = append(out, &f)
	}
	return out, rows.Err()
}

// AllFacts returns every stored fact across every sender, used by the
// heartbeat loop's enrichment context (spec §4.7: "user facts across all
// users").
func (s *Store) AllFacts(ctx context.Context) ([]*Fact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sender_id, key, value, system FROM facts ORDER BY sender_id, key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Fact
	for rows.Next() {
		var f Fact
		var system int
		if err := rows.Scan(&f.SenderID, &f.Key, &f.Value, &system); err != nil {
			return nil, err
		}
		f.System = system == 1
		out = append(out, &f)
	}
	return out, rows.Err()
}

// ForgetFact removes a single fact (the /forget command's effect).
func (s *Store) ForgetFact(ctx context.Context, senderID, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE sender_id=? AND key=?`, senderID, key)
	return err
}

// PurgeFacts deletes every non-system fact for a sender (the /purge
// command and the PURGE_FACTS marker's effect); system facts survive so
// the sender's profile/project state isn't silently reset.
func (s *Store) PurgeFacts(ctx context.Context, senderID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE sender_id=? AND system=0`, senderID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResolveAlias maps a user-facing alias to its canonical sender_id,
// returning the alias unchanged when no mapping exists.
func (s *Store) ResolveAlias(ctx context.Context, alias string) (string, error) {
	var canonical string
	err := s.db.QueryRowContext(ctx, `SELECT canonical FROM aliases WHERE alias=?`, alias).Scan(&canonical)
	if err != nil {
		return alias, nil
	}
	return canonical, nil
}

// SetAlias records alias -> canonical, overwriting any previous mapping.
func (s *Store) SetAlias(ctx context.Context, alias, canonical string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO aliases(alias, canonical) VALUES (?,?) ON CONFLICT(alias) DO UPDATE SET canonical=excluded.canonical`, alias, canonical)
	return err
}
