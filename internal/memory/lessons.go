package memory

import (
	"context"
	"fmt"

	"github.com/omegacore/omegad/pkg/identifiers"
)

// lessonPruneLimit caps how many lessons are kept per (sender, domain,
// project) group, per spec §4.3's "prune to 10".
const lessonPruneLimit = 10

// Lesson is spec §3's Lesson entity: a rule the LESSON marker recorded so
// future turns in the same domain/project avoid repeating a mistake.
type Lesson struct {
	ID          string
	SenderID    string
	Domain      string
	Project     string
	Rule        string
	Occurrences int
}

// RecordLesson upserts a lesson within its (sender, domain, project) group:
// an exact-rule match bumps its occurrence count instead of duplicating,
// then the group is pruned back to lessonPruneLimit, dropping the oldest.
func (s *Store) RecordLesson(ctx context.Context, senderID, domain, project, rule string) error {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM lessons WHERE sender_id=? AND domain=? AND project=? AND rule=?`,
		senderID, domain, project, rule).Scan(&id)
	if err == nil {
		_, err = s.db.ExecContext(ctx, `UPDATE lessons SET occurrences=occurrences+1, updated_at=? WHERE id=?`, now(), id)
		return err
	}

	ts := now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO lessons(id, sender_id, domain, project, rule, occurrences, created_at, updated_at)
		VALUES (?,?,?,?,?,1,?,?)`, identifiers.New(), senderID, domain, project, rule, ts, ts); err != nil {
		return fmt.Errorf("memory: record lesson: %w", err)
	}
	return s.pruneLessons(ctx, senderID, domain, project)
}

func (s *Store) pruneLessons(ctx context.Context, senderID, domain, project string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM lessons WHERE id IN (
			SELECT id FROM lessons WHERE sender_id=? AND domain=? AND project=?
			ORDER BY updated_at DESC LIMIT -1 OFFSET ?
		)`, senderID, domain, project, lessonPruneLimit)
	return err
}

// Lessons returns the lessons recorded for a (sender, domain, project)
// group, most recently reinforced first, for context assembly.
func (s *Store) Lessons(ctx context.Context, senderID, domain, project string) ([]*Lesson, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, domain, project, rule, occurrences FROM lessons
		WHERE sender_id=? AND domain=? AND project=? ORDER BY updated_at DESC`, senderID, domain, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Lesson
	for rows.Next() {
		var l Lesson
		if err := rows.Scan(&l.ID, &l.SenderID, &l.Domain, &l.Project, &l.Rule, &l.Occurrences); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// AllLessons returns every lesson recorded for project, regardless of
// sender or domain, used by the heartbeat loop's enrichment context (spec
// §4.7: "all lessons").
func (s *Store) AllLessons(ctx context.Context, project string) ([]*Lesson, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, domain, project, rule, occurrences FROM lessons
		WHERE project=? ORDER BY updated_at DESC`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Lesson
	for rows.Next() {
		var l Lesson
		if err := rows.Scan(&l.ID, &l.SenderID, &l.Domain, &l.Project, &l.Rule, &l.Occurrences); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
