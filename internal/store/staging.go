package store

import (
	"context"
	"fmt"

	"github.com/roach88/enrolsync/internal/ir"
)

// ReplaceStaging clears sync_enrolments and inserts facts in a single
// transaction. On any failure the transaction rolls back and the previous
// run's rows remain; callers must not diff against them.
//
// Returns the number of rows inserted.
func (s *Store) ReplaceStaging(ctx context.Context, facts []ir.Fact) (int, error) {
	var inserted int
	err := retryOnContention(func() error {
		n, err := s.replaceStaging(ctx, facts)
		inserted = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) replaceStaging(ctx context.Context, facts []ir.Fact) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("replace staging: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_enrolments`); err != nil {
		return 0, fmt.Errorf("replace staging: clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_enrolments (course_code, user_code, roleid, source)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("replace staging: prepare: %w", err)
	}
	defer stmt.Close()

	for i, f := range facts {
		if _, err := stmt.ExecContext(ctx, f.CourseCode, f.UserCode, f.RoleID, f.Source); err != nil {
			return 0, fmt.Errorf("replace staging: insert row %d (course=%s user=%s): %w", i, f.CourseCode, f.UserCode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("replace staging: commit: %w", err)
	}
	return len(facts), nil
}
