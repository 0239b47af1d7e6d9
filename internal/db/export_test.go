package db

import (
	"context"
	"fmt"
)

// InsertLocationRow inserts a location row without checking for an existing
// one, so tests can build duplicate GSPs.
func InsertLocationRow(ctx context.Context, sess Session, gspID int) error {
	switch s := sess.(type) {
	case *sqliteSession:
		_, err := s.tx.ExecContext(ctx, `INSERT INTO location (gsp_id, label) VALUES (?, ?)`, gspID, "duplicate")
		return err
	case *pgSession:
		_, err := s.q.Exec(ctx, `INSERT INTO location (gsp_id, label) VALUES ($1, $2)`, gspID, "duplicate")
		return err
	default:
		return fmt.Errorf("unsupported session %T", sess)
	}
}
