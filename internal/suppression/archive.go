// internal/suppression/archive.go
package suppression

import (
	"context"
	"database/sql"
	"fmt"

	"guardian-notify/internal/models"
)

// PostgresArchive mirrors pruned ledger entries into Postgres for long-term
// audit before they disappear from the live store.
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

func (a *PostgresArchive) Archive(ctx context.Context, records []models.SuppressionRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive begin: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO suppression_archive (subject_id, event_date, trigger_class, sent_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject_id, event_date, trigger_class) DO NOTHING`

	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, query,
			rec.Key.SubjectID, rec.Key.Date, rec.Key.TriggerClass, rec.SentAt.UTC()); err != nil {
			return fmt.Errorf("archive insert: %w", err)
		}
	}

	return tx.Commit()
}
