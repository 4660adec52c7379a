package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-cbt/internal/model"
)

var journalColumns = []string{
	"attempt_id", "paper_id", "student_id", "event", "state", "remaining_units",
	"question_id", "saved", "failed", "submit_trigger", "message", "instance_id", "occurred_at",
}

// JournalRepository persists attempt lifecycle events.
type JournalRepository struct {
	pool *pgxpool.Pool
}

// NewJournalRepository creates a new JournalRepository.
func NewJournalRepository(pool *pgxpool.Pool) *JournalRepository {
	return &JournalRepository{pool: pool}
}

// InsertBatch writes many events in one COPY.
func (r *JournalRepository) InsertBatch(ctx context.Context, records []model.AttemptEventRecord) error {
	rows := make([][]interface{}, 0, len(records))
	for i := range records {
		rows = append(rows, journalRow(&records[i]))
	}

	_, err := r.pool.CopyFrom(ctx, pgx.Identifier{"attempt_events"}, journalColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy attempt events: %w", err)
	}
	return nil
}

// Insert writes a single event.
func (r *JournalRepository) Insert(ctx context.Context, rec model.AttemptEventRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_events (attempt_id, paper_id, student_id, event, state, remaining_units,
		                             question_id, saved, failed, submit_trigger, message, instance_id, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		journalRow(&rec)...,
	)
	if err != nil {
		return fmt.Errorf("insert attempt event: %w", err)
	}
	return nil
}

// ListByAttempt returns an attempt's journal in order.
func (r *JournalRepository) ListByAttempt(ctx context.Context, attemptID string) ([]model.AttemptEventRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, paper_id, student_id, event, state, remaining_units,
		        COALESCE(question_id, ''), saved, failed, COALESCE(submit_trigger, ''),
		        COALESCE(message, ''), instance_id, occurred_at
		 FROM attempt_events
		 WHERE attempt_id = $1
		 ORDER BY occurred_at, id`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query attempt events: %w", err)
	}
	defer rows.Close()

	var out []model.AttemptEventRecord
	for rows.Next() {
		var rec model.AttemptEventRecord
		var kind, state, trigger string
		if err := rows.Scan(
			&rec.AttemptID, &rec.PaperID, &rec.StudentID, &kind, &state, &rec.Remaining,
			&rec.QuestionID, &rec.Saved, &rec.Failed, &trigger,
			&rec.Message, &rec.InstanceID, &rec.At,
		); err != nil {
			return nil, fmt.Errorf("scan attempt event: %w", err)
		}
		rec.Kind = model.EventKind(kind)
		rec.State = model.AttemptState(state)
		rec.Trigger = model.SubmitTrigger(trigger)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func journalRow(rec *model.AttemptEventRecord) []interface{} {
	return []interface{}{
		rec.AttemptID,
		rec.PaperID,
		rec.StudentID,
		string(rec.Kind),
		string(rec.State),
		rec.Remaining,
		nullable(rec.QuestionID),
		rec.Saved,
		rec.Failed,
		nullable(string(rec.Trigger)),
		nullable(rec.Message),
		rec.InstanceID,
		rec.At,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
