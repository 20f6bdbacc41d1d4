package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bitmerchant/clerk/internal/clerk/commands"
	"github.com/bitmerchant/clerk/internal/clerk/engine"
	"github.com/bitmerchant/clerk/internal/clerk/intent"
)

// Save upserts the execution row and appends any audit entries not yet
// persisted. Existing audit rows are never rewritten.
func (s *Store) Save(ctx context.Context, ex *engine.Execution) error {
	intentJSON, err := json.Marshal(ex.Intent)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}
	previewJSON, err := marshalNullable(ex.Preview)
	if err != nil {
		return fmt.Errorf("marshal preview: %w", err)
	}
	resultJSON, err := marshalNullable(ex.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO executions
			(id, user_id, intent_type, status, requires_confirmation, confirmed, created_at, intent_json, preview_json, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			requires_confirmation = excluded.requires_confirmation,
			confirmed = excluded.confirmed,
			preview_json = excluded.preview_json,
			result_json = excluded.result_json
	`, ex.ID, ex.UserID, string(ex.Intent.Type), string(ex.Status),
		ex.RequiresConfirmation, ex.Confirmed, ex.Timestamp,
		string(intentJSON), previewJSON, resultJSON); err != nil {
		return fmt.Errorf("upsert execution: %w", err)
	}

	var persisted int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_entries WHERE execution_id = ?", ex.ID,
	).Scan(&persisted); err != nil {
		return fmt.Errorf("count audit entries: %w", err)
	}

	for i := persisted; i < len(ex.AuditLog); i++ {
		entry := ex.AuditLog[i]
		metaJSON, err := marshalNullable(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audit_entries (execution_id, seq, ts, event, details, metadata_json)
			VALUES (?, ?, ?, ?, ?, ?)
		`, ex.ID, i, entry.Timestamp, string(entry.Event), entry.Details, metaJSON); err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get returns the execution with the given id, or engine.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*engine.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, requires_confirmation, confirmed, created_at, intent_json, preview_json, result_json
		FROM executions WHERE id = ?
	`, id)

	ex, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadAuditLog(ctx, ex); err != nil {
		return nil, err
	}
	return ex, nil
}

// ListByStatus returns all executions currently in the given status, oldest
// first.
func (s *Store) ListByStatus(ctx context.Context, status engine.Status) ([]*engine.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, status, requires_confirmation, confirmed, created_at, intent_json, preview_json, result_json
		FROM executions WHERE status = ? ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []*engine.Execution
	for rows.Next() {
		ex, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan executions: %w", err)
	}
	for _, ex := range out {
		if err := s.loadAuditLog(ctx, ex); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CountCompletedSince reports how many executions for userID completed at or
// after since.
func (s *Store) CountCompletedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM executions
		WHERE user_id = ? AND status = ? AND created_at >= ?
	`, userID, string(engine.StatusCompleted), since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count completed executions: %w", err)
	}
	return n, nil
}

// EvictBefore deletes terminal executions created before cutoff. Audit
// entries go with them via the foreign key cascade.
func (s *Store) EvictBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM executions
		WHERE status IN (?, ?, ?) AND created_at < ?
	`, string(engine.StatusCompleted), string(engine.StatusFailed), string(engine.StatusCancelled), cutoff)
	if err != nil {
		return 0, fmt.Errorf("evict executions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("evict executions: %w", err)
	}
	return int(n), nil
}

// Stats summarises the stored executions by status and intent type.
func (s *Store) Stats(ctx context.Context) (*engine.Stats, error) {
	st := &engine.Stats{
		ByStatus: make(map[engine.Status]int),
		ByType:   make(map[intent.Type]int),
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM executions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("query status stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status stats: %w", err)
		}
		st.ByStatus[engine.Status(status)] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan status stats: %w", err)
	}

	typeRows, err := s.db.QueryContext(ctx,
		"SELECT intent_type, COUNT(*) FROM executions GROUP BY intent_type")
	if err != nil {
		return nil, fmt.Errorf("query type stats: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var typ string
		var n int
		if err := typeRows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan type stats: %w", err)
		}
		st.ByType[intent.Type(typ)] = n
	}
	if err := typeRows.Err(); err != nil {
		return nil, fmt.Errorf("scan type stats: %w", err)
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*engine.Execution, error) {
	var (
		ex          engine.Execution
		status      string
		intentJSON  string
		previewJSON sql.NullString
		resultJSON  sql.NullString
	)
	if err := row.Scan(&ex.ID, &ex.UserID, &status, &ex.RequiresConfirmation,
		&ex.Confirmed, &ex.Timestamp, &intentJSON, &previewJSON, &resultJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	ex.Status = engine.Status(status)

	ex.Intent = &intent.Action{}
	if err := json.Unmarshal([]byte(intentJSON), ex.Intent); err != nil {
		return nil, fmt.Errorf("unmarshal intent: %w", err)
	}
	if previewJSON.Valid {
		ex.Preview = &commands.Preview{}
		if err := json.Unmarshal([]byte(previewJSON.String), ex.Preview); err != nil {
			return nil, fmt.Errorf("unmarshal preview: %w", err)
		}
	}
	if resultJSON.Valid {
		ex.Result = &commands.Result{}
		if err := json.Unmarshal([]byte(resultJSON.String), ex.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return &ex, nil
}

func (s *Store) loadAuditLog(ctx context.Context, ex *engine.Execution) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, event, details, metadata_json
		FROM audit_entries WHERE execution_id = ? ORDER BY seq
	`, ex.ID)
	if err != nil {
		return fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entry    engine.AuditEntry
			event    string
			metaJSON sql.NullString
		)
		if err := rows.Scan(&entry.Timestamp, &event, &entry.Details, &metaJSON); err != nil {
			return fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Event = engine.AuditEvent(event)
		if metaJSON.Valid {
			if err := json.Unmarshal([]byte(metaJSON.String), &entry.Metadata); err != nil {
				return fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		ex.AuditLog = append(ex.AuditLog, entry)
	}
	return rows.Err()
}

// marshalNullable JSON-encodes v, mapping nil (typed or untyped) to SQL NULL.
func marshalNullable(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case *commands.Preview:
		if t == nil {
			return sql.NullString{}, nil
		}
	case *commands.Result:
		if t == nil {
			return sql.NullString{}, nil
		}
	case map[string]any:
		if t == nil {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
