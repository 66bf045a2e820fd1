package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pulsadash/topup-sender/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	DuplicateKeyValue string = "23505"
)

var (
	ErrDuplicateKeyValue = errors.New("duplicate key value")
	ErrNotFound          = errors.New("not found")
)

// UpsertResult inserts a transaction result or, when the ref_id already
// exists, updates its mutable fields. created_at and ref_id survive every
// later write, so the runner's synchronous write and the provider's async
// callback can land in either order and the later write wins.
func (p *Postgres) UpsertResult(ctx context.Context, r types.Result) error {
	_, err := p.pg.Exec(ctx, `
		INSERT INTO transaction_result (
			ref_id, batch_id, customer_no, customer_no_used, product_code,
			row_number, success, status, status_code, response_data,
			raw_response, error_message, sn, response_time_ms,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			now(), now())
		ON CONFLICT (ref_id) DO UPDATE SET
			success = EXCLUDED.success,
			status = EXCLUDED.status,
			status_code = COALESCE(EXCLUDED.status_code, transaction_result.status_code),
			response_data = COALESCE(EXCLUDED.response_data, transaction_result.response_data),
			raw_response = COALESCE(EXCLUDED.raw_response, transaction_result.raw_response),
			error_message = EXCLUDED.error_message,
			sn = COALESCE(EXCLUDED.sn, transaction_result.sn),
			updated_at = now()`,
		r.RefID, r.BatchID, r.CustomerNo, r.CustomerNoUsed, r.ProductCode,
		r.RowNumber, r.Success, r.Status, r.StatusCode, r.ResponseData,
		r.RawResponse, r.ErrorMessage, r.SN, r.ResponseTimeMs,
	)
	if err != nil {
		return fmt.Errorf("couldn't upsert result %s: %w", r.RefID, err)
	}

	return nil
}

// GetResult returns one result row by its reference ID.
func (p *Postgres) GetResult(ctx context.Context, refID string) (*types.Result, error) {
	row := p.pg.QueryRow(ctx, `
		SELECT ref_id, batch_id, customer_no, customer_no_used, product_code,
			row_number, success, status, status_code, response_data,
			error_message, sn, response_time_ms, created_at, updated_at
		FROM transaction_result
		WHERE ref_id = $1`,
		refID,
	)

	var r types.Result
	err := row.Scan(
		&r.RefID, &r.BatchID, &r.CustomerNo, &r.CustomerNoUsed, &r.ProductCode,
		&r.RowNumber, &r.Success, &r.Status, &r.StatusCode, &r.ResponseData,
		&r.ErrorMessage, &r.SN, &r.ResponseTimeMs, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't get result %s: %w", refID, err)
	}

	return &r, nil
}

// ResultFilter selects rows for the read side. Zero values mean "any".
type ResultFilter struct {
	BatchID string
	Status  string
}

// QueryResults is the dashboard's authoritative paginated read.
func (p *Postgres) QueryResults(ctx context.Context, filter ResultFilter,
	limit, offset int) ([]types.Result, int, error) {

	where := "WHERE ($1 = '' OR batch_id = $1) AND ($2 = '' OR status = $2)"

	var total int
	err := p.pg.QueryRow(ctx,
		"SELECT count(*) FROM transaction_result "+where,
		filter.BatchID, filter.Status,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("couldn't count results: %w", err)
	}

	rows, err := p.pg.Query(ctx, `
		SELECT ref_id, batch_id, customer_no, customer_no_used, product_code,
			row_number, success, status, status_code, response_data,
			error_message, sn, response_time_ms, created_at, updated_at
		FROM transaction_result `+where+`
		ORDER BY created_at DESC, row_number
		LIMIT $3 OFFSET $4`,
		filter.BatchID, filter.Status, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("couldn't query results: %w", err)
	}
	defer rows.Close()

	var results []types.Result
	for rows.Next() {
		var r types.Result
		err := rows.Scan(
			&r.RefID, &r.BatchID, &r.CustomerNo, &r.CustomerNoUsed,
			&r.ProductCode, &r.RowNumber, &r.Success, &r.Status,
			&r.StatusCode, &r.ResponseData, &r.ErrorMessage, &r.SN,
			&r.ResponseTimeMs, &r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("couldn't scan result row: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// CreateBatch records a new run.
func (p *Postgres) CreateBatch(ctx context.Context, b types.Batch) error {
	_, err := p.pg.Exec(ctx, `
		INSERT INTO batch (
			uuid, total, processed_count, successful_count, failed_count,
			status, delay_seconds, created_at
		)
		VALUES ($1, $2, 0, 0, 0, $3, $4, now())`,
		b.ID, b.Total, b.Status, b.DelaySeconds,
	)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok &&
			pgErr.Code == DuplicateKeyValue {
			return ErrDuplicateKeyValue
		}
		return fmt.Errorf("couldn't create batch %s: %w", b.ID, err)
	}

	return nil
}

// UpdateBatchProgress persists the runner's per-item position counters.
func (p *Postgres) UpdateBatchProgress(ctx context.Context, batchID string,
	processed, successful, failed int) error {

	_, err := p.pg.Exec(ctx, `
		UPDATE batch
		SET processed_count = $2, successful_count = $3, failed_count = $4
		WHERE uuid = $1`,
		batchID, processed, successful, failed,
	)
	if err != nil {
		return fmt.Errorf("couldn't update batch %s progress: %w", batchID, err)
	}

	return nil
}

// UpdateBatchStatus moves a batch between running, paused and completed.
func (p *Postgres) UpdateBatchStatus(ctx context.Context, batchID string,
	status types.BatchStatus, completedAt *time.Time) error {

	_, err := p.pg.Exec(ctx, `
		UPDATE batch
		SET status = $2, completed_at = $3
		WHERE uuid = $1`,
		batchID, status, completedAt,
	)
	if err != nil {
		return fmt.Errorf("couldn't update batch %s status: %w", batchID, err)
	}

	return nil
}

// GetBatch returns one batch row.
func (p *Postgres) GetBatch(ctx context.Context, batchID string) (*types.Batch, error) {
	row := p.pg.QueryRow(ctx, `
		SELECT uuid, total, processed_count, successful_count, failed_count,
			status, delay_seconds, created_at, completed_at
		FROM batch
		WHERE uuid = $1`,
		batchID,
	)

	var b types.Batch
	err := row.Scan(
		&b.ID, &b.Total, &b.ProcessedCount, &b.SuccessfulCount,
		&b.FailedCount, &b.Status, &b.DelaySeconds, &b.CreatedAt,
		&b.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't get batch %s: %w", batchID, err)
	}

	return &b, nil
}

// RecountBatch recomputes a batch's success/failure tallies from its
// result rows and returns the refreshed batch. Used after a provider
// callback flips a result's outcome, where incrementing counters would
// drift under out-of-order writes.
func (p *Postgres) RecountBatch(ctx context.Context, batchID string) (
	*types.Batch, error) {

	row := p.pg.QueryRow(ctx, `
		UPDATE batch SET
			successful_count = tallies.successful,
			failed_count = tallies.failed
		FROM (
			SELECT
				count(*) FILTER (WHERE success) AS successful,
				count(*) FILTER (WHERE NOT success) AS failed
			FROM transaction_result
			WHERE batch_id = $1
		) AS tallies
		WHERE uuid = $1
		RETURNING uuid, total, processed_count, successful_count,
			failed_count, status, delay_seconds, created_at, completed_at`,
		batchID,
	)

	var b types.Batch
	err := row.Scan(
		&b.ID, &b.Total, &b.ProcessedCount, &b.SuccessfulCount,
		&b.FailedCount, &b.Status, &b.DelaySeconds, &b.CreatedAt,
		&b.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't recount batch %s: %w", batchID, err)
	}

	return &b, nil
}

// InsertAuditLog appends one outbound request/response record.
func (p *Postgres) InsertAuditLog(ctx context.Context, entry types.AuditLog) error {
	_, err := p.pg.Exec(ctx, `
		INSERT INTO gateway_audit_log (
			ref_id, endpoint, request, response, status_code, error, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		entry.RefID, entry.Endpoint, []byte(entry.Request), entry.Response,
		entry.StatusCode, entry.Error,
	)
	if err != nil {
		return fmt.Errorf("couldn't insert audit log for %s: %w", entry.RefID, err)
	}

	return nil
}
