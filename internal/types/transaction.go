package types

import (
	"encoding/json"
	"time"
)

type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchPaused    BatchStatus = "paused"
	BatchCompleted BatchStatus = "completed"
)

// Transaction statuses as reported by the provider. "Pending" is an
// intermediate state that may later resolve through an async callback.
const (
	StatusSukses  = "Sukses"
	StatusPending = "Pending"
	StatusGagal   = "Gagal"
)

// Item is one row of a submitted batch: top up CustomerNo with ProductCode.
// Immutable once the batch starts.
type Item struct {
	CustomerNo           string `json:"customer_no"`
	CustomerNoNormalized string `json:"customer_no_normalized,omitempty"`
	ProductCode          string `json:"product_code"`
	RowNumber            int    `json:"row_number"`
}

// Result is the persisted outcome of one dispatch attempt. RefID is the
// sole idempotency key: the initial write and any later callback write for
// the same attempt land on the same row.
type Result struct {
	RefID          string          `db:"ref_id" json:"ref_id"`
	BatchID        string          `db:"batch_id" json:"batch_id"`
	CustomerNo     string          `db:"customer_no" json:"customer_no"`
	CustomerNoUsed string          `db:"customer_no_used" json:"customer_no_used"`
	ProductCode    string          `db:"product_code" json:"product_code"`
	RowNumber      int             `db:"row_number" json:"row_number"`
	Success        bool            `db:"success" json:"success"`
	Status         string          `db:"status" json:"status"`
	StatusCode     *int            `db:"status_code" json:"status_code"`
	ResponseData   json.RawMessage `db:"response_data" json:"response_data,omitempty"`
	RawResponse    []byte          `db:"raw_response" json:"-"`
	ErrorMessage   *string         `db:"error_message" json:"error_message"`
	SN             *string         `db:"sn" json:"sn"`
	ResponseTimeMs int64           `db:"response_time_ms" json:"response_time_ms"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Batch is one user-initiated run over an ordered list of items.
type Batch struct {
	ID              string      `db:"uuid" json:"batch_id"`
	Total           int         `db:"total" json:"total_transactions"`
	ProcessedCount  int         `db:"processed_count" json:"processed_count"`
	SuccessfulCount int         `db:"successful_count" json:"successful_count"`
	FailedCount     int         `db:"failed_count" json:"failed_count"`
	Status          BatchStatus `db:"status" json:"status"`
	DelaySeconds    float64     `db:"delay_seconds" json:"delay_seconds"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	CompletedAt     *time.Time  `db:"completed_at" json:"completed_at"`
}

// AuditLog is one outbound request/response pair recorded per gateway call,
// kept regardless of the outcome.
type AuditLog struct {
	RefID      string          `db:"ref_id" json:"ref_id"`
	Endpoint   string          `db:"endpoint" json:"endpoint"`
	Request    json.RawMessage `db:"request" json:"request"`
	Response   json.RawMessage `db:"response" json:"response"`
	StatusCode *int            `db:"status_code" json:"status_code"`
	Error      *string         `db:"error" json:"error"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
