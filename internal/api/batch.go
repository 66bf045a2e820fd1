package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pulsadash/topup-sender/internal/errors"
	"github.com/pulsadash/topup-sender/internal/phone"
	"github.com/pulsadash/topup-sender/internal/repository/postgres"
	"github.com/pulsadash/topup-sender/internal/types"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type submitRequest struct {
	Transactions []types.Item `json:"transactions"`
	DelaySeconds *float64     `json:"delay_seconds"`
}

// SubmitBatchHandler validates a submitted list of transactions and starts
// a run over it. Any invalid customer number rejects the whole submission
// before anything persists; the response names the offending rows.
func (s *Server) SubmitBatchHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	s.log.Info("Accepted a new batch submission")

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		s.log.Error("Unable to read request body", "error", err)
		return nil, err
	}
	defer r.Body.Close()

	var request submitRequest
	if err := json.Unmarshal(bodyBytes, &request); err != nil {
		return nil, errors.ServiceError{
			Code:    InvalidPayload,
			Message: "request unmarshalling error",
			Err:     err,
		}
	}

	if len(request.Transactions) == 0 {
		return nil, errors.ServiceError{
			Code:    ValidationError,
			Message: "batch has no transactions",
		}
	}

	items, invalidRows := validateItems(request.Transactions)
	if len(invalidRows) > 0 {
		return nil, errors.ServiceError{
			Code: ValidationError,
			Message: fmt.Sprintf("invalid customer numbers at rows: %s",
				joinRows(invalidRows)),
		}
	}

	delaySeconds := 0.0
	if request.DelaySeconds != nil {
		delaySeconds = *request.DelaySeconds
	} else if current, err := s.settings.Get(r.Context()); err == nil {
		delaySeconds = current.DelaySeconds
	}
	if delaySeconds < 0 {
		delaySeconds = 0
	}

	batch, err := s.manager.Start(r.Context(), items, delaySeconds)
	if err != nil {
		return nil, errors.ServiceError{
			Code:    InternalError,
			Message: "couldn't start batch",
			Err:     err,
		}
	}

	s.log.Info("Batch started", "batch", batch.ID, "total", batch.Total)
	return batch, nil
}

// validateItems normalizes every row regardless of how it was entered and
// collects the row numbers that fail validation.
func validateItems(raw []types.Item) ([]types.Item, []int) {
	items := make([]types.Item, 0, len(raw))

	var invalidRows []int
	for i, item := range raw {
		if item.RowNumber == 0 {
			item.RowNumber = i + 1
		}

		v := phone.Validate(item.CustomerNo)
		if !v.Valid || strings.TrimSpace(item.ProductCode) == "" {
			invalidRows = append(invalidRows, item.RowNumber)
			continue
		}

		item.CustomerNoNormalized = v.Normalized
		item.ProductCode = strings.TrimSpace(item.ProductCode)
		items = append(items, item)
	}

	return items, invalidRows
}

func joinRows(rows []int) string {
	parts := make([]string, len(rows))
	for i, row := range rows {
		parts[i] = strconv.Itoa(row)
	}
	return strings.Join(parts, ", ")
}

func (s *Server) PauseBatchHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	batchID := r.PathValue("id")

	if err := s.manager.Pause(batchID); err != nil {
		return nil, errors.ServiceError{
			Code:    BatchStateError,
			Message: err.Error(),
			Err:     err,
		}
	}

	s.log.Info("Batch pause requested", "batch", batchID)
	return "ok", nil
}

func (s *Server) ResumeBatchHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	batchID := r.PathValue("id")

	batch, err := s.manager.Resume(r.Context(), batchID)
	if err != nil {
		return nil, errors.ServiceError{
			Code:    BatchStateError,
			Message: err.Error(),
			Err:     err,
		}
	}

	s.log.Info("Batch resumed", "batch", batchID,
		"processed", batch.ProcessedCount, "total", batch.Total)
	return batch, nil
}

func (s *Server) BatchStatusHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	batchID := r.PathValue("id")

	batch, err := s.manager.Status(r.Context(), batchID)
	if err != nil {
		return nil, errors.ServiceError{
			Code:    BatchNotFound,
			Message: fmt.Sprintf("batch %s not found", batchID),
			Err:     err,
		}
	}

	return batch, nil
}

type resultsResponse struct {
	Rows  []types.Result `json:"rows"`
	Total int            `json:"total"`
}

// BatchResultsHandler is the authoritative paginated read the dashboard
// uses on mount and reconnect, alongside the push updates.
func (s *Server) BatchResultsHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	batchID := r.PathValue("id")

	limit := intQueryParam(r, "limit", defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := intQueryParam(r, "offset", 0)

	filter := postgres.ResultFilter{
		BatchID: batchID,
		Status:  r.URL.Query().Get("status"),
	}

	rows, total, err := s.store.QueryResults(r.Context(), filter, limit, offset)
	if err != nil {
		return nil, errors.ServiceError{
			Code:    InternalError,
			Message: "couldn't query results",
			Err:     err,
		}
	}

	if rows == nil {
		rows = []types.Result{}
	}

	return resultsResponse{Rows: rows, Total: total}, nil
}

func intQueryParam(r *http.Request, name string, defaultValue int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return defaultValue
	}

	return value
}
