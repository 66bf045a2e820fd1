package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pulsadash/topup-sender/internal/errors"
	"github.com/pulsadash/topup-sender/internal/repository/postgres"
	"github.com/pulsadash/topup-sender/internal/types"
)

// callbackPayload is the provider's asynchronous status notification. It
// carries the same data object shape as the synchronous response.
type callbackPayload struct {
	Data struct {
		RefID   string `json:"ref_id"`
		Status  string `json:"status"`
		RC      string `json:"rc"`
		SN      string `json:"sn"`
		Message string `json:"message"`
	} `json:"data"`
}

// CallbackHandler applies a provider callback to the result row it belongs
// to. The write is the same upsert the runner uses, so the callback landing
// before or after the synchronous write gives the same final row; the
// batch tallies are recomputed rather than incremented for the same reason.
func (s *Server) CallbackHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		s.log.Error("Unable to read callback body", "error", err)
		return nil, err
	}
	defer r.Body.Close()

	var payload callbackPayload
	if err := json.Unmarshal(bodyBytes, &payload); err != nil {
		return nil, errors.ServiceError{
			Code:    InvalidPayload,
			Message: "callback unmarshalling error",
			Err:     err,
		}
	}

	refID := payload.Data.RefID
	if refID == "" {
		return nil, errors.ServiceError{
			Code:    InvalidPayload,
			Message: "callback carries no ref_id",
		}
	}

	log := s.log.With("ref_id", refID)
	log.Info("Provider callback received", "status", payload.Data.Status,
		"rc", payload.Data.RC)

	existing, err := s.store.GetResult(r.Context(), refID)
	if err == postgres.ErrNotFound {
		// the provider can race the runner's first write; acknowledge so
		// the provider doesn't retry forever, the next callback attempt or
		// a manual status check reconciles
		log.Warn("Callback for unknown ref_id, acknowledged without update")
		return "ok", nil
	}
	if err != nil {
		return nil, errors.ServiceError{
			Code:    InternalError,
			Message: "couldn't load result",
			Err:     err,
		}
	}

	updated := applyCallback(*existing, payload, bodyBytes)

	if err := s.store.UpsertResult(r.Context(), updated); err != nil {
		return nil, errors.ServiceError{
			Code:    InternalError,
			Message: "couldn't apply callback",
			Err:     err,
		}
	}

	s.broadcast.TransactionUpdated(updated)

	if batch, err := s.store.RecountBatch(r.Context(), updated.BatchID); err != nil {
		log.Error("couldn't recount batch after callback",
			"batch", updated.BatchID, "error", err)
	} else {
		s.broadcast.BatchUpdated(*batch)
	}

	return "ok", nil
}

func applyCallback(result types.Result, payload callbackPayload, raw []byte) types.Result {
	data := payload.Data

	result.Success = data.Status == types.StatusSukses || data.RC == "00"
	result.RawResponse = raw
	result.UpdatedAt = time.Now()

	switch {
	case result.Success:
		result.Status = types.StatusSukses
		result.ErrorMessage = nil
	case data.Status == types.StatusPending || data.Status == "pending" || data.RC == "03":
		result.Status = types.StatusPending
	default:
		result.Status = types.StatusGagal
		if data.Message != "" {
			message := data.Message
			result.ErrorMessage = &message
		}
	}

	if data.SN != "" {
		sn := data.SN
		result.SN = &sn
	}

	if dataJSON, err := json.Marshal(data); err == nil {
		result.ResponseData = dataJSON
	}

	return result
}
