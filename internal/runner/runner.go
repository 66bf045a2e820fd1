package runner

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pulsadash/topup-sender/internal/gateway"
	"github.com/pulsadash/topup-sender/internal/phone"
	"github.com/pulsadash/topup-sender/internal/refid"
	"github.com/pulsadash/topup-sender/internal/types"
)

type Config struct {
	// DBTimeout bounds each best-effort persistence write.
	DBTimeout time.Duration
	// CancelPollInterval is the grain at which the delay wait observes the
	// cancellation token, so a pause lands within one slice rather than at
	// the next item boundary.
	CancelPollInterval time.Duration
}

// Gateway dispatches one transaction to the provider. An error means the
// request could not even be constructed; it is folded into a failed result
// for that item only.
type Gateway interface {
	Send(ctx context.Context, productCode, customerNo, refID string) (
		gateway.Outcome, error)
}

// Repository is the persistence surface the dispatch loop writes through.
// All writes are best-effort: a failed write is logged and the run goes on.
type Repository interface {
	UpsertResult(ctx context.Context, result types.Result) error
	UpdateBatchProgress(ctx context.Context, batchID string,
		processed, successful, failed int) error
}

// Notifier pushes live updates towards connected dashboard clients.
type Notifier interface {
	TransactionUpdated(result types.Result)
}

// ProgressFunc receives one call per processed item, in dispatch order.
type ProgressFunc func(current, total int, result types.Result)

type Runner struct {
	config   *Config
	gateway  Gateway
	repo     Repository
	notifier Notifier
	log      *slog.Logger
}

func New(config *Config, gw Gateway, repo Repository, notifier Notifier) *Runner {
	if config.CancelPollInterval <= 0 {
		config.CancelPollInterval = 100 * time.Millisecond
	}

	return &Runner{
		config:   config,
		gateway:  gw,
		repo:     repo,
		notifier: notifier,
		log:      slog.With("component", "runner"),
	}
}

// Run drives the items strictly in order, one provider call at a time,
// honoring the inter-request delay and the cancellation token. batch
// carries the run's starting tallies, so a resumed run continues counting
// where the paused one stopped. The returned results cover exactly the
// items dispatched by this invocation; items after a cancellation point
// remain an untouched contiguous suffix.
func (r *Runner) Run(ctx context.Context, batch types.Batch, items []types.Item,
	cancel *Cancellation, onProgress ProgressFunc) []types.Result {

	log := r.log.With("batch", batch.ID)
	log.Info("Starting batch run", "items", len(items),
		"delay_seconds", batch.DelaySeconds, "offset", batch.ProcessedCount)

	delay := time.Duration(batch.DelaySeconds * float64(time.Second))

	results := make([]types.Result, 0, len(items))

	processed := batch.ProcessedCount
	successful := batch.SuccessfulCount
	failed := batch.FailedCount

	for i, item := range items {
		if cancel.Cancelled() || ctx.Err() != nil {
			log.Info("Run cancelled", "processed", processed,
				"remaining", len(items)-i)
			break
		}

		result := r.dispatch(ctx, batch.ID, item)
		results = append(results, result)

		processed++
		if result.Success {
			successful++
		} else {
			failed++
		}

		transactionsTotal.WithLabelValues(strings.ToLower(result.Status)).Inc()

		r.persistResult(ctx, result)
		r.persistProgress(ctx, batch.ID, processed, successful, failed)

		if r.notifier != nil {
			r.notifier.TransactionUpdated(result)
		}

		if onProgress != nil {
			onProgress(processed, batch.Total, result)
		}

		if delay > 0 && i < len(items)-1 {
			r.wait(ctx, delay, cancel)
		}
	}

	return results
}

// dispatch performs one attempt: normalize, generate the reference ID,
// call the provider, fold any construction error into a failed result.
func (r *Runner) dispatch(ctx context.Context, batchID string, item types.Item) types.Result {
	customerNo := item.CustomerNoNormalized
	if customerNo == "" {
		customerNo = phone.Normalize(item.CustomerNo)
	}

	refID := refid.New()

	now := time.Now()
	result := types.Result{
		RefID:          refID,
		BatchID:        batchID,
		CustomerNo:     item.CustomerNo,
		CustomerNoUsed: customerNo,
		ProductCode:    item.ProductCode,
		RowNumber:      item.RowNumber,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	outcome, err := r.gateway.Send(ctx, item.ProductCode, customerNo, refID)
	if err != nil {
		// e.g. missing credentials; terminal for this item only
		r.log.Error("dispatch failed", "batch", batchID,
			"row", item.RowNumber, "error", err)

		message := err.Error()
		result.Success = false
		result.Status = types.StatusGagal
		result.ErrorMessage = &message
		return result
	}

	result.Success = outcome.Success
	result.Status = outcome.Status
	result.StatusCode = outcome.StatusCode
	result.ResponseData = outcome.ResponseData
	result.RawResponse = outcome.Raw
	result.ResponseTimeMs = outcome.ResponseTime.Milliseconds()

	if outcome.SN != "" {
		sn := outcome.SN
		result.SN = &sn
	}
	if outcome.Error != "" {
		message := outcome.Error
		result.ErrorMessage = &message
	}

	return result
}

// persistResult upserts the result right away, not at the end of the run:
// the provider's async callback for this ref_id may arrive before the
// batch finishes and needs an existing row to update.
func (r *Runner) persistResult(ctx context.Context, result types.Result) {
	dbCtx, cancel := context.WithTimeout(ctx, r.config.DBTimeout)
	defer cancel()

	if err := r.repo.UpsertResult(dbCtx, result); err != nil {
		r.log.Error("couldn't persist result", "ref_id", result.RefID,
			"error", err)
	}
}

func (r *Runner) persistProgress(ctx context.Context, batchID string,
	processed, successful, failed int) {

	dbCtx, cancel := context.WithTimeout(ctx, r.config.DBTimeout)
	defer cancel()

	err := r.repo.UpdateBatchProgress(dbCtx, batchID, processed, successful, failed)
	if err != nil {
		r.log.Error("couldn't persist batch progress", "batch", batchID,
			"error", err)
	}
}

// wait sleeps for the configured delay in short slices, returning early as
// soon as the cancellation token trips or the context dies.
func (r *Runner) wait(ctx context.Context, delay time.Duration, cancel *Cancellation) {
	deadline := time.Now().Add(delay)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}

		slice := r.config.CancelPollInterval
		if remaining < slice {
			slice = remaining
		}

		select {
		case <-ctx.Done():
			return
		case <-cancel.Done():
			return
		case <-time.After(slice):
		}
	}
}
