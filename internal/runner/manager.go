package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pulsadash/topup-sender/internal/types"
)

// BatchRepository extends the dispatch-loop persistence surface with the
// batch lifecycle writes the manager owns.
type BatchRepository interface {
	Repository
	CreateBatch(ctx context.Context, batch types.Batch) error
	UpdateBatchStatus(ctx context.Context, batchID string,
		status types.BatchStatus, completedAt *time.Time) error
	GetBatch(ctx context.Context, batchID string) (*types.Batch, error)
}

// BatchNotifier extends the per-item notifier with batch-level pushes.
type BatchNotifier interface {
	Notifier
	BatchUpdated(batch types.Batch)
}

// run is the in-memory state of one batch: the immutable item list, the
// live cancellation token and the current position. The item list lives
// here for the lifetime of the process; a resume continues from the
// persisted processed count over the same list.
type run struct {
	batch  types.Batch
	items  []types.Item
	cancel *Cancellation
	active bool
}

// Manager owns the mapping from batch IDs to runs and enforces at most one
// live runner per batch.
type Manager struct {
	config   *Config
	runner   *Runner
	repo     BatchRepository
	notifier BatchNotifier
	log      *slog.Logger

	ctx  context.Context
	wg   sync.WaitGroup
	mu   sync.Mutex
	runs map[string]*run
}

func NewManager(config *Config, r *Runner, repo BatchRepository,
	notifier BatchNotifier) *Manager {

	return &Manager{
		config:   config,
		runner:   r,
		repo:     repo,
		notifier: notifier,
		runs:     make(map[string]*run),
		log:      slog.With("component", "batch-manager"),
	}
}

// Run blocks until ctx is cancelled, then waits for live runners to stop
// dispatching. Runner goroutines are parented to this context, so an HTTP
// request finishing does not kill its batch but a shutdown does.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	m.log.Info("Starting batch manager")

	<-ctx.Done()

	m.log.Info("Stopping batch manager...")
	m.wg.Wait()

	return ctx.Err()
}

// Start creates a batch over the given items and launches its runner.
func (m *Manager) Start(ctx context.Context, items []types.Item,
	delaySeconds float64) (types.Batch, error) {

	if len(items) == 0 {
		return types.Batch{}, fmt.Errorf("batch has no items")
	}

	batch := types.Batch{
		ID:           uuid.NewString(),
		Total:        len(items),
		Status:       types.BatchRunning,
		DelaySeconds: delaySeconds,
		CreatedAt:    time.Now(),
	}

	if err := m.repo.CreateBatch(ctx, batch); err != nil {
		return types.Batch{}, fmt.Errorf("couldn't create batch: %w", err)
	}

	r := &run{
		batch:  batch,
		items:  items,
		cancel: NewCancellation(),
		active: true,
	}

	m.mu.Lock()
	if m.ctx == nil {
		m.mu.Unlock()
		return types.Batch{}, fmt.Errorf("batch manager is not running")
	}
	m.runs[batch.ID] = r
	m.mu.Unlock()

	m.wg.Add(1)
	go m.execute(r)

	return batch, nil
}

// Pause trips the cancellation token of a live run. The runner stops before
// the next dispatch, or mid-delay, whichever comes first; the in-flight
// provider call is not aborted.
func (m *Manager) Pause(batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[batchID]
	if !ok {
		return fmt.Errorf("unknown batch %s", batchID)
	}
	if !r.active {
		return fmt.Errorf("batch %s is not running", batchID)
	}

	r.cancel.Cancel()
	return nil
}

// Resume re-launches a paused batch over the remaining contiguous suffix
// with a fresh cancellation token.
func (m *Manager) Resume(ctx context.Context, batchID string) (types.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[batchID]
	if !ok {
		return types.Batch{}, fmt.Errorf("unknown batch %s", batchID)
	}
	if r.active {
		return types.Batch{}, fmt.Errorf("batch %s is already running", batchID)
	}
	if r.batch.Status != types.BatchPaused {
		return types.Batch{}, fmt.Errorf("batch %s is %s, only paused batches resume",
			batchID, r.batch.Status)
	}

	r.cancel = NewCancellation()
	r.active = true
	r.batch.Status = types.BatchRunning

	err := m.repo.UpdateBatchStatus(ctx, batchID, types.BatchRunning, nil)
	if err != nil {
		m.log.Error("couldn't persist batch resume", "batch", batchID,
			"error", err)
	}

	m.wg.Add(1)
	go m.execute(r)

	return r.batch, nil
}

// Status returns the authoritative batch row.
func (m *Manager) Status(ctx context.Context, batchID string) (*types.Batch, error) {
	return m.repo.GetBatch(ctx, batchID)
}

// execute runs the remaining suffix of a batch and settles its state when
// the runner returns: cancelled runs park as paused with a precise
// remaining count, everything else completes.
func (m *Manager) execute(r *run) {
	defer m.wg.Done()

	m.mu.Lock()
	ctx := m.ctx
	batch := r.batch
	m.mu.Unlock()

	remaining := r.items[batch.ProcessedCount:]

	results := m.runner.Run(ctx, batch, remaining, r.cancel, nil)

	batch.ProcessedCount += len(results)
	for _, result := range results {
		if result.Success {
			batch.SuccessfulCount++
		} else {
			batch.FailedCount++
		}
	}

	if r.cancel.Cancelled() || ctx.Err() != nil {
		batch.Status = types.BatchPaused
	} else {
		batch.Status = types.BatchCompleted
		completedAt := time.Now()
		batch.CompletedAt = &completedAt
	}

	m.mu.Lock()
	r.batch = batch
	r.active = false
	m.mu.Unlock()

	batchesTotal.WithLabelValues(string(batch.Status)).Inc()

	// shutdown may have killed m.ctx; settle state on a fresh context so
	// the terminal status still lands in the database
	dbCtx, cancel := context.WithTimeout(context.Background(), m.config.DBTimeout)
	defer cancel()

	err := m.repo.UpdateBatchStatus(dbCtx, batch.ID, batch.Status, batch.CompletedAt)
	if err != nil {
		m.log.Error("couldn't persist batch state", "batch", batch.ID,
			"status", batch.Status, "error", err)
	}

	if m.notifier != nil {
		m.notifier.BatchUpdated(batch)
	}

	m.log.Info("Batch settled", "batch", batch.ID, "status", batch.Status,
		"processed", batch.ProcessedCount, "successful", batch.SuccessfulCount,
		"failed", batch.FailedCount)
}
