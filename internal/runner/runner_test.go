package runner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pulsadash/topup-sender/internal/gateway"
	"github.com/pulsadash/topup-sender/internal/types"
)

type fakeGateway struct {
	mu       sync.Mutex
	sent     []string // customer numbers in dispatch order
	refIDs   []string
	outcome  func(call int) (gateway.Outcome, error)
	afterTap func(call int)
}

func (g *fakeGateway) Send(ctx context.Context, productCode, customerNo, refID string) (
	gateway.Outcome, error) {

	g.mu.Lock()
	g.sent = append(g.sent, customerNo)
	g.refIDs = append(g.refIDs, refID)
	call := len(g.sent)
	g.mu.Unlock()

	var out gateway.Outcome
	var err error
	if g.outcome != nil {
		out, err = g.outcome(call)
	} else {
		out = gateway.Outcome{Success: true, Status: types.StatusSukses}
	}

	if g.afterTap != nil {
		g.afterTap(call)
	}

	return out, err
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

type fakeRepo struct {
	mu       sync.Mutex
	upserts  []types.Result
	batches  map[string]types.Batch
	statuses []types.BatchStatus
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{batches: make(map[string]types.Batch)}
}

func (r *fakeRepo) UpsertResult(ctx context.Context, result types.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts = append(r.upserts, result)
	return nil
}

func (r *fakeRepo) UpdateBatchProgress(ctx context.Context, batchID string,
	processed, successful, failed int) error {

	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.batches[batchID]
	b.ProcessedCount = processed
	b.SuccessfulCount = successful
	b.FailedCount = failed
	r.batches[batchID] = b
	return nil
}

func (r *fakeRepo) CreateBatch(ctx context.Context, batch types.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[batch.ID] = batch
	return nil
}

func (r *fakeRepo) UpdateBatchStatus(ctx context.Context, batchID string,
	status types.BatchStatus, completedAt *time.Time) error {

	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.batches[batchID]
	b.Status = status
	b.CompletedAt = completedAt
	r.batches[batchID] = b
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *fakeRepo) GetBatch(ctx context.Context, batchID string) (*types.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("unknown batch %s", batchID)
	}
	return &b, nil
}

func (r *fakeRepo) batchStatus(batchID string) types.BatchStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[batchID].Status
}

type fakeNotifier struct {
	mu           sync.Mutex
	transactions []types.Result
	batches      []types.Batch
}

func (n *fakeNotifier) TransactionUpdated(result types.Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transactions = append(n.transactions, result)
}

func (n *fakeNotifier) BatchUpdated(batch types.Batch) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, batch)
}

func testConfig() *Config {
	return &Config{
		DBTimeout:          time.Second,
		CancelPollInterval: 10 * time.Millisecond,
	}
}

func makeItems(n int) []types.Item {
	items := make([]types.Item, n)
	for i := range items {
		items[i] = types.Item{
			CustomerNo:           fmt.Sprintf("0812345678%02d", i),
			CustomerNoNormalized: fmt.Sprintf("0812345678%02d", i),
			ProductCode:          "MLK24",
			RowNumber:            i + 1,
		}
	}
	return items
}

func TestRun_StrictInputOrder(t *testing.T) {
	gw := &fakeGateway{}
	repo := newFakeRepo()

	r := New(testConfig(), gw, repo, nil)

	items := makeItems(5)
	batch := types.Batch{ID: "b1", Total: 5}

	var progressRows []int
	results := r.Run(context.Background(), batch, items, NewCancellation(),
		func(current, total int, result types.Result) {
			progressRows = append(progressRows, result.RowNumber)
			if current != len(progressRows) {
				t.Errorf("progress current = %d at call %d", current, len(progressRows))
			}
			if total != 5 {
				t.Errorf("progress total = %d, want 5", total)
			}
		})

	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}

	for i, row := range progressRows {
		if row != i+1 {
			t.Errorf("progress call %d carried row %d, want %d", i, row, i+1)
		}
	}

	seen := make(map[string]struct{})
	for _, result := range results {
		if _, dup := seen[result.RefID]; dup {
			t.Errorf("duplicate ref_id %q", result.RefID)
		}
		seen[result.RefID] = struct{}{}
	}

	if len(repo.upserts) != 5 {
		t.Errorf("got %d upserts, want one per item", len(repo.upserts))
	}
}

func TestRun_CancelBeforeDispatch(t *testing.T) {
	gw := &fakeGateway{}
	repo := newFakeRepo()

	r := New(testConfig(), gw, repo, nil)

	cancel := NewCancellation()
	items := makeItems(5)
	batch := types.Batch{ID: "b2", Total: 5}

	// trip the token once two items have been processed; the check before
	// dispatch must leave items 2..4 as an untouched suffix
	results := r.Run(context.Background(), batch, items, cancel,
		func(current, total int, result types.Result) {
			if current == 2 {
				cancel.Cancel()
			}
		})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	if remaining := len(items) - len(results); remaining != 3 {
		t.Errorf("remaining = %d, want 3", remaining)
	}

	if gw.calls() != 2 {
		t.Errorf("gateway saw %d calls, want 2", gw.calls())
	}
}

func TestRun_DispatchErrorDoesNotAbort(t *testing.T) {
	gw := &fakeGateway{
		outcome: func(call int) (gateway.Outcome, error) {
			if call == 2 {
				return gateway.Outcome{}, fmt.Errorf("provider username is not configured")
			}
			return gateway.Outcome{Success: true, Status: types.StatusSukses}, nil
		},
	}
	repo := newFakeRepo()

	r := New(testConfig(), gw, repo, nil)

	items := makeItems(3)
	batch := types.Batch{ID: "b3", Total: 3}

	results := r.Run(context.Background(), batch, items, NewCancellation(), nil)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	failedItem := results[1]
	if failedItem.Success {
		t.Error("item with a dispatch error must fail")
	}
	if failedItem.ErrorMessage == nil ||
		*failedItem.ErrorMessage != "provider username is not configured" {
		t.Errorf("unexpected error message: %v", failedItem.ErrorMessage)
	}
	if failedItem.Status != types.StatusGagal {
		t.Errorf("status = %q, want %q", failedItem.Status, types.StatusGagal)
	}

	if !results[0].Success || !results[2].Success {
		t.Error("items surrounding the failure must still succeed")
	}
}

func TestRun_NormalizesWhenNotPreNormalized(t *testing.T) {
	gw := &fakeGateway{}
	repo := newFakeRepo()

	r := New(testConfig(), gw, repo, nil)

	items := []types.Item{{
		CustomerNo:  "+6281234567890",
		ProductCode: "MLK24",
		RowNumber:   1,
	}}
	batch := types.Batch{ID: "b4", Total: 1}

	results := r.Run(context.Background(), batch, items, NewCancellation(), nil)

	if results[0].CustomerNoUsed != "081234567890" {
		t.Errorf("customer_no_used = %q, want normalized form",
			results[0].CustomerNoUsed)
	}
	if gw.sent[0] != "081234567890" {
		t.Errorf("gateway received %q, want normalized form", gw.sent[0])
	}
}

func TestRun_DelayObservesCancellationPromptly(t *testing.T) {
	gw := &fakeGateway{}
	repo := newFakeRepo()

	r := New(testConfig(), gw, repo, nil)

	cancel := NewCancellation()
	items := makeItems(2)
	batch := types.Batch{ID: "b5", Total: 2, DelaySeconds: 30}

	started := time.Now()
	results := r.Run(context.Background(), batch, items, cancel,
		func(current, total int, result types.Result) {
			if current == 1 {
				// lands mid-delay
				go func() {
					time.Sleep(50 * time.Millisecond)
					cancel.Cancel()
				}()
			}
		})

	elapsed := time.Since(started)
	if elapsed > 2*time.Second {
		t.Fatalf("cancellation during delay took %v to take effect", elapsed)
	}

	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestRun_PendingCountsAsNotSuccessful(t *testing.T) {
	gw := &fakeGateway{
		outcome: func(call int) (gateway.Outcome, error) {
			return gateway.Outcome{Success: false, Status: types.StatusPending, RC: "03"}, nil
		},
	}
	repo := newFakeRepo()
	repo.batches["b6"] = types.Batch{ID: "b6"}

	r := New(testConfig(), gw, repo, nil)

	batch := types.Batch{ID: "b6", Total: 1}
	results := r.Run(context.Background(), batch, makeItems(1), NewCancellation(), nil)

	if results[0].Success {
		t.Error("pending must not count as success")
	}
	if results[0].Status != types.StatusPending {
		t.Errorf("status = %q, want %q", results[0].Status, types.StatusPending)
	}
	if repo.batches["b6"].FailedCount != 1 {
		t.Errorf("failed tally = %d, want 1", repo.batches["b6"].FailedCount)
	}
}
