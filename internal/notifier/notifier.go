package notifier

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pulsadash/topup-sender/internal/types"
)

const (
	PatternTransactionUpdated = "transaction-updated"
	PatternBatchUpdated       = "batch-updated"
)

// Publisher is the transport towards the dashboard gateway.
type Publisher interface {
	Publish(message []byte) error
}

// Envelope is the push-event wire format the dashboard gateway fans out to
// its connected clients. Room routes the event to the subscribers of one
// batch.
type Envelope struct {
	Pattern string `json:"pattern"`
	Room    string `json:"room"`
	Data    any    `json:"data"`
}

// Notifier broadcasts state changes to connected dashboard clients.
// Delivery is at-most-once and best-effort: publish failures are logged
// and dropped, clients reconcile through the authoritative paginated read.
type Notifier struct {
	publisher Publisher
	log       *slog.Logger
}

func New(publisher Publisher) *Notifier {
	return &Notifier{
		publisher: publisher,
		log:       slog.With("component", "notifier"),
	}
}

// TransactionUpdated pushes one result, either fresh from the runner or
// rewritten by a provider callback. Consumers reconcile duplicate events
// for a ref_id by updated_at, not arrival order.
func (n *Notifier) TransactionUpdated(result types.Result) {
	n.broadcast(Envelope{
		Pattern: PatternTransactionUpdated,
		Room:    roomForBatch(result.BatchID),
		Data:    result,
	})
}

// BatchUpdated pushes batch status and count changes.
func (n *Notifier) BatchUpdated(batch types.Batch) {
	n.broadcast(Envelope{
		Pattern: PatternBatchUpdated,
		Room:    roomForBatch(batch.ID),
		Data:    batch,
	})
}

func (n *Notifier) broadcast(event Envelope) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.log.Error("error marshaling event", "pattern", event.Pattern,
			"error", err)
		return
	}

	n.log.Debug("Sending notification", "payload", payload)

	if err := n.publisher.Publish(payload); err != nil {
		n.log.Error("couldn't enqueue event", "pattern", event.Pattern,
			"room", event.Room, "error", err)
	}
}

func roomForBatch(batchID string) string {
	return fmt.Sprintf("batch:%s", batchID)
}
