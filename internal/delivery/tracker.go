package delivery

import (
	"sync"
	"time"

	"message-sync/internal/models"
)

// Delivery states reported by the backend, distinct from the client-local
// send status.
const (
	StateDelivered = "delivered"
	StateRead      = "read"
)

// Tracker records per-message delivery receipts. Transitions are monotonic:
// read implies delivered and a state never regresses, so a read receipt is
// accepted even when the delivered event was lost.
type Tracker struct {
	mu       sync.RWMutex
	receipts map[string]models.Receipt
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{receipts: make(map[string]models.Receipt)}
}

// RecordDelivered marks a message as delivered. Duplicate receipts and late
// receipts for an already read message are ignored, keeping the original
// timestamp. Returns false when the receipt was ignored.
func (t *Tracker) RecordDelivered(messageID string, at time.Time) bool {
	if messageID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.receipts[messageID]; ok {
		return false
	}
	t.receipts[messageID] = models.Receipt{State: StateDelivered, At: at}
	return true
}

// RecordRead marks a message as read. It does not require a prior delivered
// receipt.
func (t *Tracker) RecordRead(messageID string, at time.Time) bool {
	if messageID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.receipts[messageID]; ok && cur.State == StateRead {
		return false
	}
	t.receipts[messageID] = models.Receipt{State: StateRead, At: at}
	return true
}

// Get returns the receipt for a message, if any.
func (t *Tracker) Get(messageID string) (models.Receipt, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.receipts[messageID]
	return r, ok
}

// Snapshot copies the receipt map for the read model.
func (t *Tracker) Snapshot() map[string]models.Receipt {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]models.Receipt, len(t.receipts))
	for id, r := range t.receipts {
		out[id] = r
	}
	return out
}
