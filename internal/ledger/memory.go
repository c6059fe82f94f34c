// AngelaMos | 2026
// memory.go

package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/carterperez-dev/modelforge/internal/core"
)

// memoryRepository keeps the ledger in process memory. It backs local
// development and tests; a single mutex gives it the same per-document
// atomicity the networked stores provide.
type memoryRepository struct {
	mu       sync.Mutex
	records  map[string]Record
	payments map[string]Payment
}

func NewMemoryRepository() Repository {
	return &memoryRepository{
		records:  make(map[string]Record),
		payments: make(map[string]Payment),
	}
}

func (r *memoryRepository) Get(_ context.Context, key string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[key]
	if !ok {
		return nil, fmt.Errorf("get ledger record: %w", core.ErrNotFound)
	}
	return &rec, nil
}

func (r *memoryRepository) Create(_ context.Context, record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[record.Email]; ok {
		return fmt.Errorf("create ledger record: %w", core.ErrDuplicateKey)
	}

	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	r.records[record.Email] = *record
	return nil
}

func (r *memoryRepository) Increment(
	_ context.Context,
	key string,
	delta int,
) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[key]
	if !ok {
		return 0, fmt.Errorf("increment credits: %w", core.ErrNotFound)
	}

	rec.GenerationsLeft += delta
	rec.UpdatedAt = time.Now().UTC()
	r.records[key] = rec
	return rec.GenerationsLeft, nil
}

func (r *memoryRepository) DecrementIfPositive(
	_ context.Context,
	key string,
) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[key]
	if !ok {
		return 0, fmt.Errorf("decrement credits: %w", core.ErrNotFound)
	}
	if rec.GenerationsLeft <= 0 {
		return 0, fmt.Errorf("decrement credits: %w", core.ErrInsufficientCredits)
	}

	rec.GenerationsLeft--
	rec.UpdatedAt = time.Now().UTC()
	r.records[key] = rec
	return rec.GenerationsLeft, nil
}

func (r *memoryRepository) ApplyPayment(_ context.Context, payment *Payment) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := payment.Key()
	if _, ok := r.payments[key]; ok {
		return 0, fmt.Errorf("apply payment: %w", core.ErrAlreadyProcessed)
	}

	rec, ok := r.records[payment.UserKey]
	if !ok {
		return 0, fmt.Errorf("apply payment: %w", core.ErrNotFound)
	}

	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	r.payments[key] = *payment

	rec.GenerationsLeft += payment.CreditsAdded
	rec.UpdatedAt = now
	r.records[payment.UserKey] = rec

	return rec.GenerationsLeft, nil
}

func (r *memoryRepository) GetPayment(
	_ context.Context,
	orderID, paymentID string,
) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[PaymentKey(orderID, paymentID)]
	if !ok {
		return nil, fmt.Errorf("get payment: %w", core.ErrNotFound)
	}
	return &p, nil
}

func (r *memoryRepository) Ping(context.Context) error {
	return nil
}
