// AngelaMos | 2026
// repository.go

package ledger

import (
	"context"
)

// Repository is the Credit Ledger Store. Every method may fail with a
// transport error that is distinct from core.ErrNotFound.
type Repository interface {
	Get(ctx context.Context, key string) (*Record, error)
	Create(ctx context.Context, record *Record) error
	// Increment adds delta with a store-native atomic add and returns the
	// new balance.
	Increment(ctx context.Context, key string, delta int) (int, error)
	// DecrementIfPositive subtracts one only while the balance is above
	// zero, returning core.ErrInsufficientCredits otherwise.
	DecrementIfPositive(ctx context.Context, key string) (int, error)

	// ApplyPayment records the payment in the processed-payment set and
	// adds its credits to the owner's balance as one atomic step, returning
	// the new balance. It fails with core.ErrAlreadyProcessed when the pair
	// is already recorded and core.ErrNotFound when the owner has no
	// record; either way nothing is written.
	ApplyPayment(ctx context.Context, payment *Payment) (int, error)
	GetPayment(ctx context.Context, orderID, paymentID string) (*Payment, error)

	Ping(ctx context.Context) error
}
