// AngelaMos | 2026
// entity.go

package ledger

import (
	"strings"
	"time"
)

// Record is the per-user credit document. Email is the key and never changes.
type Record struct {
	Email           string    `db:"email"`
	Name            string    `db:"name"`
	GenerationsLeft int       `db:"generations_left"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r *Record) CanConvert() bool {
	return r.GenerationsLeft > 0
}

// Payment is an entry of the processed-payment set. A given
// (OrderID, PaymentID) pair is credited at most once.
type Payment struct {
	OrderID      string    `db:"order_id"`
	PaymentID    string    `db:"payment_id"`
	UserKey      string    `db:"user_key"`
	Plan         string    `db:"plan"`
	CreditsAdded int       `db:"credits_added"`
	CreatedAt    time.Time `db:"created_at"`
}

func (p *Payment) Key() string {
	return PaymentKey(p.OrderID, p.PaymentID)
}

func PaymentKey(orderID, paymentID string) string {
	return orderID + "|" + paymentID
}

// NormalizeKey canonicalises an email so lookups are case-insensitive.
func NormalizeKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
