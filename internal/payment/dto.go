// AngelaMos | 2026
// dto.go

package payment

import (
	"encoding/json"
)

// CreateOrderRequest accepts the amount as either a JSON string or number.
type CreateOrderRequest struct {
	Amount   json.RawMessage `json:"amount"`
	Currency string          `json:"currency,omitempty"`
	Plan     string          `json:"plan,omitempty"`
}

type CreateOrderResponse struct {
	OrderID string `json:"orderId"`
}

// VerifyRequest ids may not contain "|", the separator of the
// processed-payment key.
type VerifyRequest struct {
	OrderCreationID   string `json:"orderCreationId"   validate:"required,max=128,excludes=0x7C"`
	RazorpayPaymentID string `json:"razorpayPaymentId" validate:"required,max=128,excludes=0x7C"`
	RazorpaySignature string `json:"razorpaySignature" validate:"required,max=256"`
	Plan              string `json:"plan"              validate:"required,max=64"`
	UserEmail         string `json:"userEmail"         validate:"required,email,max=254"`
}

type VerifyResponse struct {
	Message      string `json:"message"`
	IsOk         bool   `json:"isOk"`
	CreditsAdded int    `json:"creditsAdded,omitempty"`
	Replayed     bool   `json:"replayed,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
