// AngelaMos | 2026
// signature.go

package payment

import (
	"github.com/carterperez-dev/modelforge/internal/core"
)

// Signature is the gateway's checkout signature: hex HMAC-SHA256 of
// "orderID|paymentID" keyed by the merchant secret.
func Signature(secret, orderID, paymentID string) string {
	return core.HMACSHA256Hex(secret, orderID+"|"+paymentID)
}

func VerifySignature(secret, orderID, paymentID, signature string) bool {
	return core.ConstantTimeEqual(Signature(secret, orderID, paymentID), signature)
}
