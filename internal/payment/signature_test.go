// AngelaMos | 2026
// signature_test.go

package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestSignatureVerifies(t *testing.T) {
	sig := Signature("secret", "order_1", "pay_1")
	assert.Len(t, sig, 64)
	assert.True(t, VerifySignature("secret", "order_1", "pay_1", sig))
	assert.False(t, VerifySignature("other", "order_1", "pay_1", sig))
	assert.False(t, VerifySignature("secret", "order_1", "pay_1", ""))
}

func TestSignatureSeparatorMatters(t *testing.T) {
	assert.NotEqual(t,
		Signature("secret", "ab", "c"),
		Signature("secret", "a", "bc"),
	)
}

func mutate(t *rapid.T, s, label string) string {
	b := []byte(s)
	i := rapid.IntRange(0, len(b)-1).Draw(t, label+"_index")
	c := rapid.ByteRange('0', 'z').
		Filter(func(c byte) bool { return c != b[i] }).
		Draw(t, label+"_byte")
	b[i] = c
	return string(b)
}

func TestSignatureSensitivityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		secret := rapid.StringMatching(`[A-Za-z0-9]{8,32}`).Draw(t, "secret")
		orderID := rapid.StringMatching(`order_[A-Za-z0-9]{4,14}`).Draw(t, "order")
		paymentID := rapid.StringMatching(`pay_[A-Za-z0-9]{4,14}`).Draw(t, "payment")

		sig := Signature(secret, orderID, paymentID)
		if !VerifySignature(secret, orderID, paymentID, sig) {
			t.Fatalf("signature does not verify for its own pair")
		}

		if VerifySignature(secret, mutate(t, orderID, "order"), paymentID, sig) {
			t.Fatalf("mutated order id still verifies")
		}
		if VerifySignature(secret, orderID, mutate(t, paymentID, "payment"), sig) {
			t.Fatalf("mutated payment id still verifies")
		}
	})
}
