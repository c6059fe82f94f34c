// AngelaMos | 2026
// verifier_test.go

package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/modelforge/internal/config"
	"github.com/carterperez-dev/modelforge/internal/core"
)

const (
	testIssuer   = "https://id.example.com"
	testAudience = "modelforge"
)

func newSigningKey(t *testing.T, kid string) (jwk.Key, jwk.Set) {
	t.Helper()

	raw, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	private, err := jwk.Import(raw)
	require.NoError(t, err)
	require.NoError(t, private.Set(jwk.KeyIDKey, kid))
	require.NoError(t, private.Set(jwk.AlgorithmKey, jwa.ES256()))

	public, err := private.PublicKey()
	require.NoError(t, err)

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(public))

	return private, set
}

func signToken(t *testing.T, key jwk.Key, build func(*jwt.Builder) *jwt.Builder) string {
	t.Helper()

	now := time.Now()
	b := jwt.NewBuilder().
		Issuer(testIssuer).
		Audience([]string{testAudience}).
		Subject("user_123").
		IssuedAt(now).
		Expiration(now.Add(time.Hour)).
		Claim("email", "Ada@Example.com").
		Claim("name", "Ada Lovelace")
	if build != nil {
		b = build(b)
	}

	token, err := b.Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256(), key))
	require.NoError(t, err)

	return string(signed)
}

func testIdentityConfig() config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     testIssuer,
		Audience:   testAudience,
		EmailClaim: "email",
		NameClaim:  "name",
	}
}

func TestVerifyToken(t *testing.T) {
	key, set := newSigningKey(t, "k1")
	v := NewVerifier(NewStaticKeys(set), testIdentityConfig())

	id, err := v.VerifyToken(context.Background(), signToken(t, key, nil))
	require.NoError(t, err)

	assert.Equal(t, "user_123", id.Subject)
	assert.Equal(t, "ada@example.com", id.Email)
	assert.Equal(t, "Ada Lovelace", id.Name)
}

func TestVerifyTokenRejects(t *testing.T) {
	key, set := newSigningKey(t, "k1")
	otherKey, _ := newSigningKey(t, "k1")
	v := NewVerifier(NewStaticKeys(set), testIdentityConfig())

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{
			name:  "garbage",
			token: "not-a-jwt",
			want:  core.ErrTokenInvalid,
		},
		{
			name:  "wrong signing key",
			token: signToken(t, otherKey, nil),
			want:  core.ErrTokenInvalid,
		},
		{
			name: "wrong issuer",
			token: signToken(t, key, func(b *jwt.Builder) *jwt.Builder {
				return b.Issuer("https://evil.example.net")
			}),
			want: core.ErrTokenInvalid,
		},
		{
			name: "wrong audience",
			token: signToken(t, key, func(b *jwt.Builder) *jwt.Builder {
				return b.Audience([]string{"someone-else"})
			}),
			want: core.ErrTokenInvalid,
		},
		{
			name: "missing email",
			token: signToken(t, key, func(b *jwt.Builder) *jwt.Builder {
				return b.Claim("email", "")
			}),
			want: core.ErrTokenInvalid,
		},
		{
			name: "expired",
			token: signToken(t, key, func(b *jwt.Builder) *jwt.Builder {
				past := time.Now().Add(-2 * time.Hour)
				return b.IssuedAt(past).Expiration(past.Add(time.Minute))
			}),
			want: core.ErrTokenExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.VerifyToken(context.Background(), tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRemoteKeysRefreshOnRotation(t *testing.T) {
	oldKey, oldSet := newSigningKey(t, "old")
	newKey, newSet := newSigningKey(t, "new")

	var rotated atomic.Bool
	var fetches atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		set := oldSet
		if rotated.Load() {
			set = newSet
		}
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)

	keys := NewRemoteKeys(srv.URL, time.Hour, nil)
	keys.minRefresh = 0
	v := NewVerifier(keys, testIdentityConfig())

	_, err := v.VerifyToken(context.Background(), signToken(t, oldKey, nil))
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches.Load())

	_, err = v.VerifyToken(context.Background(), signToken(t, oldKey, nil))
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches.Load(), "cached set is reused")

	rotated.Store(true)

	id, err := v.VerifyToken(context.Background(), signToken(t, newKey, nil))
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", id.Email)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestRemoteKeysKeepsCachedSetOnFetchFailure(t *testing.T) {
	_, set := newSigningKey(t, "k1")

	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)

	keys := NewRemoteKeys(srv.URL, time.Hour, nil)
	keys.minRefresh = 0

	first, err := keys.KeySet(context.Background(), false)
	require.NoError(t, err)

	fail.Store(true)

	again, err := keys.KeySet(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, first.Len(), again.Len())
}
