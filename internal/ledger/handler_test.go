// AngelaMos | 2026
// handler_test.go

package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/modelforge/internal/middleware"
)

func withIdentity(email, name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := middleware.WithIdentity(r.Context(), &middleware.Identity{
				Email: email,
				Name:  name,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func passThrough(next http.Handler) http.Handler { return next }

func TestGetCreditsProvisions(t *testing.T) {
	svc, _ := newTestService(t)
	r := chi.NewRouter()
	NewHandler(svc).RegisterRoutes(r, withIdentity("Ada@Example.com", "Ada"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/credits", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool            `json:"success"`
		Data    BalanceResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, BalanceResponse{
		Name:            "Ada",
		Email:           "ada@example.com",
		GenerationsLeft: 1,
	}, body.Data)
}

func TestGetCreditsRequiresIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	r := chi.NewRouter()
	NewHandler(svc).RegisterRoutes(r, passThrough)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/credits", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminGetUser(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.EnsureAccount(context.Background(), "ada@example.com", "Ada")
	require.NoError(t, err)

	r := chi.NewRouter()
	NewHandler(svc).RegisterAdminRoutes(r, passThrough, passThrough)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/users/ADA@example.com", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data AdminRecordResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 1, body.Data.GenerationsLeft)
	assert.False(t, body.Data.CreatedAt.IsZero())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/users/ghost@example.com", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
