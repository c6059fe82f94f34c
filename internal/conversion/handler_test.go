// AngelaMos | 2026
// handler_test.go

package conversion

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/modelforge/internal/config"
	"github.com/carterperez-dev/modelforge/internal/ledger"
	"github.com/carterperez-dev/modelforge/internal/middleware"
)

type handlerEnv struct {
	router   chi.Router
	ledger   *ledger.Service
	upstream atomic.Int32
}

func asUser(email string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := middleware.WithIdentity(r.Context(), &middleware.Identity{Email: email, Name: "Ada"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newHandlerEnv(t *testing.T, upstream http.HandlerFunc) *handlerEnv {
	t.Helper()

	env := &handlerEnv{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.upstream.Add(1)
		upstream(w, r)
	}))
	t.Cleanup(srv.Close)

	proxy, err := NewProxy(config.ConversionConfig{URL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env.ledger = ledger.NewService(ledger.NewMemoryRepository(), 1, nil, nil)
	gate := ledger.NewGate(env.ledger, ledger.NewRedisLocker(client), time.Minute)

	env.router = chi.NewRouter()
	NewHandler(HandlerConfig{
		Converter:      proxy,
		Gate:           gate,
		MaxUploadBytes: 1 << 20,
	}).RegisterRoutes(env.router, asUser("ada@example.com"), nil)

	return env
}

func okModel(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "model/gltf-binary")
	_, _ = w.Write([]byte(modelBytes))
}

func multipartBody(t *testing.T, field string, data []byte) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		part, err := mw.CreateFormFile(field, "upload.png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no image here"))
	}
	require.NoError(t, mw.Close())

	return &buf, mw.FormDataContentType()
}

func (e *handlerEnv) convert(t *testing.T, field string, data []byte) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := multipartBody(t, field, data)
	req := httptest.NewRequest(http.MethodPost, "/conversion", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *handlerEnv) balance(t *testing.T) int {
	t.Helper()
	rec, err := e.ledger.Balance(context.Background(), "ada@example.com")
	require.NoError(t, err)
	return rec.GenerationsLeft
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["error"]
}

func TestConvertSuccessDebitsOnce(t *testing.T) {
	env := newHandlerEnv(t, okModel)

	rec := env.convert(t, "image", pngBytes)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "model/gltf-binary", rec.Header().Get("Content-Type"))
	assert.Equal(t, "0", rec.Header().Get(GenerationsLeftHeader))
	assert.Equal(t, modelBytes, rec.Body.String())
	assert.Equal(t, 0, env.balance(t))
}

func TestConvertRefusedAtZeroBalance(t *testing.T) {
	env := newHandlerEnv(t, okModel)

	require.Equal(t, http.StatusOK, env.convert(t, "image", pngBytes).Code)

	rec := env.convert(t, "image", pngBytes)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "No generations left", decodeError(t, rec))
	assert.Equal(t, int32(1), env.upstream.Load(), "upstream not called without credits")
	assert.Equal(t, 0, env.balance(t))
}

func TestConvertMissingImage(t *testing.T) {
	env := newHandlerEnv(t, okModel)

	rec := env.convert(t, "", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid file upload", decodeError(t, rec))
	assert.Equal(t, int32(0), env.upstream.Load())
}

func TestConvertRejectsNonImage(t *testing.T) {
	env := newHandlerEnv(t, okModel)

	rec := env.convert(t, "image", []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid file upload", decodeError(t, rec))
	assert.Equal(t, int32(0), env.upstream.Load())
}

func TestConvertNotMultipart(t *testing.T) {
	env := newHandlerEnv(t, okModel)

	req := httptest.NewRequest(http.MethodPost, "/conversion", bytes.NewReader(pngBytes))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConvertUpstreamErrorIsRelayedWithoutDebit(t *testing.T) {
	env := newHandlerEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"no object found"}`))
	})

	rec := env.convert(t, "image", pngBytes)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"error":{"detail":"no object found"}}`, rec.Body.String())
	assert.Equal(t, 1, env.balance(t))

	retry := env.convert(t, "image", pngBytes)
	assert.Equal(t, http.StatusUnprocessableEntity, retry.Code, "lock was released")
}

func TestConvertUpstreamUnreachable(t *testing.T) {
	env := newHandlerEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	})

	rec := env.convert(t, "image", pngBytes)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", decodeError(t, rec))
	assert.Equal(t, 1, env.balance(t))
}

func TestConvertSerialisesPerUser(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)

	env := newHandlerEnv(t, func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		okModel(w, r)
	})
	_, err := env.ledger.EnsureAccount(context.Background(), "ada@example.com", "Ada")
	require.NoError(t, err)
	_, err = ledgerTopUp(env.ledger, 4)
	require.NoError(t, err)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- env.convert(t, "image", pngBytes) }()

	<-entered
	second := env.convert(t, "image", pngBytes)
	assert.Equal(t, http.StatusConflict, second.Code)

	close(release)
	first := <-done
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "4", first.Header().Get(GenerationsLeftHeader))
	assert.Equal(t, 4, env.balance(t))
}

func ledgerTopUp(svc *ledger.Service, credits int) (*ledger.PurchaseResult, error) {
	return svc.ApplyPurchase(context.Background(), ledger.PurchaseRequest{
		OrderID:   "order_topup",
		PaymentID: "pay_topup",
		UserKey:   "ada@example.com",
		Plan:      "Test",
		Credits:   credits,
	})
}
