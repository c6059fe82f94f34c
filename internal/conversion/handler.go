// AngelaMos | 2026
// handler.go

package conversion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/carterperez-dev/modelforge/internal/core"
	"github.com/carterperez-dev/modelforge/internal/ledger"
	"github.com/carterperez-dev/modelforge/internal/metrics"
	"github.com/carterperez-dev/modelforge/internal/middleware"
)

const (
	GenerationsLeftHeader = "X-Generations-Left"

	formField       = "image"
	multipartMemory = 8 << 20
)

// Converter turns an image into a 3D model.
type Converter interface {
	Convert(ctx context.Context, img Image) (*Model, error)
}

// Gate reserves one conversion for a user. *ledger.Gate satisfies it.
type Gate interface {
	Acquire(ctx context.Context, key, name string) (*ledger.Reservation, error)
}

type Handler struct {
	converter      Converter
	gate           Gate
	maxUploadBytes int64
	metrics        *metrics.Collector
	logger         *slog.Logger
}

type HandlerConfig struct {
	Converter      Converter
	Gate           Gate
	MaxUploadBytes int64
	Metrics        *metrics.Collector
	Logger         *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 20 << 20
	}
	return &Handler{
		converter:      cfg.Converter,
		gate:           cfg.Gate,
		maxUploadBytes: maxUpload,
		metrics:        cfg.Metrics,
		logger:         logger,
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
	limiter func(http.Handler) http.Handler,
) {
	r.Group(func(r chi.Router) {
		r.Use(authenticator)
		if limiter != nil {
			r.Use(limiter)
		}

		r.Post("/conversion", h.Convert)
	})
}

var errNotImage = errors.New("upload is not an image")

type errorResponse struct {
	Error any `json:"error"`
}

func writeError(w http.ResponseWriter, status int, payload any) {
	core.JSON(w, status, errorResponse{Error: payload})
}

// Convert checks the upload, reserves a credit slot, proxies the image and
// streams the model back. The credit is spent only on an upstream 2xx.
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	id := middleware.GetIdentity(ctx)
	if id == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	img, cleanup, status, err := h.readImage(w, r)
	if err != nil {
		h.metrics.ConversionFinished("invalid_upload", time.Since(start))
		if status == http.StatusRequestEntityTooLarge {
			writeError(w, status, "Image too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid file upload")
		return
	}
	defer cleanup()

	reservation, err := h.gate.Acquire(ctx, id.Email, id.Name)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrInsufficientCredits):
			h.metrics.ConversionFinished("no_credits", time.Since(start))
			writeError(w, http.StatusPaymentRequired, "No generations left")
		case errors.Is(err, core.ErrConversionInProgress):
			h.metrics.ConversionFinished("busy", time.Since(start))
			writeError(w, http.StatusConflict, "A conversion is already in progress")
		default:
			h.metrics.ConversionFinished("error", time.Since(start))
			h.logger.Error("conversion gate failed",
				"user", id.Email,
				"error", err,
			)
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}
	defer reservation.Release(ctx)

	model, err := h.converter.Convert(ctx, img)
	if err != nil {
		var upErr *UpstreamError
		if errors.As(err, &upErr) {
			h.metrics.ConversionFinished("upstream_error", time.Since(start))
			h.logger.Warn("conversion api rejected image",
				"user", reservation.Key(),
				"status", upErr.StatusCode,
			)
			writeError(w, upErr.StatusCode, upErr.Payload())
			return
		}

		h.metrics.ConversionFinished("error", time.Since(start))
		h.logger.Error("conversion api unreachable",
			"user", reservation.Key(),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	defer model.Body.Close() //nolint:errcheck // read-only body

	balance, err := reservation.Commit(ctx)
	if err != nil {
		h.metrics.ConversionFinished("debit_failed", time.Since(start))
		if errors.Is(err, core.ErrInsufficientCredits) {
			writeError(w, http.StatusPaymentRequired, "No generations left")
			return
		}
		h.logger.Error("debit after conversion failed",
			"user", reservation.Key(),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	w.Header().Set("Content-Type", model.ContentType)
	w.Header().Set(GenerationsLeftHeader, strconv.Itoa(balance))
	if model.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(model.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, model.Body)
	h.metrics.ConversionFinished("ok", time.Since(start))
	if err != nil {
		h.logger.Warn("model stream interrupted",
			"user", reservation.Key(),
			"bytes", written,
			"error", err,
		)
		return
	}

	h.logger.Info("conversion completed",
		"user", reservation.Key(),
		"bytes", written,
		"generations_left", balance,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// readImage extracts the image part and checks its content, not its
// declared type. cleanup releases the multipart temp files.
func (h *Handler) readImage(
	w http.ResponseWriter,
	r *http.Request,
) (Image, func(), int, error) {
	noop := func() {}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return Image{}, noop, http.StatusRequestEntityTooLarge, err
		}
		return Image{}, noop, http.StatusBadRequest, err
	}

	cleanup := func() {
		//nolint:errcheck // temp file cleanup
		_ = r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile(formField)
	if err != nil {
		cleanup()
		return Image{}, noop, http.StatusBadRequest, err
	}

	mtype, err := mimetype.DetectReader(file)
	if err == nil && !strings.HasPrefix(mtype.String(), "image/") {
		err = errNotImage
	}
	if err == nil {
		_, err = file.Seek(0, io.SeekStart)
	}
	if err != nil {
		_ = file.Close() //nolint:errcheck // rejected upload
		cleanup()
		return Image{}, noop, http.StatusBadRequest, err
	}

	img := Image{
		Filename:    header.Filename,
		ContentType: mtype.String(),
		Data:        file,
	}
	release := func() {
		_ = file.Close() //nolint:errcheck // upload fully consumed
		cleanup()
	}

	return img, release, http.StatusOK, nil
}
