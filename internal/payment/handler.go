// AngelaMos | 2026
// handler.go

package payment

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/carterperez-dev/modelforge/internal/core"
	"github.com/carterperez-dev/modelforge/internal/middleware"
)

const maxBodyBytes = 64 << 10

// Handler serves the checkout endpoints. Their bodies are fixed by the
// browser client, so they bypass the envelope used elsewhere.
type Handler struct {
	service   *Service
	validator *validator.Validate
	logger    *slog.Logger
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(validator.WithRequiredStructEnabled()),
		logger:    service.logger,
	}
}

// RegisterRoutes mounts /order and /verify behind optional authentication;
// the handlers answer unauthenticated callers with their own bodies.
func (h *Handler) RegisterRoutes(
	r chi.Router,
	optionalAuth func(http.Handler) http.Handler,
) {
	r.Group(func(r chi.Router) {
		r.Use(optionalAuth)

		r.Post("/order", h.CreateOrder)
		r.Post("/verify", h.Verify)
	})
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userKey := middleware.GetUserKey(r.Context())
	if userKey == "" {
		core.JSON(w, http.StatusUnauthorized, errorResponse{Error: "Authentication required"})
		return
	}

	var req CreateOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		core.JSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid amount"})
		return
	}

	order, err := h.service.CreateOrder(r.Context(), userKey, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			core.JSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid amount"})
		case errors.Is(err, ErrInvalidPlan):
			core.JSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid plan selected"})
		case errors.Is(err, ErrAmountMismatch):
			core.JSON(w, http.StatusBadRequest, errorResponse{Error: "Amount does not match plan price"})
		default:
			h.logger.Error("error creating order",
				"user", userKey,
				"error", err,
			)
			core.JSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to create order"})
		}
		return
	}

	core.JSON(w, http.StatusOK, CreateOrderResponse{OrderID: order.ID})
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	userKey := middleware.GetUserKey(r.Context())
	if userKey == "" {
		writeVerify(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeVerify(w, http.StatusBadRequest, "Missing required payment parameters")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		writeVerify(w, http.StatusBadRequest, "Missing required payment parameters")
		return
	}

	result, err := h.service.Verify(r.Context(), userKey, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailMismatch):
			writeVerify(w, http.StatusForbidden, "User email does not match the signed-in account")
		case errors.Is(err, ErrSignatureMismatch):
			writeVerify(w, http.StatusBadRequest, "Payment verification failed")
		case errors.Is(err, ErrInvalidPlan):
			writeVerify(w, http.StatusBadRequest, "Invalid plan selected")
		case errors.Is(err, ErrAmountMismatch):
			writeVerify(w, http.StatusBadRequest, "Payment amount does not match plan price")
		case errors.Is(err, core.ErrNotFound):
			writeVerify(w, http.StatusNotFound, "User not found")
		case errors.Is(err, core.ErrAlreadyProcessed):
			writeVerify(w, http.StatusBadRequest, "Payment already processed")
		default:
			h.logger.Error("error verifying payment",
				"user", userKey,
				"order_id", req.OrderCreationID,
				"error", err,
			)
			writeVerify(w, http.StatusInternalServerError, "Server error during payment verification")
		}
		return
	}

	message := "Payment verified successfully and credits added"
	if result.Replayed {
		message = "Payment already verified, no additional credits added"
	}

	core.JSON(w, http.StatusOK, VerifyResponse{
		Message:      message,
		IsOk:         true,
		CreditsAdded: result.CreditsAdded,
		Replayed:     result.Replayed,
	})
}

func writeVerify(w http.ResponseWriter, status int, message string) {
	core.JSON(w, status, VerifyResponse{Message: message})
}
