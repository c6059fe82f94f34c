// AngelaMos | 2026
// handler.go

package ledger

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carterperez-dev/modelforge/internal/core"
	"github.com/carterperez-dev/modelforge/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
) {
	r.With(authenticator).Get("/credits", h.GetCredits)
}

// GetCredits returns the caller's balance, provisioning the starter
// balance on first contact.
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if id == nil {
		core.Unauthorized(w, "")
		return
	}

	record, err := h.service.EnsureAccount(r.Context(), id.Email, id.Name)
	if err != nil {
		if errors.Is(err, core.ErrInvalidInput) {
			core.BadRequest(w, "identity carries no email")
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, ToBalanceResponse(record))
}

func (h *Handler) RegisterAdminRoutes(
	r chi.Router,
	authenticator, adminOnly func(http.Handler) http.Handler,
) {
	r.Route("/admin/users", func(r chi.Router) {
		r.Use(authenticator)
		r.Use(adminOnly)

		r.Get("/{email}", h.GetUser)
	})
}

// GetUser looks a ledger record up without provisioning it.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	record, err := h.service.Balance(r.Context(), email)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrNotFound):
			core.NotFound(w, "user")
		case errors.Is(err, core.ErrInvalidInput):
			core.BadRequest(w, "email is required")
		default:
			core.InternalServerError(w, err)
		}
		return
	}

	core.OK(w, ToAdminRecordResponse(record))
}
