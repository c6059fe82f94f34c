// AngelaMos | 2026
// handler.go

package plan

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carterperez-dev/modelforge/internal/core"
)

type Handler struct {
	catalog *Catalog
}

func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/plans", h.ListPlans)
}

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	core.OK(w, ListResponse{Plans: h.catalog.Plans()})
}

type ListResponse struct {
	Plans []Plan `json:"plans"`
}
