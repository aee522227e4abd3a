// Package handler implements the promotion HTTP API.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/promo-rules/internal/domain/customer"
	"github.com/xenking/promo-rules/internal/domain/promotion"
	"github.com/xenking/promo-rules/pkg/httpmiddleware"
)

// Config holds non-dependency settings of the Handler.
type Config struct {
	// Location is the zone in which day-of-week and hour conditions are
	// evaluated and admin dates without a zone are interpreted.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// Handler serves the promotion endpoints.
type Handler struct {
	promotions promotion.Store
	customers  customer.Repository
	applier    promotion.Applier

	loc      *time.Location
	now      func() time.Time
	generate func() (string, error)
}

// New constructs a Handler.
func New(cfg Config, promotions promotion.Store, customers customer.Repository, applier promotion.Applier) *Handler {
	h := &Handler{
		promotions: promotions,
		customers:  customers,
		applier:    applier,
		loc:        cfg.Location,
		now:        cfg.Now,
		generate:   generateCode,
	}
	if h.loc == nil {
		h.loc = time.UTC
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Router returns the API routes. Admin routes are guarded by admin;
// middlewares run inside the router so they observe the matched route.
func (h *Handler) Router(admin *SecurityHandler, middlewares ...httpmiddleware.Middleware) chi.Router {
	r := chi.NewRouter()
	for _, m := range middlewares {
		r.Use(m)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/promotions", func(r chi.Router) {
			r.Post("/apply", h.ApplyPromotion)
			r.Get("/", h.ListPromotions)
			r.Get("/{id}", h.GetPromotion)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Use(admin.Middleware)
			r.Post("/promotions", h.CreatePromotion)
		})
	})
	return r
}
