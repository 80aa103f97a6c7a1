package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/openlots/lotledger/pkg/auth"
)

// NewRouter wires the handler into a chi router. Admin routes sit behind the
// JWT middleware; everything else is open, including settlement.
func NewRouter(h *Handler, signer *auth.Signer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auctions", h.CreateAuction)
		r.Get("/auctions/{id}", h.GetAuction)
		r.Post("/auctions/{id}/bids", h.PlaceBid)
		r.Post("/auctions/{id}/end", h.EndAuction)

		r.Post("/admin/token", h.IssueToken)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin(signer))
			r.Get("/admin/feeds", h.ListFeeds)
			r.Put("/admin/feeds/{asset}", h.RegisterFeed)
		})
	})

	return r
}
