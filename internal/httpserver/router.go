package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"papervenue/internal/accounts"
	"papervenue/internal/auth"
	"papervenue/internal/config"
	"papervenue/internal/health"
	"papervenue/internal/httputil"
	"papervenue/internal/orders"
)

type RouterDeps struct {
	AccountsHandler *accounts.Handler
	OrderHandler    *orders.Handler
	HealthHandler   *health.Handler
	AuthService     *auth.Service
	Trading         config.Trading
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	orderLimit := NewOrderRateLimiter(d.Trading.OrderRate, d.Trading.OrderBurst)

	r.Get("/health", d.HealthHandler.Health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/users", d.AccountsHandler.Register)

		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))

			r.Get("/portfolio", func(w http.ResponseWriter, r *http.Request) {
				userID, ok := UserID(r)
				if !ok {
					httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
					return
				}
				d.AccountsHandler.Portfolio(w, r, userID)
			})
			r.Get("/positions", func(w http.ResponseWriter, r *http.Request) {
				userID, ok := UserID(r)
				if !ok {
					httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
					return
				}
				d.AccountsHandler.Positions(w, r, userID)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Get("/latest", d.OrderHandler.Latest)
				r.Get("/", func(w http.ResponseWriter, r *http.Request) {
					userID, ok := UserID(r)
					if !ok {
						httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
						return
					}
					d.OrderHandler.List(w, r, userID)
				})
				r.With(orderLimit.Middleware).Post("/", func(w http.ResponseWriter, r *http.Request) {
					userID, ok := UserID(r)
					if !ok {
						httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
						return
					}
					d.OrderHandler.Place(w, r, userID)
				})
				r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
					userID, ok := UserID(r)
					if !ok {
						httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
						return
					}
					d.OrderHandler.Get(w, r, userID)
				})
				r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
					userID, ok := UserID(r)
					if !ok {
						httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
						return
					}
					d.OrderHandler.Cancel(w, r, userID)
				})
			})
		})
	})
	return r
}
