package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketguard-backend/internal/auth"
)

// RouterDeps carries the request pipeline. Nil middlewares are skipped.
type RouterDeps struct {
	Handler   *Handler
	Issuer    *auth.Issuer
	Store     Pinger
	Gatherer  prometheus.Gatherer
	Admission func(http.Handler) http.Handler
	Observe   func(http.Handler) http.Handler
	RateLimit func(http.Handler) http.Handler
}

// NewRouter builds the pipeline. Admission runs before observation, so
// only rate-limit and auth rejections reach the ingestion point.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	for _, mw := range []func(http.Handler) http.Handler{d.Admission, d.Observe, d.RateLimit} {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.Get("/healthz", Health(d.Store))
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(d.Issuer))
		d.Handler.RegisterRoutes(r)
	})

	return r
}
