// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Recorder receives one observation per HTTP request.
type Recorder interface {
	RecordHTTP(route string, status int)
}

// Deps collects what NewRouter needs.
type Deps struct {
	Auth      Authenticator
	Sessions  SessionLoader
	Cookie    CookieConfig
	RateLimit RateLimitConfig
	Recorder  Recorder
	Logger    *slog.Logger
}

// NewRouter builds the API router.
//
// Middleware order:
//
//	RequestID → Recoverer → access log → session → (rate limit) → handler
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := NewHandler(deps.Auth, logger)
	limiter := NewRateLimiter(deps.RateLimit, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(logger, deps.Recorder))

	r.Route("/api", func(r chi.Router) {
		r.Use(NewSessionMiddleware(deps.Sessions, deps.Cookie, logger))

		r.With(limiter.Middleware).Post("/register", h.Register)
		r.With(limiter.Middleware).Post("/login", h.Login)
		r.Get("/is_authenticated", h.IsAuthenticated)
		r.Post("/logout", h.Logout)
	})
	return r
}

// accessLog logs every request at a level derived from its status and
// reports it to rec.
func accessLog(logger *slog.Logger, rec Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			if rec != nil {
				rec.RecordHTTP(route, status)
			}

			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
