// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sokoni/sokoni/internal/session"
	"github.com/sokoni/sokoni/pkg/errutil"
)

// DefaultCookieName is the session cookie name.
const DefaultCookieName = "session_id"

// SessionLoader resolves a cookie value to a session. *session.Store
// implements it.
type SessionLoader interface {
	Load(ctx context.Context, id string) (*session.Session, error)
	Inactivity() time.Duration
}

var _ SessionLoader = (*session.Store)(nil)

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
}

type sessionKey struct{}

// SessionFromContext returns the session attached by the session middleware.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*session.Session)
	return sess, ok
}

// NewSessionMiddleware loads the session named by the cookie and attaches
// it to the request context. The cookie is rewritten before the response
// header goes out: refreshed for live sessions, cleared for deleted ones.
func NewSessionMiddleware(loader SessionLoader, cfg CookieConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if cfg.Name == "" {
		cfg.Name = DefaultCookieName
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if c, err := r.Cookie(cfg.Name); err == nil {
				id = c.Value
			}

			sess, err := loader.Load(r.Context(), id)
			if err != nil {
				errutil.LogErrorContext(r.Context(), logger, "session load failed", err)
				writeError(w, http.StatusInternalServerError, "internal")
				return
			}

			cw := &cookieWriter{
				ResponseWriter: w,
				sess:           sess,
				cfg:            cfg,
				maxAge:         int(loader.Inactivity() / time.Second),
			}
			ctx := context.WithValue(r.Context(), sessionKey{}, sess)
			next.ServeHTTP(cw, r.WithContext(ctx))
		})
	}
}

// cookieWriter sets the session cookie on the first header write.
type cookieWriter struct {
	http.ResponseWriter
	sess   *session.Session
	cfg    CookieConfig
	maxAge int
	once   sync.Once
}

func (cw *cookieWriter) WriteHeader(code int) {
	cw.once.Do(cw.setCookie)
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *cookieWriter) Write(b []byte) (int, error) {
	cw.once.Do(cw.setCookie)
	return cw.ResponseWriter.Write(b)
}

func (cw *cookieWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}

func (cw *cookieWriter) setCookie() {
	c := &http.Cookie{
		Name:     cw.cfg.Name,
		Path:     "/",
		HttpOnly: true,
		Secure:   cw.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	switch {
	case cw.sess.Deleted():
		c.MaxAge = -1
	case !cw.sess.IsNew():
		c.Value = cw.sess.ID()
		c.MaxAge = cw.maxAge
	default:
		return
	}
	http.SetCookie(cw.ResponseWriter, c)
}
