package session

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type contextKey string

const sessionIDKey contextKey = "github.com/hanko-field/cartengine/internal/platform/session/id"

// WithID stores the session identifier on the context.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// IDFromContext returns the session identifier stored by Middleware.
func IDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// Options configures how the session identifier travels with requests.
type Options struct {
	CookieName string
	Header     string
	TTL        time.Duration
	Secure     bool
}

// Middleware resolves the session identifier from the configured header or cookie. A request
// without one is issued a fresh identifier, echoed back in both the header and a cookie.
func Middleware(opts Options) func(http.Handler) http.Handler {
	newID := func() string { return strings.ToLower(ulid.Make().String()) }
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := fromRequest(r, opts)
			if id == "" {
				id = newID()
				if opts.CookieName != "" {
					cookie := &http.Cookie{
						Name:     opts.CookieName,
						Value:    id,
						Path:     "/",
						HttpOnly: true,
						Secure:   opts.Secure,
						SameSite: http.SameSiteLaxMode,
					}
					if opts.TTL > 0 {
						cookie.MaxAge = int(opts.TTL / time.Second)
					}
					http.SetCookie(w, cookie)
				}
			}
			if opts.Header != "" {
				w.Header().Set(opts.Header, id)
			}
			next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
		})
	}
}

func fromRequest(r *http.Request, opts Options) string {
	if opts.Header != "" {
		if id := sanitizeID(r.Header.Get(opts.Header)); id != "" {
			return id
		}
	}
	if opts.CookieName != "" {
		if cookie, err := r.Cookie(opts.CookieName); err == nil {
			return sanitizeID(cookie.Value)
		}
	}
	return ""
}

// sanitizeID accepts only short identifiers made of letters, digits, '-' and '_'.
func sanitizeID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 128 {
		return ""
	}
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return ""
		}
	}
	return raw
}
