package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMiddlewareIssuesSessionWhenMissing(t *testing.T) {
	var seen string
	handler := Middleware(Options{CookieName: "cart_session", Header: "X-Cart-Session", TTL: time.Hour})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = IDFromContext(r.Context())
		}),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	if seen == "" {
		t.Fatal("expected session id on context")
	}
	if got := rec.Header().Get("X-Cart-Session"); got != seen {
		t.Fatalf("expected header %q, got %q", seen, got)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != seen || cookies[0].MaxAge != 3600 {
		t.Fatalf("unexpected cookies %#v", cookies)
	}
}

func TestMiddlewarePrefersHeaderOverCookie(t *testing.T) {
	var seen string
	handler := Middleware(Options{CookieName: "cart_session", Header: "X-Cart-Session"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = IDFromContext(r.Context())
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("X-Cart-Session", "from-header")
	req.AddCookie(&http.Cookie{Name: "cart_session", Value: "from-cookie"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "from-header" {
		t.Fatalf("expected header session, got %q", seen)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("expected no new cookie for an existing session")
	}
}

func TestMiddlewareRejectsMalformedIdentifiers(t *testing.T) {
	var seen string
	handler := Middleware(Options{CookieName: "cart_session"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = IDFromContext(r.Context())
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.AddCookie(&http.Cookie{Name: "cart_session", Value: "bad.value"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen == "" || seen == "bad.value" {
		t.Fatalf("expected a freshly issued id, got %q", seen)
	}
}
