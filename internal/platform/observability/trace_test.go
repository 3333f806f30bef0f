package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/cartengine/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	cases := []struct {
		header  string
		ok      bool
		sampled bool
		span    string
	}{
		{header: "105445aa7843bc8bf206b12000100000/1;o=1", ok: true, sampled: true, span: "0000000000000001"},
		{header: "105445aa7843bc8bf206b12000100000/255;o=0", ok: true, span: "00000000000000ff"},
		{header: "105445aa7843bc8bf206b12000100000/255", ok: true, span: "00000000000000ff"},
		{header: "short/1;o=1"},
		{header: "105445aa7843bc8bf206b12000100000/abc;o=1"},
		{header: "105445aa7843bc8bf206b12000100000/0;o=1"},
		{header: ""},
	}
	for _, tc := range cases {
		sc, ok := parseCloudTraceContext(tc.header)
		if ok != tc.ok {
			t.Fatalf("%q: ok=%v want %v", tc.header, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if sc.IsSampled() != tc.sampled || sc.SpanID().String() != tc.span {
			t.Fatalf("%q: got span %s sampled %v", tc.header, sc.SpanID(), sc.IsSampled())
		}
	}
}

func TestFormatCloudTraceContextRoundTrips(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/12345;o=1")
	if !ok {
		t.Fatal("expected header to parse")
	}
	if got := formatCloudTraceContext(sc); got != "105445aa7843bc8bf206b12000100000/12345;o=1" {
		t.Fatalf("unexpected header %q", got)
	}
}

func TestTraceMiddlewareStoresTraceInfo(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("demo-project")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if info.ProjectID != "demo-project" {
		t.Fatalf("expected project on trace info, got %#v", info)
	}
	// Without an SDK tracer provider the remote span context is propagated unchanged.
	if info.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected trace id from header, got %q", info.TraceID)
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zap.InfoLevel)
	reqCore, reqLogs := observer.New(zap.InfoLevel)

	log := EventLogger(zap.New(baseCore))
	log(context.Background(), "cart.completed", map[string]any{"cartId": "c1"})
	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	log(ctx, "cart.save_failed", map[string]any{"error": context.Canceled})

	if baseLogs.Len() != 1 || reqLogs.Len() != 1 {
		t.Fatalf("expected one entry per logger, got base=%d request=%d", baseLogs.Len(), reqLogs.Len())
	}
	entry := reqLogs.All()[0]
	if entry.Level != zap.WarnLevel {
		t.Fatalf("expected failure events at warn, got %s", entry.Level)
	}
	if entry.ContextMap()["error"] != context.Canceled.Error() {
		t.Fatalf("expected error field, got %v", entry.ContextMap())
	}
}

func TestRecovererWritesJSONError(t *testing.T) {
	handler := Recoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
