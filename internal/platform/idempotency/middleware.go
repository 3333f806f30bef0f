package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/cartengine/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	anonymousScope    = "anonymous"
)

// RequesterFunc names the caller a key is scoped to, so two callers never share a key.
type RequesterFunc func(r *http.Request) string

// guard holds the middleware settings. Only unsafe methods are guarded.
type guard struct {
	store     Store
	header    string
	ttl       time.Duration
	clock     func() time.Time
	logger    *zap.Logger
	requester RequesterFunc
	required  bool
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*guard)

// WithHeader overrides the header carrying the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(g *guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithRequester sets how the caller is identified when scoping keys.
func WithRequester(fn RequesterFunc) MiddlewareOption {
	return func(g *guard) {
		if fn != nil {
			g.requester = fn
		}
	}
}

// WithRequiredKey rejects guarded requests that carry no key. By default they pass through.
func WithRequiredKey() MiddlewareOption {
	return func(g *guard) { g.required = true }
}

// Middleware replays the stored response for a repeated key and rejects concurrent or
// mismatched reuse of a key. Responses with a 5xx status are not stored.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store:     store,
		header:    defaultHeaderName,
		ttl:       DefaultTTL,
		clock:     time.Now,
		logger:    zap.NewNop(),
		requester: func(*http.Request) string { return "" },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(next, w, r)
		})
	}
}

func (g *guard) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		next.ServeHTTP(w, r)
		return
	}

	key := strings.TrimSpace(r.Header.Get(g.header))
	if key == "" {
		if g.required {
			httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing idempotency key header", http.StatusBadRequest))
			return
		}
		next.ServeHTTP(w, r)
		return
	}

	body, err := readAndReplayBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_read_body_failed", "unable to read request body", http.StatusBadRequest))
		return
	}

	requester := strings.TrimSpace(g.requester(r))
	if requester == "" {
		requester = anonymousScope
	}
	scoped := key + "|" + requester
	fingerprint := requestFingerprint(r, body, requester)

	reservation, err := g.store.Reserve(ctx, scoped, fingerprint, g.clock().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
		return
	case err != nil:
		g.logger.Error("idempotency: reserve failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusServiceUnavailable))
		return
	case reservation.State == ReservationStateCompleted:
		writeStoredResponse(w, reservation.Record)
		return
	case reservation.State == ReservationStatePending:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
		return
	}

	recorder := newResponseRecorder()
	next.ServeHTTP(recorder, r)
	g.settle(r, scoped, fingerprint, Response{Status: recorder.statusCode(), Headers: recorder.header, Body: recorder.body.Bytes()})
	if err := recorder.flushTo(w); err != nil {
		g.logger.Warn("idempotency: write response failed", zap.Error(err))
	}
}

// settle stores the response for replay, or frees the key so the client can retry.
func (g *guard) settle(r *http.Request, key, fingerprint string, resp Response) {
	ctx := r.Context()
	if resp.Status < http.StatusInternalServerError {
		err := g.store.SaveResponse(ctx, key, fingerprint, resp, g.clock().UTC(), g.ttl)
		if err == nil {
			return
		}
		g.logger.Error("idempotency: save response failed", zap.Error(err))
	}
	if err := g.store.Release(ctx, key, fingerprint); err != nil {
		g.logger.Warn("idempotency: release failed", zap.Error(err))
	}
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte, requester string) string {
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		requester,
		sha256Hex(body),
	}
	return sha256Hex([]byte(strings.Join(parts, "|")))
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

// responseRecorder buffers the handler's response so it can be stored before the client sees it.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) flushTo(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range r.header {
		dst[name] = append([]string(nil), values...)
	}
	w.WriteHeader(r.statusCode())
	if r.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(r.body.Bytes())
	return err
}
