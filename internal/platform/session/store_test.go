package session

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

func TestMemoryStoreRememberAndForget(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	if number, err := store.CartNumber(ctx, "sess-1"); err != nil || number != "" {
		t.Fatalf("expected empty number, got %q err=%v", number, err)
	}
	if err := store.RememberCart(ctx, "sess-1", " 01hcart "); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if number, _ := store.CartNumber(ctx, "sess-1"); number != "01hcart" {
		t.Fatalf("expected 01hcart, got %q", number)
	}
	if err := store.ForgetCart(ctx, "sess-1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if number, _ := store.CartNumber(ctx, "sess-1"); number != "" {
		t.Fatalf("expected forgotten cart, got %q", number)
	}
}

func TestMemoryStoreExpiresEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Minute)
	store.now = func() time.Time { return now }

	if err := store.RememberCart(ctx, "sess-1", "01hcart"); err != nil {
		t.Fatalf("remember: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if number, _ := store.CartNumber(ctx, "sess-1"); number != "" {
		t.Fatalf("expected expired entry, got %q", number)
	}
}

func TestMemoryStoreRequiresSessionID(t *testing.T) {
	if err := NewMemoryStore(0).RememberCart(context.Background(), " ", "01hcart"); !errors.Is(err, errSessionIDRequired) {
		t.Fatalf("expected errSessionIDRequired, got %v", err)
	}
}

func TestRedisStoreUsesPrefixedKeys(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	store, err := NewRedisStore(client, "cartengine:", time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := store.RememberCart(ctx, "sess-1", "01hcart"); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if got := client.ttls["cartengine:session-cart:sess-1"]; got != time.Hour {
		t.Fatalf("expected ttl 1h on prefixed key, got %s (keys %v)", got, client.values)
	}

	number, err := store.CartNumber(ctx, "sess-1")
	if err != nil || number != "01hcart" {
		t.Fatalf("expected 01hcart, got %q err=%v", number, err)
	}

	if err := store.ForgetCart(ctx, "sess-1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	number, err = store.CartNumber(ctx, "sess-1")
	if err != nil || number != "" {
		t.Fatalf("expected missing key to read as empty, got %q err=%v", number, err)
	}
}

func TestRedisStorePropagatesErrors(t *testing.T) {
	client := newFakeRedis()
	client.err = errors.New("connection refused")
	store, _ := NewRedisStore(client, "p:", time.Hour)

	if _, err := store.CartNumber(context.Background(), "sess-1"); err == nil {
		t.Fatal("expected error from redis")
	}
	if err := store.RememberCart(context.Background(), "sess-1", "n"); err == nil {
		t.Fatal("expected error from redis")
	}
}

type fakeRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *goredis.StringCmd {
	if f.err != nil {
		return goredis.NewStringResult("", f.err)
	}
	value, ok := f.values[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(value, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd {
	if f.err != nil {
		return goredis.NewStatusResult("", f.err)
	}
	f.values[key], _ = value.(string)
	f.ttls[key] = expiration
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *goredis.IntCmd {
	if f.err != nil {
		return goredis.NewIntResult(0, f.err)
	}
	var removed int64
	for _, key := range keys {
		if _, ok := f.values[key]; ok {
			delete(f.values, key)
			removed++
		}
	}
	return goredis.NewIntResult(removed, nil)
}
