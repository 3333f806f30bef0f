package redisx

import (
	"context"
	"errors"
	"testing"

	"github.com/hanko-field/cartengine/internal/platform/config"
)

func TestKey(t *testing.T) {
	cases := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{prefix: "cartengine:", parts: []string{"session", "abc"}, want: "cartengine:session:abc"},
		{prefix: "cartengine", parts: []string{"session", "abc"}, want: "cartengine:session:abc"},
		{prefix: "", parts: []string{"session", " ", "abc"}, want: "session:abc"},
	}
	for _, tc := range cases {
		if got := Key(tc.prefix, tc.parts...); got != tc.want {
			t.Fatalf("Key(%q, %v) = %q, want %q", tc.prefix, tc.parts, got, tc.want)
		}
	}
}

func TestNewClientRequiresAddr(t *testing.T) {
	if _, err := NewClient(context.Background(), config.RedisConfig{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
