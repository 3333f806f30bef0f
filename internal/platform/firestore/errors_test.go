package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifies(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		wantNotFound    bool
		wantConflict    bool
		wantUnavailable bool
	}{
		{name: "missing document", err: status.Error(codes.NotFound, "no doc"), wantNotFound: true},
		{name: "stale update time", err: status.Error(codes.FailedPrecondition, "update time mismatch"), wantConflict: true},
		{name: "create over existing", err: status.Error(codes.AlreadyExists, "exists"), wantConflict: true},
		{name: "backend outage", err: status.Error(codes.Unavailable, "down"), wantUnavailable: true},
		{name: "quota", err: status.Error(codes.ResourceExhausted, "slow down"), wantUnavailable: true},
		{name: "permission", err: status.Error(codes.PermissionDenied, "nope")},
		{name: "plain error", err: errors.New("boom")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := WrapError("carts.update", tc.err)
			var repoErr *Error
			if !errors.As(wrapped, &repoErr) {
				t.Fatalf("expected *Error, got %T", wrapped)
			}
			if repoErr.IsNotFound() != tc.wantNotFound || repoErr.IsConflict() != tc.wantConflict || repoErr.IsUnavailable() != tc.wantUnavailable {
				t.Fatalf("unexpected classification %+v", repoErr)
			}
			if repoErr.Op() != "carts.update" {
				t.Fatalf("expected op to be recorded, got %q", repoErr.Op())
			}
			if !errors.Is(wrapped, tc.err) {
				t.Fatal("expected the cause to stay reachable")
			}
		})
	}
}

func TestWrapErrorPassesThroughCancellation(t *testing.T) {
	if err := WrapError("op", status.Error(codes.Canceled, "client gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	deadline := fmt.Errorf("query: %w", context.DeadlineExceeded)
	if err := WrapError("op", deadline); err != deadline {
		t.Fatalf("expected deadline error unchanged, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestWrapErrorKeepsExistingOp(t *testing.T) {
	inner := NotFoundError("carts.findByNumber", "cart abc not found")
	outer := WrapError("carts.load", inner)
	var repoErr *Error
	if !errors.As(outer, &repoErr) || repoErr.Op() != "carts.findByNumber" || !repoErr.IsNotFound() {
		t.Fatalf("unexpected error %v", outer)
	}
}

func TestRunTransactionRequiresClient(t *testing.T) {
	err := RunTransaction(context.Background(), nil, func(context.Context, *firestore.Transaction) error { return nil }, WithTxOp("carts.tx"))
	var repoErr *Error
	if !errors.As(err, &repoErr) || repoErr.Op() != "carts.tx" {
		t.Fatalf("expected labelled error, got %v", err)
	}
}
