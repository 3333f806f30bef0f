package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/status"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
	defaultTxOp       = "transaction"
)

// TxFunc is executed within a Firestore transaction and may be retried.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	op       string
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the number of commit attempts.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxOp labels errors returned by the transaction.
func WithTxOp(op string) TxOption {
	return func(cfg *txConfig) {
		if op != "" {
			cfg.op = op
		}
	}
}

// RunTransaction executes fn within a transaction on client. Plain errors returned by fn, such as
// caller sentinels, come back unchanged; Firestore failures are wrapped as *Error.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	cfg := txConfig{op: defaultTxOp, attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if client == nil {
		return WrapError(cfg.op, errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError(cfg.op, errors.New("firestore: transaction function is nil"))
	}

	// Retries included, the transaction never outlives the default timeout.
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	var callbackErr error
	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		callbackErr = fn(ctx, tx)
		return callbackErr
	}, firestore.MaxAttempts(cfg.attempts))
	if err == nil {
		return nil
	}
	if callbackErr != nil && errors.Is(err, callbackErr) {
		if _, isStatus := status.FromError(callbackErr); !isStatus {
			return callbackErr
		}
	}
	return WrapError(cfg.op, err)
}
