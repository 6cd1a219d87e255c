package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc runs inside a transaction. Writes go through the session buffer.
type TxFunc func(ctx context.Context, session *Session) error

type txPolicy struct {
	attempts int
	timeout  time.Duration
}

func newTxPolicy(attempts int, timeout time.Duration) txPolicy {
	policy := txPolicy{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	if attempts > 0 {
		policy.attempts = attempts
	}
	if timeout > 0 {
		policy.timeout = timeout
	}
	return policy
}

// runTransaction joins the session already in ctx, if any, so that a purchase receipt and the
// allocation it triggers commit as one unit. Otherwise it opens a transaction bounded by the
// policy; the caller's deadline wins when it is shorter.
func runTransaction(ctx context.Context, client *firestore.Client, policy txPolicy, fn TxFunc) error {
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}
	if session, ok := SessionFrom(ctx); ok {
		return fn(ctx, session)
	}
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > policy.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.timeout)
		defer cancel()
	}

	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		session := newSession(tx)
		if err := fn(WithSession(ctx, session), session); err != nil {
			return err
		}
		return session.flush()
	}, firestore.MaxAttempts(policy.attempts))
	return WrapError("transaction", err)
}
