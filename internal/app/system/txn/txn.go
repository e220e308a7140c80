// Package txn runs multi-document writes inside a MongoDB transaction when
// the deployment supports them.
//
// Standalone servers (typical for local development) reject transactions.
// Runner detects that once, remembers it, and reports ErrNotSupported so the
// caller can switch to its ordered-writes-with-compensation path.
package txn

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// ErrNotSupported is returned by Run when the server cannot run transactions.
// No write made inside fn has been committed when it is returned.
var ErrNotSupported = errors.New("transactions not supported by this deployment")

// Runner executes functions inside a transaction on one client.
// It is safe for concurrent use.
type Runner struct {
	client      *mongo.Client
	log         *zap.Logger
	unsupported atomic.Bool
}

// New creates a Runner. A nil client yields a Runner that always reports
// ErrNotSupported.
func New(client *mongo.Client, logger *zap.Logger) *Runner {
	r := &Runner{client: client, log: logger}
	if client == nil {
		r.unsupported.Store(true)
	}
	return r
}

// Supported reports whether transactions are still believed to work.
func (r *Runner) Supported() bool {
	return !r.unsupported.Load()
}

// Run executes fn inside a transaction. fn must use the context it is given
// for every store call so the writes join the transaction. fn may be invoked
// more than once when the driver retries a transient transaction error.
func (r *Runner) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.unsupported.Load() {
		return ErrNotSupported
	}

	sess, err := r.client.StartSession()
	if err != nil {
		if IsNotSupported(err) {
			r.markUnsupported(err)
			return ErrNotSupported
		}
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if err != nil && IsNotSupported(err) {
		r.markUnsupported(err)
		return ErrNotSupported
	}
	return err
}

func (r *Runner) markUnsupported(err error) {
	if r.unsupported.CompareAndSwap(false, true) && r.log != nil {
		r.log.Warn("mongo transactions unavailable; using compensating writes", zap.Error(err))
	}
}

// IsNotSupported reports whether err means the server cannot run
// transactions or sessions (standalone mongod, some hosted tiers).
func IsNotSupported(err error) bool {
	if err == nil {
		return false
	}

	var ce mongo.CommandError
	if errors.As(err, &ce) {
		switch ce.Code {
		case 20, // IllegalOperation: transaction numbers only allowed on a replica set member
			51,  // historical IllegalOperation variant
			263: // OperationNotSupportedInTransaction
			return true
		}
	}

	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "transaction") && strings.Contains(s, "replica set"):
		return true
	case strings.Contains(s, "session") && strings.Contains(s, "not supported"):
		return true
	case strings.Contains(s, "transaction") && strings.Contains(s, "session"):
		return true
	case strings.Contains(s, "illegal operation"):
		return true
	}
	return false
}
