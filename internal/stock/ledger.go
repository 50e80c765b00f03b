// Package stock implements the stock ledger: the single writer of per-product
// stock quantities.
//
// Every mutation runs under an exclusive lock scoped to one product and is a
// guarded read-modify-write: the current level is read, checked, and written
// back with a compare-and-swap on the level's version. Mutations on different
// products never share a lock. Lock contention and version conflicts are
// retried with bounded backoff before surfacing as a concurrency conflict.
package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/apperr"
)

var (
	// ErrLockBusy is returned by a Locker when the key stayed locked for the
	// whole acquisition wait.
	ErrLockBusy = errors.New("stock lock busy")
	// ErrVersionConflict is returned by a Store when the expected version is stale.
	ErrVersionConflict = errors.New("stock version conflict")
)

// Level is the stored stock state of one product.
type Level struct {
	Quantity int
	Version  int64
}

// Store persists stock levels.
type Store interface {
	// Get returns the current level, or an apperr NotFound error.
	Get(ctx context.Context, productID string) (Level, error)
	// CompareAndSwap writes quantity when the stored version equals expected
	// and returns the new level. The version is incremented on success.
	CompareAndSwap(ctx context.Context, productID string, expected int64, quantity int) (Level, error)
}

// Locker provides mutual exclusion per key.
type Locker interface {
	// Lock blocks until key is held, the acquisition wait elapses (ErrLockBusy)
	// or ctx is done. The returned func releases the lock and is idempotent.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Config bounds the retry loop around a single mutation.
type Config struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the retry policy for stock mutations.
func DefaultConfig() Config {
	return Config{
		Attempts:       3,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
	}
}

// Ledger deducts and restores product stock.
type Ledger struct {
	store    Store
	locker   Locker
	cfg      Config
	onChange func(ctx context.Context, productID string)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithOnChange registers a hook run after every successful mutation and
// before the mutation returns. It is used for cache invalidation.
func WithOnChange(fn func(ctx context.Context, productID string)) Option {
	return func(l *Ledger) {
		l.onChange = fn
	}
}

// NewLedger creates a Ledger over the given store and locker.
func NewLedger(store Store, locker Locker, cfg Config, opts ...Option) *Ledger {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	l := &Ledger{
		store:    store,
		locker:   locker,
		cfg:      cfg,
		onChange: func(context.Context, string) {},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Deduct removes qty units of productID and returns the remaining quantity.
// It fails with StockInsufficient when fewer than qty units are available.
func (l *Ledger) Deduct(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, apperr.Validation(apperr.ReasonInvalidQuantity,
			fmt.Sprintf("deduct quantity must be greater than 0, got %d", qty))
	}
	return l.mutate(ctx, productID, func(cur Level) (int, error) {
		if cur.Quantity < qty {
			return 0, apperr.Insufficient(productID, cur.Quantity, qty)
		}
		return cur.Quantity - qty, nil
	})
}

// Restore returns qty units of productID to stock and returns the new
// quantity. No upper bound is enforced.
func (l *Ledger) Restore(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, apperr.Validation(apperr.ReasonInvalidQuantity,
			fmt.Sprintf("restore quantity must be greater than 0, got %d", qty))
	}
	return l.mutate(ctx, productID, func(cur Level) (int, error) {
		return cur.Quantity + qty, nil
	})
}

// Available returns the current quantity of productID.
func (l *Ledger) Available(ctx context.Context, productID string) (int, error) {
	lvl, err := l.store.Get(ctx, productID)
	if err != nil {
		return 0, err
	}
	return lvl.Quantity, nil
}

func (l *Ledger) mutate(ctx context.Context, productID string, apply func(Level) (int, error)) (int, error) {
	attempt := 0
	op := func() (int, error) {
		attempt++
		unlock, err := l.locker.Lock(ctx, LockKey(productID))
		if err != nil {
			if errors.Is(err, ErrLockBusy) {
				return 0, err
			}
			return 0, backoff.Permanent(errors.Wrap(err, "acquire stock lock"))
		}
		defer unlock()

		cur, err := l.store.Get(ctx, productID)
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		next, err := apply(cur)
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		lvl, err := l.store.CompareAndSwap(ctx, productID, cur.Version, next)
		if err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return 0, err
			}
			return 0, backoff.Permanent(err)
		}
		return lvl.Quantity, nil
	}

	qty, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(l.newBackOff()),
		backoff.WithMaxTries(uint(l.cfg.Attempts)),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		switch {
		case errors.Is(err, ErrLockBusy):
			zctx.From(ctx).Warn("Stock lock contention",
				zap.String("product_id", productID),
				zap.Int("attempts", attempt),
			)
			return 0, apperr.Conflict(productID, apperr.ReasonLockContention, err)
		case errors.Is(err, ErrVersionConflict):
			return 0, apperr.Conflict(productID, apperr.ReasonVersionConflict, err)
		default:
			return 0, err
		}
	}

	l.onChange(ctx, productID)
	return qty, nil
}

func (l *Ledger) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.InitialBackoff
	b.MaxInterval = l.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return b
}

// LockKey derives the lock key of a product. Locks are scoped to the product
// identity only.
func LockKey(productID string) string {
	return "stock:lock:" + productID
}
