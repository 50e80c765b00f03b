// Package redis implements a stock.Locker shared by every replica of the
// service.
package redis

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/stock"
)

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

var _ stock.Locker = (*Locker)(nil)

// Config controls lock acquisition.
type Config struct {
	// TTL bounds how long a crashed holder can keep a key locked.
	TTL time.Duration
	// Wait is the maximum time Lock blocks before returning stock.ErrLockBusy.
	Wait time.Duration
	// Poll is the delay between acquisition attempts.
	Poll time.Duration
}

// DefaultConfig returns the lock settings used by the stock ledger.
func DefaultConfig() Config {
	return Config{
		TTL:  5 * time.Second,
		Wait: 250 * time.Millisecond,
		Poll: 10 * time.Millisecond,
	}
}

// Locker is a token-based Redis mutex keyed by string.
type Locker struct {
	client goredis.UniversalClient
	cfg    Config
}

// NewLocker returns a Locker over client.
func NewLocker(client goredis.UniversalClient, cfg Config) *Locker {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Poll <= 0 {
		cfg.Poll = def.Poll
	}
	return &Locker{client: client, cfg: cfg}
}

// Lock acquires key or fails with stock.ErrLockBusy once Wait elapses.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.cfg.Wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.cfg.TTL).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "lock %s", key)
		}
		if ok {
			return l.unlocker(ctx, key, token), nil
		}
		if !time.Now().Before(deadline) {
			return nil, stock.ErrLockBusy
		}

		t := time.NewTimer(l.cfg.Poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (l *Locker) unlocker(ctx context.Context, key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// Release even when the caller's context is already done.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
				zctx.From(ctx).Warn("Release stock lock",
					zap.String("key", key),
					zap.Error(err),
				)
			}
		})
	}
}
