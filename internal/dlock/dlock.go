package dlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrLockTimeout      = errors.New("lock timeout")
	ErrDuplicateRequest = errors.New("duplicate request")
)

const pollInterval = 50 * time.Millisecond

// Service implements an expiring mutex and an idempotency guard on top of two
// small tables. Acquisition is a single set-if-absent statement that may take
// over an expired row; release checks the fencing token so a stale holder can
// never free a lock someone else re-acquired.
type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// TryAcquire attempts the lock once. An empty token means the lock is held by
// someone else and not expired.
func (s *Service) TryAcquire(ctx context.Context, key string, lease time.Duration) (string, error) {
	token := uuid.NewString()
	tag, err := s.pool.Exec(ctx, `insert into engine_locks (key, token, expires_at) values ($1, $2, $3)
on conflict (key) do update set token = excluded.token, expires_at = excluded.expires_at
where engine_locks.expires_at <= now()`, key, token, time.Now().Add(lease))
	if err != nil {
		return "", err
	}
	if tag.RowsAffected() == 0 {
		return "", nil
	}
	return token, nil
}

// AcquireWithWait polls until the lock is acquired or wait elapses.
func (s *Service) AcquireWithWait(ctx context.Context, key string, lease, wait time.Duration) (string, error) {
	deadline := time.Now().Add(wait)
	for {
		token, err := s.TryAcquire(ctx, key, lease)
		if err != nil {
			return "", err
		}
		if token != "" {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release frees the lock only when the token still matches. A mismatch is not
// an error: the lease expired and the lock moved on.
func (s *Service) Release(ctx context.Context, key, token string) error {
	_, err := s.pool.Exec(ctx, "delete from engine_locks where key = $1 and token = $2", key, token)
	return err
}

// WithLock runs fn under the lock, releasing on the way out.
func (s *Service) WithLock(ctx context.Context, key string, lease, wait time.Duration, fn func(ctx context.Context) error) error {
	token, err := s.AcquireWithWait(ctx, key, lease, wait)
	if err != nil {
		return err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Release(rctx, key, token)
	}()
	return fn(ctx)
}

// Guard records a client request key with a TTL. The second arrival inside
// the window gets ErrDuplicateRequest; an expired row is reclaimed.
func (s *Service) Guard(ctx context.Context, key string, ttl time.Duration) error {
	tag, err := s.pool.Exec(ctx, `insert into request_guard (key, expires_at) values ($1, $2)
on conflict (key) do update set expires_at = excluded.expires_at
where request_guard.expires_at <= now()`, key, time.Now().Add(ttl))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateRequest
	}
	return nil
}

// Sweep drops expired lock and guard rows; called from a background task.
func (s *Service) Sweep(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "delete from engine_locks where expires_at <= now()"); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, "delete from request_guard where expires_at <= now()")
	return err
}
