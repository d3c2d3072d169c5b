// README: Monthly allowance of model-backed turns per caller.
package aiusage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Backend is implemented by Store and MemoryStore.
type Backend interface {
	Consume(ctx context.Context, key, period string, allowance int) error
	Remaining(ctx context.Context, key, period string, allowance int) (int, error)
}

// Service meters model calls against a monthly allowance.
type Service struct {
	backend   Backend
	allowance int
	now       func() time.Time
}

// NewService meters against backend. allowance <= 0 uses DefaultAllowance.
func NewService(backend Backend, allowance int, now func() time.Time) *Service {
	if allowance <= 0 {
		allowance = DefaultAllowance
	}
	if now == nil {
		now = time.Now
	}
	return &Service{backend: backend, allowance: allowance, now: now}
}

// UseTurn deducts one model-backed turn from key's allowance.
// Returns ErrExhausted when the allowance for the current month is spent.
func (s *Service) UseTurn(ctx context.Context, key string) error {
	return s.backend.Consume(ctx, key, Period(s.now()), s.allowance)
}

func (s *Service) Remaining(ctx context.Context, key string) (int, error) {
	return s.backend.Remaining(ctx, key, Period(s.now()), s.allowance)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
