package aiusage

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store handles ai_usage persistence.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Consume atomically deducts one turn, resetting the counter to allowance when the stored
// period is behind. A missing row is created on the way. Returns ErrExhausted when 0 rows change.
func (s *Store) Consume(ctx context.Context, key, period string, allowance int) error {
	if _, err := s.db.Exec(ctx, `
		INSERT INTO ai_usage (caller_key, turns_remaining, period)
		VALUES ($1, $2, $3)
		ON CONFLICT (caller_key) DO NOTHING
	`, key, allowance, period); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE ai_usage SET
			turns_remaining = CASE WHEN period != $1 THEN $2 - 1 ELSE turns_remaining - 1 END,
			period = $1
		WHERE caller_key = $3 AND (period < $1 OR turns_remaining > 0)
	`, period, allowance, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExhausted
	}
	return nil
}

// Remaining reports the turns left for key in period, or allowance when nothing is recorded.
func (s *Store) Remaining(ctx context.Context, key, period string, allowance int) (int, error) {
	var left int
	var stored string
	err := s.db.QueryRow(ctx, `SELECT turns_remaining, period FROM ai_usage WHERE caller_key = $1`, key).Scan(&left, &stored)
	if err != nil {
		if isNoRows(err) {
			return allowance, nil
		}
		return 0, err
	}
	if stored < period {
		return allowance, nil
	}
	return left, nil
}

type counter struct {
	left   int
	period string
}

// MemoryStore is the single-process Store used without a database.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]counter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]counter{}}
}

func (m *MemoryStore) Consume(_ context.Context, key, period string, allowance int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[key]
	if !ok || c.period < period {
		c = counter{left: allowance, period: period}
	}
	if c.left <= 0 {
		return ErrExhausted
	}
	c.left--
	m.rows[key] = c
	return nil
}

func (m *MemoryStore) Remaining(_ context.Context, key, period string, allowance int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[key]
	if !ok || c.period < period {
		return allowance, nil
	}
	return c.left, nil
}
