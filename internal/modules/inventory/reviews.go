// README: Guest reviews per vehicle (Postgres and in-memory).
package inventory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"roam/internal/types"
)

type Review struct {
	VehicleID types.ID  `json:"vehicleId"`
	Author    string    `json:"author"`
	Rating    int       `json:"rating"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReviewSummary is what the review tool returns to the model.
type ReviewSummary struct {
	VehicleID     types.ID `json:"vehicleId"`
	Count         int      `json:"count"`
	AverageRating float64  `json:"averageRating"`
	Recent        []Review `json:"recent"`
}

// Summarize averages reviews and keeps the newest limit entries.
func Summarize(id types.ID, reviews []Review, limit int) ReviewSummary {
	out := ReviewSummary{VehicleID: id, Count: len(reviews)}
	if len(reviews) == 0 {
		return out
	}
	sorted := append([]Review(nil), reviews...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	total := 0
	for _, r := range sorted {
		total += r.Rating
	}
	out.AverageRating = math.Round(float64(total)/float64(len(sorted))*10) / 10
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out.Recent = sorted
	return out
}

type ReviewStore struct {
	db *pgxpool.Pool
}

func NewReviewStore(db *pgxpool.Pool) *ReviewStore {
	return &ReviewStore{db: db}
}

func (s *ReviewStore) Add(ctx context.Context, r Review) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO vehicle_reviews (vehicle_id, author, rating, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(r.VehicleID), r.Author, r.Rating, r.Body, r.CreatedAt)
	return err
}

func (s *ReviewStore) ListByVehicle(ctx context.Context, id types.ID) ([]Review, error) {
	rows, err := s.db.Query(ctx, `
		SELECT author, rating, body, created_at
		FROM vehicle_reviews
		WHERE vehicle_id = $1
		ORDER BY created_at DESC`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		r := Review{VehicleID: id}
		if err := rows.Scan(&r.Author, &r.Rating, &r.Body, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type MemoryReviews struct {
	mu   sync.RWMutex
	byID map[types.ID][]Review
}

func NewMemoryReviews(reviews ...Review) *MemoryReviews {
	m := &MemoryReviews{byID: map[types.ID][]Review{}}
	for _, r := range reviews {
		m.byID[r.VehicleID] = append(m.byID[r.VehicleID], r)
	}
	return m
}

func (m *MemoryReviews) Add(_ context.Context, r Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[r.VehicleID] = append(m.byID[r.VehicleID], r)
	return nil
}

func (m *MemoryReviews) ListByVehicle(_ context.Context, id types.ID) ([]Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Review(nil), m.byID[id]...), nil
}

// DemoReviews pairs with DemoListings.
func DemoReviews() []Review {
	at := func(day int) time.Time { return time.Date(2026, time.September, day, 12, 0, 0, 0, time.UTC) }
	return []Review{
		{VehicleID: "veh_001", Author: "Dana", Rating: 5, Body: "Spotless and the pickup in Old Town was easy.", CreatedAt: at(2)},
		{VehicleID: "veh_001", Author: "Luis", Rating: 4, Body: "Great value, a little road noise on the 101.", CreatedAt: at(14)},
		{VehicleID: "veh_003", Author: "Priya", Rating: 5, Body: "Host reply time was under five minutes.", CreatedAt: at(9)},
		{VehicleID: "veh_004", Author: "Sam", Rating: 5, Body: "Charged to 90% at pickup, autopilot worked well.", CreatedAt: at(20)},
		{VehicleID: "veh_004", Author: "Jordan", Rating: 4, Body: "Supercharger card was missing but the host refunded it.", CreatedAt: at(25)},
		{VehicleID: "veh_006", Author: "Alex", Rating: 5, Body: "Unforgettable weekend drive up to Sedona.", CreatedAt: at(5)},
		{VehicleID: "veh_011", Author: "Kim", Rating: 5, Body: "Perfect LA commuter, great mileage.", CreatedAt: at(11)},
	}
}
