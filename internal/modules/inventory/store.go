// README: Inventory store backed by PostgreSQL; predicate sets compile to one parameterized SELECT.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roam/internal/modules/query"
	"roam/internal/types"
)

type Store struct {
	db      *pgxpool.Pool
	locator Locator
}

func NewStore(db *pgxpool.Pool, locator Locator) *Store {
	return &Store{db: db, locator: locator}
}

func (s *Store) Query(ctx context.Context, set query.PredicateSet) ([]VehicleSummary, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	lat, lng, ok := 0.0, 0.0, false
	if s.locator != nil {
		lat, lng, ok = s.locator.Center(set.Origin)
	}
	sql, args, err := buildSQL(set, origin{lat: lat, lng: lng, ok: ok})
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query vehicles: %w", err)
	}
	defer rows.Close()

	var out []VehicleSummary
	for rows.Next() {
		var v VehicleSummary
		var id string
		if err := rows.Scan(
			&id, &v.Make, &v.Model, &v.Year, &v.DailyRate, &v.Rating, &v.TripCount,
			&v.Deposit, &v.InstantBook, &v.Category, &v.City, &v.DistanceKm,
		); err != nil {
			return nil, err
		}
		v.ID = types.ID(id)
		v.DistanceKm = roundKm(v.DistanceKm)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id types.ID) (Listing, error) {
	row := s.db.QueryRow(ctx, `
		SELECT v.id, v.host_id, v.make, v.model, v.year, v.city, v.category, v.body_style,
		       v.fuel_type, v.seats, v.transmission, v.daily_rate, v.rating, v.trip_count,
		       v.deposit_override, h.default_deposit, v.instant_book, v.rideshare_eligible,
		       v.delivery, v.lat, v.lng
		FROM vehicles v
		JOIN hosts h ON h.id = v.host_id
		WHERE v.id = $1`, string(id))

	var l Listing
	var vid, hid string
	err := row.Scan(
		&vid, &hid, &l.Make, &l.Model, &l.Year, &l.City, &l.Category, &l.BodyStyle,
		&l.FuelType, &l.Seats, &l.Transmission, &l.DailyRate, &l.Rating, &l.TripCount,
		&l.DepositOverride, &l.HostDeposit, &l.InstantBook, &l.RideshareEligible,
		&l.Delivery, &l.Lat, &l.Lng,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Listing{}, ErrNotFound
	}
	if err != nil {
		return Listing{}, err
	}
	l.ID, l.HostID = types.ID(vid), types.ID(hid)
	if l.Blocked, err = s.blocks(ctx, l.ID); err != nil {
		return Listing{}, err
	}
	return l, nil
}

func (s *Store) blocks(ctx context.Context, id types.ID) ([]BlockedRange, error) {
	rows, err := s.db.Query(ctx, `
		SELECT start_date, end_date FROM vehicle_blocks
		WHERE vehicle_id = $1 ORDER BY start_date`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query blocks %s: %w", id, err)
	}
	defer rows.Close()

	var out []BlockedRange
	for rows.Next() {
		var start, end time.Time
		if err := rows.Scan(&start, &end); err != nil {
			return nil, err
		}
		out = append(out, BlockedRange{Start: types.DateOf(start), End: types.DateOf(end)})
	}
	return out, rows.Err()
}

// Upsert writes a listing and replaces its blocked ranges. The host row must exist.
func (s *Store) Upsert(ctx context.Context, l Listing) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO vehicles (
			id, host_id, make, model, year, city, category, body_style, fuel_type,
			seats, transmission, daily_rate, rating, trip_count, deposit_override,
			instant_book, rideshare_eligible, delivery, lat, lng
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20
		)
		ON CONFLICT (id) DO UPDATE SET
			make = EXCLUDED.make, model = EXCLUDED.model, year = EXCLUDED.year,
			city = EXCLUDED.city, category = EXCLUDED.category, body_style = EXCLUDED.body_style,
			fuel_type = EXCLUDED.fuel_type, seats = EXCLUDED.seats,
			transmission = EXCLUDED.transmission, daily_rate = EXCLUDED.daily_rate,
			rating = EXCLUDED.rating, trip_count = EXCLUDED.trip_count,
			deposit_override = EXCLUDED.deposit_override, instant_book = EXCLUDED.instant_book,
			rideshare_eligible = EXCLUDED.rideshare_eligible, delivery = EXCLUDED.delivery,
			lat = EXCLUDED.lat, lng = EXCLUDED.lng`,
		string(l.ID), string(l.HostID), l.Make, l.Model, l.Year, l.City, l.Category, l.BodyStyle, l.FuelType,
		l.Seats, l.Transmission, l.DailyRate, l.Rating, l.TripCount, l.DepositOverride,
		l.InstantBook, l.RideshareEligible, l.Delivery, l.Lat, l.Lng,
	)
	if err != nil {
		return fmt.Errorf("upsert vehicle %s: %w", l.ID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM vehicle_blocks WHERE vehicle_id = $1`, string(l.ID)); err != nil {
		return err
	}
	for _, b := range l.Blocked {
		if _, err := tx.Exec(ctx, `
			INSERT INTO vehicle_blocks (vehicle_id, start_date, end_date) VALUES ($1, $2, $3)`,
			string(l.ID), b.Start.Time(), b.End.Time(),
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// UpsertHost records a host's default deposit.
func (s *Store) UpsertHost(ctx context.Context, id types.ID, defaultDeposit float64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO hosts (id, default_deposit) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET default_deposit = EXCLUDED.default_deposit`,
		string(id), defaultDeposit)
	return err
}

// Seed loads listings and their hosts, taking each host's deposit from its listings.
func (s *Store) Seed(ctx context.Context, listings []Listing) error {
	hosts := map[types.ID]float64{}
	for _, l := range listings {
		hosts[l.HostID] = l.HostDeposit
	}
	for id, dep := range hosts {
		if err := s.UpsertHost(ctx, id, dep); err != nil {
			return err
		}
	}
	for _, l := range listings {
		if err := s.Upsert(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

type origin struct {
	lat, lng float64
	ok       bool
}

const selectVehicles = `SELECT v.id, v.make, v.model, v.year, v.daily_rate, v.rating, v.trip_count,
       COALESCE(v.deposit_override, h.default_deposit) AS deposit,
       v.instant_book, v.category, v.city, %s AS distance_km
FROM vehicles v
JOIN hosts h ON h.id = v.host_id
WHERE `

// sqlBuilder numbers placeholders in the order arguments are added.
type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func buildSQL(set query.PredicateSet, o origin) (string, []any, error) {
	b := &sqlBuilder{}

	distance := "0::float8"
	if o.ok {
		lat, lng := b.arg(o.lat), b.arg(o.lng)
		distance = fmt.Sprintf(
			"%g * acos(least(1.0, cos(radians(%s)) * cos(radians(v.lat)) * cos(radians(v.lng) - radians(%s)) + sin(radians(%s)) * sin(radians(v.lat))))",
			earthRadiusKm, lat, lng, lat)
	}

	clauses := make([]string, 0, len(set.Predicates))
	for _, p := range set.Predicates {
		c, err := b.clause(p)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, c)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, selectVehicles, distance)
	sb.WriteString(strings.Join(clauses, "\n  AND "))
	if set.Sort == query.SortPriceAsc {
		sb.WriteString("\nORDER BY v.daily_rate ASC, distance_km ASC, v.id")
	} else {
		sb.WriteString("\nORDER BY distance_km ASC, v.rating DESC, v.id")
	}
	if set.Limit > 0 {
		fmt.Fprintf(&sb, "\nLIMIT %d", set.Limit)
	}
	return sb.String(), b.args, nil
}

func (b *sqlBuilder) clause(p query.Predicate) (string, error) {
	switch p.Kind {
	case query.KindAll, query.KindAny:
		sep := " AND "
		if p.Kind == query.KindAny {
			sep = " OR "
		}
		parts := make([]string, 0, len(p.Children))
		for _, c := range p.Children {
			s, err := b.clause(c)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return "(" + strings.Join(parts, sep) + ")", nil
	case query.KindCityIn:
		return "v.city = ANY(" + b.arg(p.Values) + ")", nil
	case query.KindAvailable:
		if len(p.Values) != 2 {
			return "", fmt.Errorf("%s needs two dates", p.Kind)
		}
		start, err := types.ParseDate(p.Values[0])
		if err != nil {
			return "", err
		}
		end, err := types.ParseDate(p.Values[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"NOT EXISTS (SELECT 1 FROM vehicle_blocks b WHERE b.vehicle_id = v.id AND b.start_date < %s AND %s < b.end_date)",
			b.arg(end.Time()), b.arg(start.Time())), nil
	case query.KindRateAtLeast:
		return "v.daily_rate >= " + b.arg(p.Number), nil
	case query.KindRateAtMost:
		return "v.daily_rate <= " + b.arg(p.Number), nil
	case query.KindBodyStyleIn:
		return "lower(v.body_style) = ANY(" + b.arg(lowered(p.Values)) + ")", nil
	case query.KindFuelTypeIn:
		return "lower(v.fuel_type) = ANY(" + b.arg(lowered(p.Values)) + ")", nil
	case query.KindMakeIn:
		return "lower(v.make) = ANY(" + b.arg(lowered(p.Values)) + ")", nil
	case query.KindModelContains:
		return "lower(v.model) LIKE " + b.arg("%"+likeEscape(strings.ToLower(first(p.Values)))+"%"), nil
	case query.KindCategoryContains:
		v := strings.ToLower(first(p.Values))
		return fmt.Sprintf("(lower(v.category) LIKE %s OR lower(v.body_style) = %s)",
			b.arg("%"+likeEscape(v)+"%"), b.arg(v)), nil
	case query.KindSeatsAtLeast:
		return "v.seats >= " + b.arg(int(p.Number)), nil
	case query.KindTransmissionIs:
		return "lower(v.transmission) = " + b.arg(strings.ToLower(first(p.Values))), nil
	case query.KindVehicleDepositZero:
		return "(v.deposit_override IS NOT NULL AND v.deposit_override = 0)", nil
	case query.KindHostDepositZero:
		return "(v.deposit_override IS NULL AND h.default_deposit = 0)", nil
	case query.KindInstantBook:
		return "v.instant_book", nil
	case query.KindRideshare:
		return "v.rideshare_eligible", nil
	case query.KindDelivery:
		return "v.delivery", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownPredicate, p.Kind)
}

func lowered(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likeEscape(s string) string {
	return likeReplacer.Replace(s)
}
