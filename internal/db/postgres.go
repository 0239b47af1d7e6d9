package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridwatch/pvlive-consumer/internal/models"
)

//go:embed schema_postgres.sql
var postgresSchema string

var _ Database = (*Postgres)(nil)
var _ Session = (*pgSession)(nil)

// Postgres is a Database backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres creates a pool and checks the connection.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// EnsureSchema creates the tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresSchema)
	return err
}

// WithSession runs fn inside one transaction.
func (p *Postgres) WithSession(ctx context.Context, fn func(Session) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgSession{q: tx}); err != nil {
		if errors.Is(err, ErrRollback) {
			return nil
		}
		return err
	}
	return tx.Commit(ctx)
}

// Close releases the pool resources.
func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type pgSession struct {
	q querier
}

const pgLocationColumns = `id, gsp_id, label, installed_capacity_mw`

func scanPGLocations(rows pgx.Rows) ([]*models.Location, error) {
	defer rows.Close()

	var out []*models.Location
	for rows.Next() {
		loc := &models.Location{}
		if err := rows.Scan(&loc.ID, &loc.GSPID, &loc.Label, &loc.InstalledCapacityMW); err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

func (s *pgSession) ListLocations(ctx context.Context) ([]*models.Location, error) {
	rows, err := s.q.Query(ctx, `SELECT `+pgLocationColumns+` FROM location ORDER BY gsp_id, id`)
	if err != nil {
		return nil, err
	}
	return scanPGLocations(rows)
}

func (s *pgSession) LoadLocations(ctx context.Context, gspIDs []int) ([]*models.Location, error) {
	if len(gspIDs) == 0 {
		return nil, nil
	}
	rows, err := s.q.Query(ctx, `
SELECT `+pgLocationColumns+`
FROM location
WHERE gsp_id = ANY($1)
ORDER BY gsp_id, id`, gspIDs)
	if err != nil {
		return nil, err
	}
	return scanPGLocations(rows)
}

func (s *pgSession) LoadOrCreateLocation(ctx context.Context, gspID int) (*models.Location, error) {
	loc := &models.Location{}
	err := s.q.QueryRow(ctx, `
SELECT `+pgLocationColumns+`
FROM location
WHERE gsp_id = $1
ORDER BY id
LIMIT 1`, gspID).Scan(&loc.ID, &loc.GSPID, &loc.Label, &loc.InstalledCapacityMW)
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	loc = &models.Location{GSPID: gspID, Label: models.DefaultLabel(gspID)}
	err = s.q.QueryRow(ctx, `
INSERT INTO location (gsp_id, label, installed_capacity_mw)
VALUES ($1, $2, NULL)
RETURNING id`, loc.GSPID, loc.Label).Scan(&loc.ID)
	if err != nil {
		return nil, fmt.Errorf("create location for gsp %d: %w", gspID, err)
	}
	return loc, nil
}

// AttachLatestYields loads the most recent stored yield per location.
func (s *pgSession) AttachLatestYields(ctx context.Context, locations []*models.Location, regime models.Regime, since time.Time) error {
	byID := make(map[int64]*models.Location, len(locations))
	for _, loc := range locations {
		loc.LastYield = nil
		byID[loc.ID] = loc
	}
	if len(locations) == 0 {
		return nil
	}

	rows, err := s.q.Query(ctx, `
SELECT DISTINCT ON (location_id)
    location_id, datetime_utc, solar_generation_kw, installed_capacity_mwp, capacity_mwp, pvlive_updated_utc, regime
FROM gsp_yield
WHERE location_id = ANY($1) AND regime = $2 AND datetime_utc >= $3
ORDER BY location_id, datetime_utc DESC, created_utc DESC`, locationIDs(locations), string(regime), since.UTC())
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var locationID int64
		y, err := scanPGYield(rows, &locationID)
		if err != nil {
			return err
		}
		loc := byID[locationID]
		if loc == nil {
			continue
		}
		y.Location = loc
		loc.LastYield = &y
	}
	return rows.Err()
}

func (s *pgSession) UpdateInstalledCapacity(ctx context.Context, loc *models.Location) error {
	_, err := s.q.Exec(ctx, `UPDATE location SET installed_capacity_mw = $2 WHERE id = $1`, loc.ID, loc.InstalledCapacityMW)
	return err
}

func pgWindowClause(window models.FetchWindow, startArg, endArg int) string {
	op := "<"
	if window.IncludeEnd {
		op = "<="
	}
	return fmt.Sprintf("y.datetime_utc >= $%d AND y.datetime_utc %s $%d", startArg, op, endArg)
}

func (s *pgSession) CountYields(ctx context.Context, window models.FetchWindow, regime models.Regime, excludeNational bool) (int, error) {
	sql := `
SELECT COUNT(*)
FROM gsp_yield y
JOIN location l ON l.id = y.location_id
WHERE y.regime = $1 AND ` + pgWindowClause(window, 2, 3)
	if excludeNational {
		sql += ` AND l.gsp_id <> 0`
	}

	var n int
	if err := s.q.QueryRow(ctx, sql, string(regime), window.Start.UTC(), window.End.UTC()).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *pgSession) LoadYields(ctx context.Context, gspIDs []int, window models.FetchWindow, regime models.Regime) ([]models.YieldRecord, error) {
	if len(gspIDs) == 0 {
		return nil, nil
	}
	rows, err := s.q.Query(ctx, `
SELECT y.location_id, y.datetime_utc, y.solar_generation_kw, y.installed_capacity_mwp, y.capacity_mwp, y.pvlive_updated_utc, y.regime,
       l.gsp_id, l.label, l.installed_capacity_mw
FROM gsp_yield y
JOIN location l ON l.id = y.location_id
WHERE l.gsp_id = ANY($1) AND y.regime = $2 AND `+pgWindowClause(window, 3, 4)+`
ORDER BY y.datetime_utc, l.gsp_id, y.id`, gspIDs, string(regime), window.Start.UTC(), window.End.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locations := make(map[int64]*models.Location)
	var out []models.YieldRecord
	for rows.Next() {
		var (
			y        models.YieldRecord
			loc      models.Location
			updated  *time.Time
			regimeDB string
		)
		if err := rows.Scan(
			&loc.ID,
			&y.DatetimeUTC,
			&y.SolarGenerationKW,
			&y.InstalledCapacityMW,
			&y.CapacityMW,
			&updated,
			&regimeDB,
			&loc.GSPID,
			&loc.Label,
			&loc.InstalledCapacityMW,
		); err != nil {
			return nil, err
		}
		if known, ok := locations[loc.ID]; ok {
			y.Location = known
		} else {
			l := loc
			locations[loc.ID] = &l
			y.Location = &l
		}
		y.DatetimeUTC = y.DatetimeUTC.UTC()
		if updated != nil {
			y.PVLiveUpdatedUTC = updated.UTC()
		}
		y.Regime = models.Regime(regimeDB)
		out = append(out, y)
	}
	return out, rows.Err()
}

// SaveYields writes yields in one pgx batch.
func (s *pgSession) SaveYields(ctx context.Context, yields []models.YieldRecord) error {
	if len(yields) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO gsp_yield (location_id, datetime_utc, solar_generation_kw, installed_capacity_mwp, capacity_mwp, pvlive_updated_utc, regime, created_utc)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())`

	for _, y := range yields {
		if y.Location == nil || y.Location.ID == 0 {
			return errMissingLocation(y)
		}
		batch.Queue(query,
			y.Location.ID,
			y.DatetimeUTC.UTC(),
			y.SolarGenerationKW,
			y.InstalledCapacityMW,
			y.CapacityMW,
			nullableTime(y.PVLiveUpdatedUTC),
			string(y.Regime),
		)
	}

	res := s.q.SendBatch(ctx, batch)
	defer res.Close()

	for range yields {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}

	return nil
}

func scanPGYield(rows pgx.Rows, locationID *int64) (models.YieldRecord, error) {
	var (
		y        models.YieldRecord
		updated  *time.Time
		regimeDB string
	)
	if err := rows.Scan(locationID, &y.DatetimeUTC, &y.SolarGenerationKW, &y.InstalledCapacityMW, &y.CapacityMW, &updated, &regimeDB); err != nil {
		return y, err
	}
	y.DatetimeUTC = y.DatetimeUTC.UTC()
	if updated != nil {
		y.PVLiveUpdatedUTC = updated.UTC()
	}
	y.Regime = models.Regime(regimeDB)
	return y, nil
}
