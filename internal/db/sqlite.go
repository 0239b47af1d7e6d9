package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gridwatch/pvlive-consumer/internal/models"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// Compile-time interface checks.
var _ Database = (*SQLite)(nil)
var _ Session = (*sqliteSession)(nil)

// SQLite is a Database backed by a local SQLite file. Timestamps are stored as
// unix seconds.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and creates the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; a session holds the only connection for its lifetime.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return s, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

// WithSession runs fn inside one transaction.
func (s *SQLite) WithSession(ctx context.Context, fn func(Session) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteSession{tx: tx}); err != nil {
		if errors.Is(err, ErrRollback) {
			return nil
		}
		return err
	}
	return tx.Commit()
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type sqliteSession struct {
	tx *sql.Tx
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toUnix(t time.Time) int64 {
	return t.UTC().Unix()
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func scanSQLiteLocations(rows *sql.Rows) ([]*models.Location, error) {
	defer rows.Close()

	var out []*models.Location
	for rows.Next() {
		var (
			loc      models.Location
			capacity sql.NullFloat64
		)
		if err := rows.Scan(&loc.ID, &loc.GSPID, &loc.Label, &capacity); err != nil {
			return nil, err
		}
		if capacity.Valid {
			loc.InstalledCapacityMW = models.Float(capacity.Float64)
		}
		out = append(out, &loc)
	}
	return out, rows.Err()
}

func (s *sqliteSession) ListLocations(ctx context.Context) ([]*models.Location, error) {
	rows, err := s.tx.QueryContext(ctx, `SELECT id, gsp_id, label, installed_capacity_mw FROM location ORDER BY gsp_id, id`)
	if err != nil {
		return nil, err
	}
	return scanSQLiteLocations(rows)
}

func (s *sqliteSession) LoadLocations(ctx context.Context, gspIDs []int) ([]*models.Location, error) {
	if len(gspIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(gspIDs))
	for _, id := range gspIDs {
		args = append(args, id)
	}
	rows, err := s.tx.QueryContext(ctx, `
SELECT id, gsp_id, label, installed_capacity_mw
FROM location
WHERE gsp_id IN (`+placeholders(len(gspIDs))+`)
ORDER BY gsp_id, id`, args...)
	if err != nil {
		return nil, err
	}
	return scanSQLiteLocations(rows)
}

func (s *sqliteSession) LoadOrCreateLocation(ctx context.Context, gspID int) (*models.Location, error) {
	rows, err := s.tx.QueryContext(ctx, `
SELECT id, gsp_id, label, installed_capacity_mw
FROM location
WHERE gsp_id = ?
ORDER BY id
LIMIT 1`, gspID)
	if err != nil {
		return nil, err
	}
	found, err := scanSQLiteLocations(rows)
	if err != nil {
		return nil, err
	}
	if len(found) > 0 {
		return found[0], nil
	}

	loc := &models.Location{GSPID: gspID, Label: models.DefaultLabel(gspID)}
	res, err := s.tx.ExecContext(ctx, `INSERT INTO location (gsp_id, label, installed_capacity_mw) VALUES (?, ?, NULL)`, loc.GSPID, loc.Label)
	if err != nil {
		return nil, fmt.Errorf("create location for gsp %d: %w", gspID, err)
	}
	if loc.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return loc, nil
}

func (s *sqliteSession) AttachLatestYields(ctx context.Context, locations []*models.Location, regime models.Regime, since time.Time) error {
	byID := make(map[int64]*models.Location, len(locations))
	args := make([]any, 0, len(locations)+2)
	for _, loc := range locations {
		loc.LastYield = nil
		byID[loc.ID] = loc
		args = append(args, loc.ID)
	}
	if len(locations) == 0 {
		return nil
	}
	args = append(args, string(regime), toUnix(since), toUnix(since))

	// Ties on datetime resolve to the most recently inserted row.
	rows, err := s.tx.QueryContext(ctx, `
SELECT y.location_id, y.datetime_utc, y.solar_generation_kw, y.installed_capacity_mwp, y.capacity_mwp, y.pvlive_updated_utc, y.regime
FROM gsp_yield y
WHERE y.location_id IN (`+placeholders(len(locations))+`) AND y.regime = ? AND y.datetime_utc >= ?
  AND y.id = (
    SELECT z.id FROM gsp_yield z
    WHERE z.location_id = y.location_id AND z.regime = y.regime AND z.datetime_utc >= ?
    ORDER BY z.datetime_utc DESC, z.id DESC
    LIMIT 1
  )`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var locationID int64
		y, err := scanSQLiteYield(rows, &locationID)
		if err != nil {
			return err
		}
		if loc := byID[locationID]; loc != nil {
			y.Location = loc
			loc.LastYield = &y
		}
	}
	return rows.Err()
}

func (s *sqliteSession) UpdateInstalledCapacity(ctx context.Context, loc *models.Location) error {
	_, err := s.tx.ExecContext(ctx, `UPDATE location SET installed_capacity_mw = ? WHERE id = ?`, loc.InstalledCapacityMW, loc.ID)
	return err
}

func sqliteWindowClause(window models.FetchWindow) string {
	if window.IncludeEnd {
		return "y.datetime_utc >= ? AND y.datetime_utc <= ?"
	}
	return "y.datetime_utc >= ? AND y.datetime_utc < ?"
}

func (s *sqliteSession) CountYields(ctx context.Context, window models.FetchWindow, regime models.Regime, excludeNational bool) (int, error) {
	query := `
SELECT COUNT(*)
FROM gsp_yield y
JOIN location l ON l.id = y.location_id
WHERE y.regime = ? AND ` + sqliteWindowClause(window)
	if excludeNational {
		query += ` AND l.gsp_id <> 0`
	}

	var n int
	err := s.tx.QueryRowContext(ctx, query, string(regime), toUnix(window.Start), toUnix(window.End)).Scan(&n)
	return n, err
}

func (s *sqliteSession) LoadYields(ctx context.Context, gspIDs []int, window models.FetchWindow, regime models.Regime) ([]models.YieldRecord, error) {
	if len(gspIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(gspIDs)+3)
	for _, id := range gspIDs {
		args = append(args, id)
	}
	args = append(args, string(regime), toUnix(window.Start), toUnix(window.End))

	rows, err := s.tx.QueryContext(ctx, `
SELECT y.location_id, y.datetime_utc, y.solar_generation_kw, y.installed_capacity_mwp, y.capacity_mwp, y.pvlive_updated_utc, y.regime,
       l.gsp_id, l.label, l.installed_capacity_mw
FROM gsp_yield y
JOIN location l ON l.id = y.location_id
WHERE l.gsp_id IN (`+placeholders(len(gspIDs))+`) AND y.regime = ? AND `+sqliteWindowClause(window)+`
ORDER BY y.datetime_utc, l.gsp_id, y.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locations := make(map[int64]*models.Location)
	var out []models.YieldRecord
	for rows.Next() {
		var (
			locationID int64
			gspID      int
			label      string
			capacity   sql.NullFloat64
		)
		y, err := scanSQLiteYield(rows, &locationID, &gspID, &label, &capacity)
		if err != nil {
			return nil, err
		}
		loc, ok := locations[locationID]
		if !ok {
			loc = &models.Location{ID: locationID, GSPID: gspID, Label: label}
			if capacity.Valid {
				loc.InstalledCapacityMW = models.Float(capacity.Float64)
			}
			locations[locationID] = loc
		}
		y.Location = loc
		out = append(out, y)
	}
	return out, rows.Err()
}

func (s *sqliteSession) SaveYields(ctx context.Context, yields []models.YieldRecord) error {
	if len(yields) == 0 {
		return nil
	}

	stmt, err := s.tx.PrepareContext(ctx, `
INSERT INTO gsp_yield (location_id, datetime_utc, solar_generation_kw, installed_capacity_mwp, capacity_mwp, pvlive_updated_utc, regime)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, y := range yields {
		if y.Location == nil || y.Location.ID == 0 {
			return errMissingLocation(y)
		}
		var updated any
		if !y.PVLiveUpdatedUTC.IsZero() {
			updated = toUnix(y.PVLiveUpdatedUTC)
		}
		if _, err := stmt.ExecContext(ctx,
			y.Location.ID,
			toUnix(y.DatetimeUTC),
			y.SolarGenerationKW,
			y.InstalledCapacityMW,
			y.CapacityMW,
			updated,
			string(y.Regime),
		); err != nil {
			return err
		}
	}
	return nil
}

// scanSQLiteYield scans the seven yield columns followed by any extra
// destinations; the location id destination comes first.
func scanSQLiteYield(rows *sql.Rows, locationID *int64, extra ...any) (models.YieldRecord, error) {
	var (
		y                                  models.YieldRecord
		datetime                           int64
		generation, installed, capacityMWP sql.NullFloat64
		updated                            sql.NullInt64
		regime                             string
	)
	dest := append([]any{locationID, &datetime, &generation, &installed, &capacityMWP, &updated, &regime}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return y, err
	}
	y.DatetimeUTC = fromUnix(datetime)
	if generation.Valid {
		y.SolarGenerationKW = models.Float(generation.Float64)
	}
	if installed.Valid {
		y.InstalledCapacityMW = models.Float(installed.Float64)
	}
	if capacityMWP.Valid {
		y.CapacityMW = models.Float(capacityMWP.Float64)
	}
	if updated.Valid {
		y.PVLiveUpdatedUTC = fromUnix(updated.Int64)
	}
	y.Regime = models.Regime(regime)
	return y, nil
}
