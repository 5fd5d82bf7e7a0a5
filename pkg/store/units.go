package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/paulmach/orb"
)

// AdminUnit is a row of the host's admin_units table. IDs are opaque.
type AdminUnit struct {
	ID             string
	Name           string
	Code           string
	Type           string
	ParentID       string
	Latitude       float64
	Longitude      float64
	HasCoordinates bool
}

// Point returns the unit location as lon/lat.
func (u AdminUnit) Point() orb.Point {
	return orb.Point{u.Longitude, u.Latitude}
}

const unitColumns = `id, name, COALESCE(code, ''), type, COALESCE(parent_id, ''), latitude, longitude`

// ListUnits returns every unit of the given type ordered by code then id.
func (s *Store) ListUnits(ctx context.Context, unitType string) ([]AdminUnit, error) {
	return s.queryUnits(ctx, `SELECT `+unitColumns+` FROM admin_units
		WHERE type = ? ORDER BY code, id`, unitType)
}

// ListUnitsByParent returns the children of parentID with the given type.
func (s *Store) ListUnitsByParent(ctx context.Context, unitType, parentID string) ([]AdminUnit, error) {
	return s.queryUnits(ctx, `SELECT `+unitColumns+` FROM admin_units
		WHERE type = ? AND parent_id = ? ORDER BY code, id`, unitType, parentID)
}

// UnitsInBox returns units of the given type whose coordinates fall inside
// b. Units without coordinates are never returned. A box that crosses the
// antimeridian, either wrapped (Min.Lon > Max.Lon, as geo.NewBoundAroundPoint
// returns it) or running past ±180°, covers both sides.
func (s *Store) UnitsInBox(ctx context.Context, unitType string, b orb.Bound) ([]AdminUnit, error) {
	args := []any{unitType, max(b.Min.Lat(), -90), min(b.Max.Lat(), 90)}
	lon := "longitude BETWEEN ? AND ?"
	ranges := lonRanges(b)
	if len(ranges) == 2 {
		lon = "(longitude BETWEEN ? AND ? OR longitude BETWEEN ? AND ?)"
	}
	for _, r := range ranges {
		args = append(args, r[0], r[1])
	}
	return s.queryUnits(ctx, `SELECT `+unitColumns+` FROM admin_units
		WHERE type = ?
		  AND latitude IS NOT NULL AND longitude IS NOT NULL
		  AND latitude BETWEEN ? AND ?
		  AND `+lon+`
		ORDER BY code, id`, args...)
}

// lonRanges splits the longitude span of b at the antimeridian.
func lonRanges(b orb.Bound) [][2]float64 {
	lo, hi := b.Min.Lon(), b.Max.Lon()
	switch {
	case lo > hi:
		return [][2]float64{{lo, 180}, {-180, hi}}
	case hi-lo >= 360:
		return [][2]float64{{-180, 180}}
	case lo < -180:
		return [][2]float64{{lo + 360, 180}, {-180, hi}}
	case hi > 180:
		return [][2]float64{{lo, 180}, {-180, hi - 360}}
	}
	return [][2]float64{{lo, hi}}
}

func (s *Store) queryUnits(ctx context.Context, q string, args ...any) ([]AdminUnit, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var units []AdminUnit
	for rows.Next() {
		var (
			u        AdminUnit
			lat, lon sql.NullFloat64
		)
		if err := rows.Scan(&u.ID, &u.Name, &u.Code, &u.Type, &u.ParentID, &lat, &lon); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		if lat.Valid && lon.Valid {
			u.Latitude, u.Longitude, u.HasCoordinates = lat.Float64, lon.Float64, true
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// UnitsSchema is the admin_units shape the engine reads. Open never applies
// it; EnsureUnitsTable does, for standalone SQLite databases.
const UnitsSchema = `CREATE TABLE IF NOT EXISTS admin_units (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	code      TEXT NOT NULL DEFAULT '',
	type      TEXT NOT NULL,
	parent_id TEXT,
	latitude  DOUBLE PRECISION,
	longitude DOUBLE PRECISION
)`

// EnsureUnitsTable creates admin_units if it is missing.
func (s *Store) EnsureUnitsTable(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, UnitsSchema); err != nil {
		return fmt.Errorf("create admin_units: %w", err)
	}
	return nil
}

// InsertUnits upserts units in one transaction.
func (s *Store) InsertUnits(ctx context.Context, units []AdminUnit) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert units: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO admin_units
		(id, name, code, type, parent_id, latitude, longitude) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, code = excluded.code,
			type = excluded.type, parent_id = excluded.parent_id,
			latitude = excluded.latitude, longitude = excluded.longitude`))
	if err != nil {
		return fmt.Errorf("prepare insert units: %w", err)
	}
	defer stmt.Close()

	for _, u := range units {
		var parent *string
		if u.ParentID != "" {
			parent = &u.ParentID
		}
		var lat, lon *float64
		if u.HasCoordinates {
			lat, lon = &u.Latitude, &u.Longitude
		}
		if _, err := stmt.ExecContext(ctx, u.ID, u.Name, u.Code, u.Type, parent, lat, lon); err != nil {
			return fmt.Errorf("insert unit %s: %w", u.ID, err)
		}
	}
	return tx.Commit()
}
