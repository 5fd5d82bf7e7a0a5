package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a mapping row does not exist.
var ErrNotFound = errors.New("not found")

// Mapping is a row of location_mappings keyed by (ExternalID, LocationType).
type Mapping struct {
	ExternalID          int64    `json:"external_id" yaml:"external_id"`
	LocationType        string   `json:"location_type" yaml:"location_type"`
	InternalID          *string  `json:"internal_id" yaml:"internal_id"`
	ExternalCode        string   `json:"external_code" yaml:"external_code"`
	InternalCode        string   `json:"internal_code" yaml:"internal_code"`
	ExternalName        string   `json:"external_name" yaml:"external_name"`
	InternalName        string   `json:"internal_name" yaml:"internal_name"`
	CountryCode         string   `json:"country_code" yaml:"country_code"`
	AdminPath           string   `json:"admin_path" yaml:"admin_path"`
	ParentExternalID    *int64   `json:"parent_external_id,omitempty" yaml:"parent_external_id,omitempty"`
	Population          int64    `json:"population" yaml:"population"`
	Elevation           *int     `json:"elevation,omitempty" yaml:"elevation,omitempty"`
	FeatureCode         string   `json:"feature_code" yaml:"feature_code"`
	Latitude            *float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude           *float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	IsMatched           bool     `json:"is_matched" yaml:"is_matched"`
	MatchMethod         string   `json:"match_method,omitempty" yaml:"match_method,omitempty"`
	Score               float64  `json:"score" yaml:"score"`
	DistanceKm          *float64 `json:"distance_km,omitempty" yaml:"distance_km,omitempty"`
	UnmatchedReason     string   `json:"unmatched_reason,omitempty" yaml:"unmatched_reason,omitempty"`
	SuggestedInternalID *string  `json:"suggested_internal_id,omitempty" yaml:"suggested_internal_id,omitempty"`
	SuggestedName       string   `json:"suggested_name,omitempty" yaml:"suggested_name,omitempty"`
	CreatedAt           int64    `json:"created_at" yaml:"created_at"`
	// RunID is the run that last wrote the row.
	RunID string `json:"run_id" yaml:"run_id"`
}

const mappingColumns = `external_id, location_type, internal_id, external_code, internal_code,
	external_name, internal_name, country_code, admin_path, parent_external_id,
	population, elevation, feature_code, latitude, longitude, is_matched,
	match_method, score, distance_km, unmatched_reason, suggested_internal_id,
	suggested_name, created_at, run_id`

// created_at is left out of the update list so the first insert time sticks.
const upsertMapping = `INSERT INTO location_mappings (` + mappingColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (external_id, location_type) DO UPDATE SET
		internal_id = excluded.internal_id,
		external_code = excluded.external_code,
		internal_code = excluded.internal_code,
		external_name = excluded.external_name,
		internal_name = excluded.internal_name,
		country_code = excluded.country_code,
		admin_path = excluded.admin_path,
		parent_external_id = excluded.parent_external_id,
		population = excluded.population,
		elevation = excluded.elevation,
		feature_code = excluded.feature_code,
		latitude = excluded.latitude,
		longitude = excluded.longitude,
		is_matched = excluded.is_matched,
		match_method = excluded.match_method,
		score = excluded.score,
		distance_km = excluded.distance_km,
		unmatched_reason = excluded.unmatched_reason,
		suggested_internal_id = excluded.suggested_internal_id,
		suggested_name = excluded.suggested_name,
		run_id = excluded.run_id`

func (m *Mapping) args() []any {
	return []any{
		m.ExternalID, m.LocationType, m.InternalID, m.ExternalCode, m.InternalCode,
		m.ExternalName, m.InternalName, m.CountryCode, m.AdminPath, m.ParentExternalID,
		m.Population, m.Elevation, m.FeatureCode, m.Latitude, m.Longitude, m.IsMatched,
		m.MatchMethod, m.Score, m.DistanceKm, m.UnmatchedReason, m.SuggestedInternalID,
		m.SuggestedName, m.CreatedAt, m.RunID,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMapping(sc scanner) (Mapping, error) {
	var m Mapping
	err := sc.Scan(&m.ExternalID, &m.LocationType, &m.InternalID, &m.ExternalCode, &m.InternalCode,
		&m.ExternalName, &m.InternalName, &m.CountryCode, &m.AdminPath, &m.ParentExternalID,
		&m.Population, &m.Elevation, &m.FeatureCode, &m.Latitude, &m.Longitude, &m.IsMatched,
		&m.MatchMethod, &m.Score, &m.DistanceKm, &m.UnmatchedReason, &m.SuggestedInternalID,
		&m.SuggestedName, &m.CreatedAt, &m.RunID)
	return m, err
}

// Batch groups upserts in one transaction. Each row runs under its own
// savepoint so a failing row is rolled back alone and the batch goes on.
type Batch struct {
	s    *Store
	tx   *sql.Tx
	stmt *sql.Stmt
	n    int
}

// Begin starts a batch. The transaction lives as long as ctx.
func (s *Store) Begin(ctx context.Context) (*Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(upsertMapping))
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("prepare upsert: %w", err)
	}
	return &Batch{s: s, tx: tx, stmt: stmt}, nil
}

// Upsert inserts or updates m. On error the row is rolled back to its
// savepoint and the batch stays usable.
func (b *Batch) Upsert(ctx context.Context, m Mapping) error {
	ctx, cancel := b.s.withTimeout(ctx)
	defer cancel()

	if _, err := b.tx.ExecContext(ctx, "SAVEPOINT mapping_row"); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if _, err := b.stmt.ExecContext(ctx, m.args()...); err != nil {
		if _, rbErr := b.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT mapping_row"); rbErr != nil {
			return fmt.Errorf("upsert %d/%s: %w (rollback: %v)", m.ExternalID, m.LocationType, err, rbErr)
		}
		b.tx.ExecContext(ctx, "RELEASE SAVEPOINT mapping_row")
		return fmt.Errorf("upsert %d/%s: %w", m.ExternalID, m.LocationType, err)
	}
	if _, err := b.tx.ExecContext(ctx, "RELEASE SAVEPOINT mapping_row"); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	b.n++
	return nil
}

// Len returns the number of rows upserted in the batch.
func (b *Batch) Len() int { return b.n }

// Commit commits the batch.
func (b *Batch) Commit() error {
	b.stmt.Close()
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Rollback abandons the batch.
func (b *Batch) Rollback() error {
	b.stmt.Close()
	return b.tx.Rollback()
}

// GetMapping returns one row or ErrNotFound.
func (s *Store) GetMapping(ctx context.Context, externalID int64, locationType string) (*Mapping, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+mappingColumns+` FROM location_mappings
		WHERE external_id = ? AND location_type = ?`), externalID, locationType)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mapping %d/%s: %w", externalID, locationType, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	return &m, nil
}

// ListMappings returns every level row for one external id.
func (s *Store) ListMappings(ctx context.Context, externalID int64) ([]Mapping, error) {
	return s.queryMappings(ctx, `SELECT `+mappingColumns+` FROM location_mappings
		WHERE external_id = ? ORDER BY location_type`, externalID)
}

// ListMatched returns the matched rows of a level ordered by external id.
func (s *Store) ListMatched(ctx context.Context, locationType string) ([]Mapping, error) {
	return s.queryMappings(ctx, `SELECT `+mappingColumns+` FROM location_mappings
		WHERE location_type = ? AND is_matched = ? ORDER BY external_id`, locationType, true)
}

// ListMatchedByRun returns the matched rows of a level last written by runID,
// ordered by external id.
func (s *Store) ListMatchedByRun(ctx context.Context, locationType, runID string) ([]Mapping, error) {
	return s.queryMappings(ctx, `SELECT `+mappingColumns+` FROM location_mappings
		WHERE location_type = ? AND run_id = ? AND is_matched = ? ORDER BY external_id`,
		locationType, runID, true)
}

// ListUnmatched returns the review queue. An empty locationType lists all
// levels.
func (s *Store) ListUnmatched(ctx context.Context, locationType string, limit, offset int) ([]Mapping, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	if locationType == "" {
		return s.queryMappings(ctx, `SELECT `+mappingColumns+` FROM location_mappings
			WHERE is_matched = ? ORDER BY location_type, external_id LIMIT ? OFFSET ?`, false, limit, offset)
	}
	return s.queryMappings(ctx, `SELECT `+mappingColumns+` FROM location_mappings
		WHERE location_type = ? AND is_matched = ? ORDER BY external_id LIMIT ? OFFSET ?`,
		locationType, false, limit, offset)
}

func (s *Store) queryMappings(ctx context.Context, q string, args ...any) ([]Mapping, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LevelCounts is the matched/unmatched split of one level.
type LevelCounts struct {
	Matched   int `json:"matched" yaml:"matched"`
	Unmatched int `json:"unmatched" yaml:"unmatched"`
}

// CountByLevel returns row counts per location type.
func (s *Store) CountByLevel(ctx context.Context) (map[string]LevelCounts, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT location_type, is_matched, COUNT(*)
		FROM location_mappings GROUP BY location_type, is_matched`)
	if err != nil {
		return nil, fmt.Errorf("count mappings: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]LevelCounts)
	for rows.Next() {
		var (
			level   string
			matched bool
			n       int
		)
		if err := rows.Scan(&level, &matched, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		c := counts[level]
		if matched {
			c.Matched += n
		} else {
			c.Unmatched += n
		}
		counts[level] = c
	}
	return counts, rows.Err()
}
