package driving

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/daeungkim/ta-dah/internal/db"
	"github.com/daeungkim/ta-dah/internal/geo"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store is the durable session storage the engine relies on. Create must
// reject a second active session per driver; AppendPoint and Deactivate must
// be atomic conditional updates guarded by the session version.
type Store interface {
	FindActive(ctx context.Context, driverID string) (*Session, error)
	Create(ctx context.Context, driverID string) (*Session, error)
	AppendPoint(ctx context.Context, sessionID string, p geo.Point, deactivate bool, version int64) error
	Deactivate(ctx context.Context, sessionID string, version int64) error
}

// PostgresStore keeps each session's path as a single linestring row.
// A partial unique index on (driver_id) WHERE active turns concurrent start
// races into a store-level conflict.
type PostgresStore struct {
	db   db.Querier
	srid int
}

func NewPostgresStore(querier db.Querier, srid int) *PostgresStore {
	return &PostgresStore{db: querier, srid: srid}
}

func (s *PostgresStore) FindActive(ctx context.Context, driverID string) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, driver_id, active, version, started_at, ST_AsGeoJSON(path)
		FROM driving_sessions
		WHERE driver_id = $1 AND active = TRUE
	`, driverID)

	var sess Session
	var pathJSON string
	if err := row.Scan(&sess.ID, &sess.DriverID, &sess.Active, &sess.Version, &sess.StartedAt, &pathJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	path, err := decodePath(pathJSON)
	if err != nil {
		return nil, err
	}
	sess.Path = path
	return &sess, nil
}

func (s *PostgresStore) Create(ctx context.Context, driverID string) (*Session, error) {
	sess := Session{
		ID:       uuid.NewString(),
		DriverID: driverID,
		Active:   true,
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO driving_sessions (id, driver_id, path, active, version)
		VALUES ($1, $2, ST_SetSRID('LINESTRING EMPTY'::geometry, $3), TRUE, 0)
		RETURNING started_at
	`, sess.ID, sess.DriverID, s.srid)
	if err := row.Scan(&sess.StartedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrSessionAlreadyActive
		}
		return nil, err
	}
	return &sess, nil
}

// AppendPoint extends the path with one matched point and, when deactivate is
// set, flips the session inactive in the same statement. A version mismatch
// leaves the row untouched.
func (s *PostgresStore) AppendPoint(ctx context.Context, sessionID string, p geo.Point, deactivate bool, version int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE driving_sessions
		SET path = ST_AddPoint(path, ST_SetSRID(ST_MakePoint($2,$3), $4)),
		    active = NOT $5::boolean,
		    ended_at = CASE WHEN $5::boolean THEN now() ELSE ended_at END,
		    version = version + 1
		WHERE id = $1 AND active = TRUE AND version = $6
	`, sessionID, p.X, p.Y, s.srid, deactivate, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.resolveConflict(ctx, sessionID)
	}
	return nil
}

func (s *PostgresStore) Deactivate(ctx context.Context, sessionID string, version int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE driving_sessions
		SET active = FALSE, ended_at = now(), version = version + 1
		WHERE id = $1 AND active = TRUE AND version = $2
	`, sessionID, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.resolveConflict(ctx, sessionID)
	}
	return nil
}

// resolveConflict distinguishes a stopped/missing session from a lost
// version race after a conditional update touched zero rows.
func (s *PostgresStore) resolveConflict(ctx context.Context, sessionID string) error {
	var active bool
	row := s.db.QueryRow(ctx, `SELECT active FROM driving_sessions WHERE id = $1`, sessionID)
	if err := row.Scan(&active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionNotActive
		}
		return err
	}
	if !active {
		return ErrSessionNotActive
	}
	return ErrStaleSession
}

func decodePath(s string) ([]geo.Point, error) {
	if s == "" {
		return nil, nil
	}
	var line struct {
		Coordinates [][]float64 `json:"coordinates"`
	}
	if err := json.Unmarshal([]byte(s), &line); err != nil {
		return nil, fmt.Errorf("driving: decode path: %w", err)
	}
	points := make([]geo.Point, 0, len(line.Coordinates))
	for _, c := range line.Coordinates {
		if len(c) < 2 {
			continue
		}
		points = append(points, geo.Point{X: c[0], Y: c[1]})
	}
	return points, nil
}
