package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/daeungkim/ta-dah/internal/db"
	"github.com/daeungkim/ta-dah/internal/geo"

	"github.com/jackc/pgx/v5"
)

// ErrNoMatch means no road feature lies within the configured tolerance of
// the given point. The engine treats it as a hard error for that single fix.
var ErrNoMatch = errors.New("matching: no road feature within tolerance")

// Matcher snaps a planar point onto the most plausible road-network position.
// Deterministic for a fixed road-network snapshot.
type Matcher interface {
	Match(ctx context.Context, p geo.Point) (geo.Point, error)
}

// RoadMatcher matches against a road_segments table using the database's
// nearest-neighbour index.
type RoadMatcher struct {
	db         db.Querier
	srid       int
	toleranceM float64
}

func NewRoadMatcher(querier db.Querier, srid int, toleranceM float64) *RoadMatcher {
	return &RoadMatcher{db: querier, srid: srid, toleranceM: toleranceM}
}

func (m *RoadMatcher) Match(ctx context.Context, p geo.Point) (geo.Point, error) {
	row := m.db.QueryRow(ctx, `
		SELECT ST_X(matched), ST_Y(matched)
		FROM (
			SELECT ST_ClosestPoint(geom, ST_SetSRID(ST_MakePoint($1,$2), $3)) AS matched
			FROM road_segments
			WHERE ST_DWithin(geom, ST_SetSRID(ST_MakePoint($1,$2), $3), $4)
			ORDER BY geom <-> ST_SetSRID(ST_MakePoint($1,$2), $3)
			LIMIT 1
		) candidate
	`, p.X, p.Y, m.srid, m.toleranceM)

	var matched geo.Point
	if err := row.Scan(&matched.X, &matched.Y); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return geo.Point{}, fmt.Errorf("%w: (%v, %v)", ErrNoMatch, p.X, p.Y)
		}
		return geo.Point{}, err
	}
	return matched, nil
}
