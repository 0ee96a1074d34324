package driving

import (
	"time"

	"github.com/daeungkim/ta-dah/internal/geo"
)

// Session is one continuous driving interval for one driver. Path holds the
// accumulated map-matched trajectory in the planar frame, append-only while
// Active. Version is the optimistic-concurrency token for path mutations.
type Session struct {
	ID        string      `json:"id"`
	DriverID  string      `json:"driver_id"`
	Path      []geo.Point `json:"path"`
	Active    bool        `json:"active"`
	Version   int64       `json:"-"`
	StartedAt time.Time   `json:"started_at"`
}

// pointEvent is the payload broadcast to stream watchers after each append.
type pointEvent struct {
	SessionID string  `json:"session_id"`
	DriverID  string  `json:"driver_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}
