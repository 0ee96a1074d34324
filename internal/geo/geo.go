package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/wroge/wgs84"
)

var (
	// ErrProjectionSetup means the configured reference systems are unknown
	// or incompatible. Raised once, at construction.
	ErrProjectionSetup = errors.New("geo: invalid reference system configuration")

	// ErrProjection means a single fix could not be reprojected.
	ErrProjection = errors.New("geo: coordinates outside projection domain")
)

// Point is a coordinate in the planar target frame.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Fix is one raw geographic location reading.
type Fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Transformer reprojects geographic fixes into a planar frame and back.
// The transform functions are resolved once at construction; building them is
// the expensive part and must not happen per call.
type Transformer struct {
	sourceEPSG int
	targetEPSG int
	forward    wgs84.SafeFunc
	inverse    wgs84.SafeFunc
}

func NewTransformer(sourceEPSG, targetEPSG int) (*Transformer, error) {
	epsg := wgs84.EPSG()
	if epsg.Code(sourceEPSG) == nil {
		return nil, fmt.Errorf("%w: unknown source epsg %d", ErrProjectionSetup, sourceEPSG)
	}
	if epsg.Code(targetEPSG) == nil {
		return nil, fmt.Errorf("%w: unknown target epsg %d", ErrProjectionSetup, targetEPSG)
	}

	return &Transformer{
		sourceEPSG: sourceEPSG,
		targetEPSG: targetEPSG,
		forward:    epsg.SafeTransform(sourceEPSG, targetEPSG),
		inverse:    epsg.SafeTransform(targetEPSG, sourceEPSG),
	}, nil
}

// Transform reprojects one geographic fix into the planar target frame.
func (t *Transformer) Transform(latitude, longitude float64) (Point, error) {
	if err := validateFix(latitude, longitude); err != nil {
		return Point{}, err
	}

	// wgs84 orders geographic coordinates as (lon, lat).
	x, y, _, err := t.forward(longitude, latitude, 0)
	if err != nil {
		return Point{}, fmt.Errorf("%w: %v", ErrProjection, err)
	}
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return Point{}, fmt.Errorf("%w: projection did not converge for (%v, %v)", ErrProjection, latitude, longitude)
	}
	return Point{X: x, Y: y}, nil
}

// Inverse converts a planar point back to geographic latitude/longitude.
func (t *Transformer) Inverse(p Point) (latitude, longitude float64, err error) {
	lon, lat, _, err := t.inverse(p.X, p.Y, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrProjection, err)
	}
	return lat, lon, nil
}

// TargetEPSG reports the planar frame's EPSG code, used as the SRID for
// geometry stored alongside sessions.
func (t *Transformer) TargetEPSG() int {
	return t.targetEPSG
}

func validateFix(latitude, longitude float64) error {
	if math.IsNaN(latitude) || math.IsNaN(longitude) {
		return fmt.Errorf("%w: NaN coordinate", ErrProjection)
	}
	if latitude < -90 || latitude > 90 {
		return fmt.Errorf("%w: latitude %v", ErrProjection, latitude)
	}
	if longitude < -180 || longitude > 180 {
		return fmt.Errorf("%w: longitude %v", ErrProjection, longitude)
	}
	return nil
}
