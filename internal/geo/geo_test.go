package geo

import (
	"errors"
	"math"
	"testing"
)

func newTestTransformer(t *testing.T) *Transformer {
	t.Helper()
	tr, err := NewTransformer(4326, 3857)
	if err != nil {
		t.Fatalf("transformer: %v", err)
	}
	return tr
}

func TestNewTransformerUnknownCode(t *testing.T) {
	if _, err := NewTransformer(4326, 999999); !errors.Is(err, ErrProjectionSetup) {
		t.Fatalf("expected setup error, got %v", err)
	}
	if _, err := NewTransformer(999999, 3857); !errors.Is(err, ErrProjectionSetup) {
		t.Fatalf("expected setup error, got %v", err)
	}
}

func TestTransformDeterministic(t *testing.T) {
	tr := newTestTransformer(t)

	// Seoul city hall
	a, err := tr.Transform(37.5665, 126.9780)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	b, err := tr.Transform(37.5665, 126.9780)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if a != b {
		t.Fatalf("expected identical output, got %v and %v", a, b)
	}
	if a.X == 0 && a.Y == 0 {
		t.Fatalf("expected projected coordinates, got origin")
	}
}

func TestTransformInvalidInput(t *testing.T) {
	tr := newTestTransformer(t)

	cases := []struct {
		name     string
		lat, lon float64
	}{
		{"nan latitude", math.NaN(), 127.0},
		{"nan longitude", 37.5, math.NaN()},
		{"latitude too high", 90.5, 127.0},
		{"latitude too low", -91.0, 127.0},
		{"longitude too high", 37.5, 180.5},
		{"longitude too low", 37.5, -181.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tr.Transform(tc.lat, tc.lon); !errors.Is(err, ErrProjection) {
				t.Fatalf("expected projection error, got %v", err)
			}
		})
	}
}

func TestInverseRoundTrip(t *testing.T) {
	tr := newTestTransformer(t)

	p, err := tr.Transform(37.5665, 126.9780)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	lat, lon, err := tr.Inverse(p)
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	if math.Abs(lat-37.5665) > 1e-6 || math.Abs(lon-126.9780) > 1e-6 {
		t.Fatalf("round trip drifted: (%v, %v)", lat, lon)
	}
}

func TestTargetEPSG(t *testing.T) {
	tr := newTestTransformer(t)
	if tr.TargetEPSG() != 3857 {
		t.Fatalf("unexpected target epsg: %d", tr.TargetEPSG())
	}
}
