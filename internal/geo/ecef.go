package geo

import (
	"math"

	"github.com/lox/rainwatch/internal/models"
)

// WGS84 ellipsoid.
const (
	semiMajorAxis = 6378137.0
	flattening    = 1 / 298.257223563
	eccentricity2 = flattening * (2 - flattening)
)

// Vec3 is a position in the Earth-centred Earth-fixed frame, in metres.
type Vec3 struct {
	X, Y, Z float64
}

// Distance is the straight-line distance between two ECEF positions.
func (v Vec3) Distance(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// ToECEF converts a geodetic point to ECEF coordinates on the WGS84 ellipsoid.
func ToECEF(p models.GeoPoint) (Vec3, error) {
	if err := Validate(p); err != nil {
		return Vec3{}, err
	}

	lat := p.Lat * math.Pi / 180
	lon := p.Lon * math.Pi / 180
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	n := semiMajorAxis / math.Sqrt(1-eccentricity2*sinLat*sinLat)
	h := p.Elevation

	return Vec3{
		X: (n + h) * cosLat * cosLon,
		Y: (n + h) * cosLat * sinLon,
		Z: (n*(1-eccentricity2) + h) * sinLat,
	}, nil
}

// Validate checks that a point has finite, in-range coordinates.
func Validate(p models.GeoPoint) error {
	switch {
	case !finite(p.Lon):
		return &models.ValidationError{Field: "longitude", Value: p.Lon, Reason: "not finite"}
	case !finite(p.Lat):
		return &models.ValidationError{Field: "latitude", Value: p.Lat, Reason: "not finite"}
	case !finite(p.Elevation):
		return &models.ValidationError{Field: "elevation", Value: p.Elevation, Reason: "not finite"}
	case p.Lat < -90 || p.Lat > 90:
		return &models.ValidationError{Field: "latitude", Value: p.Lat, Reason: "out of range"}
	case p.Lon < -180 || p.Lon > 180:
		return &models.ValidationError{Field: "longitude", Value: p.Lon, Reason: "out of range"}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
