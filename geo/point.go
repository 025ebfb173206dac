// Package geo provides great-circle distances and a point quad-tree used to
// answer radius queries over issue locations.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadius in metres matches Postgres earthdistance's earth(), so both
// stores agree on which issues fall inside a radius.
const EarthRadius = 6378168.0

var ErrInvalidPoint = errors.New("geo: invalid point")

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lon float64
	Lat float64
}

// Validate rejects non-finite or out-of-range coordinates.
func (p Point) Validate() error {
	if math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidPoint, p.Lon)
	}
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidPoint, p.Lat)
	}
	return nil
}

// Distance returns the haversine distance between a and b in metres.
func Distance(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLon := radians(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	return 2 * EarthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// rect is an axis-aligned box in degrees; bounds are inclusive.
type rect struct {
	minLon, minLat float64
	maxLon, maxLat float64
}

var world = rect{minLon: -180, minLat: -90, maxLon: 180, maxLat: 90}

func (r rect) contains(p Point) bool {
	return p.Lon >= r.minLon && p.Lon <= r.maxLon && p.Lat >= r.minLat && p.Lat <= r.maxLat
}

func (r rect) intersects(o rect) bool {
	return r.minLon <= o.maxLon && o.minLon <= r.maxLon && r.minLat <= o.maxLat && o.minLat <= r.maxLat
}

// boundingBoxes returns the degree boxes covering every point within radius
// metres of center. A box crossing the antimeridian is split in two.
func boundingBoxes(center Point, radius float64) []rect {
	angular := radius / EarthRadius
	dLat := degrees(angular)
	minLat := center.Lat - dLat
	maxLat := center.Lat + dLat

	if minLat <= -90 || maxLat >= 90 || angular >= math.Pi/2 {
		return []rect{{minLon: -180, minLat: math.Max(minLat, -90), maxLon: 180, maxLat: math.Min(maxLat, 90)}}
	}

	ratio := math.Sin(angular) / math.Cos(radians(center.Lat))
	if ratio >= 1 {
		return []rect{{minLon: -180, minLat: minLat, maxLon: 180, maxLat: maxLat}}
	}
	dLon := degrees(math.Asin(ratio))
	minLon := center.Lon - dLon
	maxLon := center.Lon + dLon

	switch {
	case minLon < -180:
		return []rect{
			{minLon: -180, minLat: minLat, maxLon: maxLon, maxLat: maxLat},
			{minLon: minLon + 360, minLat: minLat, maxLon: 180, maxLat: maxLat},
		}
	case maxLon > 180:
		return []rect{
			{minLon: minLon, minLat: minLat, maxLon: 180, maxLat: maxLat},
			{minLon: -180, minLat: minLat, maxLon: maxLon - 360, maxLat: maxLat},
		}
	default:
		return []rect{{minLon: minLon, minLat: minLat, maxLon: maxLon, maxLat: maxLat}}
	}
}
