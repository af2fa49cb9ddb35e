// Package geo converts geodetic reference points into the local
// north-east-down frame the estimator works in.
package geo

import (
	"fmt"
	"math"

	"github.com/wroge/wgs84"
)

// Origin anchors the local frame. Altitude is metres above the ellipsoid.
type Origin struct {
	LatDeg float64
	LonDeg float64
	AltM   float64
}

// Frame projects geodetic coordinates onto a transverse Mercator plane
// centred on the origin (unit scale, zero false easting/northing), which
// keeps horizontal distortion negligible over a few tens of kilometres.
type Frame struct {
	origin Origin
	fwd    func(a, b, c float64) (float64, float64, float64)
	inv    func(a, b, c float64) (float64, float64, float64)
}

func NewFrame(o Origin) (*Frame, error) {
	if math.IsNaN(o.LatDeg) || o.LatDeg < -90 || o.LatDeg > 90 {
		return nil, fmt.Errorf("geo: origin latitude %v out of range", o.LatDeg)
	}
	if math.IsNaN(o.LonDeg) || o.LonDeg < -180 || o.LonDeg > 180 {
		return nil, fmt.Errorf("geo: origin longitude %v out of range", o.LonDeg)
	}
	if math.IsNaN(o.AltM) || math.IsInf(o.AltM, 0) {
		return nil, fmt.Errorf("geo: origin altitude %v is not finite", o.AltM)
	}

	datum := wgs84.WGS84()
	lonLat := datum.LonLat()
	tm := datum.TransverseMercator(o.LonDeg, o.LatDeg, 1, 0, 0)
	return &Frame{
		origin: o,
		fwd:    wgs84.Transform(lonLat, tm),
		inv:    wgs84.Transform(tm, lonLat),
	}, nil
}

func (f *Frame) Origin() Origin { return f.origin }

// ToNED returns the local [north, east, down] position of a geodetic point.
func (f *Frame) ToNED(latDeg, lonDeg, altM float64) [3]float64 {
	east, north, _ := f.fwd(lonDeg, latDeg, 0)
	return [3]float64{north, east, f.origin.AltM - altM}
}

// FromNED is the inverse of ToNED.
func (f *Frame) FromNED(ned [3]float64) (latDeg, lonDeg, altM float64) {
	lon, lat, _ := f.inv(ned[1], ned[0], 0)
	return lat, lon, f.origin.AltM - ned[2]
}

// Point is a named geodetic reference point (a beacon or surveyed antenna).
type Point struct {
	Name   string
	LatDeg float64
	LonDeg float64
	AltM   float64
}

// Locations returns the NED positions of points as rows, in order.
func (f *Frame) Locations(points []Point) [][3]float64 {
	out := make([][3]float64, 0, len(points))
	for _, p := range points {
		out = append(out, f.ToNED(p.LatDeg, p.LonDeg, p.AltM))
	}
	return out
}
