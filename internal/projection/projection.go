// Package projection converts projected trajectory coordinates into
// geodetic latitude, longitude and altitude for geotagging.
package projection

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wroge/wgs84"
)

var (
	// ErrUnsupportedCRS is returned by ForCRS for codes it cannot handle.
	ErrUnsupportedCRS = errors.New("projection: unsupported CRS")
	// ErrOutOfBounds is returned for coordinates outside a CRS's area of use.
	ErrOutOfBounds = wgs84.ErrOutOfBounds
)

// geocentric is the one EPSG code in the registry that has no
// easting/northing axes.
const geocentric = 4978

// A converted point must map back onto its input within this distance, in
// CRS units. Inverse series wrap around far outside a zone; this catches it.
const roundTripTolerance = 1.0

var registry = newRegistry()

// Geodetic is a WGS84 position in decimal degrees and metres.
type Geodetic struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

// Projector maps coordinates of one CRS to and from geodetic form.
type Projector interface {
	CRS() string
	Inverse(easting, northing, height float64) (Geodetic, error)
	Forward(g Geodetic) (easting, northing, height float64, err error)
}

// ForCRS returns a Projector for an "EPSG:<code>" label. Supported are
// EPSG:4326 (easting is longitude, northing is latitude), WGS84 UTM
// (326zz north, 327zz south), ETRS89 UTM (258zz) and the other projected
// systems of the wgs84 registry. Coordinates outside a system's area of
// use fail with ErrOutOfBounds.
func ForCRS(label string) (Projector, error) {
	code, err := parseEPSG(label)
	if err != nil {
		return nil, err
	}
	crs := registry.Code(code)
	if crs == nil || code == geocentric {
		return nil, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedCRS, code)
	}
	geo := wgs84.LonLat()
	return &projector{
		label:   fmt.Sprintf("EPSG:%d", code),
		toGeo:   wgs84.SafeTransform(crs, geo),
		fromGeo: wgs84.SafeTransform(geo, crs),
	}, nil
}

func parseEPSG(label string) (int, error) {
	s := strings.TrimSpace(strings.ToUpper(label))
	s = strings.TrimPrefix(s, "EPSG:")
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an EPSG code", ErrUnsupportedCRS, label)
	}
	return code, nil
}

type projector struct {
	label   string
	toGeo   wgs84.SafeFunc
	fromGeo wgs84.SafeFunc
}

func (p *projector) CRS() string { return p.label }

func (p *projector) Inverse(easting, northing, height float64) (Geodetic, error) {
	lon, lat, alt, err := p.toGeo(easting, northing, height)
	if err == nil {
		var e, n float64
		e, n, _, err = p.fromGeo(lon, lat, alt)
		if err == nil && !(math.Abs(e-easting) <= roundTripTolerance && math.Abs(n-northing) <= roundTripTolerance) {
			err = ErrOutOfBounds
		}
	}
	if err != nil {
		return Geodetic{}, fmt.Errorf("projection: %s (%v, %v): %w", p.label, easting, northing, err)
	}
	return Geodetic{Lat: lat, Lon: lon, Alt: alt}, nil
}

func (p *projector) Forward(g Geodetic) (float64, float64, float64, error) {
	e, n, h, err := p.fromGeo(g.Lon, g.Lat, g.Alt)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("projection: %s (lat %v, lon %v): %w", p.label, g.Lat, g.Lon, err)
	}
	return e, n, h, nil
}
