package projection

import (
	"math"

	"github.com/wroge/wgs84"
)

const (
	utmScale         = 0.9996
	utmFalseEasting  = 500000.0
	utmFalseNorthing = 10000000.0
	deg              = math.Pi / 180
)

// newRegistry returns the wgs84 EPSG registry with its UTM systems
// switched to Krüger's series. Datum, area of use and the remaining codes
// stay as the registry defines them.
func newRegistry() *wgs84.Repository {
	r := wgs84.EPSG()
	for zone := 1; zone <= 60; zone++ {
		r.Add(32600+zone, withKruger(wgs84.UTM(float64(zone), true), zone, false))
		r.Add(32700+zone, withKruger(wgs84.UTM(float64(zone), false), zone, true))
	}
	for zone := 28; zone <= 38; zone++ {
		r.Add(25800+zone, withKruger(wgs84.ETRS89UTM(float64(zone)), zone, false))
	}
	return r
}

func withKruger(crs wgs84.ProjectedReferenceSystem, zone int, south bool) wgs84.ProjectedReferenceSystem {
	tm := transverseMercator{
		lon0:   float64(zone*6 - 183),
		k0:     utmScale,
		falseE: utmFalseEasting,
	}
	if south {
		tm.falseN = utmFalseNorthing
	}
	crs.Projection = tm
	return crs
}

// transverseMercator implements wgs84.Projection with Krüger's series to
// fourth order in n, accurate to well under a millimetre within a zone.
type transverseMercator struct {
	lon0   float64 // central meridian, degrees
	k0     float64
	falseE float64
	falseN float64
}

type krugerSeries struct {
	n     float64
	rectA float64
	alpha [4]float64
	beta  [4]float64
	delta [4]float64
}

func seriesFor(s wgs84.Spheroid) krugerSeries {
	f := 1 / s.Fi()
	n := f / (2 - f)
	n2, n3, n4 := n*n, n*n*n, n*n*n*n
	return krugerSeries{
		n:     n,
		rectA: s.A() / (1 + n) * (1 + n2/4 + n4/64),
		alpha: [4]float64{
			n/2 - 2*n2/3 + 5*n3/16 + 41*n4/180,
			13*n2/48 - 3*n3/5 + 557*n4/1440,
			61*n3/240 - 103*n4/140,
			49561 * n4 / 161280,
		},
		beta: [4]float64{
			n/2 - 2*n2/3 + 37*n3/96 - n4/360,
			n2/48 + n3/15 - 437*n4/1440,
			17*n3/480 - 37*n4/840,
			4397 * n4 / 161280,
		},
		delta: [4]float64{
			2*n - 2*n2/3 - 2*n3 + 116*n4/45,
			7*n2/3 - 8*n3/5 - 227*n4/45,
			56*n3/15 - 136*n4/35,
			4279 * n4 / 630,
		},
	}
}

func (p transverseMercator) ToLonLat(east, north float64, s wgs84.Spheroid) (lon, lat float64) {
	k := seriesFor(s)
	xi := (north - p.falseN) / (p.k0 * k.rectA)
	eta := (east - p.falseE) / (p.k0 * k.rectA)

	xiP, etaP := xi, eta
	for j := 1; j <= 4; j++ {
		b := k.beta[j-1]
		xiP -= b * math.Sin(2*float64(j)*xi) * math.Cosh(2*float64(j)*eta)
		etaP -= b * math.Cos(2*float64(j)*xi) * math.Sinh(2*float64(j)*eta)
	}

	chi := math.Asin(math.Sin(xiP) / math.Cosh(etaP))
	phi := chi
	for j := 1; j <= 4; j++ {
		phi += k.delta[j-1] * math.Sin(2*float64(j)*chi)
	}
	lambda := p.lon0*deg + math.Atan2(math.Sinh(etaP), math.Cos(xiP))
	return lambda / deg, phi / deg
}

func (p transverseMercator) FromLonLat(lon, lat float64, s wgs84.Spheroid) (east, north float64) {
	k := seriesFor(s)
	twoRtN := 2 * math.Sqrt(k.n) / (1 + k.n)

	sinPhi := math.Sin(lat * deg)
	dLon := (lon - p.lon0) * deg
	t := math.Sinh(math.Atanh(sinPhi) - twoRtN*math.Atanh(twoRtN*sinPhi))
	xiP := math.Atan2(t, math.Cos(dLon))
	etaP := math.Atanh(math.Sin(dLon) / math.Sqrt(1+t*t))

	xi, eta := xiP, etaP
	for j := 1; j <= 4; j++ {
		a := k.alpha[j-1]
		xi += a * math.Sin(2*float64(j)*xiP) * math.Cosh(2*float64(j)*etaP)
		eta += a * math.Cos(2*float64(j)*xiP) * math.Sinh(2*float64(j)*etaP)
	}
	return p.falseE + p.k0*k.rectA*eta, p.falseN + p.k0*k.rectA*xi
}
