package derived

import (
	"math"
	"strconv"
	"strings"

	"github.com/fieldcache/fieldcache/pkg/errors"
)

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
	// EarthRadius is the default sphere radius in metres.
	EarthRadius = 6378137.0
)

// Projection maps geographic coordinates in degrees to planar
// coordinates in metres.
type Projection interface {
	Forward(lon, lat float64) (x, y float64)
	Inverse(x, y float64) (lon, lat float64)
	// Cylindrical projections map meridians and parallels to straight
	// orthogonal lines, so 1D lon/lat axes stay 1D.
	Cylindrical() bool
	String() string
}

type projParams struct {
	def               string
	lon0, lat0        float64
	lat1, lat2, latTS float64
	hasLat1, hasLat2  bool
	hasLatTS          bool
	r, k0, x0, y0     float64
}

// ParseProjection parses a proj4-style definition such as
// "+proj=lcc +lat_1=33 +lat_2=45 +lon_0=-97". Supported projections are
// latlong, eqc, merc, lcc and stere, all on a sphere.
func ParseProjection(def string) (Projection, error) {
	p := projParams{def: strings.TrimSpace(def), r: EarthRadius, k0: 1}
	var name string
	for _, tok := range strings.Fields(def) {
		key, val, _ := strings.Cut(strings.TrimPrefix(tok, "+"), "=")
		if key == "proj" {
			name = val
			continue
		}
		var dst *float64
		switch key {
		case "lon_0":
			dst = &p.lon0
		case "lat_0":
			dst = &p.lat0
		case "lat_1":
			dst, p.hasLat1 = &p.lat1, true
		case "lat_2":
			dst, p.hasLat2 = &p.lat2, true
		case "lat_ts":
			dst, p.hasLatTS = &p.latTS, true
		case "R", "a":
			dst = &p.r
		case "k_0", "k":
			dst = &p.k0
		case "x_0":
			dst = &p.x0
		case "y_0":
			dst = &p.y0
		default:
			continue
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, errors.Newf(errors.ErrCodeInvalidArgument, "projection parameter %s=%q", key, val).WithCause(err)
		}
		*dst = f
	}

	switch name {
	case "latlong", "longlat", "lonlat", "latlon":
		return latLong{p}, nil
	case "eqc":
		return eqc{p}, nil
	case "merc":
		return merc{p}, nil
	case "lcc":
		return newLCC(p)
	case "stere", "ups":
		return newStere(p), nil
	case "":
		return nil, errors.Newf(errors.ErrCodeInvalidArgument, "projection %q has no +proj", def)
	}
	return nil, errors.Newf(errors.ErrCodeInvalidArgument, "unsupported projection %q", name)
}

func (p projParams) String() string { return p.def }

// wrapLon brings a longitude difference into [-180, 180).
func wrapLon(d float64) float64 {
	d = math.Mod(d+180, 360)
	if d < 0 {
		d += 360
	}
	return d - 180
}

type latLong struct{ projParams }

func (latLong) Forward(lon, lat float64) (float64, float64) { return lon, lat }
func (latLong) Inverse(x, y float64) (float64, float64)     { return x, y }
func (latLong) Cylindrical() bool                           { return true }

type eqc struct{ projParams }

func (p eqc) Forward(lon, lat float64) (float64, float64) {
	x := p.r * wrapLon(lon-p.lon0) * deg2rad * math.Cos(p.latTS*deg2rad)
	y := p.r * (lat - p.lat0) * deg2rad
	return x + p.x0, y + p.y0
}

func (p eqc) Inverse(x, y float64) (float64, float64) {
	lon := (x-p.x0)/(p.r*math.Cos(p.latTS*deg2rad))*rad2deg + p.lon0
	lat := (y-p.y0)/p.r*rad2deg + p.lat0
	return lon, lat
}

func (eqc) Cylindrical() bool { return true }

type merc struct{ projParams }

func (p merc) k() float64 {
	if p.hasLatTS {
		return math.Cos(p.latTS * deg2rad)
	}
	return p.k0
}

func (p merc) Forward(lon, lat float64) (float64, float64) {
	rk := p.r * p.k()
	x := rk * wrapLon(lon-p.lon0) * deg2rad
	y := rk * math.Log(math.Tan(math.Pi/4+lat*deg2rad/2))
	return x + p.x0, y + p.y0
}

func (p merc) Inverse(x, y float64) (float64, float64) {
	rk := p.r * p.k()
	lon := (x-p.x0)/rk*rad2deg + p.lon0
	lat := (2*math.Atan(math.Exp((y-p.y0)/rk)) - math.Pi/2) * rad2deg
	return lon, lat
}

func (merc) Cylindrical() bool { return true }

type lcc struct {
	projParams
	n, f, rho0 float64
}

func newLCC(p projParams) (Projection, error) {
	if !p.hasLat1 {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "lcc needs +lat_1")
	}
	if !p.hasLat2 {
		p.lat2 = p.lat1
	}
	phi1, phi2 := p.lat1*deg2rad, p.lat2*deg2rad
	t := func(phi float64) float64 { return math.Tan(math.Pi/4 + phi/2) }

	var n float64
	if math.Abs(phi1-phi2) < 1e-12 {
		n = math.Sin(phi1)
	} else {
		n = math.Log(math.Cos(phi1)/math.Cos(phi2)) / math.Log(t(phi2)/t(phi1))
	}
	if math.Abs(n) < 1e-12 {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument, "lcc standard parallels %g, %g give a degenerate cone", p.lat1, p.lat2)
	}
	f := math.Cos(phi1) * math.Pow(t(phi1), n) / n
	l := &lcc{projParams: p, n: n, f: f}
	l.rho0 = l.rho(p.lat0 * deg2rad)
	return l, nil
}

func (p *lcc) rho(phi float64) float64 {
	return p.r * p.k0 * p.f / math.Pow(math.Tan(math.Pi/4+phi/2), p.n)
}

func (p *lcc) Forward(lon, lat float64) (float64, float64) {
	rho := p.rho(lat * deg2rad)
	theta := p.n * wrapLon(lon-p.lon0) * deg2rad
	return rho*math.Sin(theta) + p.x0, p.rho0 - rho*math.Cos(theta) + p.y0
}

func (p *lcc) Inverse(x, y float64) (float64, float64) {
	x, y = x-p.x0, p.rho0-(y-p.y0)
	sign := 1.0
	if p.n < 0 {
		sign = -1
	}
	rho := sign * math.Hypot(x, y)
	theta := math.Atan2(sign*x, sign*y)
	lat := 2*math.Atan(math.Pow(p.r*p.k0*p.f/rho, 1/p.n)) - math.Pi/2
	return theta/p.n*rad2deg + p.lon0, lat * rad2deg
}

func (*lcc) Cylindrical() bool { return false }

// stere is the oblique stereographic projection on a sphere. Polar
// aspects take the scale factor from +lat_ts when it is given.
type stere struct {
	projParams
	sinLat0, cosLat0 float64
	k                float64
}

func newStere(p projParams) Projection {
	s := &stere{projParams: p, k: p.k0}
	s.sinLat0, s.cosLat0 = math.Sincos(p.lat0 * deg2rad)
	if p.hasLatTS && math.Abs(math.Abs(p.lat0)-90) < 1e-9 {
		s.k = (1 + math.Sin(math.Abs(p.latTS)*deg2rad)) / 2
	}
	return s
}

func (p *stere) Forward(lon, lat float64) (float64, float64) {
	sinPhi, cosPhi := math.Sincos(lat * deg2rad)
	sinDl, cosDl := math.Sincos(wrapLon(lon-p.lon0) * deg2rad)
	k := 2 * p.r * p.k / (1 + p.sinLat0*sinPhi + p.cosLat0*cosPhi*cosDl)
	x := k * cosPhi * sinDl
	y := k * (p.cosLat0*sinPhi - p.sinLat0*cosPhi*cosDl)
	return x + p.x0, y + p.y0
}

func (p *stere) Inverse(x, y float64) (float64, float64) {
	x, y = x-p.x0, y-p.y0
	rho := math.Hypot(x, y)
	if rho == 0 {
		return p.lon0, p.lat0
	}
	c := 2 * math.Atan(rho/(2*p.r*p.k))
	sinC, cosC := math.Sincos(c)
	lat := math.Asin(cosC*p.sinLat0 + y*sinC*p.cosLat0/rho)
	lon := math.Atan2(x*sinC, rho*p.cosLat0*cosC-y*p.sinLat0*sinC)
	return lon*rad2deg + p.lon0, lat * rad2deg
}

func (*stere) Cylindrical() bool { return false }
