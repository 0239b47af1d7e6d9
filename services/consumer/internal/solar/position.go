// Package solar answers "is the sun up at this GSP": a solar position
// calculator and the GSP latitude/longitude table.
package solar

import (
	"math"
	"time"
)

// PositionProvider returns solar elevation, in degrees, at each time for a point.
type PositionProvider interface {
	Elevation(times []time.Time, latitude, longitude float64) []float64
}

// NOAA implements PositionProvider with the NOAA solar position equations.
// Elevations include the NOAA atmospheric refraction correction, so they are
// apparent elevations.
type NOAA struct{}

// Elevation implements PositionProvider.
func (NOAA) Elevation(times []time.Time, latitude, longitude float64) []float64 {
	out := make([]float64, len(times))
	for i, t := range times {
		out[i] = apparentElevation(t, latitude, longitude)
	}
	return out
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }

// julianDay converts t to a Julian day including the fraction of the day.
// Julian day 2440587.5 is the unix epoch.
func julianDay(t time.Time) float64 {
	return float64(t.UnixNano())/float64(24*time.Hour) + 2440587.5
}

func apparentElevation(t time.Time, latitude, longitude float64) float64 {
	t = t.UTC()
	jc := (julianDay(t) - 2451545.0) / 36525.0

	// Geometric mean longitude and anomaly of the sun (degrees)
	l0 := math.Mod(280.46646+jc*(36000.76983+0.0003032*jc), 360)
	m := 357.52911 + jc*(35999.05029-0.0001537*jc)
	mRad := deg2rad(m)

	// Eccentricity of Earth's orbit
	e := 0.016708634 - jc*(0.000042037+0.0000001267*jc)

	// Equation of center
	c := math.Sin(mRad)*(1.914602-jc*(0.004817+0.000014*jc)) +
		math.Sin(2*mRad)*(0.019993-0.000101*jc) +
		math.Sin(3*mRad)*0.000289

	omega := 125.04 - 1934.136*jc
	appLon := l0 + c - 0.00569 - 0.00478*math.Sin(deg2rad(omega))

	obliq := 23 + (26+(21.448-jc*(46.815+jc*(0.00059-jc*0.001813)))/60)/60
	obliqCorr := obliq + 0.00256*math.Cos(deg2rad(omega))

	declination := math.Asin(math.Sin(deg2rad(obliqCorr)) * math.Sin(deg2rad(appLon)))

	// Equation of time (minutes)
	y := math.Tan(deg2rad(obliqCorr / 2))
	y *= y
	l0Rad := deg2rad(l0)
	eqTime := 4 * rad2deg(y*math.Sin(2*l0Rad)-
		2*e*math.Sin(mRad)+
		4*e*y*math.Sin(mRad)*math.Cos(2*l0Rad)-
		0.5*y*y*math.Sin(4*l0Rad)-
		1.25*e*e*math.Sin(2*mRad))

	minutes := float64(t.Hour()*60+t.Minute()) + float64(t.Second())/60 + float64(t.Nanosecond())/6e10
	trueSolar := math.Mod(minutes+eqTime+4*longitude, 1440)
	if trueSolar < 0 {
		trueSolar += 1440
	}
	hourAngle := trueSolar/4 - 180

	latRad := deg2rad(latitude)
	cosZenith := math.Sin(latRad)*math.Sin(declination) +
		math.Cos(latRad)*math.Cos(declination)*math.Cos(deg2rad(hourAngle))
	cosZenith = math.Max(-1, math.Min(1, cosZenith))

	elevation := 90 - rad2deg(math.Acos(cosZenith))
	return elevation + refraction(elevation)
}

// refraction returns the atmospheric refraction correction in degrees.
func refraction(elevation float64) float64 {
	var arcsec float64
	switch {
	case elevation > 85:
		return 0
	case elevation > 5:
		te := math.Tan(deg2rad(elevation))
		arcsec = 58.1/te - 0.07/math.Pow(te, 3) + 0.000086/math.Pow(te, 5)
	case elevation > -0.575:
		arcsec = 1735 + elevation*(-518.2+elevation*(103.4+elevation*(-12.79+elevation*0.711)))
	default:
		arcsec = -20.772 / math.Tan(deg2rad(elevation))
	}
	return arcsec / 3600
}
