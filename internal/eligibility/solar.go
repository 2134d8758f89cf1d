package eligibility

import (
	"math"
	"time"
)

// SolarWindow computes the dawn/dusk interval for a date and coordinates.
// Package-level variable so the exact solar model stays pluggable.
var SolarWindow = approximateSolarWindow

const civilTwilight = 30 * time.Minute

// approximateSolarWindow uses the standard sunrise equation with a fixed
// declination model and no equation-of-time correction; good to a few minutes,
// which is plenty for a half-hour twilight margin. ok is false during polar
// day or polar night.
func approximateSolarWindow(date time.Time, lat, lon float64) (dawn, dusk time.Time, ok bool) {
	rad := math.Pi / 180

	n := float64(date.YearDay())
	decl := -23.44 * math.Cos(2*math.Pi/365*(n+10)) // degrees

	cosH := -math.Tan(lat*rad) * math.Tan(decl*rad)
	if cosH < -1 || cosH > 1 {
		return time.Time{}, time.Time{}, false
	}
	hourAngle := math.Acos(cosH) / rad // degrees from solar noon

	noonUTC := 12 - lon/15 // hours
	sunrise := noonUTC - hourAngle/15
	sunset := noonUTC + hourAngle/15

	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dawn = midnight.Add(time.Duration(sunrise*float64(time.Hour))).Add(-civilTwilight)
	dusk = midnight.Add(time.Duration(sunset*float64(time.Hour))).Add(civilTwilight)
	return dawn, dusk, true
}
