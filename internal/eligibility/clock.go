package eligibility

import (
	"time"

	"tasknext-backend/internal/model"
)

// The day splits into four fixed local-time bands.
//
//	morning   [06:00, 12:00)
//	afternoon [12:00, 18:00)
//	evening   [18:00, 22:00)
//	night     [22:00, 06:00)
func BucketOf(t time.Time) model.DayBucket {
	switch h := t.Hour(); {
	case h >= 6 && h < 12:
		return model.BucketMorning
	case h >= 12 && h < 18:
		return model.BucketAfternoon
	case h >= 18 && h < 22:
		return model.BucketEvening
	default:
		return model.BucketNight
	}
}

// withinBusinessHours reports whether t falls on a weekday inside the
// [open, close) hour band.
func withinBusinessHours(t time.Time, openHour, closeHour int) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	h := t.Hour()
	return h >= openHour && h < closeHour
}
