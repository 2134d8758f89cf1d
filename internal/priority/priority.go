// Package priority recomputes a task's dynamic priority from its base
// priority, deadline and the current time. Pure, total, no side effects.
package priority

import "time"

const day = 24 * time.Hour

// Compute returns the calculated priority in [0,100].
//
// No deadline keeps the base. Overdue is always 100. Inside the final day the
// multiplier ramps the base up linearly; within the final week a half-strength
// ramp applies; beyond seven days the deadline has no effect.
func Compute(base int, deadline *time.Time, multiplier float64, now time.Time) int {
	base = clamp(base)
	if multiplier < 0 {
		multiplier = 0
	}
	if deadline == nil {
		return base
	}

	daysLeft := float64(deadline.Sub(now)) / float64(day)

	var factor float64
	switch {
	case daysLeft < 0:
		return 100
	case daysLeft < 1:
		factor = 1 + (1-daysLeft)*multiplier
		// The week ramp ends above where the final-day ramp starts; floor at
		// the boundary value so priority never drops as the deadline nears.
		if floor := 1 + (6.0/7.0)*0.5*multiplier; factor < floor {
			factor = floor
		}
	case daysLeft < 7:
		factor = 1 + ((7-daysLeft)/7)*0.5*multiplier
	default:
		return base
	}

	return clamp(int(float64(base) * factor))
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Tier buckets a calculated priority for presentation. Advisory only.
func Tier(p int) string {
	switch {
	case p >= 80:
		return "P1"
	case p >= 50:
		return "P2"
	default:
		return "P3"
	}
}
