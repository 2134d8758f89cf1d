// Package eligibility decides whether a task is currently actionable for a
// context snapshot. A pure function of (task, context, store snapshot).
package eligibility

import (
	"context"
	"time"

	"tasknext-backend/internal/depgraph"
	"tasknext-backend/internal/geo"
	"tasknext-backend/internal/model"
)

// Context is the snapshot the filter evaluates against.
type Context struct {
	Now     time.Time
	Lat     *float64
	Lon     *float64
	Weather *model.WeatherReading
}

// Reason names the first failing rule, for diagnostics. The boolean result is
// the contract; reasons are advisory.
type Reason string

const (
	ReasonOK             Reason = "ok"
	ReasonStatus         Reason = "status_not_pending"
	ReasonDependencies   Reason = "dependencies_unsatisfied"
	ReasonWindowInactive Reason = "time_window_inactive"
	ReasonTimeConstraint Reason = "time_constraint_unmet"
	ReasonWeather        Reason = "weather_condition_unmet"
	ReasonLocation       Reason = "location_out_of_range"
)

// Source is the read surface eligibility needs; store.Tx satisfies it.
type Source interface {
	GetTask(ctx context.Context, id int) (model.Task, error)
	ListDependencies(ctx context.Context, taskID int) ([]model.TaskDependency, error)
	GetLocation(ctx context.Context, id int) (model.Location, error)
	GetTimeWindow(ctx context.Context, id int) (model.TimeWindow, error)
	GetWeatherCondition(ctx context.Context, id int) (model.WeatherCondition, error)
}

type Filter struct {
	Geo               geo.Searcher
	ProximityRadiusM  float64
	BusinessOpenHour  int
	BusinessCloseHour int
}

// Eligible evaluates the rules cheapest-first and short-circuits on the first
// failure. It never mutates state.
func (f *Filter) Eligible(ctx context.Context, src Source, task model.Task, ec Context) (bool, Reason, error) {
	// 1. Status.
	if task.Status != model.StatusPending {
		return false, ReasonStatus, nil
	}

	// 2. Dependencies.
	ok, err := depgraph.Satisfied(ctx, src, task.ID)
	if err != nil {
		return false, ReasonDependencies, err
	}
	if !ok {
		return false, ReasonDependencies, nil
	}

	// 3. Time window.
	if task.TimeWindowID != nil {
		w, err := src.GetTimeWindow(ctx, *task.TimeWindowID)
		if err != nil {
			return false, ReasonWindowInactive, err
		}
		if !w.Active {
			return false, ReasonWindowInactive, nil
		}
	}

	// 4. Time-constraint variant.
	ok, err = f.constraintMet(ctx, src, task, ec)
	if err != nil {
		return false, ReasonTimeConstraint, err
	}
	if !ok {
		return false, ReasonTimeConstraint, nil
	}

	// 5. Weather.
	if task.RequiresWeather && task.WeatherConditionID != nil {
		cond, err := src.GetWeatherCondition(ctx, *task.WeatherConditionID)
		if err != nil {
			return false, ReasonWeather, err
		}
		if ec.Weather == nil || !cond.Satisfies(*ec.Weather) {
			return false, ReasonWeather, nil
		}
	}

	// 6. Location.
	ok, err = f.locationMet(ctx, src, task, ec)
	if err != nil {
		return false, ReasonLocation, err
	}
	if !ok {
		return false, ReasonLocation, nil
	}

	return true, ReasonOK, nil
}

func (f *Filter) constraintMet(ctx context.Context, src Source, task model.Task, ec Context) (bool, error) {
	c := task.Constraint
	switch c.Kind {
	case model.ConstraintNone:
		return true, nil

	case model.ConstraintAbsolute:
		// Open bounds are unbounded.
		if c.StartAt != nil && ec.Now.Before(*c.StartAt) {
			return false, nil
		}
		if c.EndAt != nil && ec.Now.After(*c.EndAt) {
			return false, nil
		}
		return true, nil

	case model.ConstraintTimeOfDay:
		return BucketOf(ec.Now) == c.Bucket, nil

	case model.ConstraintSolar:
		if task.LocationID == nil {
			return false, nil
		}
		loc, err := src.GetLocation(ctx, *task.LocationID)
		if err != nil {
			return false, err
		}
		if loc.Latitude == nil || loc.Longitude == nil {
			return false, nil
		}
		dawn, dusk, ok := SolarWindow(ec.Now.UTC(), *loc.Latitude, *loc.Longitude)
		if !ok {
			return false, nil
		}
		return !ec.Now.Before(dawn) && !ec.Now.After(dusk), nil

	case model.ConstraintBusinessHours:
		return withinBusinessHours(ec.Now, f.BusinessOpenHour, f.BusinessCloseHour), nil

	case model.ConstraintAfterEvent:
		// Dependency-equivalent: satisfied once the referenced task completed.
		if c.AfterTaskID == nil {
			return false, nil
		}
		prior, err := src.GetTask(ctx, *c.AfterTaskID)
		if err != nil {
			return false, err
		}
		return prior.Status == model.StatusCompleted, nil

	case model.ConstraintRecurring:
		// Templates are never directly eligible; generated instances carry
		// their own concrete constraint.
		return false, nil
	}
	return false, nil
}

func (f *Filter) locationMet(ctx context.Context, src Source, task model.Task, ec Context) (bool, error) {
	if task.LocationID == nil {
		return true, nil
	}
	loc, err := src.GetLocation(ctx, *task.LocationID)
	if err != nil {
		return false, err
	}

	switch loc.Kind {
	case model.LocationOnline:
		return true, nil

	case model.LocationPhysical:
		if ec.Lat == nil || ec.Lon == nil || loc.Latitude == nil || loc.Longitude == nil {
			return false, nil
		}
		d := geo.DistanceMeters(*ec.Lat, *ec.Lon, *loc.Latitude, *loc.Longitude)
		return d <= f.ProximityRadiusM, nil

	case model.LocationFuzzy:
		if ec.Lat == nil || ec.Lon == nil {
			return false, nil
		}
		found, err := f.Geo.FindNearby(ctx, loc.Category, *ec.Lat, *ec.Lon, loc.SearchRadiusKm)
		if err != nil {
			return false, &model.CollaboratorError{Collaborator: "geo", Err: err}
		}
		return found, nil
	}
	return true, nil
}
