package model

import "time"

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusAssigned  TaskStatus = "assigned"
	StatusBlocked   TaskStatus = "blocked"
	StatusCompleted TaskStatus = "completed"
	StatusCancelled TaskStatus = "cancelled"
)

type LocationKind string

const (
	LocationPhysical LocationKind = "physical"
	LocationOnline   LocationKind = "online"
	LocationFuzzy    LocationKind = "fuzzy"
)

type ConstraintKind string

const (
	ConstraintNone          ConstraintKind = ""
	ConstraintAbsolute      ConstraintKind = "absolute"
	ConstraintTimeOfDay     ConstraintKind = "relative_time_of_day"
	ConstraintSolar         ConstraintKind = "relative_solar"
	ConstraintBusinessHours ConstraintKind = "business_hours"
	ConstraintAfterEvent    ConstraintKind = "after_event"
	ConstraintRecurring     ConstraintKind = "recurring"
)

type DayBucket string

const (
	BucketMorning   DayBucket = "morning"
	BucketAfternoon DayBucket = "afternoon"
	BucketEvening   DayBucket = "evening"
	BucketNight     DayBucket = "night"
)

type WeatherKind string

const (
	WeatherSnow      WeatherKind = "snow"
	WeatherRain      WeatherKind = "rain"
	WeatherTempAbove WeatherKind = "temperature_above"
	WeatherTempBelow WeatherKind = "temperature_below"
	WeatherAny       WeatherKind = "any"
)

type RecurrenceKind string

const (
	RecurDaily   RecurrenceKind = "daily"
	RecurWeekly  RecurrenceKind = "weekly"
	RecurMonthly RecurrenceKind = "monthly"
	RecurCustom  RecurrenceKind = "custom"
)

type HistoryEvent string

const (
	EventStarted       HistoryEvent = "started"
	EventCompleted     HistoryEvent = "completed"
	EventBlocked       HistoryEvent = "blocked"
	EventCancelled     HistoryEvent = "cancelled"
	EventGratification HistoryEvent = "gratification"
)

// TimeConstraint is the one time-constraint variant a task may carry.
// Kind selects the variant; only the fields for that variant are meaningful.
type TimeConstraint struct {
	Kind        ConstraintKind `json:"kind"`
	StartAt     *time.Time     `json:"start_at,omitempty"`
	EndAt       *time.Time     `json:"end_at,omitempty"`
	Bucket      DayBucket      `json:"bucket,omitempty"`
	AfterTaskID *int           `json:"after_task_id,omitempty"`
}

type Task struct {
	ID                 int            `json:"id"`
	UserID             int            `json:"-"`
	Title              string         `json:"title"`
	Description        string         `json:"description,omitempty"`
	Status             TaskStatus     `json:"status"`
	BasePriority       int            `json:"base_priority"`
	CalculatedPriority int            `json:"calculated_priority"`
	UrgencyMultiplier  float64        `json:"urgency_multiplier"`
	Deadline           *time.Time     `json:"deadline,omitempty"`
	EstimatedMinutes   int            `json:"estimated_minutes"`
	Category           string         `json:"category,omitempty"`
	LocationID         *int           `json:"location_id,omitempty"`
	TimeWindowID       *int           `json:"time_window_id,omitempty"`
	WeatherConditionID *int           `json:"weather_condition_id,omitempty"`
	RequiresWeather    bool           `json:"requires_weather_condition"`
	Constraint         TimeConstraint `json:"time_constraint"`
	CreatedAt          time.Time      `json:"created_at"`
}

type Location struct {
	ID             int          `json:"id"`
	Kind           LocationKind `json:"kind"`
	Latitude       *float64     `json:"latitude,omitempty"`
	Longitude      *float64     `json:"longitude,omitempty"`
	Address        string       `json:"address,omitempty"`
	Category       string       `json:"category,omitempty"`
	SearchRadiusKm float64      `json:"search_radius_km,omitempty"`
}

// Validate enforces the exactly-one-variant rule at construction time.
func (l Location) Validate() error {
	switch l.Kind {
	case LocationPhysical:
		if l.Latitude == nil || l.Longitude == nil {
			return &ValidationError{Entity: "location", Field: "latitude/longitude", Reason: "required for physical locations"}
		}
		if l.Category != "" || l.SearchRadiusKm != 0 {
			return &ValidationError{Entity: "location", Field: "category/search_radius_km", Reason: "not allowed for physical locations"}
		}
	case LocationOnline:
		if l.Latitude != nil || l.Longitude != nil || l.Category != "" || l.SearchRadiusKm != 0 {
			return &ValidationError{Entity: "location", Field: "kind", Reason: "online locations carry no coordinates or search fields"}
		}
	case LocationFuzzy:
		if l.Category == "" {
			return &ValidationError{Entity: "location", Field: "category", Reason: "required for fuzzy locations"}
		}
		if l.SearchRadiusKm <= 0 {
			return &ValidationError{Entity: "location", Field: "search_radius_km", Reason: "must be positive"}
		}
		if l.Latitude != nil || l.Longitude != nil {
			return &ValidationError{Entity: "location", Field: "latitude/longitude", Reason: "not allowed for fuzzy locations"}
		}
	default:
		return &ValidationError{Entity: "location", Field: "kind", Reason: "must be physical, online or fuzzy"}
	}
	return nil
}

type TimeWindow struct {
	ID       int        `json:"id"`
	Name     string     `json:"name"`
	Active   bool       `json:"active"`
	OpensAt  *time.Time `json:"opens_at,omitempty"`
	ClosesAt *time.Time `json:"closes_at,omitempty"`
}

type WeatherCondition struct {
	ID        int         `json:"id"`
	Kind      WeatherKind `json:"kind"`
	Threshold float64     `json:"threshold,omitempty"`
}

// WeatherReading is the current-weather snapshot supplied by the caller.
type WeatherReading struct {
	TempC   float64 `json:"temp_c"`
	Raining bool    `json:"raining"`
	Snowing bool    `json:"snowing"`
}

// Satisfies reports whether the reading meets the condition.
func (c WeatherCondition) Satisfies(r WeatherReading) bool {
	switch c.Kind {
	case WeatherAny:
		return true
	case WeatherSnow:
		return r.Snowing
	case WeatherRain:
		return r.Raining
	case WeatherTempAbove:
		return r.TempC >= c.Threshold
	case WeatherTempBelow:
		return r.TempC <= c.Threshold
	}
	return false
}

// TaskDependency is a directed edge: TaskID depends on DependsOnID.
type TaskDependency struct {
	TaskID      int `json:"task_id"`
	DependsOnID int `json:"depends_on_id"`
}

type RecurringSchedule struct {
	ID             int            `json:"id"`
	TaskID         int            `json:"task_id"`
	Kind           RecurrenceKind `json:"kind"`
	IntervalDays   int            `json:"interval_days,omitempty"`
	NextOccurrence time.Time      `json:"next_occurrence"`
}

type TaskAssignment struct {
	ID          int        `json:"id"`
	UserID      int        `json:"user_id"`
	TaskID      int        `json:"task_id"`
	Active      bool       `json:"active"`
	AssignedAt  time.Time  `json:"assigned_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type Blocker struct {
	ID              int       `json:"id"`
	TaskID          int       `json:"task_id"`
	Description     string    `json:"description"`
	Resolved        bool      `json:"resolved"`
	ResolutionNotes string    `json:"resolution_notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// TaskHistory rows are append-only and never mutated after creation.
type TaskHistory struct {
	ID            int          `json:"id"`
	EventKey      string       `json:"-"`
	TaskID        int          `json:"task_id"`
	UserID        int          `json:"-"`
	Event         HistoryEvent `json:"event"`
	BlockerID     *int         `json:"blocker_id,omitempty"`
	AssignmentID  *int         `json:"assignment_id,omitempty"`
	Gratification string       `json:"gratification,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

type TaskCategory struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

type TaskCategoryAssignment struct {
	TaskID     int     `json:"task_id"`
	CategoryID int     `json:"category_id"`
	Confidence float64 `json:"confidence"`
}

// SubtaskProposal is what the natural-language collaborator suggests for a blocker.
type SubtaskProposal struct {
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	SuggestedLocation string     `json:"suggested_location,omitempty"`
	SuggestedDeadline *time.Time `json:"suggested_deadline,omitempty"`
}

type Stats struct {
	CompletedCount     int        `json:"completed_count"`
	BlockedCount       int        `json:"blocked_count"`
	GratificationCount int        `json:"gratification_count"`
	LastCompletionAt   *time.Time `json:"last_completion_at,omitempty"`
}
