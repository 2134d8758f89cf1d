package eligibility

import (
	"context"
	"testing"
	"time"

	"tasknext-backend/internal/geo"
	"tasknext-backend/internal/model"
	"tasknext-backend/internal/store"
)

// A Tuesday at 10:00 UTC.
var tuesdayMorning = time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)

func newFilter() *Filter {
	return &Filter{
		Geo:               geo.Static{Found: true},
		ProximityRadiusM:  500,
		BusinessOpenHour:  9,
		BusinessCloseHour: 17,
	}
}

func mustCreateTask(t *testing.T, mem *store.Memory, task *model.Task) model.Task {
	t.Helper()
	if task.UserID == 0 {
		task.UserID = 1
	}
	if err := mem.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return *task
}

func checkEligible(t *testing.T, f *Filter, mem *store.Memory, task model.Task, ec Context, want bool, wantReason Reason) {
	t.Helper()
	ok, reason, err := f.Eligible(context.Background(), mem, task, ec)
	if err != nil {
		t.Fatalf("Eligible: %v", err)
	}
	if ok != want || reason != wantReason {
		t.Errorf("Eligible = %v (%s), want %v (%s)", ok, reason, want, wantReason)
	}
}

func TestStatusRule(t *testing.T) {
	mem := store.NewMemory()
	f := newFilter()
	ec := Context{Now: tuesdayMorning}

	for _, st := range []model.TaskStatus{model.StatusAssigned, model.StatusBlocked, model.StatusCompleted, model.StatusCancelled} {
		task := mustCreateTask(t, mem, &model.Task{Title: "t", Status: st})
		checkEligible(t, f, mem, task, ec, false, ReasonStatus)
	}

	task := mustCreateTask(t, mem, &model.Task{Title: "t"})
	checkEligible(t, f, mem, task, ec, true, ReasonOK)
}

func TestDependencyRule(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	f := newFilter()
	ec := Context{Now: tuesdayMorning}

	dep := mustCreateTask(t, mem, &model.Task{Title: "dep"})
	task := mustCreateTask(t, mem, &model.Task{Title: "t"})
	if err := mem.InsertDependency(ctx, task.ID, dep.ID); err != nil {
		t.Fatal(err)
	}

	checkEligible(t, f, mem, task, ec, false, ReasonDependencies)

	if err := mem.UpdateTaskStatus(ctx, dep.ID, model.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	checkEligible(t, f, mem, task, ec, true, ReasonOK)
}

func TestTimeWindowRule(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	f := newFilter()
	ec := Context{Now: tuesdayMorning}

	w := model.TimeWindow{Name: "winter", Active: false}
	if err := mem.CreateTimeWindow(ctx, 1, &w); err != nil {
		t.Fatal(err)
	}
	task := mustCreateTask(t, mem, &model.Task{Title: "t", TimeWindowID: &w.ID})
	checkEligible(t, f, mem, task, ec, false, ReasonWindowInactive)

	w.Active = true
	mem.CreateTimeWindow(ctx, 1, &w)
	task2 := mustCreateTask(t, mem, &model.Task{Title: "t2", TimeWindowID: &w.ID})
	checkEligible(t, f, mem, task2, ec, true, ReasonOK)
}

func TestAbsoluteConstraint(t *testing.T) {
	mem := store.NewMemory()
	f := newFilter()
	ec := Context{Now: tuesdayMorning}

	before := tuesdayMorning.Add(-time.Hour)
	after := tuesdayMorning.Add(time.Hour)

	tests := []struct {
		name       string
		start, end *time.Time
		want       bool
	}{
		{"inside closed interval", &before, &after, true},
		{"not yet started", &after, nil, false},
		{"already ended", nil, &before, false},
		{"open start", nil, &after, true},
		{"open end", &before, nil, true},
		{"fully open", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := mustCreateTask(t, mem, &model.Task{
				Title:      "t",
				Constraint: model.TimeConstraint{Kind: model.ConstraintAbsolute, StartAt: tt.start, EndAt: tt.end},
			})
			want := ReasonOK
			if !tt.want {
				want = ReasonTimeConstraint
			}
			checkEligible(t, f, mem, task, ec, tt.want, want)
		})
	}
}

func TestTimeOfDayBuckets(t *testing.T) {
	for _, tt := range []struct {
		hour int
		want model.DayBucket
	}{
		{0, model.BucketNight}, {5, model.BucketNight}, {6, model.BucketMorning},
		{11, model.BucketMorning}, {12, model.BucketAfternoon}, {17, model.BucketAfternoon},
		{18, model.BucketEvening}, {21, model.BucketEvening}, {22, model.BucketNight}, {23, model.BucketNight},
	} {
		at := time.Date(2025, 6, 3, tt.hour, 30, 0, 0, time.UTC)
		if got := BucketOf(at); got != tt.want {
			t.Errorf("BucketOf(%02d:30) = %s, want %s", tt.hour, got, tt.want)
		}
	}
}

func TestTimeOfDayConstraint(t *testing.T) {
	mem := store.NewMemory()
	f := newFilter()

	task := mustCreateTask(t, mem, &model.Task{
		Title:      "t",
		Constraint: model.TimeConstraint{Kind: model.ConstraintTimeOfDay, Bucket: model.BucketEvening},
	})
	checkEligible(t, f, mem, task, Context{Now: tuesdayMorning}, false, ReasonTimeConstraint)

	evening := time.Date(2025, 6, 3, 19, 0, 0, 0, time.UTC)
	checkEligible(t, f, mem, task, Context{Now: evening}, true, ReasonOK)
}

func TestBusinessHoursConstraint(t *testing.T) {
	mem := store.NewMemory()
	f := newFilter()
	task := mustCreateTask(t, mem, &model.Task{
		Title:      "t",
		Constraint: model.TimeConstraint{Kind: model.ConstraintBusinessHours},
	})

	checkEligible(t, f, mem, task, Context{Now: tuesdayMorning}, true, ReasonOK)

	saturday := time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC)
	checkEligible(t, f, mem, task, Context{Now: saturday}, false, ReasonTimeConstraint)

	lateTuesday := time.Date(2025, 6, 3, 18, 0, 0, 0, time.UTC)
	checkEligible(t, f, mem, task, Context{Now: lateTuesday}, false, ReasonTimeConstraint)
}

func TestSolarConstraint(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	f := newFilter()

	lat, lon := 0.0, 0.0
	loc := model.Location{Kind: model.LocationPhysical, Latitude: &lat, Longitude: &lon}
	if err := mem.CreateLocation(ctx, 1, &loc); err != nil {
		t.Fatal(err)
	}
	task := mustCreateTask(t, mem, &model.Task{
		Title:      "t",
		LocationID: &loc.ID,
		Constraint: model.TimeConstraint{Kind: model.ConstraintSolar},
	})

	noon := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)
	checkEligible(t, f, mem, task, Context{Now: noon, Lat: &lat, Lon: &lon}, true, ReasonOK)

	midnight := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	checkEligible(t, f, mem, task, Context{Now: midnight, Lat: &lat, Lon: &lon}, false, ReasonTimeConstraint)
}

func TestSolarWindowEquatorEquinox(t *testing.T) {
	date := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	dawn, dusk, ok := SolarWindow(date, 0, 0)
	if !ok {
		t.Fatal("SolarWindow returned not ok at the equator")
	}
	// Sunrise near 06:00 UTC minus the twilight margin, sunset near 18:00 plus it.
	wantDawn := time.Date(2025, 3, 20, 5, 30, 0, 0, time.UTC)
	wantDusk := time.Date(2025, 3, 20, 18, 30, 0, 0, time.UTC)
	if d := dawn.Sub(wantDawn); d < -20*time.Minute || d > 20*time.Minute {
		t.Errorf("dawn = %v, want ~%v", dawn, wantDawn)
	}
	if d := dusk.Sub(wantDusk); d < -20*time.Minute || d > 20*time.Minute {
		t.Errorf("dusk = %v, want ~%v", dusk, wantDusk)
	}
}

func TestSolarWindowPolarNight(t *testing.T) {
	date := time.Date(2025, 12, 21, 0, 0, 0, 0, time.UTC)
	if _, _, ok := SolarWindow(date, 80, 0); ok {
		t.Error("expected polar night at 80N in December")
	}
}

func TestAfterEventConstraint(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	f := newFilter()
	ec := Context{Now: tuesdayMorning}

	prior := mustCreateTask(t, mem, &model.Task{Title: "prior"})
	task := mustCreateTask(t, mem, &model.Task{
		Title:      "t",
		Constraint: model.TimeConstraint{Kind: model.ConstraintAfterEvent, AfterTaskID: &prior.ID},
	})

	checkEligible(t, f, mem, task, ec, false, ReasonTimeConstraint)

	if err := mem.UpdateTaskStatus(ctx, prior.ID, model.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	checkEligible(t, f, mem, task, ec, true, ReasonOK)
}

func TestRecurringTemplateNeverEligible(t *testing.T) {
	mem := store.NewMemory()
	f := newFilter()
	task := mustCreateTask(t, mem, &model.Task{
		Title:      "template",
		Constraint: model.TimeConstraint{Kind: model.ConstraintRecurring},
	})
	checkEligible(t, f, mem, task, Context{Now: tuesdayMorning}, false, ReasonTimeConstraint)
}

func TestWeatherRule(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	f := newFilter()

	cond := model.WeatherCondition{Kind: model.WeatherTempBelow, Threshold: 5}
	if err := mem.CreateWeatherCondition(ctx, 1, &cond); err != nil {
		t.Fatal(err)
	}
	task := mustCreateTask(t, mem, &model.Task{
		Title:              "shovel snow",
		WeatherConditionID: &cond.ID,
		RequiresWeather:    true,
	})

	cold := &model.WeatherReading{TempC: 2}
	warm := &model.WeatherReading{TempC: 20}

	checkEligible(t, f, mem, task, Context{Now: tuesdayMorning, Weather: cold}, true, ReasonOK)
	checkEligible(t, f, mem, task, Context{Now: tuesdayMorning, Weather: warm}, false, ReasonWeather)
	checkEligible(t, f, mem, task, Context{Now: tuesdayMorning}, false, ReasonWeather)

	// Condition bound but not required: reading is ignored.
	optional := mustCreateTask(t, mem, &model.Task{
		Title:              "t",
		WeatherConditionID: &cond.ID,
		RequiresWeather:    false,
	})
	checkEligible(t, f, mem, optional, Context{Now: tuesdayMorning, Weather: warm}, true, ReasonOK)
}

func TestWeatherConditionKinds(t *testing.T) {
	for _, tt := range []struct {
		cond    model.WeatherCondition
		reading model.WeatherReading
		want    bool
	}{
		{model.WeatherCondition{Kind: model.WeatherAny}, model.WeatherReading{}, true},
		{model.WeatherCondition{Kind: model.WeatherSnow}, model.WeatherReading{Snowing: true}, true},
		{model.WeatherCondition{Kind: model.WeatherSnow}, model.WeatherReading{Raining: true}, false},
		{model.WeatherCondition{Kind: model.WeatherRain}, model.WeatherReading{Raining: true}, true},
		{model.WeatherCondition{Kind: model.WeatherTempAbove, Threshold: 25}, model.WeatherReading{TempC: 30}, true},
		{model.WeatherCondition{Kind: model.WeatherTempAbove, Threshold: 25}, model.WeatherReading{TempC: 20}, false},
		{model.WeatherCondition{Kind: model.WeatherTempBelow, Threshold: 0}, model.WeatherReading{TempC: -5}, true},
		{model.WeatherCondition{Kind: model.WeatherTempBelow, Threshold: 0}, model.WeatherReading{TempC: 5}, false},
	} {
		if got := tt.cond.Satisfies(tt.reading); got != tt.want {
			t.Errorf("%s.Satisfies(%+v) = %v, want %v", tt.cond.Kind, tt.reading, got, tt.want)
		}
	}
}

func TestLocationRule(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	f := newFilter()

	taskLat, taskLon := 52.5200, 13.4050
	loc := model.Location{Kind: model.LocationPhysical, Latitude: &taskLat, Longitude: &taskLon}
	if err := mem.CreateLocation(ctx, 1, &loc); err != nil {
		t.Fatal(err)
	}
	task := mustCreateTask(t, mem, &model.Task{Title: "t", LocationID: &loc.ID})

	nearLat, nearLon := 52.5210, 13.4060 // ~130 m away
	farLat, farLon := 52.5300, 13.4050   // ~1.1 km away

	checkEligible(t, f, mem, task, Context{Now: tuesdayMorning, Lat: &nearLat, Lon: &nearLon}, true, ReasonOK)
	checkEligible(t, f, mem, task, Context{Now: tuesdayMorning, Lat: &farLat, Lon: &farLon}, false, ReasonLocation)
	checkEligible(t, f, mem, task, Context{Now: tuesdayMorning}, false, ReasonLocation)

	online := model.Location{Kind: model.LocationOnline}
	if err := mem.CreateLocation(ctx, 1, &online); err != nil {
		t.Fatal(err)
	}
	onlineTask := mustCreateTask(t, mem, &model.Task{Title: "t", LocationID: &online.ID})
	checkEligible(t, f, mem, onlineTask, Context{Now: tuesdayMorning}, true, ReasonOK)
}

func TestFuzzyLocationRule(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	fuzzy := model.Location{Kind: model.LocationFuzzy, Category: "hardware store", SearchRadiusKm: 2}
	if err := mem.CreateLocation(ctx, 1, &fuzzy); err != nil {
		t.Fatal(err)
	}
	task := mustCreateTask(t, mem, &model.Task{Title: "buy screws", LocationID: &fuzzy.ID})

	lat, lon := 52.52, 13.405
	ec := Context{Now: tuesdayMorning, Lat: &lat, Lon: &lon}

	found := newFilter()
	found.Geo = geo.Static{Found: true}
	checkEligible(t, found, mem, task, ec, true, ReasonOK)

	missing := newFilter()
	missing.Geo = geo.Static{Found: false}
	checkEligible(t, missing, mem, task, ec, false, ReasonLocation)
}

// Same inputs always yield the same verdict.
func TestEligibilityDeterminism(t *testing.T) {
	mem := store.NewMemory()
	f := newFilter()
	task := mustCreateTask(t, mem, &model.Task{
		Title:      "t",
		Constraint: model.TimeConstraint{Kind: model.ConstraintBusinessHours},
	})
	ec := Context{Now: tuesdayMorning}

	first, reason, err := f.Eligible(context.Background(), mem, task, ec)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		got, r, err := f.Eligible(context.Background(), mem, task, ec)
		if err != nil || got != first || r != reason {
			t.Fatalf("iteration %d: got %v (%s, %v), want %v (%s)", i, got, r, err, first, reason)
		}
	}
}
