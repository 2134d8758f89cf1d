package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"tasknext-backend/internal/model"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres implements Store on top of lib/pq.
type Postgres struct {
	db *sql.DB
	queries
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, queries: queries{q: db}}
}

// Advisory lock classes. Class 1 keys on user id, class 2 is a single
// graph-wide key for dependency writes.
const (
	lockClassUser  = 1
	lockClassGraph = 2
)

func (p *Postgres) WithUserLock(ctx context.Context, userID int, fn func(tx Tx) error) error {
	return p.withLock(ctx, lockClassUser, userID, fn)
}

func (p *Postgres) WithGraphLock(ctx context.Context, fn func(tx Tx) error) error {
	return p.withLock(ctx, lockClassGraph, 0, fn)
}

func (p *Postgres) withLock(ctx context.Context, class, key int, fn func(tx Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, class, key); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	if err := fn(&queries{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type queries struct {
	q dbtx
}

const taskColumns = `
	id, user_id, title, COALESCE(description,''), status,
	base_priority, calculated_priority, urgency_multiplier,
	deadline, estimated_minutes, COALESCE(category,''),
	location_id, time_window_id, weather_condition_id, requires_weather,
	tc_kind, tc_start_at, tc_end_at, tc_bucket, tc_after_task_id,
	created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var (
		t                  model.Task
		deadline, tcStart  sql.NullTime
		tcEnd              sql.NullTime
		locID, winID       sql.NullInt64
		weatherID, afterID sql.NullInt64
	)
	err := row.Scan(
		&t.ID, &t.UserID, &t.Title, &t.Description, &t.Status,
		&t.BasePriority, &t.CalculatedPriority, &t.UrgencyMultiplier,
		&deadline, &t.EstimatedMinutes, &t.Category,
		&locID, &winID, &weatherID, &t.RequiresWeather,
		&t.Constraint.Kind, &tcStart, &tcEnd, &t.Constraint.Bucket, &afterID,
		&t.CreatedAt,
	)
	if err != nil {
		return model.Task{}, err
	}
	t.Deadline = timePtr(deadline)
	t.Constraint.StartAt = timePtr(tcStart)
	t.Constraint.EndAt = timePtr(tcEnd)
	t.LocationID = intPtr(locID)
	t.TimeWindowID = intPtr(winID)
	t.WeatherConditionID = intPtr(weatherID)
	t.Constraint.AfterTaskID = intPtr(afterID)
	return t, nil
}

func (s *queries) GetTask(ctx context.Context, id int) (model.Task, error) {
	row := s.q.QueryRowContext(ctx, `SELECT`+taskColumns+` FROM tasks WHERE id=$1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, fmt.Errorf("task %d: %w", id, model.ErrNotFound)
	}
	return t, err
}

func (s *queries) CreateTask(ctx context.Context, t *model.Task) error {
	if t.Status == "" {
		t.Status = model.StatusPending
	}
	row := s.q.QueryRowContext(ctx, `
		INSERT INTO tasks (
			user_id, title, description, status,
			base_priority, calculated_priority, urgency_multiplier,
			deadline, estimated_minutes, category,
			location_id, time_window_id, weather_condition_id, requires_weather,
			tc_kind, tc_start_at, tc_end_at, tc_bucket, tc_after_task_id
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING id, created_at
	`,
		t.UserID, t.Title, t.Description, t.Status,
		t.BasePriority, t.CalculatedPriority, t.UrgencyMultiplier,
		nullTime(t.Deadline), t.EstimatedMinutes, t.Category,
		nullInt(t.LocationID), nullInt(t.TimeWindowID), nullInt(t.WeatherConditionID), t.RequiresWeather,
		string(t.Constraint.Kind), nullTime(t.Constraint.StartAt), nullTime(t.Constraint.EndAt),
		string(t.Constraint.Bucket), nullInt(t.Constraint.AfterTaskID),
	)
	return row.Scan(&t.ID, &t.CreatedAt)
}

func (s *queries) UpdateTask(ctx context.Context, t model.Task) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE tasks SET
			title=$1, description=$2, status=$3,
			base_priority=$4, calculated_priority=$5, urgency_multiplier=$6,
			deadline=$7, estimated_minutes=$8, category=$9,
			location_id=$10, time_window_id=$11, weather_condition_id=$12, requires_weather=$13,
			tc_kind=$14, tc_start_at=$15, tc_end_at=$16, tc_bucket=$17, tc_after_task_id=$18
		WHERE id=$19 AND user_id=$20
	`,
		t.Title, t.Description, t.Status,
		t.BasePriority, t.CalculatedPriority, t.UrgencyMultiplier,
		nullTime(t.Deadline), t.EstimatedMinutes, t.Category,
		nullInt(t.LocationID), nullInt(t.TimeWindowID), nullInt(t.WeatherConditionID), t.RequiresWeather,
		string(t.Constraint.Kind), nullTime(t.Constraint.StartAt), nullTime(t.Constraint.EndAt),
		string(t.Constraint.Bucket), nullInt(t.Constraint.AfterTaskID),
		t.ID, t.UserID,
	)
	if err != nil {
		return err
	}
	return mustAffect(res, "task", t.ID)
}

func (s *queries) UpdateTaskStatus(ctx context.Context, id int, status model.TaskStatus) error {
	res, err := s.q.ExecContext(ctx, `UPDATE tasks SET status=$1 WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "task", id)
}

func (s *queries) SetCalculatedPriority(ctx context.Context, id, priority int) error {
	res, err := s.q.ExecContext(ctx, `UPDATE tasks SET calculated_priority=$1 WHERE id=$2`, priority, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "task", id)
}

func (s *queries) ListTasks(ctx context.Context, userID int) ([]model.Task, error) {
	return s.listTasks(ctx, `SELECT`+taskColumns+` FROM tasks WHERE user_id=$1 ORDER BY id`, userID)
}

func (s *queries) ListPendingTasks(ctx context.Context, userID int) ([]model.Task, error) {
	return s.listTasks(ctx,
		`SELECT`+taskColumns+` FROM tasks WHERE user_id=$1 AND status=$2 ORDER BY id`,
		userID, model.StatusPending)
}

func (s *queries) listTasks(ctx context.Context, query string, args ...any) ([]model.Task, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *queries) GetLocation(ctx context.Context, id int) (model.Location, error) {
	var (
		l        model.Location
		lat, lon sql.NullFloat64
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, kind, latitude, longitude, COALESCE(address,''), COALESCE(category,''), search_radius_km
		FROM locations WHERE id=$1
	`, id).Scan(&l.ID, &l.Kind, &lat, &lon, &l.Address, &l.Category, &l.SearchRadiusKm)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Location{}, fmt.Errorf("location %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Location{}, err
	}
	if lat.Valid {
		l.Latitude = &lat.Float64
	}
	if lon.Valid {
		l.Longitude = &lon.Float64
	}
	return l, nil
}

func (s *queries) CreateLocation(ctx context.Context, userID int, l *model.Location) error {
	if err := l.Validate(); err != nil {
		return err
	}
	return s.q.QueryRowContext(ctx, `
		INSERT INTO locations (user_id, kind, latitude, longitude, address, category, search_radius_km)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, userID, l.Kind, nullFloat(l.Latitude), nullFloat(l.Longitude), l.Address, l.Category, l.SearchRadiusKm).
		Scan(&l.ID)
}

func (s *queries) GetTimeWindow(ctx context.Context, id int) (model.TimeWindow, error) {
	var (
		w            model.TimeWindow
		opens, close sql.NullTime
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, active, opens_at, closes_at FROM time_windows WHERE id=$1
	`, id).Scan(&w.ID, &w.Name, &w.Active, &opens, &close)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TimeWindow{}, fmt.Errorf("time window %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.TimeWindow{}, err
	}
	w.OpensAt = timePtr(opens)
	w.ClosesAt = timePtr(close)
	return w, nil
}

func (s *queries) CreateTimeWindow(ctx context.Context, userID int, w *model.TimeWindow) error {
	if w.Name == "" {
		return &model.ValidationError{Entity: "time_window", Field: "name", Reason: "is required"}
	}
	return s.q.QueryRowContext(ctx, `
		INSERT INTO time_windows (user_id, name, active, opens_at, closes_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, userID, w.Name, w.Active, nullTime(w.OpensAt), nullTime(w.ClosesAt)).Scan(&w.ID)
}

func (s *queries) GetWeatherCondition(ctx context.Context, id int) (model.WeatherCondition, error) {
	var c model.WeatherCondition
	err := s.q.QueryRowContext(ctx, `
		SELECT id, kind, threshold FROM weather_conditions WHERE id=$1
	`, id).Scan(&c.ID, &c.Kind, &c.Threshold)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WeatherCondition{}, fmt.Errorf("weather condition %d: %w", id, model.ErrNotFound)
	}
	return c, err
}

func (s *queries) CreateWeatherCondition(ctx context.Context, userID int, c *model.WeatherCondition) error {
	switch c.Kind {
	case model.WeatherSnow, model.WeatherRain, model.WeatherTempAbove, model.WeatherTempBelow, model.WeatherAny:
	default:
		return &model.ValidationError{Entity: "weather_condition", Field: "kind", Reason: "is not a known kind"}
	}
	return s.q.QueryRowContext(ctx, `
		INSERT INTO weather_conditions (user_id, kind, threshold)
		VALUES ($1,$2,$3)
		RETURNING id
	`, userID, c.Kind, c.Threshold).Scan(&c.ID)
}

func (s *queries) InsertDependency(ctx context.Context, taskID, dependsOnID int) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO task_dependencies (task_id, depends_on_id) VALUES ($1,$2)
		ON CONFLICT (task_id, depends_on_id) DO NOTHING
	`, taskID, dependsOnID)
	return err
}

func (s *queries) DeleteDependency(ctx context.Context, taskID, dependsOnID int) error {
	_, err := s.q.ExecContext(ctx, `
		DELETE FROM task_dependencies WHERE task_id=$1 AND depends_on_id=$2
	`, taskID, dependsOnID)
	return err
}

func (s *queries) ListDependencies(ctx context.Context, taskID int) ([]model.TaskDependency, error) {
	return s.listDeps(ctx, `SELECT task_id, depends_on_id FROM task_dependencies WHERE task_id=$1`, taskID)
}

func (s *queries) ListDependents(ctx context.Context, taskID int) ([]model.TaskDependency, error) {
	return s.listDeps(ctx, `SELECT task_id, depends_on_id FROM task_dependencies WHERE depends_on_id=$1`, taskID)
}

func (s *queries) ListAllDependencies(ctx context.Context) ([]model.TaskDependency, error) {
	return s.listDeps(ctx, `SELECT task_id, depends_on_id FROM task_dependencies`)
}

func (s *queries) listDeps(ctx context.Context, query string, args ...any) ([]model.TaskDependency, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TaskDependency
	for rows.Next() {
		var d model.TaskDependency
		if err := rows.Scan(&d.TaskID, &d.DependsOnID); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const assignmentColumns = `id, user_id, task_id, active, assigned_at, started_at, completed_at`

func scanAssignment(row rowScanner) (model.TaskAssignment, error) {
	var (
		a                  model.TaskAssignment
		started, completed sql.NullTime
	)
	err := row.Scan(&a.ID, &a.UserID, &a.TaskID, &a.Active, &a.AssignedAt, &started, &completed)
	if err != nil {
		return model.TaskAssignment{}, err
	}
	a.StartedAt = timePtr(started)
	a.CompletedAt = timePtr(completed)
	return a, nil
}

func (s *queries) ActiveAssignment(ctx context.Context, userID int) (model.TaskAssignment, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+` FROM task_assignments WHERE user_id=$1 AND active LIMIT 1
	`, userID)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TaskAssignment{}, fmt.Errorf("active assignment for user %d: %w", userID, model.ErrNotFound)
	}
	return a, err
}

func (s *queries) GetAssignment(ctx context.Context, id int) (model.TaskAssignment, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+` FROM task_assignments WHERE id=$1
	`, id)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TaskAssignment{}, fmt.Errorf("assignment %d: %w", id, model.ErrNotFound)
	}
	return a, err
}

func (s *queries) CreateAssignment(ctx context.Context, a *model.TaskAssignment) error {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO task_assignments (user_id, task_id, active, assigned_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, a.UserID, a.TaskID, a.Active, a.AssignedAt).Scan(&a.ID)
	if isUniqueViolation(err) {
		return &model.ConflictError{Op: "assign", EntityID: a.UserID, Reason: "user already has an active assignment"}
	}
	return err
}

func (s *queries) UpdateAssignment(ctx context.Context, a model.TaskAssignment) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE task_assignments SET active=$1, started_at=$2, completed_at=$3 WHERE id=$4
	`, a.Active, nullTime(a.StartedAt), nullTime(a.CompletedAt), a.ID)
	if err != nil {
		return err
	}
	return mustAffect(res, "assignment", a.ID)
}

func (s *queries) CreateBlocker(ctx context.Context, b *model.Blocker) error {
	return s.q.QueryRowContext(ctx, `
		INSERT INTO blockers (task_id, description) VALUES ($1,$2)
		RETURNING id, created_at
	`, b.TaskID, b.Description).Scan(&b.ID, &b.CreatedAt)
}

func (s *queries) ListOpenBlockers(ctx context.Context, taskID int) ([]model.Blocker, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, task_id, description, resolved, COALESCE(resolution_notes,''), created_at
		FROM blockers WHERE task_id=$1 AND NOT resolved ORDER BY id
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Blocker
	for rows.Next() {
		var b model.Blocker
		if err := rows.Scan(&b.ID, &b.TaskID, &b.Description, &b.Resolved, &b.ResolutionNotes, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *queries) ResolveBlocker(ctx context.Context, id int, notes string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE blockers SET resolved=TRUE, resolution_notes=$1 WHERE id=$2
	`, notes, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "blocker", id)
}

func (s *queries) AppendHistory(ctx context.Context, h *model.TaskHistory) error {
	// Duplicate event keys are silently suppressed (idempotent inserts).
	row := s.q.QueryRowContext(ctx, `
		INSERT INTO task_history (event_key, task_id, user_id, event, blocker_id, assignment_id, gratification)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (event_key) DO NOTHING
		RETURNING id, created_at
	`, h.EventKey, h.TaskID, h.UserID, h.Event, nullInt(h.BlockerID), nullInt(h.AssignmentID), h.Gratification)
	err := row.Scan(&h.ID, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

func (s *queries) ListHistory(ctx context.Context, userID, taskID int, events []model.HistoryEvent) ([]model.TaskHistory, error) {
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, string(e))
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, event_key, task_id, user_id, event, blocker_id, assignment_id, COALESCE(gratification,''), created_at
		FROM task_history
		WHERE user_id=$1
		  AND ($2 = 0 OR task_id = $2)
		  AND (cardinality($3::text[]) = 0 OR event = ANY($3))
		ORDER BY id
	`, userID, taskID, pq.Array(names))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TaskHistory
	for rows.Next() {
		var (
			h   model.TaskHistory
			bid sql.NullInt64
			aid sql.NullInt64
		)
		if err := rows.Scan(&h.ID, &h.EventKey, &h.TaskID, &h.UserID, &h.Event, &bid, &aid, &h.Gratification, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.BlockerID = intPtr(bid)
		h.AssignmentID = intPtr(aid)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *queries) Stats(ctx context.Context, userID int) (model.Stats, error) {
	var (
		st   model.Stats
		last sql.NullTime
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE event = 'completed'),
			COUNT(*) FILTER (WHERE event = 'blocked'),
			COUNT(*) FILTER (WHERE gratification <> ''),
			MAX(created_at) FILTER (WHERE event = 'completed')
		FROM task_history
		WHERE user_id = $1
	`, userID).Scan(&st.CompletedCount, &st.BlockedCount, &st.GratificationCount, &last)
	if err != nil {
		return model.Stats{}, err
	}
	st.LastCompletionAt = timePtr(last)
	return st, nil
}

func (s *queries) CreateSchedule(ctx context.Context, sc *model.RecurringSchedule) error {
	return s.q.QueryRowContext(ctx, `
		INSERT INTO recurring_schedules (task_id, kind, interval_days, next_occurrence)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, sc.TaskID, sc.Kind, sc.IntervalDays, sc.NextOccurrence).Scan(&sc.ID)
}

func (s *queries) UpdateSchedule(ctx context.Context, sc model.RecurringSchedule) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE recurring_schedules SET next_occurrence=$1 WHERE id=$2
	`, sc.NextOccurrence, sc.ID)
	if err != nil {
		return err
	}
	return mustAffect(res, "schedule", sc.ID)
}

func (s *queries) ListDueSchedules(ctx context.Context, now time.Time) ([]model.RecurringSchedule, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, task_id, kind, interval_days, next_occurrence
		FROM recurring_schedules WHERE next_occurrence <= $1 ORDER BY id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RecurringSchedule
	for rows.Next() {
		var sc model.RecurringSchedule
		if err := rows.Scan(&sc.ID, &sc.TaskID, &sc.Kind, &sc.IntervalDays, &sc.NextOccurrence); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *queries) EnsureCategory(ctx context.Context, label string) (int, error) {
	var id int
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO task_categories (label) VALUES ($1)
		ON CONFLICT (label) DO UPDATE SET label = EXCLUDED.label
		RETURNING id
	`, label).Scan(&id)
	return id, err
}

func (s *queries) AssignCategory(ctx context.Context, taskID, categoryID int, confidence float64) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO task_category_assignments (task_id, category_id, confidence)
		VALUES ($1,$2,$3)
		ON CONFLICT (task_id, category_id) DO UPDATE SET confidence = EXCLUDED.confidence
	`, taskID, categoryID, confidence)
	return err
}

func (s *queries) TaskCategoryLabel(ctx context.Context, taskID int) (string, error) {
	var label string
	err := s.q.QueryRowContext(ctx, `
		SELECT c.label
		FROM task_category_assignments a
		JOIN task_categories c ON c.id = a.category_id
		WHERE a.task_id = $1
		ORDER BY a.confidence DESC
		LIMIT 1
	`, taskID).Scan(&label)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return label, err
}

func mustAffect(res sql.Result, entity string, id int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", entity, id, model.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
