package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/config"
	"github.com/campuscheck/attendance/internal/model"
)

// OpenDB opens a Postgres pool through the pgx stdlib driver and verifies it answers.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Postgres is the Store backed by PostgreSQL.
type Postgres struct {
	db            *sql.DB
	log           *zap.Logger
	descriptorLen int
}

// NewPostgres wraps an open pool. descriptorLen is the required descriptor length.
func NewPostgres(db *sql.DB, log *zap.Logger, descriptorLen int) *Postgres {
	return &Postgres{db: db, log: log, descriptorLen: descriptorLen}
}

// DB exposes the pool for migrations.
func (p *Postgres) DB() *sql.DB { return p.db }

// classify converts driver errors into apperr kinds.
func classify(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Wrap(apperr.NotFound, err, format, args...)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return apperr.Wrap(apperr.Conflict, err, format, args...)
		case "23503":
			return apperr.Wrap(apperr.NotFound, err, format, args...)
		case "23514", "22007", "22008":
			return apperr.Wrap(apperr.Validation, err, format, args...)
		}
	}
	return apperr.Wrap(apperr.Transient, err, format, args...)
}

const memberColumns = `id, full_name, role, face_descriptor, photo, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *Postgres) scanMember(row rowScanner) (model.Member, error) {
	var (
		m   model.Member
		raw []byte
	)
	if err := row.Scan(&m.ID, &m.FullName, &m.Role, &raw, &m.Photo, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return model.Member{}, err
	}
	d, err := model.ParseDescriptor(raw, p.descriptorLen)
	if err != nil {
		p.log.Warn("ignoring malformed face descriptor", zap.String("member_id", m.ID), zap.Error(err))
		d = nil
	}
	m.Descriptor = d
	return m, nil
}

func (p *Postgres) FindMember(ctx context.Context, id string) (*model.Member, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM users WHERE id = $1`, id)
	m, err := p.scanMember(row)
	if err != nil {
		return nil, classify(err, "member %s not found", id)
	}
	return &m, nil
}

func (p *Postgres) ListMembers(ctx context.Context) ([]model.Member, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+memberColumns+` FROM users ORDER BY full_name, id`)
	if err != nil {
		return nil, classify(err, "list members")
	}
	defer rows.Close()

	var out []model.Member
	for rows.Next() {
		m, err := p.scanMember(rows)
		if err != nil {
			return nil, classify(err, "scan member")
		}
		out = append(out, m)
	}
	return out, classify(rows.Err(), "list members")
}

func (p *Postgres) CountMembers(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, classify(err, "count members")
	}
	return n, nil
}

func encodeDescriptor(d model.Descriptor) (any, error) {
	raw, err := d.Encode()
	if err != nil || raw == nil {
		return nil, err
	}
	return string(raw), nil
}

func (p *Postgres) CreateMember(ctx context.Context, m *model.Member) error {
	desc, err := encodeDescriptor(m.Descriptor)
	if err != nil {
		return apperr.Wrap(apperr.Validation, err, "encode descriptor")
	}
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO users (id, full_name, role, face_descriptor, photo)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		RETURNING created_at, updated_at
	`, m.ID, m.FullName, m.Role, desc, m.Photo)
	if err := row.Scan(&m.CreatedAt, &m.UpdatedAt); err != nil {
		return classify(err, "member %s already exists", m.ID)
	}
	return nil
}

func (p *Postgres) UpdateMember(ctx context.Context, m *model.Member) error {
	desc, err := encodeDescriptor(m.Descriptor)
	if err != nil {
		return apperr.Wrap(apperr.Validation, err, "encode descriptor")
	}
	row := p.db.QueryRowContext(ctx, `
		UPDATE users
		SET full_name = $2, role = $3, face_descriptor = $4::jsonb, photo = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`, m.ID, m.FullName, m.Role, desc, m.Photo)
	if err := row.Scan(&m.CreatedAt, &m.UpdatedAt); err != nil {
		return classify(err, "member %s not found", m.ID)
	}
	return nil
}

func (p *Postgres) DeleteMember(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return classify(err, "delete member %s", id)
	}
	return requireAffected(res, "member %s not found", id)
}

func requireAffected(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err, format, args...)
	}
	if n == 0 {
		return apperr.New(apperr.NotFound, format, args...)
	}
	return nil
}

const eventColumns = `event_id, event_name, event_date::text, time_in_start::text, time_in_end::text,
	time_out_start::text, time_out_end::text, is_active, created_at, updated_at`

func scanEvent(row rowScanner) (model.Event, error) {
	var (
		e                          model.Event
		date, inS, inE, outS, outE string
	)
	if err := row.Scan(&e.ID, &e.Name, &date, &inS, &inE, &outS, &outE, &e.IsActive, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return model.Event{}, err
	}
	var err error
	if e.Date, err = model.ParseDate(date, time.UTC); err != nil {
		return model.Event{}, err
	}
	clocks := []*model.ClockTime{&e.TimeIn.Start, &e.TimeIn.End, &e.TimeOut.Start, &e.TimeOut.End}
	for i, s := range []string{inS, inE, outS, outE} {
		if *clocks[i], err = model.ParseClock(s); err != nil {
			return model.Event{}, err
		}
	}
	return e, nil
}

func (p *Postgres) ListEvents(ctx context.Context, activeOnly bool) ([]model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY event_date DESC, event_name, event_id`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(err, "list events")
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, classify(err, "scan event")
		}
		out = append(out, e)
	}
	return out, classify(rows.Err(), "list events")
}

func (p *Postgres) FindEvent(ctx context.Context, id int64) (*model.Event, error) {
	e, err := scanEvent(p.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE event_id = $1`, id))
	if err != nil {
		return nil, classify(err, "event %d not found", id)
	}
	return &e, nil
}

func (p *Postgres) CreateEvent(ctx context.Context, e *model.Event) error {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO events (event_name, event_date, time_in_start, time_in_end, time_out_start, time_out_end, is_active)
		VALUES ($1, $2::date, $3::time, $4::time, $5::time, $6::time, $7)
		RETURNING event_id, created_at, updated_at
	`, e.Name, e.Date.String(), e.TimeIn.Start.String(), e.TimeIn.End.String(),
		e.TimeOut.Start.String(), e.TimeOut.End.String(), e.IsActive)
	if err := row.Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return classify(err, "create event")
	}
	return nil
}

func (p *Postgres) UpdateEvent(ctx context.Context, e *model.Event) error {
	row := p.db.QueryRowContext(ctx, `
		UPDATE events
		SET event_name = $2, event_date = $3::date, time_in_start = $4::time, time_in_end = $5::time,
			time_out_start = $6::time, time_out_end = $7::time, is_active = $8, updated_at = NOW()
		WHERE event_id = $1
		RETURNING created_at, updated_at
	`, e.ID, e.Name, e.Date.String(), e.TimeIn.Start.String(), e.TimeIn.End.String(),
		e.TimeOut.Start.String(), e.TimeOut.End.String(), e.IsActive)
	if err := row.Scan(&e.CreatedAt, &e.UpdatedAt); err != nil {
		return classify(err, "event %d not found", e.ID)
	}
	return nil
}

func (p *Postgres) DeleteEvent(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM events WHERE event_id = $1`, id)
	if err != nil {
		return classify(err, "delete event %d", id)
	}
	return requireAffected(res, "event %d not found", id)
}

func (p *Postgres) DeactivateEventsBefore(ctx context.Context, day model.Date) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE events SET is_active = FALSE, updated_at = NOW()
		WHERE is_active AND event_date < $1::date
	`, day.String())
	if err != nil {
		return 0, classify(err, "deactivate events")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(err, "deactivate events")
	}
	return n, nil
}

func (p *Postgres) CreateAttendance(ctx context.Context, rec *model.AttendanceRecord) error {
	rec.EventScoped = rec.EventID != nil
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO attendance_logs (user_id, full_name, event_id, attendance_type, attendance_time, attendance_date, is_late, event_scoped)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8)
		RETURNING log_id
	`, rec.MemberID, rec.FullName, rec.EventID, string(rec.Kind), rec.Time, rec.Day.String(), rec.IsLate, rec.EventScoped)
	if err := row.Scan(&rec.ID); err != nil {
		if apperr.Is(classify(err, ""), apperr.Conflict) {
			return apperr.Wrap(apperr.Conflict, err, "attendance already recorded for %s", rec.MemberID)
		}
		return classify(err, "record attendance for %s", rec.MemberID)
	}
	return nil
}

func (p *Postgres) ListAttendance(ctx context.Context, f model.AttendanceFilter) ([]model.AttendanceEntry, error) {
	query := `
		SELECT a.log_id, a.user_id, a.full_name, a.event_id, a.attendance_type, a.attendance_time,
			a.attendance_date::text, a.is_late, a.event_scoped, COALESCE(u.role, ''), e.event_name, e.event_date::text
		FROM attendance_logs a
		LEFT JOIN users u ON u.id = a.user_id
		LEFT JOIN events e ON e.event_id = a.event_id`
	tail, args := attendanceFilterSQL(f)
	query += tail

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "list attendance")
	}
	defer rows.Close()

	var out []model.AttendanceEntry
	for rows.Next() {
		var (
			e         model.AttendanceEntry
			eventID   sql.NullInt64
			kind      string
			day       string
			eventName sql.NullString
			eventDate sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.MemberID, &e.FullName, &eventID, &kind, &e.Time,
			&day, &e.IsLate, &e.EventScoped, &e.Role, &eventName, &eventDate); err != nil {
			return nil, classify(err, "scan attendance")
		}
		e.Kind = model.AttendanceKind(kind)
		if eventID.Valid {
			id := eventID.Int64
			e.EventID = &id
		}
		if d, err := model.ParseDate(day, time.UTC); err == nil {
			e.Day = d
		}
		e.EventName = eventName.String
		if eventDate.Valid {
			if d, err := model.ParseDate(eventDate.String, time.UTC); err == nil {
				e.EventDate = &d
			}
		}
		out = append(out, e)
	}
	return out, classify(rows.Err(), "list attendance")
}

func (p *Postgres) Ping(ctx context.Context) error {
	return classify(p.db.PingContext(ctx), "database unreachable")
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// attendanceFilterSQL renders the WHERE, ORDER BY and LIMIT clauses for f with numbered placeholders.
func attendanceFilterSQL(f model.AttendanceFilter) (string, []any) {
	var (
		args    []any
		clauses []string
	)
	param := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.MemberID != "" {
		clauses = append(clauses, "a.user_id = "+param(f.MemberID))
	}
	if f.EventID != nil {
		clauses = append(clauses, "a.event_id = "+param(*f.EventID))
	}
	if f.Date != nil {
		clauses = append(clauses, "a.attendance_date = "+param(f.Date.String())+"::date")
	}
	if f.Kind != "" {
		clauses = append(clauses, "a.attendance_type = "+param(string(f.Kind)))
	}
	var sb strings.Builder
	if len(clauses) > 0 {
		sb.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	sb.WriteString(" ORDER BY a.attendance_time DESC, a.log_id DESC")
	if f.Limit > 0 {
		sb.WriteString(" LIMIT " + param(f.Limit))
	}
	return sb.String(), args
}
