// Package attendance owns the lateness rule and the write path for attendance records.
package attendance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/metrics"
	"github.com/campuscheck/attendance/internal/model"
	"github.com/campuscheck/attendance/internal/queue"
	"github.com/campuscheck/attendance/internal/store"
)

// Sources label where a write came from.
const (
	SourceAPI     = "api"
	SourceCapture = "capture"
)

// PublishTimeout bounds the announcement that follows a committed write.
const PublishTimeout = 2 * time.Second

// Publisher is the part of queue.Queue the service needs.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Service records attendance for the HTTP API and the capture workflow.
type Service struct {
	store store.Store
	pub   Publisher
	loc   *time.Location
	now   func() time.Time
	log   *zap.Logger

	publishTimeout time.Duration
}

// NewService creates a service. pub may be nil.
func NewService(st store.Store, pub Publisher, loc *time.Location, log *zap.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{store: st, pub: pub, loc: loc, now: time.Now, log: log, publishTimeout: PublishTimeout}
}

// Location is the service time zone.
func (s *Service) Location() *time.Location { return s.loc }

// Now returns the current time in the service time zone.
func (s *Service) Now() time.Time { return s.now().In(s.loc) }

// Today returns the current calendar day in the service time zone.
func (s *Service) Today() model.Date { return model.DateOf(s.now(), s.loc) }

// RecordRequest is a manual attendance write.
type RecordRequest struct {
	MemberID string
	FullName string
	EventID  *int64
	Kind     model.AttendanceKind
	Time     time.Time
}

// Prepare builds an unsaved record for member at ts, computing lateness against ev.
func (s *Service) Prepare(member *model.Member, ev *model.Event, kind model.AttendanceKind, ts time.Time) *model.AttendanceRecord {
	ts = ts.In(s.loc)
	rec := &model.AttendanceRecord{
		MemberID: member.ID,
		FullName: member.FullName,
		Kind:     kind,
		Time:     ts,
		IsLate:   IsLate(kind, ts, ev),
		Day:      model.DateOf(ts, s.loc),
	}
	if ev != nil {
		id := ev.ID
		rec.EventID = &id
	}
	return rec
}

// Record validates req, resolves the member and event and commits the record.
func (s *Service) Record(ctx context.Context, req RecordRequest) (*model.AttendanceRecord, error) {
	if req.MemberID == "" {
		return nil, apperr.New(apperr.Validation, "userId is required")
	}
	switch req.Kind {
	case "":
		req.Kind = model.CheckIn
	case model.CheckIn, model.CheckOut:
	default:
		return nil, apperr.New(apperr.Validation, "invalid attendanceType %q", req.Kind)
	}

	member, err := s.store.FindMember(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	var ev *model.Event
	if req.EventID != nil {
		if ev, err = s.store.FindEvent(ctx, *req.EventID); err != nil {
			return nil, err
		}
	}

	ts := req.Time
	if ts.IsZero() {
		ts = s.now()
	}
	rec := s.Prepare(member, ev, req.Kind, ts)
	if req.FullName != "" {
		rec.FullName = req.FullName
	}
	if err := s.Commit(ctx, rec, SourceAPI); err != nil {
		return nil, err
	}
	return rec, nil
}

// Commit writes rec and announces it on the queue. A failed publish is logged, not returned.
func (s *Service) Commit(ctx context.Context, rec *model.AttendanceRecord, source string) error {
	err := s.store.CreateAttendance(ctx, rec)
	switch {
	case err == nil:
		metrics.AttendanceWrites.WithLabelValues(string(rec.Kind), source, "created").Inc()
	case apperr.Is(err, apperr.Conflict):
		metrics.AttendanceWrites.WithLabelValues(string(rec.Kind), source, "conflict").Inc()
		return err
	default:
		metrics.AttendanceWrites.WithLabelValues(string(rec.Kind), source, "error").Inc()
		return err
	}

	s.log.Info("attendance recorded",
		zap.Int64("log_id", rec.ID),
		zap.String("member_id", rec.MemberID),
		zap.String("kind", string(rec.Kind)),
		zap.Bool("late", rec.IsLate),
		zap.String("source", source),
	)

	if s.pub == nil {
		return nil
	}
	msg, err := queue.NewMessage(queue.TypeAttendanceRecorded, queue.AttendanceRecorded{
		LogID:    rec.ID,
		MemberID: rec.MemberID,
		EventID:  rec.EventID,
		Kind:     string(rec.Kind),
		IsLate:   rec.IsLate,
		Day:      rec.Day.String(),
	})
	if err == nil {
		pctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		err = s.pub.Publish(pctx, msg)
		cancel()
	}
	if err != nil {
		s.log.Warn("queue publish failed", zap.Int64("log_id", rec.ID), zap.Error(err))
	}
	return nil
}

// List returns attendance entries matching f.
func (s *Service) List(ctx context.Context, f model.AttendanceFilter) ([]model.AttendanceEntry, error) {
	return s.store.ListAttendance(ctx, f)
}
