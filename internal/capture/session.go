package capture

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/attendance"
	"github.com/campuscheck/attendance/internal/camera"
	"github.com/campuscheck/attendance/internal/face"
	"github.com/campuscheck/attendance/internal/metrics"
	"github.com/campuscheck/attendance/internal/model"
)

// Directory is the read side of the record store used by sessions.
type Directory interface {
	FindMember(ctx context.Context, id string) (*model.Member, error)
	ListMembers(ctx context.Context) ([]model.Member, error)
	FindEvent(ctx context.Context, id int64) (*model.Event, error)
}

// Recorder builds and commits attendance records.
type Recorder interface {
	Prepare(member *model.Member, ev *model.Event, kind model.AttendanceKind, ts time.Time) *model.AttendanceRecord
	Commit(ctx context.Context, rec *model.AttendanceRecord, source string) error
}

// CodeDecoder reads a member id from a frame. found is false when the frame has no code.
type CodeDecoder interface {
	Decode(ctx context.Context, f *camera.Frame) (code string, found bool, err error)
}

// FaceMatcher finds the gallery entry closest to the face in a frame.
type FaceMatcher interface {
	Match(ctx context.Context, f *camera.Frame, gallery []face.Entry) (face.MatchResult, error)
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Directory Directory
	Recorder  Recorder
	Decoder   CodeDecoder
	Matcher   FaceMatcher
	Log       *zap.Logger
}

// Options tune session behaviour.
type Options struct {
	// Threshold is the exclusive upper bound on an accepted match distance.
	Threshold float64
	// DescriptorLength is the length gallery descriptors must have.
	DescriptorLength int
	// IdleTimeout returns a polling session to idle after this long. Zero disables it.
	IdleTimeout time.Duration
	// Retention is how long a finished session stays readable before the manager forgets it.
	Retention time.Duration
	Now       func() time.Time
}

// DefaultRetention keeps finished sessions long enough for clients to poll the outcome.
const DefaultRetention = 10 * time.Minute

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = face.DefaultThreshold
	}
	if o.DescriptorLength <= 0 {
		o.DescriptorLength = model.DefaultDescriptorLength
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Session is one run of the capture workflow. All methods are safe for concurrent use.
type Session struct {
	id      string
	deps    *Deps
	opts    Options
	base    context.Context
	scanCam camera.Camera
	faceCam camera.Camera
	event   *model.Event
	kind    model.AttendanceKind
	started time.Time
	loops   *sync.WaitGroup

	mu         sync.Mutex
	gen        uint64
	cancel     context.CancelFunc
	stream     camera.Stream
	state      State
	status     Status
	code       string
	member     *model.Member
	distance   *float64
	pending    *model.AttendanceRecord
	record     *model.AttendanceRecord
	committing bool
	err        error
	updated    time.Time
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Snapshot copies the observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:          s.id,
		ScanCamera:  s.scanCam.Name(),
		FaceCamera:  s.faceCam.Name(),
		Kind:        s.kind,
		Event:       s.event,
		State:       s.state,
		Status:      s.status,
		ScannedCode: s.code,
		Member:      viewOf(s.member),
		StartedAt:   s.started,
		UpdatedAt:   s.updated,
	}
	if s.distance != nil {
		d := *s.distance
		snap.Distance = &d
	}
	if s.record != nil {
		rec := *s.record
		snap.Record = &rec
	}
	if s.err != nil {
		snap.Error = apperr.Message(s.err)
		if s.err == ErrIdleTimeout {
			snap.Error = s.err.Error()
		}
	}
	return snap
}

func (s *Session) logger() *zap.Logger {
	return s.deps.Log.With(zap.String("session_id", s.id), zap.String("camera", s.scanCam.Name()))
}

// expired reports whether the session has finished and been untouched for the retention period.
func (s *Session) expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() && s.state != StateIdle {
		return false
	}
	if s.stream != nil || s.committing {
		return false
	}
	return now.Sub(s.updated) >= s.opts.Retention
}

// touch must be called with mu held.
func (s *Session) touch() { s.updated = s.opts.Now() }

// releaseLocked stops the running loop and closes the held stream. It bumps the
// generation so a loop that is still unwinding cannot mutate the session.
func (s *Session) releaseLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}
}

// startLoopLocked attaches stream and runs loop under a fresh generation.
func (s *Session) startLoopLocked(stream camera.Stream, loop func(ctx context.Context, gen uint64, stream camera.Stream)) {
	s.releaseLocked()
	ctx, cancel := context.WithCancel(s.base)
	if s.opts.IdleTimeout > 0 {
		ctx, cancel = withIdleTimeout(ctx, cancel, s.opts.IdleTimeout)
	}
	s.cancel = cancel
	s.stream = stream
	gen := s.gen

	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		loop(ctx, gen, stream)
	}()
}

func withIdleTimeout(ctx context.Context, cancel context.CancelFunc, d time.Duration) (context.Context, context.CancelFunc) {
	timed, cancelTimed := context.WithTimeout(ctx, d)
	return timed, func() {
		cancelTimed()
		cancel()
	}
}

// current reports whether gen still owns the session. mu must be held.
func (s *Session) current(gen uint64) bool { return s.gen == gen }

// fail returns the session to idle with err, if gen still owns it.
func (s *Session) fail(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(gen) {
		return
	}
	s.failLocked(err)
}

func (s *Session) failLocked(err error) {
	s.releaseLocked()
	s.state = StateIdle
	s.status = StatusError
	s.err = err
	s.pending = nil
	s.touch()
	metrics.SessionOutcomes.WithLabelValues("failed").Inc()
	s.logger().Warn("capture session failed", zap.Error(err))
}

func (s *Session) setStatus(gen uint64, st Status, distance *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(gen) {
		return
	}
	s.status = st
	s.distance = distance
	s.touch()
}

// streamError decides how a loop ends after Next fails.
func (s *Session) streamError(ctx context.Context, gen uint64, err error, what string) {
	if s.base.Err() != nil {
		return
	}
	if ctx.Err() == context.DeadlineExceeded {
		s.fail(gen, ErrIdleTimeout)
		return
	}
	if ctx.Err() != nil {
		return
	}
	s.fail(gen, apperr.Wrap(apperr.ResourceUnavailable, err, "%s camera read failed", what))
}

func (s *Session) scanLoop(ctx context.Context, gen uint64, stream camera.Stream) {
	log := s.logger()
	for {
		if ctx.Err() != nil {
			s.streamError(ctx, gen, ctx.Err(), "scan")
			return
		}
		f, err := stream.Next(ctx)
		if err != nil {
			s.streamError(ctx, gen, err, "scan")
			return
		}

		code, found, err := s.deps.Decoder.Decode(ctx, f)
		switch {
		case err != nil && apperr.Is(err, apperr.ResourceUnavailable):
			s.fail(gen, err)
			return
		case err != nil:
			metrics.Frames.WithLabelValues("scan", "error").Inc()
			log.Debug("frame decode failed", zap.Error(err))
			s.setStatus(gen, StatusAwaitingScan, nil)
			continue
		case !found:
			metrics.Frames.WithLabelValues("scan", "empty").Inc()
			s.setStatus(gen, StatusAwaitingScan, nil)
			continue
		}
		metrics.Frames.WithLabelValues("scan", "decoded").Inc()
		s.resolve(ctx, gen, code)
		return
	}
}

// resolve releases the scan stream and looks the scanned id up.
func (s *Session) resolve(ctx context.Context, gen uint64, code string) {
	s.mu.Lock()
	if !s.current(gen) {
		s.mu.Unlock()
		return
	}
	s.releaseLocked()
	gen = s.gen
	s.code = code
	s.touch()
	s.mu.Unlock()

	member, err := s.deps.Directory.FindMember(s.base, code)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(gen) {
		return
	}
	switch {
	case err == nil:
		s.member = member
		s.state = StateIdentityResolved
		s.status = StatusNone
		s.touch()
		s.logger().Info("identity resolved", zap.String("member_id", member.ID))
	case apperr.Is(err, apperr.NotFound):
		s.state = StateUnknownIdentity
		s.status = StatusNone
		s.touch()
		metrics.SessionOutcomes.WithLabelValues(string(StateUnknownIdentity)).Inc()
		s.logger().Info("unknown identity scanned", zap.String("code", code))
	default:
		s.failLocked(apperr.Wrap(apperr.Transient, err, "member lookup failed"))
	}
}

// Confirm moves an identified session to face verification.
func (s *Session) Confirm(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if s.state != StateIdentityResolved {
		defer s.mu.Unlock()
		return s.snapshotLocked(), apperr.New(apperr.Conflict, "session is %s, not awaiting confirmation", s.state)
	}
	gen := s.gen
	s.mu.Unlock()

	members, err := s.deps.Directory.ListMembers(ctx)
	if err != nil {
		err = apperr.Wrap(apperr.Transient, err, "load face gallery")
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.current(gen) {
			s.failLocked(err)
		}
		return s.snapshotLocked(), err
	}
	gallery := face.BuildGallery(members, s.opts.DescriptorLength, s.logger())

	stream, err := s.faceCam.Open(ctx)
	if err != nil {
		err = apperr.Wrap(apperr.ResourceUnavailable, err, "face camera %q unavailable", s.faceCam.Name())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(gen) || s.state != StateIdentityResolved {
		if stream != nil {
			_ = stream.Close()
		}
		return s.snapshotLocked(), apperr.New(apperr.Conflict, "session changed while confirming")
	}
	if err != nil {
		s.failLocked(err)
		return s.snapshotLocked(), err
	}

	s.state = StateVerifyingFace
	s.status = StatusNone
	s.touch()
	s.startLoopLocked(stream, func(ctx context.Context, gen uint64, stream camera.Stream) {
		s.verifyLoop(ctx, gen, stream, gallery)
	})
	return s.snapshotLocked(), nil
}

func (s *Session) verifyLoop(ctx context.Context, gen uint64, stream camera.Stream, gallery []face.Entry) {
	log := s.logger()
	memberID := s.member.ID
	for {
		if ctx.Err() != nil {
			s.streamError(ctx, gen, ctx.Err(), "face")
			return
		}
		f, err := stream.Next(ctx)
		if err != nil {
			s.streamError(ctx, gen, err, "face")
			return
		}

		res, err := s.deps.Matcher.Match(ctx, f, gallery)
		switch {
		case err != nil && apperr.Is(err, apperr.ResourceUnavailable):
			s.fail(gen, err)
			return
		case err != nil:
			metrics.Frames.WithLabelValues("face", "error").Inc()
			log.Debug("face match failed", zap.Error(err))
			continue
		case !res.Detected:
			metrics.Frames.WithLabelValues("face", "no_face").Inc()
			s.setStatus(gen, StatusNoFaceDetected, nil)
			continue
		}

		dist := res.Distance
		if res.Label != memberID || dist >= s.opts.Threshold {
			metrics.Frames.WithLabelValues("face", "mismatch").Inc()
			s.setStatus(gen, StatusMismatch, &dist)
			continue
		}
		metrics.Frames.WithLabelValues("face", "match").Inc()
		s.complete(gen, dist)
		return
	}
}

// complete releases the face stream and writes the record.
func (s *Session) complete(gen uint64, dist float64) {
	s.mu.Lock()
	if !s.current(gen) {
		s.mu.Unlock()
		return
	}
	s.releaseLocked()
	s.distance = &dist
	s.pending = s.deps.Recorder.Prepare(s.member, s.event, s.kind, s.opts.Now())
	s.committing = true
	gen = s.gen
	rec := s.pending
	s.touch()
	s.mu.Unlock()

	s.commit(s.base, gen, rec)
}

// commit writes rec and applies the outcome if gen still owns the session.
func (s *Session) commit(ctx context.Context, gen uint64, rec *model.AttendanceRecord) {
	err := s.deps.Recorder.Commit(ctx, rec, attendance.SourceCapture)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.committing = false
	if !s.current(gen) {
		if err == nil {
			s.logger().Warn("attendance written after session was cancelled", zap.Int64("log_id", rec.ID))
		}
		return
	}
	switch {
	case err == nil:
		s.record = rec
		s.pending = nil
		s.state = StateCompleted
		s.status = StatusNone
		s.err = nil
		metrics.SessionOutcomes.WithLabelValues(string(StateCompleted)).Inc()
	case apperr.Is(err, apperr.Conflict):
		s.status = StatusConflict
		s.err = err
		metrics.SessionOutcomes.WithLabelValues(string(StatusConflict)).Inc()
	default:
		s.status = StatusWriteFailed
		s.err = err
		metrics.SessionOutcomes.WithLabelValues(string(StatusWriteFailed)).Inc()
		s.logger().Warn("attendance write failed", zap.Error(err))
	}
	s.touch()
}

// Retry re-attempts the write of a session stalled on a failed or conflicting write,
// without scanning again.
func (s *Session) Retry(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if s.state != StateVerifyingFace || s.pending == nil || s.committing {
		defer s.mu.Unlock()
		return s.snapshotLocked(), apperr.New(apperr.Conflict, "session has no failed write to retry")
	}
	s.committing = true
	gen := s.gen
	rec := s.pending
	s.mu.Unlock()

	s.commit(ctx, gen, rec)
	return s.Snapshot(), nil
}

// Cancel returns a running session to idle and releases its stream. Terminal
// sessions are left as they are.
func (s *Session) Cancel() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() || s.state == StateIdle {
		return s.snapshotLocked()
	}
	s.releaseLocked()
	s.state = StateIdle
	s.status = StatusNone
	s.pending = nil
	s.committing = false
	s.touch()
	metrics.SessionOutcomes.WithLabelValues("cancelled").Inc()
	return s.snapshotLocked()
}
