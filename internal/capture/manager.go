package capture

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/camera"
	"github.com/campuscheck/attendance/internal/model"
)

// CameraSource resolves cameras by name.
type CameraSource interface {
	Get(name string) (camera.Camera, error)
}

// StartRequest describes a new session. FaceCamera defaults to ScanCamera and Kind
// to check-in.
type StartRequest struct {
	ScanCamera string
	FaceCamera string
	EventID    *int64
	Kind       model.AttendanceKind
}

// Manager owns the sessions, at most one per scan camera.
type Manager struct {
	deps    *Deps
	opts    Options
	cameras CameraSource
	base    context.Context
	stop    context.CancelFunc
	loops   sync.WaitGroup

	mu       sync.Mutex
	byID     map[string]*Session
	byCamera map[string]*Session
	starting map[string]*sync.Mutex
}

// NewManager creates a manager. Sessions outlive the requests that start them and
// run until cancelled, finished or Shutdown.
func NewManager(deps Deps, cameras CameraSource, opts Options) *Manager {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		deps:     &deps,
		opts:     opts.withDefaults(),
		cameras:  cameras,
		base:     base,
		stop:     stop,
		byID:     make(map[string]*Session),
		byCamera: make(map[string]*Session),
		starting: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) cameraLock(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.starting[name]
	if !ok {
		l = &sync.Mutex{}
		m.starting[name] = l
	}
	return l
}

// Start opens the scan camera and begins reading codes. Any session already using
// the same scan camera is cancelled and forgotten.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Snapshot, error) {
	if m.base.Err() != nil {
		return Snapshot{}, apperr.New(apperr.ResourceUnavailable, "capture is shutting down")
	}
	kind, err := model.ParseAttendanceKind(string(req.Kind))
	if err != nil {
		return Snapshot{}, apperr.New(apperr.Validation, "%s", err.Error())
	}
	if req.ScanCamera == "" {
		return Snapshot{}, apperr.New(apperr.Validation, "scanCamera is required")
	}
	if req.FaceCamera == "" {
		req.FaceCamera = req.ScanCamera
	}
	scanCam, err := m.cameras.Get(req.ScanCamera)
	if err != nil {
		return Snapshot{}, err
	}
	faceCam, err := m.cameras.Get(req.FaceCamera)
	if err != nil {
		return Snapshot{}, err
	}

	var ev *model.Event
	if req.EventID != nil {
		if ev, err = m.deps.Directory.FindEvent(ctx, *req.EventID); err != nil {
			return Snapshot{}, err
		}
	}

	lock := m.cameraLock(req.ScanCamera)
	lock.Lock()
	defer lock.Unlock()

	m.replace(req.ScanCamera, nil)
	m.evictExpired()

	stream, err := scanCam.Open(ctx)
	if err != nil {
		return Snapshot{}, apperr.Wrap(apperr.ResourceUnavailable, err, "scan camera %q unavailable", req.ScanCamera)
	}

	now := m.opts.Now()
	s := &Session{
		id:      uuid.NewString(),
		deps:    m.deps,
		opts:    m.opts,
		base:    m.base,
		scanCam: scanCam,
		faceCam: faceCam,
		event:   ev,
		kind:    kind,
		started: now,
		loops:   &m.loops,
		state:   StateIdle,
		updated: now,
	}

	s.mu.Lock()
	s.state = StateScanningCode
	s.status = StatusAwaitingScan
	s.startLoopLocked(stream, s.scanLoop)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	m.replace(req.ScanCamera, s)
	s.logger().Info("capture session started",
		zap.String("face_camera", faceCam.Name()),
		zap.String("kind", string(kind)),
	)
	return snap, nil
}

// replace cancels the session bound to cameraName and binds next in its place.
func (m *Manager) replace(cameraName string, next *Session) {
	m.mu.Lock()
	prev := m.byCamera[cameraName]
	if prev != nil {
		delete(m.byID, prev.id)
		delete(m.byCamera, cameraName)
	}
	if next != nil {
		m.byID[next.id] = next
		m.byCamera[cameraName] = next
	}
	m.mu.Unlock()

	if prev != nil && prev != next {
		prev.Cancel()
	}
}

// evictExpired forgets finished sessions past their retention period.
func (m *Manager) evictExpired() {
	now := m.opts.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.byID {
		if !s.expired(now) {
			continue
		}
		delete(m.byID, id)
		name := s.scanCam.Name()
		if m.byCamera[name] == s {
			delete(m.byCamera, name)
		}
	}
}

// Get returns a session by id. Finished sessions are evicted here once their
// retention has passed.
func (m *Manager) Get(id string) (*Session, error) {
	m.evictExpired()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "capture session %s not found", id)
	}
	return s, nil
}

// Confirm advances the session to face verification.
func (m *Manager) Confirm(ctx context.Context, id string) (Snapshot, error) {
	s, err := m.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Confirm(ctx)
}

// Retry re-attempts a failed write.
func (m *Manager) Retry(ctx context.Context, id string) (Snapshot, error) {
	s, err := m.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Retry(ctx)
}

// Cancel stops the session and releases its camera.
func (m *Manager) Cancel(id string) (Snapshot, error) {
	s, err := m.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Cancel(), nil
}

// Shutdown cancels every session and waits for their loops to exit or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Cancel()
	}
	m.stop()

	done := make(chan struct{})
	go func() {
		m.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
