package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/campuscheck/attendance/internal/apperr"
)

const maxSnapshotBytes = 8 << 20

// Snapshot polls an HTTP endpoint that returns a single still image per request,
// the interface most IP cameras expose.
type Snapshot struct {
	name     string
	url      string
	interval time.Duration
	http     *http.Client

	mu      sync.Mutex
	current *snapshotStream
}

// NewSnapshot creates a snapshot camera polling url every interval.
func NewSnapshot(name, url string, interval time.Duration) *Snapshot {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Snapshot{
		name:     name,
		url:      url,
		interval: interval,
		http:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Snapshot) Name() string { return c.name }

// Open probes the camera once so an unreachable camera fails at acquisition.
func (c *Snapshot) Open(ctx context.Context) (Stream, error) {
	first, err := c.fetch(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.ResourceUnavailable, err, "camera %q unavailable", c.name)
	}

	s := &snapshotStream{cam: c, pending: first, done: make(chan struct{})}
	c.mu.Lock()
	prev := c.current
	c.current = s
	c.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return s, nil
}

func (c *Snapshot) fetch(ctx context.Context) (*Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("snapshot endpoint returned %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return NewFrame(data, resp.Header.Get("Content-Type"), time.Now()), nil
}

type snapshotStream struct {
	cam  *Snapshot
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	pending *Frame
	last    time.Time
}

func (s *snapshotStream) Next(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}
	if f := s.pending; f != nil {
		s.pending = nil
		s.last = time.Now()
		return f, nil
	}

	if wait := s.cam.interval - time.Since(s.last); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f, err := s.cam.fetch(ctx)
	s.last = time.Now()
	if err != nil {
		select {
		case <-s.done:
			return nil, ErrClosed
		default:
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Wrap(apperr.ResourceUnavailable, err, "camera %q read failed", s.cam.name)
	}
	return f, nil
}

func (s *snapshotStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.cam.mu.Lock()
		if s.cam.current == s {
			s.cam.current = nil
		}
		s.cam.mu.Unlock()
	})
	return nil
}
