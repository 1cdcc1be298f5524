package camera

import (
	"context"
	"sync"
)

// Push is a camera whose frames are uploaded by a browser client.
type Push struct {
	name string

	mu      sync.Mutex
	current *pushStream
}

// NewPush creates a push camera.
func NewPush(name string) *Push { return &Push{name: name} }

func (p *Push) Name() string { return p.name }

// Open closes any previous stream and starts a new one.
func (p *Push) Open(_ context.Context) (Stream, error) {
	s := &pushStream{
		owner:  p,
		frames: make(chan *Frame, 1),
		done:   make(chan struct{}),
	}
	p.mu.Lock()
	prev := p.current
	p.current = s
	p.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return s, nil
}

// Deliver hands f to the open stream, replacing an unread frame. It reports false
// when no stream is open.
func (p *Push) Deliver(f *Frame) bool {
	p.mu.Lock()
	s := p.current
	p.mu.Unlock()
	if s == nil {
		return false
	}
	return s.offer(f)
}

func (p *Push) release(s *pushStream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == s {
		p.current = nil
	}
}

type pushStream struct {
	owner  *Push
	frames chan *Frame
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
}

func (s *pushStream) offer(f *Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case <-s.frames:
	default:
	}
	s.frames <- f
	return true
}

func (s *pushStream) Next(ctx context.Context) (*Frame, error) {
	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *pushStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.owner.release(s)
	})
	return nil
}
