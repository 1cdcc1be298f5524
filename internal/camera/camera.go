// Package camera provides exclusive frame streams from snapshot and push cameras.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/config"
)

// ErrClosed is returned by Next after the stream was closed.
var ErrClosed = errors.New("camera stream closed")

// Frame is one encoded image pulled from a camera.
type Frame struct {
	Data        []byte
	ContentType string
	CapturedAt  time.Time

	once sync.Once
	img  image.Image
	err  error
}

// NewFrame wraps encoded image bytes.
func NewFrame(data []byte, contentType string, at time.Time) *Frame {
	return &Frame{Data: data, ContentType: contentType, CapturedAt: at}
}

// Image decodes the frame once, honouring EXIF orientation.
func (f *Frame) Image() (image.Image, error) {
	f.once.Do(func() {
		f.img, f.err = imaging.Decode(bytes.NewReader(f.Data), imaging.AutoOrientation(true))
		if f.err != nil {
			f.err = fmt.Errorf("decode frame: %w", f.err)
		}
	})
	return f.img, f.err
}

// Stream yields frames until closed. Implementations are safe for concurrent use.
type Stream interface {
	// Next blocks until a frame is available, ctx is done or the stream is closed.
	Next(ctx context.Context) (*Frame, error)
	Close() error
}

// Camera hands out one stream at a time. Opening a camera closes any stream it
// previously handed out.
type Camera interface {
	Name() string
	Open(ctx context.Context) (Stream, error)
}

// Registry resolves configured cameras by name.
type Registry struct {
	cameras map[string]Camera
}

// NewRegistry builds cameras from config.
func NewRegistry(cfgs []config.CameraConfig) *Registry {
	r := &Registry{cameras: make(map[string]Camera, len(cfgs))}
	for _, c := range cfgs {
		switch c.Kind {
		case "snapshot":
			r.cameras[c.Name] = NewSnapshot(c.Name, c.URL, c.Interval)
		default:
			r.cameras[c.Name] = NewPush(c.Name)
		}
	}
	return r
}

// Get returns the named camera.
func (r *Registry) Get(name string) (Camera, error) {
	cam, ok := r.cameras[name]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "camera %q not configured", name)
	}
	return cam, nil
}

// Push delivers an uploaded frame to the named push camera.
func (r *Registry) Push(name string, f *Frame) error {
	cam, err := r.Get(name)
	if err != nil {
		return err
	}
	push, ok := cam.(*Push)
	if !ok {
		return apperr.New(apperr.Validation, "camera %q does not accept uploaded frames", name)
	}
	if !push.Deliver(f) {
		return apperr.New(apperr.Conflict, "camera %q has no active session", name)
	}
	return nil
}

// Names lists the configured cameras.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.cameras))
	for name := range r.cameras {
		out = append(out, name)
	}
	return out
}
