package face

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/campuscheck/attendance/internal/camera"
	"github.com/campuscheck/attendance/internal/faceclient"
)

// Embedder produces a face embedding for an encoded image.
type Embedder interface {
	EmbedImage(ctx context.Context, image []byte, filename string) (*faceclient.EmbedResult, error)
}

// Service matches frames by embedding them remotely and searching the gallery locally.
type Service struct {
	embedder Embedder
	maxWidth int
}

// NewService creates a matcher. Frames wider than maxWidth are downscaled first;
// zero keeps frames as they are.
func NewService(embedder Embedder, maxWidth int) *Service {
	return &Service{embedder: embedder, maxWidth: maxWidth}
}

// Match embeds the face in f and returns its nearest gallery entry.
func (s *Service) Match(ctx context.Context, f *camera.Frame, gallery []Entry) (MatchResult, error) {
	payload, err := s.prepare(f)
	if err != nil {
		return MatchResult{}, err
	}

	res, err := s.embedder.EmbedImage(ctx, payload, "frame.jpg")
	if errors.Is(err, faceclient.ErrNoFace) {
		return MatchResult{}, nil
	}
	if err != nil {
		return MatchResult{}, err
	}

	label, dist, ok := Nearest(res.Embedding, gallery)
	if !ok {
		// A face was found but nothing in the gallery is comparable.
		return MatchResult{Detected: true, Distance: dist}, nil
	}
	return MatchResult{Detected: true, Label: label, Distance: dist}, nil
}

func (s *Service) prepare(f *camera.Frame) ([]byte, error) {
	img, err := f.Image()
	if err != nil {
		return nil, err
	}
	if s.maxWidth <= 0 || img.Bounds().Dx() <= s.maxWidth {
		return f.Data, nil
	}
	small := imaging.Resize(img, s.maxWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, small, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
