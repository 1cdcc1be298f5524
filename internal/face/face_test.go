package face

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/camera"
	"github.com/campuscheck/attendance/internal/faceclient"
	"github.com/campuscheck/attendance/internal/model"
)

type stubEmbedder struct {
	result *faceclient.EmbedResult
	err    error
	got    []byte
}

func (s *stubEmbedder) EmbedImage(_ context.Context, image []byte, _ string) (*faceclient.EmbedResult, error) {
	s.got = image
	return s.result, s.err
}

func frameOf(t *testing.T, w, h int) *camera.Frame {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(w, h, color.Gray{Y: 128}), imaging.JPEG))
	return camera.NewFrame(buf.Bytes(), "image/jpeg", time.Now())
}

func TestNearest(t *testing.T) {
	gallery := []Entry{
		{Label: "a", Descriptor: model.Descriptor{0, 0}},
		{Label: "b", Descriptor: model.Descriptor{3, 4}},
		{Label: "short", Descriptor: model.Descriptor{1}},
	}
	label, dist, ok := Nearest(model.Descriptor{3, 3}, gallery)
	require.True(t, ok)
	assert.Equal(t, "b", label)
	assert.InDelta(t, 1.0, dist, 1e-9)

	_, _, ok = Nearest(model.Descriptor{1, 1}, nil)
	assert.False(t, ok)
}

func TestBuildGallery_SkipsUnusableDescriptors(t *testing.T) {
	members := []model.Member{
		{ID: "2024-0001", Descriptor: model.Descriptor{1, 2, 3}},
		{ID: "2024-0002"},
		{ID: "2024-0003", Descriptor: model.Descriptor{1, 2}},
	}
	gallery := BuildGallery(members, 3, zap.NewNop())
	require.Len(t, gallery, 1)
	assert.Equal(t, "2024-0001", gallery[0].Label)
}

func TestMatch_NoFace(t *testing.T) {
	svc := NewService(&stubEmbedder{err: faceclient.ErrNoFace}, 0)
	res, err := svc.Match(context.Background(), frameOf(t, 16, 16), nil)
	require.NoError(t, err)
	assert.False(t, res.Detected)
}

func TestMatch_FindsNearestAndDownscales(t *testing.T) {
	emb := &stubEmbedder{result: &faceclient.EmbedResult{Embedding: []float32{0.1, 0.1}}}
	svc := NewService(emb, 64)
	gallery := []Entry{{Label: "2024-0001", Descriptor: model.Descriptor{0.1, 0.5}}}

	res, err := svc.Match(context.Background(), frameOf(t, 256, 128), gallery)
	require.NoError(t, err)
	assert.True(t, res.Detected)
	assert.Equal(t, "2024-0001", res.Label)
	assert.InDelta(t, 0.4, res.Distance, 1e-6)

	sent, err := imaging.Decode(bytes.NewReader(emb.got))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 32), sent.Bounds())
}
