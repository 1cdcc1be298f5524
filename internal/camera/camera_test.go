package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/config"
)

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := imaging.New(32, 24, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func TestPush_DeliverAndNext(t *testing.T) {
	cam := NewPush("kiosk")
	assert.False(t, cam.Deliver(NewFrame([]byte("x"), "image/jpeg", time.Now())), "no stream open yet")

	s, err := cam.Open(context.Background())
	require.NoError(t, err)

	require.True(t, cam.Deliver(NewFrame([]byte("old"), "image/jpeg", time.Now())))
	require.True(t, cam.Deliver(NewFrame([]byte("new"), "image/jpeg", time.Now())))

	f, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), f.Data, "unread frames are replaced")

	require.NoError(t, s.Close())
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, cam.Deliver(NewFrame([]byte("x"), "image/jpeg", time.Now())))
}

func TestPush_OpenClosesPreviousStream(t *testing.T) {
	cam := NewPush("kiosk")
	first, err := cam.Open(context.Background())
	require.NoError(t, err)
	second, err := cam.Open(context.Background())
	require.NoError(t, err)

	_, err = first.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	require.True(t, cam.Deliver(NewFrame([]byte("a"), "", time.Now())))
	f, err := second.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), f.Data)

	require.NoError(t, first.Close())
	assert.True(t, cam.Deliver(NewFrame([]byte("b"), "", time.Now())), "closing a stale stream leaves the new one open")
}

func TestPush_NextHonoursContext(t *testing.T) {
	s, err := NewPush("kiosk").Open(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSnapshot_PollsEndpoint(t *testing.T) {
	img := jpegBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	cam := NewSnapshot("gate", srv.URL, time.Millisecond)
	s, err := cam.Open(context.Background())
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 2; i++ {
		f, err := s.Next(context.Background())
		require.NoError(t, err)
		decoded, err := f.Image()
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 32, 24), decoded.Bounds())
	}
}

func TestSnapshot_UnreachableIsResourceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSnapshot("gate", srv.URL, 0).Open(context.Background())
	assert.True(t, apperr.Is(err, apperr.ResourceUnavailable), "got %v", err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry([]config.CameraConfig{
		{Name: "kiosk", Kind: "push"},
		{Name: "gate", Kind: "snapshot", URL: "http://127.0.0.1:1/snap"},
	})

	_, err := r.Get("missing")
	assert.True(t, apperr.Is(err, apperr.NotFound))

	err = r.Push("gate", NewFrame(nil, "", time.Now()))
	assert.True(t, apperr.Is(err, apperr.Validation))

	err = r.Push("kiosk", NewFrame(nil, "", time.Now()))
	assert.True(t, apperr.Is(err, apperr.Conflict))

	assert.ElementsMatch(t, []string{"kiosk", "gate"}, r.Names())
}
