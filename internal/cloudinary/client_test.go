package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuscheck/attendance/internal/config"
)

func testClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := New(config.CloudinaryConfig{CloudName: "demo", APIKey: "key", APISecret: "secret", Folder: "members"})
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestUploadBase64_SignsRequest(t *testing.T) {
	want := fmt.Sprintf("%x", sha1.Sum([]byte("folder=members&timestamp=1700000000secret")))

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "key", r.FormValue("api_key"))
		assert.Equal(t, "members", r.FormValue("folder"))
		assert.Equal(t, want, r.FormValue("signature"))
		assert.Equal(t, "data:image/png;base64,AAAA", r.FormValue("file"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"public_id":"members/x","secure_url":"https://res.example/x.png"}`))
	})

	res, err := c.UploadBase64(context.Background(), "data:image/png;base64,AAAA")
	require.NoError(t, err)
	assert.Equal(t, "https://res.example/x.png", res.SecureURL)
	assert.Equal(t, "members/x", res.PublicID)
}

func TestUploadBytes_SendsFile(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "face.jpg", hdr.Filename)
		_, _ = w.Write([]byte(`{"secure_url":"https://res.example/face.jpg"}`))
	})

	res, err := c.UploadBytes(context.Background(), []byte{0xff, 0xd8}, "face.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://res.example/face.jpg", res.SecureURL)
}

func TestUpload_ErrorStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	})

	_, err := c.UploadBase64(context.Background(), "AAAA")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "Invalid Signature")
}
