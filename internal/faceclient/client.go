package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/config"
)

// ErrNoFace is returned when the service finds no face in the image.
var ErrNoFace = errors.New("no face detected in image")

// ErrDisabled is wrapped as ResourceUnavailable by every embed call when Skip is set.
var ErrDisabled = errors.New("face service disabled")

// FaceQuality contains face quality metrics.
type FaceQuality struct {
	Score     float64 `json:"score"`
	Blur      float64 `json:"blur"`
	IsFrontal bool    `json:"is_frontal"`
}

// EmbedResult contains the face embedding and detection confidence.
type EmbedResult struct {
	Embedding     []float32    `json:"embedding"`
	Score         float64      `json:"score"`
	FacesDetected int          `json:"faces_detected"`
	Quality       *FaceQuality `json:"quality"`
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with the configured timeout.
func New(cfg config.FaceConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: cfg.ServiceURL,
		Skip:    cfg.Skip,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) disabled() error {
	return apperr.Wrap(apperr.ResourceUnavailable, ErrDisabled, "face verification is turned off")
}

// EmbedURL asks the service to fetch imageURL and embed the face in it.
func (c *Client) EmbedURL(ctx context.Context, imageURL string) (*EmbedResult, error) {
	if c.Skip {
		return nil, c.disabled()
	}
	if imageURL == "" {
		return nil, apperr.New(apperr.Validation, "image url required")
	}

	body, _ := json.Marshal(map[string]string{"image_url": imageURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doEmbed(req)
}

// EmbedImage uploads encoded image bytes and returns the embedding of the detected face.
func (c *Client) EmbedImage(ctx context.Context, image []byte, filename string) (*EmbedResult, error) {
	if c.Skip {
		return nil, c.disabled()
	}
	if len(image) == 0 {
		return nil, apperr.New(apperr.Validation, "image required")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embed", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.doEmbed(req)
}

func (c *Client) doEmbed(req *http.Request) (*EmbedResult, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, apperr.Wrap(apperr.ResourceUnavailable, err, "face service request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, ErrNoFace
	case resp.StatusCode >= 500:
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, apperr.Wrap(apperr.ResourceUnavailable,
			fmt.Errorf("%s: %s", resp.Status, string(bodyBytes)), "face service error")
	case resp.StatusCode >= 300:
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out EmbedResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, ErrNoFace
	}
	return &out, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}
