package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/camera"
	"github.com/campuscheck/attendance/internal/capture"
	"github.com/campuscheck/attendance/internal/model"
	"github.com/campuscheck/attendance/internal/response"
)

// CaptureHandler serves /api/capture: workflow sessions and pushed camera frames.
type CaptureHandler struct {
	sessions      *capture.Manager
	cameras       *camera.Registry
	maxFrameBytes int64
	now           func() time.Time
}

func NewCaptureHandler(sessions *capture.Manager, cameras *camera.Registry, maxFrameBytes int64) *CaptureHandler {
	if maxFrameBytes <= 0 {
		maxFrameBytes = 4 << 20
	}
	return &CaptureHandler{sessions: sessions, cameras: cameras, maxFrameBytes: maxFrameBytes, now: time.Now}
}

type startRequest struct {
	ScanCamera string `json:"scanCamera" binding:"required"`
	FaceCamera string `json:"faceCamera"`
	EventID    *int64 `json:"eventId"`
	Kind       string `json:"attendanceType"`
}

// Start begins a session on the scan camera, replacing any session already using it.
// POST /api/capture/sessions
func (h *CaptureHandler) Start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	snap, err := h.sessions.Start(c.Request.Context(), capture.StartRequest{
		ScanCamera: req.ScanCamera,
		FaceCamera: req.FaceCamera,
		EventID:    req.EventID,
		Kind:       model.AttendanceKind(req.Kind),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, snap)
}

// Get reports the session's current state.
// GET /api/capture/sessions/:id
func (h *CaptureHandler) Get(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s.Snapshot())
}

// Confirm accepts the scanned member and starts face verification.
// POST /api/capture/sessions/:id/confirm
func (h *CaptureHandler) Confirm(c *gin.Context) {
	snap, err := h.sessions.Confirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, snap)
}

// Retry re-attempts a failed attendance write.
// POST /api/capture/sessions/:id/retry
func (h *CaptureHandler) Retry(c *gin.Context) {
	snap, err := h.sessions.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, snap)
}

// Cancel stops the session and releases its camera.
// DELETE /api/capture/sessions/:id
func (h *CaptureHandler) Cancel(c *gin.Context) {
	snap, err := h.sessions.Cancel(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, snap)
}

// PushFrame delivers one image to a push camera. The body is either the raw image
// or a multipart form with a "frame" file.
// POST /api/capture/cameras/:name/frames
func (h *CaptureHandler) PushFrame(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFrameBytes)

	data, contentType, err := h.readFrame(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Fail(c, http.StatusRequestEntityTooLarge, "frame too large")
			return
		}
		response.Error(c, err)
		return
	}
	if len(data) == 0 {
		response.Error(c, apperr.New(apperr.Validation, "empty frame"))
		return
	}

	if err := h.cameras.Push(c.Param("name"), camera.NewFrame(data, contentType, h.now())); err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusAccepted, response.Envelope{Success: true, Message: "frame accepted"})
}

func (h *CaptureHandler) readFrame(c *gin.Context) ([]byte, string, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("frame")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, "", err
			}
			return nil, "", apperr.Wrap(apperr.Validation, err, "frame file is required")
		}
		f, err := fh.Open()
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		return data, fh.Header.Get("Content-Type"), err
	}
	data, err := io.ReadAll(c.Request.Body)
	return data, c.ContentType(), err
}
