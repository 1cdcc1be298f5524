// Package worker processes queued background jobs and scheduled maintenance.
package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/faceclient"
	"github.com/campuscheck/attendance/internal/metrics"
	"github.com/campuscheck/attendance/internal/model"
	"github.com/campuscheck/attendance/internal/queue"
)

// Members reads members and stores computed descriptors.
type Members interface {
	Get(ctx context.Context, id string) (*model.Member, error)
	SetDescriptor(ctx context.Context, id string, d model.Descriptor) error
}

// Embedder computes a face embedding from a photo.
type Embedder interface {
	EmbedURL(ctx context.Context, imageURL string) (*faceclient.EmbedResult, error)
	EmbedImage(ctx context.Context, image []byte, filename string) (*faceclient.EmbedResult, error)
}

// Dashboards drops cached dashboard statistics.
type Dashboards interface {
	Invalidate(ctx context.Context) error
}

// Events deactivates events whose day has passed.
type Events interface {
	DeactivatePast(ctx context.Context) (int64, error)
}

// Deps are the collaborators a Worker dispatches to. Dashboards and Events may be nil.
type Deps struct {
	Members    Members
	Embedder   Embedder
	Dashboards Dashboards
	Events     Events
	Log        *zap.Logger
}

// Worker consumes queue messages and runs scheduled jobs.
type Worker struct {
	deps Deps
	log  *zap.Logger
}

func New(deps Deps) *Worker {
	return &Worker{deps: deps, log: deps.Log}
}

// Run starts the schedule and handles messages until ctx is done or the queue closes.
func (w *Worker) Run(ctx context.Context, q queue.Queue, schedule string) error {
	if w.deps.Events != nil && schedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(schedule, func() { w.deactivatePast(ctx) }); err != nil {
			return fmt.Errorf("schedule %q: %w", schedule, err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		w.deactivatePast(ctx)
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	w.log.Info("worker started")
	for msg := range messages {
		start := time.Now()
		result := "ok"
		if err := w.Handle(ctx, msg); err != nil {
			result = "error"
			w.log.Error("message failed", zap.String("type", msg.Type), zap.Error(err))
		} else {
			w.log.Debug("message handled", zap.String("type", msg.Type), zap.Duration("took", time.Since(start)))
		}
		metrics.QueueMessages.WithLabelValues(msg.Type, result).Inc()
	}
	w.log.Info("worker stopped")
	return nil
}

// Handle dispatches one message. Unknown types are ignored.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	switch msg.Type {
	case queue.TypeMemberEnroll:
		var body queue.MemberEnroll
		if err := msg.Decode(&body); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		return w.enroll(ctx, body.MemberID)
	case queue.TypeAttendanceRecorded:
		if w.deps.Dashboards == nil {
			return nil
		}
		return w.deps.Dashboards.Invalidate(ctx)
	default:
		w.log.Debug("ignoring message", zap.String("type", msg.Type))
		return nil
	}
}

func (w *Worker) enroll(ctx context.Context, memberID string) error {
	m, err := w.deps.Members.Get(ctx, memberID)
	if apperr.Is(err, apperr.NotFound) {
		w.log.Info("member gone before enrollment", zap.String("member_id", memberID))
		return nil
	}
	if err != nil {
		return err
	}
	if m.Photo == "" {
		return nil
	}

	var res *faceclient.EmbedResult
	if strings.HasPrefix(m.Photo, "data:") {
		img, name, derr := decodeDataURL(m.Photo)
		if derr != nil {
			return fmt.Errorf("member %s photo: %w", memberID, derr)
		}
		res, err = w.deps.Embedder.EmbedImage(ctx, img, name)
	} else {
		res, err = w.deps.Embedder.EmbedURL(ctx, m.Photo)
	}
	if errors.Is(err, faceclient.ErrNoFace) {
		w.log.Warn("no face in member photo", zap.String("member_id", memberID))
		return nil
	}
	if errors.Is(err, faceclient.ErrDisabled) {
		w.log.Info("face service disabled, enrollment skipped", zap.String("member_id", memberID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("embed member %s: %w", memberID, err)
	}

	if err := w.deps.Members.SetDescriptor(ctx, memberID, model.Descriptor(res.Embedding)); err != nil {
		return err
	}
	w.log.Info("member enrolled",
		zap.String("member_id", memberID),
		zap.Int("faces", res.FacesDetected),
		zap.Float64("score", res.Score))
	return nil
}

func (w *Worker) deactivatePast(ctx context.Context) {
	if _, err := w.deps.Events.DeactivatePast(ctx); err != nil {
		w.log.Error("deactivate past events failed", zap.Error(err))
	}
}

// decodeDataURL splits "data:image/png;base64,..." into bytes and a filename.
func decodeDataURL(s string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return nil, "", errors.New("not a base64 data URL")
	}
	img, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", err
	}
	ext := "jpg"
	if _, sub, ok := strings.Cut(strings.TrimSuffix(header, ";base64"), "/"); ok && sub != "" {
		ext = sub
	}
	return img, "photo." + ext, nil
}
