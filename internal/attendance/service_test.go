package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/model"
	"github.com/campuscheck/attendance/internal/queue"
	"github.com/campuscheck/attendance/internal/store"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []queue.Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func newTestService(t *testing.T, now time.Time) (*Service, *store.Memory, *recordingPublisher) {
	t.Helper()
	st := store.NewMemory()
	pub := &recordingPublisher{}
	svc := NewService(st, pub, time.UTC, zap.NewNop())
	svc.now = func() time.Time { return now }
	require.NoError(t, st.CreateMember(context.Background(), &model.Member{ID: "2024-0001", FullName: "Ana Reyes", Role: "student"}))
	return svc, st, pub
}

func TestRecord_ComputesLatenessAndPublishes(t *testing.T) {
	svc, st, pub := newTestService(t, at(8, 31))
	ctx := context.Background()
	ev := assembly()
	ev.ID = 0
	ev.Date, _ = model.ParseDate("2024-05-01", time.UTC)
	require.NoError(t, st.CreateEvent(ctx, ev))

	rec, err := svc.Record(ctx, RecordRequest{MemberID: "2024-0001", EventID: &ev.ID})
	require.NoError(t, err)
	assert.True(t, rec.IsLate)
	assert.Equal(t, model.CheckIn, rec.Kind)
	assert.Equal(t, "Ana Reyes", rec.FullName)
	assert.Equal(t, "2024-05-01", rec.Day.String())

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, queue.TypeAttendanceRecorded, pub.msgs[0].Type)
	var body queue.AttendanceRecorded
	require.NoError(t, pub.msgs[0].Decode(&body))
	assert.Equal(t, rec.ID, body.LogID)

	_, err = svc.Record(ctx, RecordRequest{MemberID: "2024-0001", EventID: &ev.ID})
	assert.True(t, apperr.Is(err, apperr.Conflict))
	assert.Len(t, pub.msgs, 1)
}

func TestRecord_Validation(t *testing.T) {
	svc, _, _ := newTestService(t, at(9, 0))
	ctx := context.Background()

	_, err := svc.Record(ctx, RecordRequest{})
	assert.True(t, apperr.Is(err, apperr.Validation))

	_, err = svc.Record(ctx, RecordRequest{MemberID: "2024-0001", Kind: "lunch"})
	assert.True(t, apperr.Is(err, apperr.Validation))

	_, err = svc.Record(ctx, RecordRequest{MemberID: "9999-9999"})
	assert.True(t, apperr.Is(err, apperr.NotFound))

	missing := int64(42)
	_, err = svc.Record(ctx, RecordRequest{MemberID: "2024-0001", EventID: &missing})
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestRecord_ExplicitTimeAndName(t *testing.T) {
	svc, _, _ := newTestService(t, at(9, 0))
	ts := time.Date(2024, 4, 30, 7, 0, 0, 0, time.UTC)

	rec, err := svc.Record(context.Background(), RecordRequest{
		MemberID: "2024-0001",
		FullName: "Ana R.",
		Kind:     model.CheckOut,
		Time:     ts,
	})
	require.NoError(t, err)
	assert.False(t, rec.IsLate)
	assert.Equal(t, "Ana R.", rec.FullName)
	assert.Equal(t, "2024-04-30", rec.Day.String())
	assert.Nil(t, rec.EventID)
}

type stalledPublisher struct{}

func (stalledPublisher) Publish(ctx context.Context, _ queue.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCommit_FullQueueDoesNotBlockWrite(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.CreateMember(ctx, &model.Member{ID: "2024-0001", FullName: "Ana Reyes", Role: "student"}))

	q := queue.NewInMemory(1)
	require.NoError(t, q.Publish(ctx, queue.Message{Type: queue.TypeMemberEnroll}))
	svc := NewService(st, q, time.UTC, zap.NewNop())
	svc.now = func() time.Time { return at(8, 0) }

	done := make(chan error, 1)
	go func() {
		_, err := svc.Record(ctx, RecordRequest{MemberID: "2024-0001"})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("record blocked on a full queue")
	}
	got, err := st.ListAttendance(ctx, model.AttendanceFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCommit_StalledPublisherIsBounded(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.CreateMember(ctx, &model.Member{ID: "2024-0001", FullName: "Ana Reyes", Role: "student"}))
	svc := NewService(st, stalledPublisher{}, time.UTC, zap.NewNop())
	svc.now = func() time.Time { return at(8, 0) }
	svc.publishTimeout = 20 * time.Millisecond

	start := time.Now()
	_, err := svc.Record(ctx, RecordRequest{MemberID: "2024-0001"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
