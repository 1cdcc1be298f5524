package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/model"
)

// runContract exercises behaviour every Store backend must share.
func runContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("member round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		m := &model.Member{ID: "2024-0001", FullName: "Ana Reyes", Role: "student", Descriptor: testDescriptor(0.1)}
		require.NoError(t, s.CreateMember(ctx, m))

		got, err := s.FindMember(ctx, "2024-0001")
		require.NoError(t, err)
		assert.Equal(t, "Ana Reyes", got.FullName)
		assert.Equal(t, "student", got.Role)
		assert.InDeltaSlice(t, []float32(m.Descriptor), []float32(got.Descriptor), 1e-6)

		err = s.CreateMember(ctx, &model.Member{ID: "2024-0001", FullName: "Dup"})
		assert.True(t, apperr.Is(err, apperr.Conflict), "got %v", err)

		got.FullName = "Ana R."
		require.NoError(t, s.UpdateMember(ctx, got))
		again, err := s.FindMember(ctx, "2024-0001")
		require.NoError(t, err)
		assert.Equal(t, "Ana R.", again.FullName)

		n, err := s.CountMembers(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.FindMember(ctx, "9999-9999")
		assert.True(t, apperr.Is(err, apperr.NotFound))
	})

	t.Run("event scoped duplicate conflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedMember(t, s, "2024-0002")
		ev := seedEvent(t, s)

		first := newRecord("2024-0002", &ev.ID, model.CheckIn, day(t, "2024-05-01"))
		require.NoError(t, s.CreateAttendance(ctx, first))
		assert.NotZero(t, first.ID)

		second := newRecord("2024-0002", &ev.ID, model.CheckIn, day(t, "2024-05-02"))
		err := s.CreateAttendance(ctx, second)
		assert.True(t, apperr.Is(err, apperr.Conflict), "got %v", err)

		out := newRecord("2024-0002", &ev.ID, model.CheckOut, day(t, "2024-05-01"))
		require.NoError(t, s.CreateAttendance(ctx, out))
	})

	t.Run("day scoped duplicate conflicts only on same day", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedMember(t, s, "2024-0003")

		require.NoError(t, s.CreateAttendance(ctx, newRecord("2024-0003", nil, model.CheckIn, day(t, "2024-05-01"))))
		err := s.CreateAttendance(ctx, newRecord("2024-0003", nil, model.CheckIn, day(t, "2024-05-01")))
		assert.True(t, apperr.Is(err, apperr.Conflict), "got %v", err)
		require.NoError(t, s.CreateAttendance(ctx, newRecord("2024-0003", nil, model.CheckIn, day(t, "2024-05-02"))))
	})

	t.Run("event delete nulls reference without colliding", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedMember(t, s, "2024-0004")
		ev := seedEvent(t, s)
		d := day(t, "2024-05-01")

		require.NoError(t, s.CreateAttendance(ctx, newRecord("2024-0004", &ev.ID, model.CheckIn, d)))
		require.NoError(t, s.DeleteEvent(ctx, ev.ID))

		entries, err := s.ListAttendance(ctx, model.AttendanceFilter{MemberID: "2024-0004"})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Nil(t, entries[0].EventID)

		require.NoError(t, s.CreateAttendance(ctx, newRecord("2024-0004", nil, model.CheckIn, d)))

		_, err = s.FindEvent(ctx, ev.ID)
		assert.True(t, apperr.Is(err, apperr.NotFound))
	})

	t.Run("member delete cascades", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedMember(t, s, "2024-0005")
		require.NoError(t, s.CreateAttendance(ctx, newRecord("2024-0005", nil, model.CheckIn, day(t, "2024-05-01"))))

		require.NoError(t, s.DeleteMember(ctx, "2024-0005"))
		entries, err := s.ListAttendance(ctx, model.AttendanceFilter{MemberID: "2024-0005"})
		require.NoError(t, err)
		assert.Empty(t, entries)

		err = s.DeleteMember(ctx, "2024-0005")
		assert.True(t, apperr.Is(err, apperr.NotFound))
	})

	t.Run("list filters and joins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedMember(t, s, "2024-0006")
		seedMember(t, s, "2024-0007")
		ev := seedEvent(t, s)
		d := day(t, "2024-05-01")

		require.NoError(t, s.CreateAttendance(ctx, newRecord("2024-0006", &ev.ID, model.CheckIn, d)))
		require.NoError(t, s.CreateAttendance(ctx, newRecord("2024-0007", nil, model.CheckIn, d)))
		require.NoError(t, s.CreateAttendance(ctx, newRecord("2024-0007", nil, model.CheckOut, d)))

		byEvent, err := s.ListAttendance(ctx, model.AttendanceFilter{EventID: &ev.ID})
		require.NoError(t, err)
		require.Len(t, byEvent, 1)
		assert.Equal(t, "Assembly", byEvent[0].EventName)
		assert.Equal(t, "tester", byEvent[0].Role)

		outs, err := s.ListAttendance(ctx, model.AttendanceFilter{Kind: model.CheckOut})
		require.NoError(t, err)
		assert.Len(t, outs, 1)

		limited, err := s.ListAttendance(ctx, model.AttendanceFilter{Date: &d, Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("concurrent identical inserts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedMember(t, s, "2024-0008")
		ev := seedEvent(t, s)

		var ok, conflicts int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.CreateAttendance(ctx, newRecord("2024-0008", &ev.ID, model.CheckIn, day(t, "2024-05-01")))
				switch {
				case err == nil:
					atomic.AddInt32(&ok, 1)
				case apperr.Is(err, apperr.Conflict):
					atomic.AddInt32(&conflicts, 1)
				}
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, ok)
		assert.EqualValues(t, 7, conflicts)
	})

	t.Run("deactivate past events", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		past := seedEvent(t, s)
		future := &model.Event{
			Name: "Later", Date: day(t, "2030-01-01"), IsActive: true,
			TimeIn:  model.Window{Start: 8 * 3600, End: 9 * 3600},
			TimeOut: model.Window{Start: 16 * 3600, End: 17 * 3600},
		}
		require.NoError(t, s.CreateEvent(ctx, future))

		n, err := s.DeactivateEventsBefore(ctx, day(t, "2025-01-01"))
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		active, err := s.ListEvents(ctx, true)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, future.ID, active[0].ID)

		got, err := s.FindEvent(ctx, past.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
	})
}

func testDescriptor(seed float32) model.Descriptor {
	d := make(model.Descriptor, model.DefaultDescriptorLength)
	for i := range d {
		d[i] = seed + float32(i)/1000
	}
	return d
}

func day(t *testing.T, s string) model.Date {
	t.Helper()
	d, err := model.ParseDate(s, time.UTC)
	require.NoError(t, err)
	return d
}

func seedMember(t *testing.T, s Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateMember(context.Background(), &model.Member{ID: id, FullName: "Member " + id, Role: "tester"}))
}

func seedEvent(t *testing.T, s Store) *model.Event {
	t.Helper()
	ev := &model.Event{
		Name:     "Assembly",
		Date:     day(t, "2024-05-01"),
		TimeIn:   model.Window{Start: 8 * 3600, End: 8*3600 + 30*60},
		TimeOut:  model.Window{Start: 16 * 3600, End: 17 * 3600},
		IsActive: true,
	}
	require.NoError(t, s.CreateEvent(context.Background(), ev))
	return ev
}

func newRecord(memberID string, eventID *int64, kind model.AttendanceKind, d model.Date) *model.AttendanceRecord {
	return &model.AttendanceRecord{
		MemberID: memberID,
		FullName: "Member " + memberID,
		EventID:  eventID,
		Kind:     kind,
		Time:     d.Add(9 * time.Hour),
		Day:      d,
	}
}
