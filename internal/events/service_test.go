package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/store"
)

func assemblyInput(date string) Input {
	return Input{
		Name:         "Assembly",
		Date:         date,
		TimeInStart:  "07:30",
		TimeInEnd:    "08:30",
		TimeOutStart: "16:00",
		TimeOutEnd:   "17:00",
	}
}

func newTestService() *Service {
	svc := NewService(store.NewMemory(), time.UTC, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC) }
	return svc
}

func TestCreate(t *testing.T) {
	svc := newTestService()

	e, err := svc.Create(context.Background(), assemblyInput("2024-05-10"))
	require.NoError(t, err)
	assert.NotZero(t, e.ID)
	assert.True(t, e.IsActive)
	assert.Equal(t, "08:30:00", e.TimeIn.End.String())
	assert.Equal(t, "2024-05-10", e.Date.String())
}

func TestCreate_Invalid(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	missing := assemblyInput("2024-05-10")
	missing.TimeOutEnd = ""
	_, err := svc.Create(ctx, missing)
	require.Error(t, err)
	assert.Equal(t, "timeOutEnd is required", apperr.Message(err))

	badDate := assemblyInput("10/05/2024")
	_, err = svc.Create(ctx, badDate)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	inverted := assemblyInput("2024-05-10")
	inverted.TimeInStart, inverted.TimeInEnd = "09:00", "08:00"
	_, err = svc.Create(ctx, inverted)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	assert.Contains(t, apperr.Message(err), "time-in window")
}

func TestUpdate(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	e, err := svc.Create(ctx, assemblyInput("2024-05-10"))
	require.NoError(t, err)

	end := "09:00"
	inactive := false
	got, err := svc.Update(ctx, e.ID, PatchInput{TimeInEnd: &end, IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "09:00:00", got.TimeIn.End.String())
	assert.False(t, got.IsActive)

	start := "10:00"
	_, err = svc.Update(ctx, e.ID, PatchInput{TimeInStart: &start})
	assert.Equal(t, apperr.Validation, apperr.KindOf(err), "window would be inverted")

	_, err = svc.Update(ctx, e.ID, PatchInput{})
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	_, err = svc.Update(ctx, 999, PatchInput{TimeInEnd: &end})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestListAndDeactivatePast(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	for _, d := range []string{"2024-05-08", "2024-05-10", "2024-05-12"} {
		_, err := svc.Create(ctx, assemblyInput(d))
		require.NoError(t, err)
	}

	n, err := svc.DeactivatePast(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	active, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "2024-05-12", active[0].Date.String())

	all, err := svc.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDelete(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	e, err := svc.Create(ctx, assemblyInput("2024-05-10"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, e.ID))
	_, err = svc.Get(ctx, e.ID)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}
