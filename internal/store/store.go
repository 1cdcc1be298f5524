// Package store persists members, events and attendance records.
package store

import (
	"context"

	"github.com/campuscheck/attendance/internal/model"
)

// Store is the record store used by every service. Implementations must be safe for
// concurrent use and enforce the attendance uniqueness rules atomically.
type Store interface {
	FindMember(ctx context.Context, id string) (*model.Member, error)
	ListMembers(ctx context.Context) ([]model.Member, error)
	CountMembers(ctx context.Context) (int, error)
	// CreateMember fails with a Conflict error when the id is taken.
	CreateMember(ctx context.Context, m *model.Member) error
	UpdateMember(ctx context.Context, m *model.Member) error
	// DeleteMember removes the member and all of its attendance records.
	DeleteMember(ctx context.Context, id string) error

	ListEvents(ctx context.Context, activeOnly bool) ([]model.Event, error)
	FindEvent(ctx context.Context, id int64) (*model.Event, error)
	CreateEvent(ctx context.Context, e *model.Event) error
	UpdateEvent(ctx context.Context, e *model.Event) error
	// DeleteEvent removes the event and clears the event id of records that referenced it.
	DeleteEvent(ctx context.Context, id int64) error
	// DeactivateEventsBefore marks active events dated before day inactive.
	DeactivateEventsBefore(ctx context.Context, day model.Date) (int64, error)

	// CreateAttendance assigns rec.ID, or fails with a Conflict error when a record
	// with the same member, kind and event (or day, for records without an event) exists.
	CreateAttendance(ctx context.Context, rec *model.AttendanceRecord) error
	// ListAttendance returns matching entries, newest first.
	ListAttendance(ctx context.Context, f model.AttendanceFilter) ([]model.AttendanceEntry, error)

	Ping(ctx context.Context) error
	Close() error
}
