package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuscheck/attendance/internal/model"
)

func TestAttendanceFilterSQL(t *testing.T) {
	day, err := model.ParseDate("2024-05-01", time.UTC)
	require.NoError(t, err)
	ev := int64(7)

	tests := []struct {
		name  string
		f     model.AttendanceFilter
		query string
		args  []any
	}{
		{"unfiltered", model.AttendanceFilter{},
			" ORDER BY a.attendance_time DESC, a.log_id DESC", nil},
		{"member and limit", model.AttendanceFilter{MemberID: "2024-0001", Limit: 5},
			" WHERE a.user_id = $1 ORDER BY a.attendance_time DESC, a.log_id DESC LIMIT $2",
			[]any{"2024-0001", 5}},
		{"every filter", model.AttendanceFilter{MemberID: "2024-0001", EventID: &ev, Date: &day, Kind: model.CheckOut, Limit: 12},
			" WHERE a.user_id = $1 AND a.event_id = $2 AND a.attendance_date = $3::date AND a.attendance_type = $4" +
				" ORDER BY a.attendance_time DESC, a.log_id DESC LIMIT $5",
			[]any{"2024-0001", int64(7), "2024-05-01", "time_out", 12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := attendanceFilterSQL(tt.f)
			assert.Equal(t, tt.query, query)
			assert.Equal(t, tt.args, args)
		})
	}
}
