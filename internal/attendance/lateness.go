package attendance

import (
	"time"

	"github.com/campuscheck/attendance/internal/model"
)

// IsLate applies the lateness rule. ts must already be in the service time zone.
// Without an event nothing is late. A check-in after the time-in window closes is
// late, and so is a check-out before the time-out window opens.
func IsLate(kind model.AttendanceKind, ts time.Time, ev *model.Event) bool {
	if ev == nil {
		return false
	}
	tod := model.ClockOf(ts)
	switch kind {
	case model.CheckIn:
		return tod > ev.TimeIn.End
	case model.CheckOut:
		return tod < ev.TimeOut.Start
	}
	return false
}
