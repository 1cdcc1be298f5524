// Package reports builds attendance reports and dashboard statistics.
package reports

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/model"
	"github.com/campuscheck/attendance/internal/store"
)

// Sort columns accepted by Report.
const (
	SortTime     = "time"
	SortFullName = "fullName"
	SortMemberID = "userId"
	SortRole     = "role"
	SortEvent    = "eventName"
	SortKind     = "attendanceType"
	SortStatus   = "status"
)

// Query selects report rows. EventID wins over Date; Date then narrows an event report.
type Query struct {
	EventID   *int64
	Date      *model.Date
	Search    string
	Sort      string
	Direction string
}

// Dashboard is the summary shown on the admin landing page.
type Dashboard struct {
	Day          string `json:"date"`
	EventID      *int64 `json:"eventId,omitempty"`
	TotalMembers int    `json:"totalMembers"`
	Present      int    `json:"present"`
	Absent       int    `json:"absent"`
	Late         int    `json:"late"`
}

// Service answers report queries from the record store.
type Service struct {
	store store.Store
	cache Cache
	ttl   time.Duration
	loc   *time.Location
	now   func() time.Time
	log   *zap.Logger
}

// NewService creates the service. cache may be nil to disable dashboard caching.
func NewService(st store.Store, cache Cache, ttl time.Duration, loc *time.Location, log *zap.Logger) *Service {
	return &Service{store: st, cache: cache, ttl: ttl, loc: loc, now: time.Now, log: log}
}

// Location is the zone calendar dates are read in.
func (s *Service) Location() *time.Location { return s.loc }

// Report lists attendance entries for q.
func (s *Service) Report(ctx context.Context, q Query) ([]model.AttendanceEntry, error) {
	less, err := comparator(q.Sort, q.Direction)
	if err != nil {
		return nil, err
	}

	var f model.AttendanceFilter
	switch {
	case q.EventID != nil:
		f.EventID = q.EventID
		f.Date = q.Date
	case q.Date != nil:
		f.Date = q.Date
	}
	rows, err := s.store.ListAttendance(ctx, f)
	if err != nil {
		return nil, err
	}

	if term := strings.ToLower(strings.TrimSpace(q.Search)); term != "" {
		kept := rows[:0]
		for _, r := range rows {
			if strings.Contains(strings.ToLower(r.FullName), term) || strings.Contains(strings.ToLower(r.MemberID), term) {
				kept = append(kept, r)
			}
		}
		rows = kept
	}

	sort.SliceStable(rows, func(i, j int) bool { return less(&rows[i], &rows[j]) })
	return rows, nil
}

func comparator(column, direction string) (func(a, b *model.AttendanceEntry) bool, error) {
	if column == "" {
		column = SortTime
	}
	var key func(a, b *model.AttendanceEntry) int
	switch column {
	case SortTime:
		key = func(a, b *model.AttendanceEntry) int { return a.Time.Compare(b.Time) }
	case SortFullName:
		key = func(a, b *model.AttendanceEntry) int { return strings.Compare(a.FullName, b.FullName) }
	case SortMemberID:
		key = func(a, b *model.AttendanceEntry) int { return strings.Compare(a.MemberID, b.MemberID) }
	case SortRole:
		key = func(a, b *model.AttendanceEntry) int { return strings.Compare(a.Role, b.Role) }
	case SortEvent:
		key = func(a, b *model.AttendanceEntry) int { return strings.Compare(eventLabel(a), eventLabel(b)) }
	case SortKind:
		key = func(a, b *model.AttendanceEntry) int { return strings.Compare(string(a.Kind), string(b.Kind)) }
	case SortStatus:
		key = func(a, b *model.AttendanceEntry) int { return boolCompare(a.IsLate, b.IsLate) }
	default:
		return nil, apperr.New(apperr.Validation, "unknown sort column %q", column)
	}

	desc := column == SortTime
	switch strings.ToLower(direction) {
	case "":
	case "asc":
		desc = false
	case "desc":
		desc = true
	default:
		return nil, apperr.New(apperr.Validation, "direction must be asc or desc")
	}

	return func(a, b *model.AttendanceEntry) bool {
		c := key(a, b)
		if c == 0 {
			// newest first among equals
			return b.Time.Before(a.Time)
		}
		if desc {
			return c > 0
		}
		return c < 0
	}, nil
}

func eventLabel(e *model.AttendanceEntry) string {
	if e.EventName == "" {
		return "N/A"
	}
	return e.EventName
}

func boolCompare(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	default:
		return -1
	}
}

// Dashboard counts today's check-ins against the member roster.
func (s *Service) Dashboard(ctx context.Context, eventID *int64) (*Dashboard, error) {
	today := model.DateOf(s.now(), s.loc)
	key := today.String() + ":all"
	if eventID != nil {
		key = today.String() + ":" + strconv.FormatInt(*eventID, 10)
	}

	if s.cache != nil {
		raw, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.Warn("dashboard cache read failed", zap.Error(err))
		} else if ok {
			var d Dashboard
			if err := json.Unmarshal(raw, &d); err == nil {
				return &d, nil
			}
		}
	}

	total, err := s.store.CountMembers(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListAttendance(ctx, model.AttendanceFilter{EventID: eventID, Date: &today, Kind: model.CheckIn})
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(rows))
	late := make(map[string]bool)
	for _, r := range rows {
		present[r.MemberID] = true
		if r.IsLate {
			late[r.MemberID] = true
		}
	}
	d := &Dashboard{
		Day:          today.String(),
		EventID:      eventID,
		TotalMembers: total,
		Present:      len(present),
		Absent:       max(total-len(present), 0),
		Late:         len(late),
	}

	if s.cache != nil && s.ttl > 0 {
		raw, _ := json.Marshal(d)
		if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
			s.log.Warn("dashboard cache write failed", zap.Error(err))
		}
	}
	return d, nil
}

// Invalidate drops cached dashboards after attendance or the member roster changes.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx)
}
