package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/model"
)

type eventKey struct {
	memberID string
	eventID  int64
	kind     model.AttendanceKind
}

type dayKey struct {
	memberID string
	kind     model.AttendanceKind
	day      string
}

// Memory is an in-process Store for development and tests.
type Memory struct {
	mu          sync.RWMutex
	now         func() time.Time
	members     map[string]model.Member
	events      map[int64]model.Event
	records     map[int64]model.AttendanceRecord
	byEvent     map[eventKey]int64
	byDay       map[dayKey]int64
	nextEventID int64
	nextLogID   int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		now:     time.Now,
		members: make(map[string]model.Member),
		events:  make(map[int64]model.Event),
		records: make(map[int64]model.AttendanceRecord),
		byEvent: make(map[eventKey]int64),
		byDay:   make(map[dayKey]int64),
	}
}

func cloneMember(m model.Member) model.Member {
	if m.Descriptor != nil {
		m.Descriptor = append(model.Descriptor(nil), m.Descriptor...)
	}
	return m
}

func (s *Memory) FindMember(_ context.Context, id string) (*model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "member %s not found", id)
	}
	out := cloneMember(m)
	return &out, nil
}

func (s *Memory) ListMembers(_ context.Context) ([]model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, cloneMember(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Memory) CountMembers(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members), nil
}

func (s *Memory) CreateMember(_ context.Context, m *model.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[m.ID]; ok {
		return apperr.New(apperr.Conflict, "member %s already exists", m.ID)
	}
	now := s.now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	s.members[m.ID] = cloneMember(*m)
	return nil
}

func (s *Memory) UpdateMember(_ context.Context, m *model.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.members[m.ID]
	if !ok {
		return apperr.New(apperr.NotFound, "member %s not found", m.ID)
	}
	m.CreatedAt = old.CreatedAt
	m.UpdatedAt = s.now().UTC()
	s.members[m.ID] = cloneMember(*m)
	return nil
}

func (s *Memory) DeleteMember(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[id]; !ok {
		return apperr.New(apperr.NotFound, "member %s not found", id)
	}
	delete(s.members, id)
	for logID, rec := range s.records {
		if rec.MemberID != id {
			continue
		}
		delete(s.records, logID)
		if rec.EventID != nil {
			delete(s.byEvent, eventKey{rec.MemberID, *rec.EventID, rec.Kind})
		}
		if !rec.EventScoped {
			delete(s.byDay, dayKey{rec.MemberID, rec.Kind, rec.Day.String()})
		}
	}
	return nil
}

func (s *Memory) ListEvents(_ context.Context, activeOnly bool) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Event, 0, len(s.events))
	for _, e := range s.events {
		if activeOnly && !e.IsActive {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date.Time)
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Memory) FindEvent(_ context.Context, id int64) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "event %d not found", id)
	}
	return &e, nil
}

func (s *Memory) CreateEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	now := s.now().UTC()
	e.ID = s.nextEventID
	e.CreatedAt, e.UpdatedAt = now, now
	s.events[e.ID] = *e
	return nil
}

func (s *Memory) UpdateEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.events[e.ID]
	if !ok {
		return apperr.New(apperr.NotFound, "event %d not found", e.ID)
	}
	e.CreatedAt = old.CreatedAt
	e.UpdatedAt = s.now().UTC()
	s.events[e.ID] = *e
	return nil
}

func (s *Memory) DeleteEvent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return apperr.New(apperr.NotFound, "event %d not found", id)
	}
	delete(s.events, id)
	for logID, rec := range s.records {
		if rec.EventID != nil && *rec.EventID == id {
			delete(s.byEvent, eventKey{rec.MemberID, id, rec.Kind})
			rec.EventID = nil
			s.records[logID] = rec
		}
	}
	return nil
}

func (s *Memory) DeactivateEventsBefore(_ context.Context, day model.Date) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.events {
		if e.IsActive && e.Date.String() < day.String() {
			e.IsActive = false
			e.UpdatedAt = s.now().UTC()
			s.events[id] = e
			n++
		}
	}
	return n, nil
}

func (s *Memory) CreateAttendance(_ context.Context, rec *model.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[rec.MemberID]; !ok {
		return apperr.New(apperr.NotFound, "member %s not found", rec.MemberID)
	}
	rec.EventScoped = rec.EventID != nil
	if rec.EventScoped {
		if _, ok := s.events[*rec.EventID]; !ok {
			return apperr.New(apperr.NotFound, "event %d not found", *rec.EventID)
		}
		k := eventKey{rec.MemberID, *rec.EventID, rec.Kind}
		if _, dup := s.byEvent[k]; dup {
			return apperr.New(apperr.Conflict, "attendance already recorded for %s", rec.MemberID)
		}
		s.nextLogID++
		s.byEvent[k] = s.nextLogID
	} else {
		k := dayKey{rec.MemberID, rec.Kind, rec.Day.String()}
		if _, dup := s.byDay[k]; dup {
			return apperr.New(apperr.Conflict, "attendance already recorded for %s", rec.MemberID)
		}
		s.nextLogID++
		s.byDay[k] = s.nextLogID
	}
	rec.ID = s.nextLogID
	stored := *rec
	if rec.EventID != nil {
		id := *rec.EventID
		stored.EventID = &id
	}
	s.records[rec.ID] = stored
	return nil
}

func (s *Memory) ListAttendance(_ context.Context, f model.AttendanceFilter) ([]model.AttendanceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AttendanceEntry
	for _, rec := range s.records {
		if !f.Matches(&rec) {
			continue
		}
		entry := model.AttendanceEntry{AttendanceRecord: rec}
		if rec.EventID != nil {
			id := *rec.EventID
			entry.EventID = &id
		}
		if m, ok := s.members[rec.MemberID]; ok {
			entry.Role = m.Role
		}
		if rec.EventID != nil {
			if e, ok := s.events[*rec.EventID]; ok {
				entry.EventName = e.Name
				d := e.Date
				entry.EventDate = &d
			}
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.After(out[j].Time)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Memory) Ping(context.Context) error { return nil }

func (s *Memory) Close() error { return nil }
