package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// AttendanceKind distinguishes check-in from check-out.
type AttendanceKind string

const (
	CheckIn  AttendanceKind = "time_in"
	CheckOut AttendanceKind = "time_out"
)

// ParseAttendanceKind maps the wire value; empty defaults to CheckIn.
func ParseAttendanceKind(s string) (AttendanceKind, error) {
	switch AttendanceKind(s) {
	case "":
		return CheckIn, nil
	case CheckIn, CheckOut:
		return AttendanceKind(s), nil
	}
	return "", fmt.Errorf("invalid attendance type %q, must be time_in or time_out", s)
}

// AttendanceRecord is an immutable attendance log entry.
type AttendanceRecord struct {
	ID       int64          `json:"logId"`
	MemberID string         `json:"userId"`
	FullName string         `json:"fullName"`
	EventID  *int64         `json:"eventId"`
	Kind     AttendanceKind `json:"attendanceType"`
	Time     time.Time      `json:"attendanceTime"`
	IsLate   bool           `json:"isLate"`

	// EventScoped is fixed at write time; it decides which uniqueness rule the record
	// falls under even after its event is deleted and EventID becomes nil.
	EventScoped bool `json:"-"`
	// Day is the calendar day of Time in the service time zone.
	Day Date `json:"-"`
}

// AttendanceEntry is a record joined with member and event details for listing.
type AttendanceEntry struct {
	AttendanceRecord
	Role      string `json:"role"`
	EventName string `json:"eventName,omitempty"`
	EventDate *Date  `json:"eventDate,omitempty"`
}

// AttendanceFilter narrows ListAttendance. Zero values mean no filter.
type AttendanceFilter struct {
	MemberID string
	EventID  *int64
	Date     *Date
	Kind     AttendanceKind
	Limit    int
}

// Matches applies the filter to an entry in memory.
func (f AttendanceFilter) Matches(r *AttendanceRecord) bool {
	if f.MemberID != "" && r.MemberID != f.MemberID {
		return false
	}
	if f.EventID != nil && (r.EventID == nil || *r.EventID != *f.EventID) {
		return false
	}
	if f.Date != nil && !r.Day.Equal(*f.Date) {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	return true
}

// MarshalJSON flattens the embedded record so list entries read as one object.
func (e AttendanceEntry) MarshalJSON() ([]byte, error) {
	type record AttendanceRecord
	return json.Marshal(struct {
		record
		Role      string `json:"role"`
		EventName string `json:"eventName,omitempty"`
		EventDate *Date  `json:"eventDate,omitempty"`
	}{record(e.AttendanceRecord), e.Role, e.EventName, e.EventDate})
}
