package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event is a scheduled occasion whose windows decide lateness.
type Event struct {
	ID        int64     `json:"eventId"`
	Name      string    `json:"eventName"`
	Date      Date      `json:"eventDate"`
	TimeIn    Window    `json:"-"`
	TimeOut   Window    `json:"-"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MarshalJSON spells the windows out as four flat fields.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		plain
		TimeInStart  ClockTime `json:"timeInStart"`
		TimeInEnd    ClockTime `json:"timeInEnd"`
		TimeOutStart ClockTime `json:"timeOutStart"`
		TimeOutEnd   ClockTime `json:"timeOutEnd"`
	}{plain(e), e.TimeIn.Start, e.TimeIn.End, e.TimeOut.Start, e.TimeOut.End})
}

// Validate checks both windows.
func (e *Event) Validate() error {
	if e.Name == "" {
		return errors.New("eventName is required")
	}
	if e.Date.IsZero() {
		return errors.New("eventDate is required")
	}
	if !e.TimeIn.Valid() {
		return fmt.Errorf("time-in window start %s must be before end %s", e.TimeIn.Start, e.TimeIn.End)
	}
	if !e.TimeOut.Valid() {
		return fmt.Errorf("time-out window start %s must be before end %s", e.TimeOut.Start, e.TimeOut.End)
	}
	return nil
}

// EventPatch lists the mutable event fields; nil means unchanged.
type EventPatch struct {
	Name         *string
	Date         *Date
	TimeInStart  *ClockTime
	TimeInEnd    *ClockTime
	TimeOutStart *ClockTime
	TimeOutEnd   *ClockTime
	IsActive     *bool
}

// Empty reports whether the patch changes nothing.
func (p EventPatch) Empty() bool {
	return p.Name == nil && p.Date == nil && p.TimeInStart == nil && p.TimeInEnd == nil &&
		p.TimeOutStart == nil && p.TimeOutEnd == nil && p.IsActive == nil
}

// Apply copies the set fields onto e.
func (p EventPatch) Apply(e *Event) {
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.TimeInStart != nil {
		e.TimeIn.Start = *p.TimeInStart
	}
	if p.TimeInEnd != nil {
		e.TimeIn.End = *p.TimeInEnd
	}
	if p.TimeOutStart != nil {
		e.TimeOut.Start = *p.TimeOutStart
	}
	if p.TimeOutEnd != nil {
		e.TimeOut.End = *p.TimeOutEnd
	}
	if p.IsActive != nil {
		e.IsActive = *p.IsActive
	}
}
