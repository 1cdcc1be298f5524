package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ClockTime is a time of day with second precision, stored as seconds since midnight.
type ClockTime int

// ParseClock parses "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (ClockTime, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return ClockTime(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(c)/3600, int(c)%3600/60, int(c)%60)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Window is a [Start, End] time-of-day range.
type Window struct {
	Start ClockTime
	End   ClockTime
}

// Valid reports whether Start is strictly before End.
func (w Window) Valid() bool { return w.Start < w.End }

// Date is a calendar date without a time component.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// ParseDate parses "YYYY-MM-DD" in loc.
func ParseDate(s string, loc *time.Location) (Date, error) {
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	return Date{t}, nil
}

// DateOf truncates t to its calendar day in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	t = t.In(loc)
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)}
}

func (d Date) String() string { return d.Format(dateLayout) }

// Equal compares calendar components only.
func (d Date) Equal(o Date) bool { return d.String() == o.String() }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s, time.UTC)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
