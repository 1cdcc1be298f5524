// Package events manages the occasions attendance is taken for.
package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/model"
	"github.com/campuscheck/attendance/internal/store"
)

var validate = validator.New()

// Input describes a new event. Times are "HH:MM" or "HH:MM:SS".
type Input struct {
	Name         string `validate:"required,max=255"`
	Date         string `validate:"required"`
	TimeInStart  string `validate:"required"`
	TimeInEnd    string `validate:"required"`
	TimeOutStart string `validate:"required"`
	TimeOutEnd   string `validate:"required"`
	IsActive     *bool
}

// PatchInput lists the fields to change; nil means unchanged.
type PatchInput struct {
	Name         *string `validate:"omitempty,min=1,max=255"`
	Date         *string
	TimeInStart  *string
	TimeInEnd    *string
	TimeOutStart *string
	TimeOutEnd   *string
	IsActive     *bool
}

// Service implements event management.
type Service struct {
	store store.Store
	loc   *time.Location
	now   func() time.Time
	log   *zap.Logger
}

// NewService creates the service. loc decides which day is "today".
func NewService(st store.Store, loc *time.Location, log *zap.Logger) *Service {
	return &Service{store: st, loc: loc, now: time.Now, log: log}
}

var inputFields = map[string]string{
	"Name":         "eventName",
	"Date":         "eventDate",
	"TimeInStart":  "timeInStart",
	"TimeInEnd":    "timeInEnd",
	"TimeOutStart": "timeOutStart",
	"TimeOutEnd":   "timeOutEnd",
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		name := inputFields[fe.Field()]
		if fe.Tag() == "required" {
			return apperr.New(apperr.Validation, "%s is required", name)
		}
		return apperr.New(apperr.Validation, "%s is invalid (%s)", name, fe.Tag())
	}
	return apperr.Wrap(apperr.Validation, err, "invalid event")
}

func invalid(err error) error {
	return apperr.Wrap(apperr.Validation, err, "%s", err.Error())
}

// Create validates and stores a new event. Events are active unless told otherwise.
func (s *Service) Create(ctx context.Context, in Input) (*model.Event, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	e := &model.Event{Name: in.Name, IsActive: true}
	if in.IsActive != nil {
		e.IsActive = *in.IsActive
	}
	var err error
	if e.Date, err = model.ParseDate(in.Date, time.UTC); err != nil {
		return nil, invalid(err)
	}
	clocks := []struct {
		raw string
		dst *model.ClockTime
	}{
		{in.TimeInStart, &e.TimeIn.Start},
		{in.TimeInEnd, &e.TimeIn.End},
		{in.TimeOutStart, &e.TimeOut.Start},
		{in.TimeOutEnd, &e.TimeOut.End},
	}
	for _, c := range clocks {
		if *c.dst, err = model.ParseClock(c.raw); err != nil {
			return nil, invalid(err)
		}
	}
	if err := e.Validate(); err != nil {
		return nil, invalid(err)
	}
	if err := s.store.CreateEvent(ctx, e); err != nil {
		return nil, err
	}
	s.log.Info("event created", zap.Int64("event_id", e.ID), zap.String("date", e.Date.String()))
	return e, nil
}

// Update applies in to the event and revalidates its windows.
func (s *Service) Update(ctx context.Context, id int64, in PatchInput) (*model.Event, error) {
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	patch, err := in.toPatch()
	if err != nil {
		return nil, invalid(err)
	}
	if patch.Empty() {
		return nil, apperr.New(apperr.Validation, "no fields to update")
	}

	e, err := s.store.FindEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(e)
	if err := e.Validate(); err != nil {
		return nil, invalid(err)
	}
	if err := s.store.UpdateEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (in PatchInput) toPatch() (model.EventPatch, error) {
	p := model.EventPatch{IsActive: in.IsActive}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		p.Name = &name
	}
	if in.Date != nil {
		d, err := model.ParseDate(*in.Date, time.UTC)
		if err != nil {
			return p, err
		}
		p.Date = &d
	}
	clocks := []struct {
		raw *string
		dst **model.ClockTime
	}{
		{in.TimeInStart, &p.TimeInStart},
		{in.TimeInEnd, &p.TimeInEnd},
		{in.TimeOutStart, &p.TimeOutStart},
		{in.TimeOutEnd, &p.TimeOutEnd},
	}
	for _, c := range clocks {
		if c.raw == nil {
			continue
		}
		v, err := model.ParseClock(*c.raw)
		if err != nil {
			return p, err
		}
		*c.dst = &v
	}
	return p, nil
}

// Get returns one event.
func (s *Service) Get(ctx context.Context, id int64) (*model.Event, error) {
	return s.store.FindEvent(ctx, id)
}

// List returns events newest first, optionally only the active ones.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]model.Event, error) {
	return s.store.ListEvents(ctx, activeOnly)
}

// Delete removes the event. Its attendance records are kept without an event.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.store.DeleteEvent(ctx, id)
}

// DeactivatePast marks every active event dated before today as inactive.
func (s *Service) DeactivatePast(ctx context.Context) (int64, error) {
	today := model.DateOf(s.now(), s.loc)
	n, err := s.store.DeactivateEventsBefore(ctx, today)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("past events deactivated", zap.Int64("count", n), zap.String("before", today.String()))
	}
	return n, nil
}
