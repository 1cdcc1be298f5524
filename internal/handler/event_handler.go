package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/events"
	"github.com/campuscheck/attendance/internal/response"
)

// EventHandler serves /api/events.
type EventHandler struct {
	svc *events.Service
}

func NewEventHandler(svc *events.Service) *EventHandler {
	return &EventHandler{svc: svc}
}

type eventRequest struct {
	ID           int64     `json:"eventId"`
	Name         *string   `json:"eventName"`
	Date         *string   `json:"eventDate"`
	TimeInStart  *string   `json:"timeInStart"`
	TimeInEnd    *string   `json:"timeInEnd"`
	TimeOutStart *string   `json:"timeOutStart"`
	TimeOutEnd   *string   `json:"timeOutEnd"`
	IsActive     *flexBool `json:"isActive"`
}

// Get lists events (?active=1 for active only), or returns one when ?id= is given.
// GET /api/events
func (h *EventHandler) Get(c *gin.Context) {
	id, err := queryID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if id != nil {
		e, err := h.svc.Get(c.Request.Context(), *id)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, e)
		return
	}
	list, err := h.svc.List(c.Request.Context(), truthy(c.Query("active")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Create schedules an event.
// POST /api/events
func (h *EventHandler) Create(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	e, err := h.svc.Create(c.Request.Context(), events.Input{
		Name:         deref(req.Name),
		Date:         deref(req.Date),
		TimeInStart:  deref(req.TimeInStart),
		TimeInEnd:    deref(req.TimeInEnd),
		TimeOutStart: deref(req.TimeOutStart),
		TimeOutEnd:   deref(req.TimeOutEnd),
		IsActive:     req.IsActive.ptr(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, e)
}

// Update changes the event named by the body's eventId.
// PUT /api/events
func (h *EventHandler) Update(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	if req.ID <= 0 {
		response.Error(c, apperr.New(apperr.Validation, "eventId is required"))
		return
	}
	e, err := h.svc.Update(c.Request.Context(), req.ID, events.PatchInput{
		Name:         req.Name,
		Date:         req.Date,
		TimeInStart:  req.TimeInStart,
		TimeInEnd:    req.TimeInEnd,
		TimeOutStart: req.TimeOutStart,
		TimeOutEnd:   req.TimeOutEnd,
		IsActive:     req.IsActive.ptr(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, e)
}

// Delete removes an event; its attendance records stay without an event.
// DELETE /api/events?id=
func (h *EventHandler) Delete(c *gin.Context) {
	id, err := queryID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if id == nil {
		response.Error(c, apperr.New(apperr.Validation, "id is required"))
		return
	}
	if err := h.svc.Delete(c.Request.Context(), *id); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, "event deleted")
}
