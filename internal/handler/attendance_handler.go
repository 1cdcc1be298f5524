package handler

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/attendance"
	"github.com/campuscheck/attendance/internal/model"
	"github.com/campuscheck/attendance/internal/response"
)

// AttendanceHandler serves /api/attendance.
type AttendanceHandler struct {
	svc *attendance.Service
}

func NewAttendanceHandler(svc *attendance.Service) *AttendanceHandler {
	return &AttendanceHandler{svc: svc}
}

type attendanceQuery struct {
	UserID string `form:"userId" binding:"omitempty,memberid"`
	Date   string `form:"date"`
	Today  string `form:"today"`
	Kind   string `form:"attendanceType"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

type attendanceRequest struct {
	UserID   string `json:"userId" binding:"required"`
	FullName string `json:"fullName"`
	EventID  *int64 `json:"eventId"`
	Kind     string `json:"attendanceType"`
	Time     string `json:"time"`
}

// List returns attendance entries, newest first.
// GET /api/attendance
func (h *AttendanceHandler) List(c *gin.Context) {
	var q attendanceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, bindError(err))
		return
	}
	f := model.AttendanceFilter{MemberID: q.UserID, Limit: q.Limit}

	var err error
	if f.EventID, err = queryID(c, "eventId"); err != nil {
		response.Error(c, err)
		return
	}
	switch {
	case truthy(q.Today):
		today := h.svc.Today()
		f.Date = &today
	case q.Date != "":
		d, err := model.ParseDate(q.Date, h.svc.Location())
		if err != nil {
			response.Error(c, apperr.Wrap(apperr.Validation, err, "%s", err.Error()))
			return
		}
		f.Date = &d
	}
	if q.Kind != "" {
		if f.Kind, err = model.ParseAttendanceKind(q.Kind); err != nil {
			response.Error(c, apperr.Wrap(apperr.Validation, err, "%s", err.Error()))
			return
		}
	}

	list, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Record writes a manual attendance entry.
// POST /api/attendance
func (h *AttendanceHandler) Record(c *gin.Context) {
	var req attendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	kind, err := model.ParseAttendanceKind(req.Kind)
	if err != nil {
		response.Error(c, apperr.Wrap(apperr.Validation, err, "%s", err.Error()))
		return
	}
	ts, err := parseTimestamp(req.Time, h.svc.Location())
	if err != nil {
		response.Error(c, err)
		return
	}

	rec, err := h.svc.Record(c.Request.Context(), attendance.RecordRequest{
		MemberID: strings.TrimSpace(req.UserID),
		FullName: strings.TrimSpace(req.FullName),
		EventID:  req.EventID,
		Kind:     kind,
		Time:     ts,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rec)
}

// parseTimestamp accepts RFC 3339 or "2006-01-02 15:04:05" in loc. Empty means now.
func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateTime, s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, apperr.New(apperr.Validation, "time %q must be RFC 3339 or YYYY-MM-DD HH:MM:SS", s)
}
