package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/model"
	"github.com/campuscheck/attendance/internal/reports"
	"github.com/campuscheck/attendance/internal/response"
)

// ReportHandler serves /api/reports.
type ReportHandler struct {
	svc *reports.Service
}

func NewReportHandler(svc *reports.Service) *ReportHandler {
	return &ReportHandler{svc: svc}
}

// Attendance returns the filtered, searched and sorted report.
// GET /api/reports/attendance
func (h *ReportHandler) Attendance(c *gin.Context) {
	eventID, err := queryID(c, "eventId")
	if err != nil {
		response.Error(c, err)
		return
	}
	q := reports.Query{
		EventID:   eventID,
		Search:    c.Query("search"),
		Sort:      c.Query("sort"),
		Direction: c.Query("direction"),
	}
	if raw := c.Query("date"); raw != "" {
		d, err := model.ParseDate(raw, h.svc.Location())
		if err != nil {
			response.Error(c, apperr.Wrap(apperr.Validation, err, "%s", err.Error()))
			return
		}
		q.Date = &d
	}

	rows, err := h.svc.Report(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, rows)
}

// Dashboard returns today's totals, optionally for one event.
// GET /api/reports/dashboard
func (h *ReportHandler) Dashboard(c *gin.Context) {
	eventID, err := queryID(c, "eventId")
	if err != nil {
		response.Error(c, err)
		return
	}
	d, err := h.svc.Dashboard(c.Request.Context(), eventID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, d)
}
