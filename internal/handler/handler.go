// Package handler exposes the services over HTTP+JSON.
package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campuscheck/attendance/internal/apperr"
)

// Handler groups the per-resource handlers.
type Handler struct {
	Member     *MemberHandler
	Event      *EventHandler
	Attendance *AttendanceHandler
	Report     *ReportHandler
	Capture    *CaptureHandler
	Health     *HealthHandler
}

// queryID parses an optional integer query parameter.
func queryID(c *gin.Context, name string) (*int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, apperr.New(apperr.Validation, "%s must be a positive integer", name)
	}
	return &id, nil
}

// truthy reads flag query parameters such as ?active=1 or ?today=true.
func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// flexBool accepts JSON booleans as well as 0/1 numbers and their string forms.
type flexBool bool

func (b *flexBool) UnmarshalJSON(raw []byte) error {
	raw = bytes.Trim(bytes.TrimSpace(raw), `"`)
	switch strings.ToLower(string(raw)) {
	case "true", "1":
		*b = true
	case "false", "0", "":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", raw)
	}
	return nil
}

func (b *flexBool) ptr() *bool {
	if b == nil {
		return nil
	}
	v := bool(*b)
	return &v
}

// bindError turns a JSON or binding failure into a validation error.
func bindError(err error) error {
	var syntax *json.SyntaxError
	if errors.As(err, &syntax) {
		return apperr.Wrap(apperr.Validation, err, "malformed JSON body")
	}
	return apperr.Wrap(apperr.Validation, err, "%s", err.Error())
}
