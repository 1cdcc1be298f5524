// Package capture runs the two-step attendance capture: read a member id from a QR
// code, then verify the member's face before writing the record.
package capture

import (
	"errors"
	"time"

	"github.com/campuscheck/attendance/internal/model"
)

// State is the position of a session in the capture workflow.
type State string

const (
	StateIdle             State = "idle"
	StateScanningCode     State = "scanning_code"
	StateIdentityResolved State = "identity_resolved"
	StateVerifyingFace    State = "verifying_face"
	StateCompleted        State = "completed"
	StateUnknownIdentity  State = "unknown_identity"
)

// Terminal reports whether the session can no longer make progress.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateUnknownIdentity
}

// Status is the most recent per-frame or write outcome within a state.
type Status string

const (
	StatusNone           Status = ""
	StatusAwaitingScan   Status = "awaiting_scan"
	StatusNoFaceDetected Status = "no_face_detected"
	StatusMismatch       Status = "mismatch"
	StatusConflict       Status = "conflict"
	StatusWriteFailed    Status = "write_failed"
	StatusError          Status = "error"
)

// ErrIdleTimeout ends a session that polled longer than the configured idle timeout.
var ErrIdleTimeout = errors.New("capture session timed out waiting for input")

// MemberView is the member as shown to the operator; the descriptor is left out.
type MemberView struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
	Photo    string `json:"photo,omitempty"`
}

func viewOf(m *model.Member) *MemberView {
	if m == nil {
		return nil
	}
	return &MemberView{ID: m.ID, FullName: m.FullName, Role: m.Role, Photo: m.Photo}
}

// Snapshot is a consistent copy of a session's observable state.
type Snapshot struct {
	ID          string                  `json:"sessionId"`
	ScanCamera  string                  `json:"scanCamera"`
	FaceCamera  string                  `json:"faceCamera"`
	Kind        model.AttendanceKind    `json:"attendanceType"`
	Event       *model.Event            `json:"event,omitempty"`
	State       State                   `json:"state"`
	Status      Status                  `json:"status,omitempty"`
	ScannedCode string                  `json:"scannedCode,omitempty"`
	Member      *MemberView             `json:"member,omitempty"`
	Distance    *float64                `json:"distance,omitempty"`
	Record      *model.AttendanceRecord `json:"record,omitempty"`
	Error       string                  `json:"error,omitempty"`
	StartedAt   time.Time               `json:"startedAt"`
	UpdatedAt   time.Time               `json:"updatedAt"`
}
