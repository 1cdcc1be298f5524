package model

import (
	"regexp"
	"time"
)

// MemberIDPattern is the operator-assigned member id format encoded in QR codes.
var MemberIDPattern = regexp.MustCompile(`^\d{4}-\d{4}$`)

// Member is an enrolled person.
type Member struct {
	ID         string     `json:"id"`
	FullName   string     `json:"fullName"`
	Role       string     `json:"role"`
	Descriptor Descriptor `json:"descriptor"`
	Photo      string     `json:"photo"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Enrolled reports whether the member can take part in face matching.
func (m *Member) Enrolled() bool { return len(m.Descriptor) > 0 }

// MemberPatch lists the mutable member fields; nil means unchanged.
type MemberPatch struct {
	FullName   *string
	Role       *string
	Descriptor Descriptor
	Photo      *string
}

// Empty reports whether the patch changes nothing.
func (p MemberPatch) Empty() bool {
	return p.FullName == nil && p.Role == nil && p.Descriptor == nil && p.Photo == nil
}

// Apply copies the set fields onto m.
func (p MemberPatch) Apply(m *Member) {
	if p.FullName != nil {
		m.FullName = *p.FullName
	}
	if p.Role != nil {
		m.Role = *p.Role
	}
	if p.Descriptor != nil {
		m.Descriptor = p.Descriptor
	}
	if p.Photo != nil {
		m.Photo = *p.Photo
	}
}
