package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/members"
	"github.com/campuscheck/attendance/internal/model"
	"github.com/campuscheck/attendance/internal/response"
)

// MemberHandler serves /api/users.
type MemberHandler struct {
	svc *members.Service
}

func NewMemberHandler(svc *members.Service) *MemberHandler {
	return &MemberHandler{svc: svc}
}

type memberRequest struct {
	ID         string          `json:"id"`
	FullName   *string         `json:"fullName"`
	Role       *string         `json:"role"`
	Descriptor json.RawMessage `json:"descriptor"`
	Photo      *string         `json:"photo"`
}

// descriptor normalizes the submitted descriptor; the service checks its length.
func (r memberRequest) descriptor() (model.Descriptor, error) {
	d, err := model.ParseDescriptor(r.Descriptor, 0)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "%s", err.Error())
	}
	return d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Get lists members, or returns one when ?id= is given.
// GET /api/users
func (h *MemberHandler) Get(c *gin.Context) {
	if id := c.Query("id"); id != "" {
		m, err := h.svc.Get(c.Request.Context(), id)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, m)
		return
	}
	list, err := h.svc.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// MaxPhotoBytes caps a photo uploaded as multipart form data.
const MaxPhotoBytes = 8 << 20

// Create enrolls a member from a JSON body, or from multipart form data with the
// image in the "photo" file field.
// POST /api/users
func (h *MemberHandler) Create(c *gin.Context) {
	if c.ContentType() == "multipart/form-data" {
		h.createFromForm(c)
		return
	}
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	d, err := req.descriptor()
	if err != nil {
		response.Error(c, err)
		return
	}
	m, err := h.svc.Create(c.Request.Context(), members.CreateInput{
		ID:         req.ID,
		FullName:   deref(req.FullName),
		Role:       deref(req.Role),
		Descriptor: d,
		Photo:      deref(req.Photo),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, m)
}

func (h *MemberHandler) createFromForm(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxPhotoBytes+1<<20)
	if err := c.Request.ParseMultipartForm(MaxPhotoBytes); err != nil {
		response.BadRequest(c, "invalid multipart form")
		return
	}
	fullName, role := c.PostForm("fullName"), c.PostForm("role")
	req := memberRequest{ID: c.PostForm("id"), FullName: &fullName, Role: &role}
	if raw := c.PostForm("descriptor"); raw != "" {
		req.Descriptor = json.RawMessage(raw)
	}
	d, err := req.descriptor()
	if err != nil {
		response.Error(c, err)
		return
	}
	in := members.CreateInput{
		ID:         req.ID,
		FullName:   fullName,
		Role:       role,
		Descriptor: d,
		Photo:      c.PostForm("photo"),
	}
	if fh, err := c.FormFile("photo"); err == nil {
		if fh.Size > MaxPhotoBytes {
			response.Fail(c, http.StatusRequestEntityTooLarge, "photo is too large")
			return
		}
		f, err := fh.Open()
		if err != nil {
			response.BadRequest(c, "unreadable photo")
			return
		}
		in.PhotoFile, err = io.ReadAll(f)
		f.Close()
		if err != nil {
			response.BadRequest(c, "unreadable photo")
			return
		}
		in.PhotoName = fh.Filename
	}
	m, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, m)
}

// Update changes the member named by the body's id.
// PUT /api/users
func (h *MemberHandler) Update(c *gin.Context) {
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	d, err := req.descriptor()
	if err != nil {
		response.Error(c, err)
		return
	}
	m, err := h.svc.Update(c.Request.Context(), req.ID, members.UpdateInput{
		FullName:   req.FullName,
		Role:       req.Role,
		Descriptor: d,
		Photo:      req.Photo,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, m)
}

// Delete removes a member and its attendance history.
// DELETE /api/users?id=
func (h *MemberHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Query("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, "member deleted")
}
