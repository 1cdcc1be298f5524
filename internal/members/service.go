// Package members manages enrolled members and their face references.
package members

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/cloudinary"
	"github.com/campuscheck/attendance/internal/model"
	"github.com/campuscheck/attendance/internal/queue"
	"github.com/campuscheck/attendance/internal/store"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = RegisterValidation(v)
	return v
}

// RegisterValidation adds the "memberid" tag to v.
func RegisterValidation(v *validator.Validate) error {
	return v.RegisterValidation("memberid", func(fl validator.FieldLevel) bool {
		return model.MemberIDPattern.MatchString(fl.Field().String())
	})
}

// PhotoUploader stores a photo and returns its hosted URL.
type PhotoUploader interface {
	UploadBase64(ctx context.Context, data string) (*cloudinary.UploadResult, error)
	UploadBytes(ctx context.Context, data []byte, filename string) (*cloudinary.UploadResult, error)
}

// Dashboards drops cached dashboard totals after the member roster changes.
type Dashboards interface {
	Invalidate(ctx context.Context) error
}

// Publisher is the part of queue.Queue the service needs.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// CreateInput is a new member. Either Descriptor or a photo must be present; a member
// created from a photo alone is enrolled asynchronously. PhotoFile carries an uploaded
// image and takes precedence over Photo.
type CreateInput struct {
	ID         string           `validate:"required,memberid"`
	FullName   string           `validate:"required,max=255"`
	Role       string           `validate:"required,max=100"`
	Descriptor model.Descriptor `validate:"-"`
	Photo      string           `validate:"-"`
	PhotoFile  []byte           `validate:"-"`
	PhotoName  string           `validate:"-"`
}

// UpdateInput lists the fields to change; nil means unchanged.
type UpdateInput struct {
	FullName   *string          `validate:"omitempty,min=1,max=255"`
	Role       *string          `validate:"omitempty,min=1,max=100"`
	Descriptor model.Descriptor `validate:"-"`
	Photo      *string          `validate:"-"`
}

// Service implements member management.
type Service struct {
	store         store.Store
	uploader      PhotoUploader
	pub           Publisher
	dashboards    Dashboards
	descriptorLen int
	log           *zap.Logger
}

// NewService creates the service. uploader, pub and dashboards may be nil.
func NewService(st store.Store, uploader PhotoUploader, pub Publisher, dashboards Dashboards, descriptorLen int, log *zap.Logger) *Service {
	if descriptorLen <= 0 {
		descriptorLen = model.DefaultDescriptorLength
	}
	return &Service{store: st, uploader: uploader, pub: pub, dashboards: dashboards, descriptorLen: descriptorLen, log: log}
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Wrap(apperr.Validation, err, "invalid input")
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return apperr.New(apperr.Validation, "%s is required", fieldName(fe.Field()))
	case "memberid":
		return apperr.New(apperr.Validation, "id %q must look like 2024-0001", fe.Value())
	default:
		return apperr.New(apperr.Validation, "%s is invalid (%s)", fieldName(fe.Field()), fe.Tag())
	}
}

func fieldName(f string) string {
	if f == "ID" {
		return "id"
	}
	return strings.ToLower(f[:1]) + f[1:]
}

// Create validates and stores a new member.
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Member, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.FullName = strings.TrimSpace(in.FullName)
	in.Role = strings.TrimSpace(in.Role)
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if len(in.Descriptor) == 0 && in.Photo == "" && len(in.PhotoFile) == 0 {
		return nil, apperr.New(apperr.Validation, "descriptor or photo is required")
	}
	if len(in.Descriptor) > 0 {
		if err := in.Descriptor.Check(s.descriptorLen); err != nil {
			return nil, apperr.Wrap(apperr.Validation, err, "%s", err.Error())
		}
	}

	var (
		photo string
		err   error
	)
	if len(in.PhotoFile) > 0 {
		photo, err = s.hostFile(ctx, in.PhotoFile, in.PhotoName)
	} else {
		photo, err = s.hostPhoto(ctx, in.Photo)
	}
	if err != nil {
		return nil, err
	}
	m := &model.Member{
		ID:         in.ID,
		FullName:   in.FullName,
		Role:       in.Role,
		Descriptor: in.Descriptor,
		Photo:      photo,
	}
	if err := s.store.CreateMember(ctx, m); err != nil {
		return nil, err
	}
	if !m.Enrolled() {
		s.requestEnrollment(ctx, m.ID)
	}
	s.invalidateDashboards(ctx)
	return m, nil
}

// Get returns one member.
func (s *Service) Get(ctx context.Context, id string) (*model.Member, error) {
	return s.store.FindMember(ctx, id)
}

// List returns every member ordered by name.
func (s *Service) List(ctx context.Context) ([]model.Member, error) {
	return s.store.ListMembers(ctx)
}

// Update applies in to the member. A new photo without a new descriptor triggers re-enrollment.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*model.Member, error) {
	if id == "" {
		return nil, apperr.New(apperr.Validation, "id is required")
	}
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if in.FullName == nil && in.Role == nil && in.Descriptor == nil && in.Photo == nil {
		return nil, apperr.New(apperr.Validation, "no fields to update")
	}
	if in.Descriptor != nil {
		if err := in.Descriptor.Check(s.descriptorLen); err != nil {
			return nil, apperr.Wrap(apperr.Validation, err, "%s", err.Error())
		}
	}

	m, err := s.store.FindMember(ctx, id)
	if err != nil {
		return nil, err
	}
	patch := model.MemberPatch{FullName: in.FullName, Role: in.Role, Descriptor: in.Descriptor}
	if in.Photo != nil {
		photo, err := s.hostPhoto(ctx, *in.Photo)
		if err != nil {
			return nil, err
		}
		patch.Photo = &photo
	}
	patch.Apply(m)
	if err := s.store.UpdateMember(ctx, m); err != nil {
		return nil, err
	}
	if in.Photo != nil && in.Descriptor == nil && *in.Photo != "" {
		s.requestEnrollment(ctx, m.ID)
	}
	return m, nil
}

// SetDescriptor stores a descriptor computed outside the request path.
func (s *Service) SetDescriptor(ctx context.Context, id string, d model.Descriptor) error {
	if err := d.Check(s.descriptorLen); err != nil {
		return apperr.Wrap(apperr.Validation, err, "%s", err.Error())
	}
	m, err := s.store.FindMember(ctx, id)
	if err != nil {
		return err
	}
	m.Descriptor = d
	return s.store.UpdateMember(ctx, m)
}

// Delete removes the member and its attendance history.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return apperr.New(apperr.Validation, "id is required")
	}
	if err := s.store.DeleteMember(ctx, id); err != nil {
		return err
	}
	s.invalidateDashboards(ctx)
	return nil
}

func (s *Service) invalidateDashboards(ctx context.Context) {
	if s.dashboards == nil {
		return
	}
	if err := s.dashboards.Invalidate(ctx); err != nil {
		s.log.Warn("dashboard cache invalidation failed", zap.Error(err))
	}
}

// hostPhoto uploads inline data URLs when an uploader is configured.
func (s *Service) hostPhoto(ctx context.Context, photo string) (string, error) {
	if s.uploader == nil || !strings.HasPrefix(photo, "data:") {
		return photo, nil
	}
	res, err := s.uploader.UploadBase64(ctx, photo)
	if err != nil {
		return "", apperr.Wrap(apperr.ResourceUnavailable, err, "photo upload failed")
	}
	return res.SecureURL, nil
}

// hostFile uploads an image file, or inlines it as a data URL without an uploader.
func (s *Service) hostFile(ctx context.Context, data []byte, name string) (string, error) {
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", apperr.New(apperr.Validation, "photo must be an image, got %s", mime)
	}
	if s.uploader == nil {
		return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
	}
	if name == "" {
		name = "photo"
	}
	res, err := s.uploader.UploadBytes(ctx, data, name)
	if err != nil {
		return "", apperr.Wrap(apperr.ResourceUnavailable, err, "photo upload failed")
	}
	return res.SecureURL, nil
}

func (s *Service) requestEnrollment(ctx context.Context, id string) {
	if s.pub == nil {
		return
	}
	msg, err := queue.NewMessage(queue.TypeMemberEnroll, queue.MemberEnroll{MemberID: id})
	if err == nil {
		err = s.pub.Publish(ctx, msg)
	}
	if err != nil {
		s.log.Warn("enrollment request not queued", zap.String("member_id", id), zap.Error(fmt.Errorf("publish: %w", err)))
	}
}
