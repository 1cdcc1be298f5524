package members

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/apperr"
	"github.com/campuscheck/attendance/internal/cloudinary"
	"github.com/campuscheck/attendance/internal/model"
	"github.com/campuscheck/attendance/internal/queue"
	"github.com/campuscheck/attendance/internal/store"
)

type fakeUploader struct {
	calls int
	files []string
	err   error
}

func (u *fakeUploader) UploadBase64(_ context.Context, data string) (*cloudinary.UploadResult, error) {
	u.calls++
	if u.err != nil {
		return nil, u.err
	}
	return &cloudinary.UploadResult{SecureURL: "https://img.example/member.jpg"}, nil
}

func (u *fakeUploader) UploadBytes(_ context.Context, data []byte, filename string) (*cloudinary.UploadResult, error) {
	u.calls++
	u.files = append(u.files, filename)
	if u.err != nil {
		return nil, u.err
	}
	return &cloudinary.UploadResult{SecureURL: "https://img.example/" + filename}, nil
}

type countingDashboards struct {
	mu    sync.Mutex
	calls int
}

func (d *countingDashboards) Invalidate(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return nil
}

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []queue.Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func descriptor(n int) model.Descriptor {
	d := make(model.Descriptor, n)
	for i := range d {
		d[i] = float32(i) / 100
	}
	return d
}

func newTestService() (*Service, *fakeUploader, *recordingPublisher) {
	up := &fakeUploader{}
	pub := &recordingPublisher{}
	return NewService(store.NewMemory(), up, pub, nil, 4, zap.NewNop()), up, pub
}

func TestCreate_WithDescriptor(t *testing.T) {
	svc, up, pub := newTestService()

	m, err := svc.Create(context.Background(), CreateInput{
		ID: " 2024-0001 ", FullName: "Ana Reyes", Role: "student", Descriptor: descriptor(4),
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-0001", m.ID)
	assert.True(t, m.Enrolled())
	assert.Zero(t, up.calls)
	assert.Empty(t, pub.msgs)
}

func TestCreate_PhotoOnlyUploadsAndQueuesEnrollment(t *testing.T) {
	svc, up, pub := newTestService()

	m, err := svc.Create(context.Background(), CreateInput{
		ID: "2024-0002", FullName: "Ben Cruz", Role: "staff", Photo: "data:image/jpeg;base64,AAAA",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/member.jpg", m.Photo)
	assert.False(t, m.Enrolled())
	assert.Equal(t, 1, up.calls)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, queue.TypeMemberEnroll, pub.msgs[0].Type)
	var body queue.MemberEnroll
	require.NoError(t, pub.msgs[0].Decode(&body))
	assert.Equal(t, "2024-0002", body.MemberID)
}

func TestCreate_RemotePhotoIsNotUploaded(t *testing.T) {
	svc, up, _ := newTestService()

	m, err := svc.Create(context.Background(), CreateInput{
		ID: "2024-0003", FullName: "Cy Dela", Role: "staff", Photo: "https://cdn.example/c.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/c.jpg", m.Photo)
	assert.Zero(t, up.calls)
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateInput
		msg  string
	}{
		{"missing id", CreateInput{FullName: "A", Role: "r", Descriptor: descriptor(4)}, "id is required"},
		{"bad id", CreateInput{ID: "24-1", FullName: "A", Role: "r", Descriptor: descriptor(4)}, "must look like"},
		{"missing name", CreateInput{ID: "2024-0001", Role: "r", Descriptor: descriptor(4)}, "fullName is required"},
		{"missing role", CreateInput{ID: "2024-0001", FullName: "A", Descriptor: descriptor(4)}, "role is required"},
		{"no face", CreateInput{ID: "2024-0001", FullName: "A", Role: "r"}, "descriptor or photo"},
		{"short descriptor", CreateInput{ID: "2024-0001", FullName: "A", Role: "r", Descriptor: descriptor(3)}, "want 4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.in)
			require.Error(t, err)
			assert.Equal(t, apperr.Validation, apperr.KindOf(err))
			assert.Contains(t, apperr.Message(err), tt.msg)
		})
	}
}

func TestCreate_DuplicateConflicts(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	in := CreateInput{ID: "2024-0001", FullName: "Ana", Role: "student", Descriptor: descriptor(4)}

	_, err := svc.Create(ctx, in)
	require.NoError(t, err)
	_, err = svc.Create(ctx, in)
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
}

func TestCreate_UploadFailure(t *testing.T) {
	svc, up, _ := newTestService()
	up.err = errors.New("boom")

	_, err := svc.Create(context.Background(), CreateInput{
		ID: "2024-0001", FullName: "Ana", Role: "student", Photo: "data:image/png;base64,AA",
	})
	assert.Equal(t, apperr.ResourceUnavailable, apperr.KindOf(err))
}

func TestUpdate(t *testing.T) {
	svc, _, pub := newTestService()
	ctx := context.Background()
	_, err := svc.Create(ctx, CreateInput{ID: "2024-0001", FullName: "Ana", Role: "student", Descriptor: descriptor(4)})
	require.NoError(t, err)

	role := "staff"
	m, err := svc.Update(ctx, "2024-0001", UpdateInput{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, "staff", m.Role)
	assert.Equal(t, "Ana", m.FullName)
	assert.Empty(t, pub.msgs)

	photo := "data:image/png;base64,BB"
	m, err = svc.Update(ctx, "2024-0001", UpdateInput{Photo: &photo})
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/member.jpg", m.Photo)
	assert.Len(t, pub.msgs, 1, "new photo requests re-enrollment")

	_, err = svc.Update(ctx, "2024-0001", UpdateInput{})
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	_, err = svc.Update(ctx, "2024-9999", UpdateInput{Role: &role})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	empty := ""
	_, err = svc.Update(ctx, "2024-0001", UpdateInput{FullName: &empty})
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestSetDescriptor(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	_, err := svc.Create(ctx, CreateInput{ID: "2024-0001", FullName: "Ana", Role: "student", Photo: "https://x/a.jpg"})
	require.NoError(t, err)

	require.Error(t, svc.SetDescriptor(ctx, "2024-0001", descriptor(2)))
	require.NoError(t, svc.SetDescriptor(ctx, "2024-0001", descriptor(4)))

	m, err := svc.Get(ctx, "2024-0001")
	require.NoError(t, err)
	assert.True(t, m.Enrolled())
}

func TestDelete(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	_, err := svc.Create(ctx, CreateInput{ID: "2024-0001", FullName: "Ana", Role: "student", Descriptor: descriptor(4)})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "2024-0001"))
	assert.Equal(t, apperr.NotFound, apperr.KindOf(svc.Delete(ctx, "2024-0001")))

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRosterChangesInvalidateDashboards(t *testing.T) {
	dash := &countingDashboards{}
	svc := NewService(store.NewMemory(), nil, nil, dash, 4, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{ID: "2024-0001", FullName: "Ana", Role: "student", Descriptor: descriptor(4)})
	require.NoError(t, err)
	assert.Equal(t, 1, dash.calls)

	_, err = svc.Create(ctx, CreateInput{ID: "bad", FullName: "Ana", Role: "student", Descriptor: descriptor(4)})
	require.Error(t, err)
	assert.Equal(t, 1, dash.calls)

	require.NoError(t, svc.Delete(ctx, "2024-0001"))
	assert.Equal(t, 2, dash.calls)

	require.Error(t, svc.Delete(ctx, "2024-0001"))
	assert.Equal(t, 2, dash.calls)
}

func TestCreate_PhotoFileUploadsBytes(t *testing.T) {
	svc, up, pub := newTestService()

	m, err := svc.Create(context.Background(), CreateInput{
		ID: "2024-0003", FullName: "Cara Lim", Role: "student", PhotoFile: pngHeader, PhotoName: "cara.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/cara.png", m.Photo)
	assert.Equal(t, []string{"cara.png"}, up.files)
	assert.Len(t, pub.msgs, 1)
}

func TestCreate_PhotoFileWithoutUploaderIsInlined(t *testing.T) {
	svc := NewService(store.NewMemory(), nil, nil, nil, 4, zap.NewNop())

	m, err := svc.Create(context.Background(), CreateInput{
		ID: "2024-0003", FullName: "Cara Lim", Role: "student", PhotoFile: pngHeader,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(m.Photo, "data:image/png;base64,"))
}

func TestCreate_PhotoFileMustBeImage(t *testing.T) {
	svc, up, _ := newTestService()

	_, err := svc.Create(context.Background(), CreateInput{
		ID: "2024-0003", FullName: "Cara Lim", Role: "student", PhotoFile: []byte("plain text"),
	})
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	assert.Zero(t, up.calls)
}
