package patient

import (
	"context"
	"errors"
	"io"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardiodx/cardiodx/internal/platform/auth"
	"github.com/cardiodx/cardiodx/internal/platform/blobstore"
)

// -- Mock Patient Repository --

type mockPatientRepo struct {
	patients map[uuid.UUID]*Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now()
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.patients[id]; !ok {
		return ErrNotFound
	}
	delete(m.patients, id)
	return nil
}

func (m *mockPatientRepo) List(_ context.Context, params ListParams) ([]*Patient, int, error) {
	var result []*Patient
	term := strings.ToLower(params.Search)
	for _, p := range m.patients {
		if params.DoctorID != "" && (p.AssignedDoctorID == nil || *p.AssignedDoctorID != params.DoctorID) {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(p.FullName), term) &&
			!strings.Contains(strings.ToLower(p.PatientID), term) {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, len(result), nil
}

// -- Mock Note Repository --

type mockNoteRepo struct {
	notes map[uuid.UUID]*Note
}

func newMockNoteRepo() *mockNoteRepo {
	return &mockNoteRepo{notes: make(map[uuid.UUID]*Note)}
}

func (m *mockNoteRepo) Create(_ context.Context, n *Note) error {
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	m.notes[n.ID] = n
	return nil
}

func (m *mockNoteRepo) GetByID(_ context.Context, id uuid.UUID) (*Note, error) {
	n, ok := m.notes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n, nil
}

func (m *mockNoteRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Note, error) {
	var result []*Note
	for _, n := range m.notes {
		if n.PatientID == patientID {
			result = append(result, n)
		}
	}
	return result, nil
}

func (m *mockNoteRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.notes, id)
	return nil
}

// -- Mock File Repository --

type mockFileRepo struct {
	files map[uuid.UUID]*File
}

func newMockFileRepo() *mockFileRepo {
	return &mockFileRepo{files: make(map[uuid.UUID]*File)}
}

func (m *mockFileRepo) Create(_ context.Context, f *File) error {
	f.ID = uuid.New()
	f.CreatedAt = time.Now()
	m.files[f.ID] = f
	return nil
}

func (m *mockFileRepo) GetByID(_ context.Context, id uuid.UUID) (*File, error) {
	f, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return f, nil
}

func (m *mockFileRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*File, error) {
	var result []*File
	for _, f := range m.files {
		if f.PatientID == patientID {
			result = append(result, f)
		}
	}
	return result, nil
}

func (m *mockFileRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.files, id)
	return nil
}

type testEnv struct {
	svc      *Service
	patients *mockPatientRepo
	notes    *mockNoteRepo
	files    *mockFileRepo
	blobs    *blobstore.InMemoryBlobStore
}

func newTestEnv() *testEnv {
	env := &testEnv{
		patients: newMockPatientRepo(),
		notes:    newMockNoteRepo(),
		files:    newMockFileRepo(),
		blobs:    blobstore.NewInMemoryBlobStore(1024, "/files"),
	}
	env.svc = NewService(env.patients, env.notes, env.files, env.blobs, "US", zerolog.Nop())
	return env
}

var (
	doctor = auth.Principal{UserID: "doc-1", Roles: []string{auth.RoleDoctor}}
	other  = auth.Principal{UserID: "doc-2", Roles: []string{auth.RoleDoctor}}
	admin  = auth.Principal{UserID: "admin-1", Roles: []string{auth.RoleAdmin}}
)

func asUser(p auth.Principal) context.Context {
	return auth.WithPrincipal(context.Background(), p)
}

func strp(s string) *string { return &s }

func TestCreatePatient(t *testing.T) {
	env := newTestEnv()
	p := &Patient{FullName: "  Ann Lee ", Age: 54, Gender: "female", Phone: strp("(650) 253-0000"),
		EmergencyContact: strp("  call her sister "), Allergies: []string{"penicillin", " ", ""},
		CurrentMedications: []Medication{{Name: "Aspirin", Dosage: "81mg"}, {Dosage: "orphan"}}}
	if err := env.svc.Create(asUser(doctor), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if p.FullName != "Ann Lee" {
		t.Errorf("expected trimmed name, got %q", p.FullName)
	}
	if !regexp.MustCompile(`^P\d{6}[0-9A-Z]{3}$`).MatchString(p.PatientID) {
		t.Errorf("unexpected patient_id %q", p.PatientID)
	}
	if p.AssignedDoctorID == nil || *p.AssignedDoctorID != "doc-1" {
		t.Errorf("expected assigned doctor doc-1, got %v", p.AssignedDoctorID)
	}
	if p.Phone == nil || *p.Phone != "+16502530000" {
		t.Errorf("expected E.164 phone, got %v", p.Phone)
	}
	if p.EmergencyContact == nil || *p.EmergencyContact != "call her sister" {
		t.Errorf("expected trimmed emergency contact, got %v", p.EmergencyContact)
	}
	if len(p.Allergies) != 1 || len(p.CurrentMedications) != 1 {
		t.Errorf("expected blank entries filtered, got %v / %v", p.Allergies, p.CurrentMedications)
	}
}

func TestCreatePatient_KeepsGivenID(t *testing.T) {
	env := newTestEnv()
	p := &Patient{PatientID: "P-CUSTOM", FullName: "Bo", Age: 40, Gender: "male"}
	if err := env.svc.Create(asUser(doctor), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.PatientID != "P-CUSTOM" {
		t.Errorf("expected given patient_id kept, got %s", p.PatientID)
	}
}

func TestCreatePatient_MissingFields(t *testing.T) {
	env := newTestEnv()
	err := env.svc.Create(asUser(doctor), &Patient{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatal("expected *ValidationError")
	}
	want := []string{"full_name", "age", "gender"}
	if strings.Join(ve.Fields, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, ve.Fields)
	}
}

func TestGeneratePatientID(t *testing.T) {
	id := GeneratePatientID(time.UnixMilli(1700000123456))
	if !strings.HasPrefix(id, "P123456") || len(id) != 10 {
		t.Errorf("unexpected id %q", id)
	}
}

func TestUpdatePatient(t *testing.T) {
	env := newTestEnv()
	p := &Patient{FullName: "Ann", Age: 54, Gender: "female"}
	_ = env.svc.Create(asUser(doctor), p)

	age := 55
	allergies := []string{"latex", ""}
	meds := []Medication{{Name: ""}, {Name: "Statin"}}
	yes := true
	got, err := env.svc.Update(context.Background(), p.ID, Update{
		Age: &age, Allergies: &allergies, CurrentMedications: &meds, HasDiabetes: &yes,
		Phone: strp("650 253 0000"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Age != 55 || got.FullName != "Ann" {
		t.Errorf("unexpected patient after patch: %+v", got)
	}
	if len(got.Allergies) != 1 || got.Allergies[0] != "latex" {
		t.Errorf("expected filtered allergies, got %v", got.Allergies)
	}
	if len(got.CurrentMedications) != 1 || got.CurrentMedications[0].Name != "Statin" {
		t.Errorf("expected filtered medications, got %v", got.CurrentMedications)
	}
	if got.HasDiabetes == nil || !*got.HasDiabetes {
		t.Error("expected has_diabetes set")
	}
	if *got.Phone != "+16502530000" {
		t.Errorf("expected normalized phone, got %s", *got.Phone)
	}
}

func TestUpdatePatient_RejectsClearingRequired(t *testing.T) {
	env := newTestEnv()
	p := &Patient{FullName: "Ann", Age: 54, Gender: "female"}
	_ = env.svc.Create(asUser(doctor), p)

	blank := " "
	if _, err := env.svc.Update(context.Background(), p.ID, Update{FullName: &blank}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestUpdatePatient_NotFound(t *testing.T) {
	env := newTestEnv()
	if _, err := env.svc.Update(context.Background(), uuid.New(), Update{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListPatients(t *testing.T) {
	env := newTestEnv()
	_ = env.svc.Create(asUser(doctor), &Patient{FullName: "Ann Lee", Age: 50, Gender: "f"})
	_ = env.svc.Create(asUser(other), &Patient{FullName: "Bob Stone", Age: 60, Gender: "m"})

	all, total, err := env.svc.List(context.Background(), ListParams{Limit: 20})
	if err != nil || total != 2 || len(all) != 2 {
		t.Fatalf("expected 2 patients, got %d (%v)", total, err)
	}
	mine, _, _ := env.svc.List(context.Background(), ListParams{DoctorID: "doc-1", Limit: 20})
	if len(mine) != 1 || mine[0].FullName != "Ann Lee" {
		t.Errorf("expected only doc-1's patient, got %v", mine)
	}
	found, _, _ := env.svc.List(context.Background(), ListParams{Search: "stone", Limit: 20})
	if len(found) != 1 || found[0].FullName != "Bob Stone" {
		t.Errorf("expected search match, got %v", found)
	}
}

func TestDeletePatient_RemovesBlobs(t *testing.T) {
	env := newTestEnv()
	ctx := asUser(doctor)
	p := &Patient{FullName: "Ann", Age: 54, Gender: "female"}
	_ = env.svc.Create(ctx, p)
	f, err := env.svc.UploadFile(ctx, p.ID, Upload{FileName: "ecg.png", ContentType: "image/png", Content: strings.NewReader("img")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if err := env.svc.Delete(ctx, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.blobs.GetMetadata(ctx, f.BlobID); !errors.Is(err, blobstore.ErrBlobNotFound) {
		t.Errorf("expected blob removed, got %v", err)
	}
	if _, err := env.svc.Get(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected patient removed, got %v", err)
	}
}

func TestNotes(t *testing.T) {
	env := newTestEnv()
	p := &Patient{FullName: "Ann", Age: 54, Gender: "female"}
	_ = env.svc.Create(asUser(doctor), p)

	private := &Note{Content: "private thought"}
	if err := env.svc.AddNote(asUser(doctor), p.ID, private); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if private.Visibility != VisibilityPrivate || private.AuthorID != "doc-1" {
		t.Errorf("unexpected note defaults: %+v", private)
	}
	_ = env.svc.AddNote(asUser(other), p.ID, &Note{Content: "for everyone", Visibility: VisibilityShared})

	if err := env.svc.AddNote(asUser(doctor), p.ID, &Note{Content: "  "}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for blank note, got %v", err)
	}
	if err := env.svc.AddNote(asUser(doctor), uuid.New(), &Note{Content: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown patient, got %v", err)
	}

	if notes, _ := env.svc.ListNotes(context.Background(), other, p.ID); len(notes) != 1 {
		t.Errorf("expected other doctor to see 1 note, got %d", len(notes))
	}
	if notes, _ := env.svc.ListNotes(context.Background(), doctor, p.ID); len(notes) != 2 {
		t.Errorf("expected author to see 2 notes, got %d", len(notes))
	}
	if notes, _ := env.svc.ListNotes(context.Background(), admin, p.ID); len(notes) != 2 {
		t.Errorf("expected admin to see 2 notes, got %d", len(notes))
	}

	if err := env.svc.DeleteNote(context.Background(), other, p.ID, private.ID); !errors.Is(err, auth.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if err := env.svc.DeleteNote(context.Background(), admin, p.ID, private.ID); err != nil {
		t.Errorf("expected admin delete to succeed, got %v", err)
	}
}

func TestFiles(t *testing.T) {
	env := newTestEnv()
	ctx := asUser(doctor)
	p := &Patient{FullName: "Ann", Age: 54, Gender: "female"}
	_ = env.svc.Create(ctx, p)

	f, err := env.svc.UploadFile(ctx, p.ID, Upload{FileName: "labs.pdf", ContentType: "application/pdf", Content: strings.NewReader("%PDF")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.FileType != FileTypeDocument || f.Size != 4 || f.UploaderID != "doc-1" {
		t.Errorf("unexpected file: %+v", f)
	}
	if !strings.HasSuffix(f.FileURL, "/files/"+f.ID.String()+"/download") {
		t.Errorf("unexpected file url %s", f.FileURL)
	}

	files, _ := env.svc.ListFiles(ctx, p.ID)
	if len(files) != 1 || files[0].FileURL == "" {
		t.Fatalf("expected 1 listed file with url, got %v", files)
	}

	dl, err := env.svc.OpenFile(ctx, p.ID, f.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if dl.URL != "" || dl.Body == nil {
		t.Fatal("expected a stream from the in-memory store")
	}
	data, _ := io.ReadAll(dl.Body)
	dl.Body.Close()
	if string(data) != "%PDF" {
		t.Errorf("unexpected content %q", data)
	}

	if _, err := env.svc.OpenFile(ctx, uuid.New(), f.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for mismatched patient, got %v", err)
	}

	if err := env.svc.DeleteFile(ctx, p.ID, f.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if files, _ := env.svc.ListFiles(ctx, p.ID); len(files) != 0 {
		t.Errorf("expected no files, got %d", len(files))
	}
}

func TestUploadFile_TooLarge(t *testing.T) {
	env := newTestEnv()
	ctx := asUser(doctor)
	p := &Patient{FullName: "Ann", Age: 54, Gender: "female"}
	_ = env.svc.Create(ctx, p)

	_, err := env.svc.UploadFile(ctx, p.ID, Upload{FileName: "big.bin", ContentType: "application/octet-stream",
		Content: strings.NewReader(strings.Repeat("x", 2048))})
	if !errors.Is(err, blobstore.ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
	if len(env.files.files) != 0 {
		t.Error("expected no file row recorded")
	}
}

type presigningStore struct {
	*blobstore.InMemoryBlobStore
}

func (presigningStore) PresignGet(_ context.Context, id string, _ time.Duration) (string, error) {
	return "https://bucket.example/" + id, nil
}

func TestOpenFile_Presigned(t *testing.T) {
	env := newTestEnv()
	env.svc.blobs = presigningStore{env.blobs}
	ctx := asUser(doctor)
	p := &Patient{FullName: "Ann", Age: 54, Gender: "female"}
	_ = env.svc.Create(ctx, p)
	f, _ := env.svc.UploadFile(ctx, p.ID, Upload{FileName: "a.png", ContentType: "image/png", Content: strings.NewReader("x")})

	dl, err := env.svc.OpenFile(ctx, p.ID, f.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dl.URL != "https://bucket.example/"+f.BlobID || dl.Body != nil {
		t.Errorf("expected presigned url, got %+v", dl)
	}
}
