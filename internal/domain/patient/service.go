package patient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/rs/zerolog"

	"github.com/cardiodx/cardiodx/internal/platform/auth"
	"github.com/cardiodx/cardiodx/internal/platform/blobstore"
)

var ErrValidation = errors.New("validation failed")

// ValidationError lists every required field that was missing.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// presigner is implemented by stores that can hand out direct download links.
type presigner interface {
	PresignGet(ctx context.Context, id string, ttl time.Duration) (string, error)
}

type Service struct {
	patients PatientRepository
	notes    NoteRepository
	files    FileRepository
	blobs    blobstore.BlobStore
	region   string
	linkTTL  time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(patients PatientRepository, notes NoteRepository, files FileRepository,
	blobs blobstore.BlobStore, phoneRegion string, logger zerolog.Logger) *Service {
	if phoneRegion == "" {
		phoneRegion = "US"
	}
	return &Service{
		patients: patients,
		notes:    notes,
		files:    files,
		blobs:    blobs,
		region:   strings.ToUpper(phoneRegion),
		linkTTL:  5 * time.Minute,
		logger:   logger.With().Str("component", "patient").Logger(),
		now:      time.Now,
	}
}

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GeneratePatientID returns "P" + the last 6 digits of the unix-ms clock +
// 3 random uppercase alphanumerics.
func GeneratePatientID(now time.Time) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ms) > 6 {
		ms = ms[len(ms)-6:]
	}
	var b strings.Builder
	b.WriteString("P")
	b.WriteString(ms)
	for i := 0; i < 3; i++ {
		b.WriteByte(idAlphabet[rand.IntN(len(idAlphabet))])
	}
	return b.String()
}

// normalizePhone formats valid numbers as E.164 and otherwise keeps the
// trimmed input.
func normalizePhone(raw *string, region string) *string {
	if raw == nil {
		return nil
	}
	s := strings.TrimSpace(*raw)
	if s == "" {
		return nil
	}
	if num, err := phonenumbers.Parse(s, region); err == nil && phonenumbers.IsValidNumber(num) {
		s = phonenumbers.Format(num, phonenumbers.E164)
	}
	return &s
}

func validate(p *Patient) error {
	var missing []string
	if strings.TrimSpace(p.FullName) == "" {
		missing = append(missing, "full_name")
	}
	if p.Age <= 0 {
		missing = append(missing, "age")
	}
	if strings.TrimSpace(p.Gender) == "" {
		missing = append(missing, "gender")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func cleanMedications(in []Medication) []Medication {
	out := make([]Medication, 0, len(in))
	for _, m := range in {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name != "" {
			out = append(out, m)
		}
	}
	return out
}

func (s *Service) Create(ctx context.Context, p *Patient) error {
	p.FullName = strings.TrimSpace(p.FullName)
	if err := validate(p); err != nil {
		return err
	}
	if strings.TrimSpace(p.PatientID) == "" {
		p.PatientID = GeneratePatientID(s.now())
	}
	if caller := auth.UserIDFromContext(ctx); caller != "" {
		p.AssignedDoctorID = &caller
		p.CreatedBy = &caller
	}
	p.Phone = normalizePhone(p.Phone, s.region)
	p.EmergencyContact = normalizePhone(p.EmergencyContact, s.region)
	p.Allergies = cleanStrings(p.Allergies)
	p.MedicalHistory = cleanStrings(p.MedicalHistory)
	p.CurrentMedications = cleanMedications(p.CurrentMedications)
	if err := s.patients.Create(ctx, p); err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, params ListParams) ([]*Patient, int, error) {
	return s.patients.List(ctx, params)
}

// Update applies u on top of the stored patient.
func (s *Service) Update(ctx context.Context, id uuid.UUID, u Update) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	applyUpdate(p, u, s.region)
	if err := validate(p); err != nil {
		return nil, err
	}
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update patient: %w", err)
	}
	return p, nil
}

func applyUpdate(p *Patient, u Update, region string) {
	if u.FullName != nil {
		p.FullName = strings.TrimSpace(*u.FullName)
	}
	if u.Age != nil {
		p.Age = *u.Age
	}
	if u.Gender != nil {
		p.Gender = *u.Gender
	}
	if u.BloodType != nil {
		p.BloodType = u.BloodType
	}
	if u.Phone != nil {
		p.Phone = normalizePhone(u.Phone, region)
	}
	if u.EmergencyContact != nil {
		p.EmergencyContact = normalizePhone(u.EmergencyContact, region)
	}
	if u.MedicalHistory != nil {
		p.MedicalHistory = cleanStrings(*u.MedicalHistory)
	}
	if u.MedicalHistorySummary != nil {
		p.MedicalHistorySummary = u.MedicalHistorySummary
	}
	if u.Allergies != nil {
		p.Allergies = cleanStrings(*u.Allergies)
	}
	if u.CurrentMedications != nil {
		p.CurrentMedications = cleanMedications(*u.CurrentMedications)
	}
	if u.LifestyleSmokingStatus != nil {
		p.LifestyleSmokingStatus = u.LifestyleSmokingStatus
	}
	if u.AlcoholConsumption != nil {
		p.AlcoholConsumption = u.AlcoholConsumption
	}
	if u.PhysicalActivityLevel != nil {
		p.PhysicalActivityLevel = u.PhysicalActivityLevel
	}
	if u.DietHabits != nil {
		p.DietHabits = u.DietHabits
	}
	if u.FamilyHistoryHeartDisease != nil {
		p.FamilyHistoryHeartDisease = u.FamilyHistoryHeartDisease
	}
	if u.HasHypertension != nil {
		p.HasHypertension = u.HasHypertension
	}
	if u.HasDiabetes != nil {
		p.HasDiabetes = u.HasDiabetes
	}
	if u.HasDyslipidemia != nil {
		p.HasDyslipidemia = u.HasDyslipidemia
	}
	if u.ChronicKidneyDisease != nil {
		p.ChronicKidneyDisease = u.ChronicKidneyDisease
	}
	if u.PreviousCardiovascularEvents != nil {
		p.PreviousCardiovascularEvents = cleanStrings(*u.PreviousCardiovascularEvents)
	}
	if u.LabResults != nil {
		p.LabResults = u.LabResults
	}
	if u.AdditionalMeasurements != nil {
		p.AdditionalMeasurements = u.AdditionalMeasurements
	}
}

// Delete removes the patient. Stored file blobs are removed first; a blob
// that cannot be removed is logged and skipped.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	files, err := s.files.ListByPatient(ctx, id)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := s.blobs.Delete(ctx, f.BlobID); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
			s.logger.Warn().Err(err).Str("blob_id", f.BlobID).Msg("failed to delete patient file blob")
		}
	}
	return s.patients.Delete(ctx, id)
}

func (s *Service) HistoryFlags(ctx context.Context, id uuid.UUID) (HistoryFlags, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return HistoryFlags{}, err
	}
	return NormalizeHistory(p), nil
}

// -- Notes --

func (s *Service) AddNote(ctx context.Context, patientID uuid.UUID, n *Note) error {
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return err
	}
	n.Content = strings.TrimSpace(n.Content)
	if n.Content == "" {
		return &ValidationError{Fields: []string{"content"}}
	}
	if n.Visibility == "" {
		n.Visibility = VisibilityPrivate
	}
	if n.Visibility != VisibilityPrivate && n.Visibility != VisibilityShared {
		return fmt.Errorf("%w: unknown visibility %q", ErrValidation, n.Visibility)
	}
	n.PatientID = patientID
	n.AuthorID = auth.UserIDFromContext(ctx)
	return s.notes.Create(ctx, n)
}

// ListNotes returns the notes p may read: shared notes, their own private
// notes, or every note for admins.
func (s *Service) ListNotes(ctx context.Context, p auth.Principal, patientID uuid.UUID) ([]*Note, error) {
	all, err := s.notes.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make([]*Note, 0, len(all))
	for _, n := range all {
		if n.Visibility == VisibilityPrivate && n.AuthorID != p.UserID && !p.IsAdmin() {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Service) DeleteNote(ctx context.Context, p auth.Principal, patientID, noteID uuid.UUID) error {
	n, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return err
	}
	if n.PatientID != patientID {
		return ErrNotFound
	}
	if n.AuthorID != p.UserID && !p.IsAdmin() {
		return auth.ErrForbidden
	}
	return s.notes.Delete(ctx, noteID)
}

// -- Files --

type Upload struct {
	FileName    string
	ContentType string
	FileType    string
	Description *string
	Content     io.Reader
}

// Download is either a direct link or an open stream, never both.
type Download struct {
	File *File
	URL  string
	Body io.ReadCloser
}

func fileURL(f *File) string {
	return fmt.Sprintf("/api/v1/patients/%s/files/%s/download", f.PatientID, f.ID)
}

func (s *Service) UploadFile(ctx context.Context, patientID uuid.UUID, up Upload) (*File, error) {
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return nil, err
	}
	uploader := auth.UserIDFromContext(ctx)
	meta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    up.FileName,
		ContentType: up.ContentType,
		PatientID:   patientID.String(),
		Category:    blobstore.CategoryPatientFile,
		CreatedBy:   uploader,
	}, up.Content)
	if err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}

	f := &File{
		PatientID:   patientID,
		UploaderID:  uploader,
		BlobID:      meta.ID,
		FileName:    meta.FileName,
		ContentType: meta.ContentType,
		Size:        meta.Size,
		FileType:    up.FileType,
		Description: up.Description,
	}
	if f.FileType == "" {
		f.FileType = FileTypeDocument
	}
	if err := s.files.Create(ctx, f); err != nil {
		if derr := s.blobs.Delete(ctx, meta.ID); derr != nil {
			s.logger.Warn().Err(derr).Str("blob_id", meta.ID).Msg("failed to remove orphaned blob")
		}
		return nil, fmt.Errorf("record file: %w", err)
	}
	f.FileURL = fileURL(f)
	return f, nil
}

func (s *Service) ListFiles(ctx context.Context, patientID uuid.UUID) ([]*File, error) {
	files, err := s.files.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		f.FileURL = fileURL(f)
	}
	return files, nil
}

func (s *Service) patientFile(ctx context.Context, patientID, fileID uuid.UUID) (*File, error) {
	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.PatientID != patientID {
		return nil, ErrNotFound
	}
	return f, nil
}

// OpenFile returns a presigned link when the store supports one, else a
// stream the caller must close.
func (s *Service) OpenFile(ctx context.Context, patientID, fileID uuid.UUID) (*Download, error) {
	f, err := s.patientFile(ctx, patientID, fileID)
	if err != nil {
		return nil, err
	}
	if ps, ok := s.blobs.(presigner); ok {
		url, err := ps.PresignGet(ctx, f.BlobID, s.linkTTL)
		if err != nil {
			return nil, err
		}
		return &Download{File: f, URL: url}, nil
	}
	body, _, err := s.blobs.Download(ctx, f.BlobID)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &Download{File: f, Body: body}, nil
}

func (s *Service) DeleteFile(ctx context.Context, patientID, fileID uuid.UUID) error {
	f, err := s.patientFile(ctx, patientID, fileID)
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, f.BlobID); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return s.files.Delete(ctx, fileID)
}
