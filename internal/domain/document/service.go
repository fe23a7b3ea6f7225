// Package document analyzes uploaded medical documents: OCR extraction,
// a context-aware model reading against the patient's history, and saving
// the reviewed result as a diagnosis record.
package document

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardiodx/cardiodx/internal/domain/diagnosis"
	"github.com/cardiodx/cardiodx/internal/domain/mlmodel"
	"github.com/cardiodx/cardiodx/internal/domain/patient"
	"github.com/cardiodx/cardiodx/internal/inference"
	"github.com/cardiodx/cardiodx/internal/platform/auth"
	"github.com/cardiodx/cardiodx/internal/platform/blobstore"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrUnsupportedFileType = errors.New("only PNG, JPEG and PDF documents are supported")
	ErrOCRDisabled         = errors.New("OCR is disabled in local mode")
	ErrOCRUnavailable      = errors.New("no OCR service is configured for this mode")
	ErrNothingExtracted    = errors.New("no data could be extracted from the document")
	ErrInvalidAnalysis     = errors.New("model returned an invalid document analysis")
)

// defaultConfidence fills a missing risk confidence on save.
const defaultConfidence = 85

type PatientReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// Diagnoses is the part of the diagnosis service documents depend on.
type Diagnoses interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID, f diagnosis.ListFilter) ([]*diagnosis.Diagnosis, int, error)
	Save(ctx context.Context, d *diagnosis.Diagnosis, opts diagnosis.SaveOptions) error
}

type SettingSource interface {
	FreshSetting(ctx context.Context) (*mlmodel.Setting, error)
}

type Predictor interface {
	Predict(ctx context.Context, req inference.Request) (*inference.Result, error)
}

type Service struct {
	patients  PatientReader
	diagnoses Diagnoses
	settings  SettingSource
	cloud     inference.Extractor
	hybrid    inference.Extractor
	predictor Predictor
	blobs     blobstore.BlobStore
	logger    zerolog.Logger
}

// NewService wires the document pipeline. cloud serves api mode and hybrid
// serves local mode; either may be nil when not configured.
func NewService(patients PatientReader, diagnoses Diagnoses, settings SettingSource,
	cloud, hybrid inference.Extractor, predictor Predictor, blobs blobstore.BlobStore, logger zerolog.Logger) *Service {
	return &Service{
		patients:  patients,
		diagnoses: diagnoses,
		settings:  settings,
		cloud:     cloud,
		hybrid:    hybrid,
		predictor: predictor,
		blobs:     blobs,
		logger:    logger.With().Str("component", "document").Logger(),
	}
}

// Upload is one document as received from the client.
type Upload struct {
	PatientID    uuid.UUID
	DocumentType string
	File         inference.File
}

func baseContentType(ct string) string {
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func (u *Upload) validate() error {
	if u.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if u.DocumentType == "" {
		u.DocumentType = TypeECG
	}
	if !documentTypes[u.DocumentType] {
		return fmt.Errorf("%w: unknown document type %q", ErrValidation, u.DocumentType)
	}
	if u.File.Name == "" {
		return fmt.Errorf("%w: file name is required", ErrValidation)
	}
	if len(u.File.Data) > MaxFileSize {
		return blobstore.ErrFileTooLarge
	}
	u.File.ContentType = baseContentType(u.File.ContentType)
	if !contentTypes[u.File.ContentType] {
		return ErrUnsupportedFileType
	}
	return nil
}

// extractor picks the OCR path for the current mode.
func (s *Service) extractor(st *mlmodel.Setting) (inference.Extractor, string, error) {
	if st.IsLocal() {
		if !st.OCROn() {
			return nil, "", ErrOCRDisabled
		}
		if s.hybrid == nil {
			return nil, "", ErrOCRUnavailable
		}
		return s.hybrid, SourceHybridOCR, nil
	}
	if s.cloud == nil {
		return nil, "", ErrOCRUnavailable
	}
	return s.cloud, SourceCloudOCR, nil
}

// Analyze extracts a document, stores it and asks the active image model
// for a reading in the context of the patient's recent history. A missing
// model is reported on the result rather than as an error so the OCR data
// can still be reviewed and saved.
func (s *Service) Analyze(ctx context.Context, u Upload) (*Result, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	p, err := s.patients.GetByID(ctx, u.PatientID)
	if err != nil {
		return nil, err
	}
	st, err := s.settings.FreshSetting(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	ocr, source, err := s.extractor(st)
	if err != nil {
		return nil, err
	}

	ext, err := ocr.Extract(ctx, u.File, inference.MedicalOCRSchema())
	if err != nil {
		return nil, err
	}
	if ext.Empty() {
		return nil, ErrNothingExtracted
	}
	rawText := ext.RawText
	if rawText == "" && len(ext.Output) > 0 {
		if b, err := json.MarshalIndent(ext.Output, "", "  "); err == nil {
			rawText = string(b)
		}
	}

	meta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    u.File.Name,
		ContentType: u.File.ContentType,
		PatientID:   u.PatientID.String(),
		Category:    blobstore.CategoryDocument,
		CreatedBy:   auth.UserIDFromContext(ctx),
	}, bytes.NewReader(u.File.Data))
	if err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}
	url, err := s.blobs.URL(ctx, meta.ID)
	if err != nil {
		return nil, fmt.Errorf("document url: %w", err)
	}

	res := &Result{
		PatientID:    u.PatientID,
		DocumentType: u.DocumentType,
		FileName:     u.File.Name,
		BlobID:       meta.ID,
		FileURL:      url,
		OCRSource:    source,
		OCRData:      ext.Output,
		RawText:      rawText,
	}

	history, _, err := s.diagnoses.ListByPatient(ctx, u.PatientID, diagnosis.ListFilter{Limit: historyLimit})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	input, err := json.Marshal(ext.Output)
	if err != nil {
		return nil, fmt.Errorf("encode ocr output: %w", err)
	}
	pred, err := s.predictor.Predict(ctx, inference.Request{
		Prompt:   BuildPrompt(ext.Output, rawText, p, history),
		Schema:   inference.DocumentAnalysisSchema(),
		Input:    input,
		Category: inference.CategoryImage,
	})
	if err != nil {
		return nil, err
	}
	res.Source = pred.Source
	res.ModelName = pred.ModelName
	if pred.NoModelActive {
		res.NoModelActive = true
		res.Message = pred.Message
		return res, nil
	}
	var a Analysis
	if err := json.Unmarshal(pred.Output, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}
	res.Analysis = &a

	s.logger.Info().
		Str("patient_id", u.PatientID.String()).
		Str("document_type", u.DocumentType).
		Str("ocr", source).
		Str("model", pred.ModelName).
		Msg("document analyzed")
	return res, nil
}

func toPrediction(a *Analysis) *diagnosis.Prediction {
	if a == nil || a.RiskAssessment == nil {
		return nil
	}
	ra := a.RiskAssessment
	conf := float64(defaultConfidence)
	if ra.Confidence != nil {
		conf = *ra.Confidence
	}
	conditions := make([]diagnosis.PredictedCondition, 0, len(ra.RiskFactors))
	for _, f := range ra.RiskFactors {
		conditions = append(conditions, diagnosis.PredictedCondition{Condition: f, Severity: "moderate"})
	}
	rec := a.ClinicalRecommendations
	return &diagnosis.Prediction{
		RiskLevel:           strings.ToLower(ra.OverallRisk),
		Confidence:          conf,
		PredictedConditions: conditions,
		Recommendations: diagnosis.Recommendations{
			Lifestyle:   rec.LifestyleModifications,
			Medications: rec.MedicationAdjustments,
			FollowUp:    joinOr(rec.FollowUpTests, "Standard follow-up"),
			Referrals:   rec.ImmediateActions,
		},
	}
}

// Record builds the diagnosis stored for a reviewed document.
func Record(r *Result) *diagnosis.Diagnosis {
	significance := ""
	if r.analyzed() {
		significance = r.Analysis.DocumentAnalysis.ClinicalSignificance
	}

	notes := "OCR data extracted from uploaded document."
	if significance != "" {
		notes = "Context-aware AI Analysis: " + significance
	}
	d := &diagnosis.Diagnosis{
		PatientID: r.PatientID,
		Symptoms: []diagnosis.Symptom{{
			Symptom:           "Medical document analysis",
			Severity:          "mild",
			Duration:          "N/A",
			AssociatedFactors: []string{},
		}},
		MedicalImages: []diagnosis.MedicalImage{{
			ImageURL:      r.FileURL,
			ImageType:     r.DocumentType,
			OCRData:       r.OCRData,
			AnalysisNotes: notes,
		}},
		DiagnosisNotes: fmt.Sprintf("Medical document analysis completed. Document type: %s. %s",
			r.DocumentType, orDefault(significance, "OCR processing completed successfully.")),
		TreatmentPlan: "Follow standard protocols based on extracted data.",
	}
	if r.analyzed() {
		d.AIPrediction = toPrediction(r.Analysis)
		d.TreatmentPlan = strings.Join(r.Analysis.ClinicalRecommendations.ImmediateActions, ", ")
	}
	return d
}

// SaveToRecord stores a reviewed analysis in the patient's history. It goes
// through the diagnosis service so the usual notifications apply.
func (s *Service) SaveToRecord(ctx context.Context, r *Result) (*diagnosis.Diagnosis, error) {
	if r.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if r.FileURL == "" {
		return nil, fmt.Errorf("%w: file_url is required", ErrValidation)
	}
	if len(r.OCRData) == 0 && r.RawText == "" {
		return nil, ErrNothingExtracted
	}
	if r.DocumentType == "" {
		r.DocumentType = TypeECG
	}
	if !documentTypes[r.DocumentType] {
		return nil, fmt.Errorf("%w: unknown document type %q", ErrValidation, r.DocumentType)
	}

	d := Record(r)
	if err := s.diagnoses.Save(ctx, d, diagnosis.SaveOptions{FromDocument: true}); err != nil {
		return nil, err
	}
	return d, nil
}
