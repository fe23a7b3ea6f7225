package document

import (
	"github.com/google/uuid"

	"github.com/cardiodx/cardiodx/internal/inference"
)

// Document types.
const (
	TypeECG              = "ecg"
	TypeXRay             = "xray"
	TypeBloodTest        = "blood_test"
	TypeCardiacReport    = "cardiac_report"
	TypePrescription     = "prescription"
	TypeDischargeSummary = "discharge_summary"
)

var documentTypes = map[string]bool{
	TypeECG:              true,
	TypeXRay:             true,
	TypeBloodTest:        true,
	TypeCardiacReport:    true,
	TypePrescription:     true,
	TypeDischargeSummary: true,
}

var contentTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"application/pdf": true,
}

// MaxFileSize bounds an uploaded document.
const MaxFileSize = 10 << 20

// OCR sources.
const (
	SourceCloudOCR  = "cloud_ocr"
	SourceHybridOCR = "hybrid_ocr"
)

type Findings struct {
	DocumentType         string   `json:"document_type,omitempty"`
	KeyFindings          []string `json:"key_findings,omitempty"`
	AbnormalValues       []string `json:"abnormal_values,omitempty"`
	ClinicalSignificance string   `json:"clinical_significance,omitempty"`
}

type Correlation struct {
	SymptomCorrelation   []string `json:"symptom_correlation,omitempty"`
	HistoricalComparison string   `json:"historical_comparison,omitempty"`
	RiskProgression      string   `json:"risk_progression,omitempty"`
}

type ClinicalRecommendations struct {
	ImmediateActions       []string `json:"immediate_actions,omitempty"`
	FollowUpTests          []string `json:"follow_up_tests,omitempty"`
	MedicationAdjustments  []string `json:"medication_adjustments,omitempty"`
	LifestyleModifications []string `json:"lifestyle_modifications,omitempty"`
}

type RiskAssessment struct {
	OverallRisk       string   `json:"overall_risk,omitempty"`
	Confidence        *float64 `json:"confidence,omitempty"`
	RiskFactors       []string `json:"risk_factors,omitempty"`
	ProtectiveFactors []string `json:"protective_factors,omitempty"`
}

// Analysis is the model's context-aware reading of a document.
type Analysis struct {
	DocumentAnalysis        Findings                `json:"document_analysis"`
	PatientCorrelation      Correlation             `json:"patient_correlation"`
	ClinicalRecommendations ClinicalRecommendations `json:"clinical_recommendations"`
	RiskAssessment          *RiskAssessment         `json:"risk_assessment,omitempty"`
}

// Result is returned by Analyze and sent back to SaveToRecord once the
// doctor has reviewed it.
type Result struct {
	PatientID     uuid.UUID            `json:"patient_id"`
	DocumentType  string               `json:"document_type"`
	FileName      string               `json:"file_name,omitempty"`
	BlobID        string               `json:"blob_id,omitempty"`
	FileURL       string               `json:"file_url"`
	OCRSource     string               `json:"ocr_source,omitempty"`
	OCRData       map[string]any       `json:"ocr_data,omitempty"`
	RawText       string               `json:"raw_text,omitempty"`
	Analysis      *Analysis            `json:"analysis,omitempty"`
	NoModelActive bool                 `json:"no_model_active,omitempty"`
	Message       string               `json:"message,omitempty"`
	Source        inference.TargetKind `json:"source,omitempty"`
	ModelName     string               `json:"model_name,omitempty"`
}

// analyzed reports whether a usable model analysis is attached.
func (r *Result) analyzed() bool {
	return r.Analysis != nil && !r.NoModelActive
}
