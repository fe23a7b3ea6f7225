package diagnosis

import (
	"time"

	"github.com/google/uuid"

	"github.com/cardiodx/cardiodx/internal/domain/patient"
)

const (
	StatusCompleted        = "completed"
	StatusFollowUpRequired = "follow_up_required"
)

// Card types shown in patient history.
const (
	CardRiskAssessment   = "Risk Assessment"
	CardDocumentAnalysis = "Medical Document Analysis"
)

type (
	LabResults   = patient.LabResults
	LipidProfile = patient.LipidProfile
	Glucose      = patient.Glucose
	HistoryFlags = patient.HistoryFlags
)

type VitalSigns struct {
	SystolicBP       *float64 `json:"systolic_bp,omitempty"`
	DiastolicBP      *float64 `json:"diastolic_bp,omitempty"`
	HeartRate        *float64 `json:"heart_rate,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	OxygenSaturation *float64 `json:"oxygen_saturation,omitempty"`
	RespiratoryRate  *float64 `json:"respiratory_rate,omitempty"`
	WeightKg         *float64 `json:"weight_kg,omitempty"`
	HeightCm         *float64 `json:"height_cm,omitempty"`
}

type Symptom struct {
	Symptom           string   `json:"symptom"`
	Severity          string   `json:"severity,omitempty"`
	Duration          string   `json:"duration,omitempty"`
	AssociatedFactors []string `json:"associated_factors"`
}

type Lifestyle struct {
	SmokingStatus         string `json:"lifestyle_smoking_status,omitempty"`
	AlcoholConsumption    string `json:"alcohol_consumption,omitempty"`
	PhysicalActivityLevel string `json:"physical_activity_level,omitempty"`
	DietHabits            string `json:"diet_habits,omitempty"`
}

type PredictedCondition struct {
	Condition string `json:"condition"`
	Severity  string `json:"severity"`
}

type Recommendations struct {
	Lifestyle   []string `json:"lifestyle,omitempty"`
	Medications []string `json:"medications,omitempty"`
	FollowUp    string   `json:"follow_up,omitempty"`
	Referrals   []string `json:"referrals,omitempty"`
}

// Prediction is the AI output for a heart disease assessment.
type Prediction struct {
	RiskLevel            string               `json:"risk_level"`
	RiskScore            float64              `json:"risk_score"`
	Confidence           float64              `json:"confidence"`
	PredictedConditions  []PredictedCondition `json:"predicted_conditions"`
	Recommendations      Recommendations      `json:"recommendations"`
	UrgentWarningSigns   []string             `json:"urgent_warning_signs,omitempty"`
	GuidelineReferences  []string             `json:"guideline_references,omitempty"`
	DecisionSupportFlags []string             `json:"decision_support_flags,omitempty"`
	SummaryNotes         string               `json:"summary_notes,omitempty"`
}

type MedicalImage struct {
	ImageURL      string         `json:"image_url"`
	ImageType     string         `json:"image_type"`
	OCRData       map[string]any `json:"ocr_data,omitempty"`
	AnalysisNotes string         `json:"analysis_notes,omitempty"`
}

type Diagnosis struct {
	ID                     uuid.UUID      `db:"id" json:"id"`
	PatientID              uuid.UUID      `db:"patient_id" json:"patient_id"`
	DoctorID               string         `db:"doctor_id" json:"doctor_id"`
	VitalSigns             *VitalSigns    `db:"vital_signs" json:"vital_signs,omitempty"`
	Symptoms               []Symptom      `db:"symptoms" json:"symptoms"`
	ClinicalObservations   string         `db:"clinical_observations" json:"clinical_observations,omitempty"`
	Lifestyle              *Lifestyle     `db:"lifestyle" json:"lifestyle,omitempty"`
	MedicalHistoryFlags    *HistoryFlags  `db:"medical_history_flags" json:"medical_history_flags,omitempty"`
	LabResults             *LabResults    `db:"lab_results" json:"lab_results,omitempty"`
	AdditionalMeasurements map[string]any `db:"additional_measurements" json:"additional_measurements,omitempty"`
	MedicalImages          []MedicalImage `db:"medical_images" json:"medical_images"`
	AIPrediction           *Prediction    `db:"ai_prediction" json:"ai_prediction,omitempty"`
	DiagnosisNotes         string         `db:"diagnosis_notes" json:"diagnosis_notes,omitempty"`
	TreatmentPlan          string         `db:"treatment_plan" json:"treatment_plan,omitempty"`
	AIFeedbackMatch        *bool          `db:"ai_feedback_match" json:"ai_feedback_match,omitempty"`
	AIFeedbackNote         string         `db:"ai_feedback_note" json:"ai_feedback_note,omitempty"`
	Status                 string         `db:"status" json:"status"`
	RecordHash             string         `db:"record_hash" json:"record_hash"`
	CreatedAt              time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at" json:"updated_at"`
}

// RiskLevel is the predicted level, or "" without a prediction.
func (d *Diagnosis) RiskLevel() string {
	if d.AIPrediction == nil {
		return ""
	}
	return d.AIPrediction.RiskLevel
}

// CardType labels the record for history views.
func CardType(d *Diagnosis) string {
	if len(d.MedicalImages) > 0 {
		return CardDocumentAnalysis
	}
	return CardRiskAssessment
}

// Features is the model input snapshot stored with a training example.
type Features struct {
	VitalSigns             *VitalSigns    `json:"vital_signs"`
	Symptoms               []Symptom      `json:"symptoms"`
	ClinicalObservations   string         `json:"clinical_observations"`
	Lifestyle              *Lifestyle     `json:"lifestyle"`
	MedicalHistoryFlags    *HistoryFlags  `json:"medical_history_flags"`
	LabResults             *LabResults    `json:"lab_results"`
	AdditionalMeasurements map[string]any `json:"additional_measurements"`
}

type TrainingExample struct {
	ID                uuid.UUID `db:"id" json:"id"`
	PatientID         uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID          string    `db:"doctor_id" json:"doctor_id"`
	SourceDiagnosisID uuid.UUID `db:"source_diagnosis_id" json:"source_diagnosis_id"`
	Features          Features  `db:"features" json:"features"`
	LabelRiskLevel    string    `db:"label_risk_level" json:"label_risk_level"`
	LabelConditions   []string  `db:"label_conditions" json:"label_conditions"`
	AIFeedbackMatch   *bool     `db:"ai_feedback_match" json:"ai_feedback_match,omitempty"`
	AIFeedbackNote    string    `db:"ai_feedback_note" json:"ai_feedback_note,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// ListFilter narrows a patient's diagnoses. Severity "all" or "" disables
// the risk filter.
type ListFilter struct {
	Severity string
	Search   string
	Limit    int
	Offset   int
}

// VitalsPoint is one sample of a patient's vitals trend.
type VitalsPoint struct {
	Date      time.Time `json:"date"`
	Systolic  *float64  `json:"systolic,omitempty"`
	Diastolic *float64  `json:"diastolic,omitempty"`
	HeartRate *float64  `json:"heart_rate,omitempty"`
}
