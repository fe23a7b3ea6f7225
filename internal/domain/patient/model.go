package patient

import (
	"time"

	"github.com/google/uuid"
)

type Medication struct {
	Name      string `json:"medication_name"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
}

type LipidProfile struct {
	LDL              *float64 `json:"ldl,omitempty"`
	HDL              *float64 `json:"hdl,omitempty"`
	TotalCholesterol *float64 `json:"total_cholesterol,omitempty"`
	Triglycerides    *float64 `json:"triglycerides,omitempty"`
}

func (l *LipidProfile) Empty() bool {
	return l == nil || (l.LDL == nil && l.HDL == nil && l.TotalCholesterol == nil && l.Triglycerides == nil)
}

type Glucose struct {
	FastingGlucose *float64 `json:"fasting_glucose,omitempty"`
	HbA1c          *float64 `json:"hba1c,omitempty"`
}

func (g *Glucose) Empty() bool {
	return g == nil || (g.FastingGlucose == nil && g.HbA1c == nil)
}

// LabResults is shared by patients and diagnoses.
type LabResults struct {
	LipidProfile *LipidProfile `json:"lipid_profile,omitempty"`
	Glucose      *Glucose      `json:"glucose,omitempty"`
	Creatinine   *float64      `json:"creatinine,omitempty"`
	CRP          *float64      `json:"crp,omitempty"`
}

func (l *LabResults) Empty() bool {
	return l == nil || (l.LipidProfile.Empty() && l.Glucose.Empty() && l.Creatinine == nil && l.CRP == nil)
}

type Patient struct {
	ID                           uuid.UUID      `db:"id" json:"id"`
	PatientID                    string         `db:"patient_id" json:"patient_id"`
	FullName                     string         `db:"full_name" json:"full_name"`
	Age                          int            `db:"age" json:"age"`
	Gender                       string         `db:"gender" json:"gender"`
	BloodType                    *string        `db:"blood_type" json:"blood_type,omitempty"`
	Phone                        *string        `db:"phone" json:"phone,omitempty"`
	EmergencyContact             *string        `db:"emergency_contact" json:"emergency_contact,omitempty"`
	MedicalHistory               []string       `db:"medical_history" json:"medical_history"`
	MedicalHistorySummary        *string        `db:"medical_history_summary" json:"medical_history_summary,omitempty"`
	Allergies                    []string       `db:"allergies" json:"allergies"`
	CurrentMedications           []Medication   `db:"current_medications" json:"current_medications"`
	LifestyleSmokingStatus       *string        `db:"lifestyle_smoking_status" json:"lifestyle_smoking_status,omitempty"`
	AlcoholConsumption           *string        `db:"alcohol_consumption" json:"alcohol_consumption,omitempty"`
	PhysicalActivityLevel        *string        `db:"physical_activity_level" json:"physical_activity_level,omitempty"`
	DietHabits                   *string        `db:"diet_habits" json:"diet_habits,omitempty"`
	FamilyHistoryHeartDisease    *bool          `db:"family_history_heart_disease" json:"family_history_heart_disease,omitempty"`
	HasHypertension              *bool          `db:"has_hypertension" json:"has_hypertension,omitempty"`
	HasDiabetes                  *bool          `db:"has_diabetes" json:"has_diabetes,omitempty"`
	HasDyslipidemia              *bool          `db:"has_dyslipidemia" json:"has_dyslipidemia,omitempty"`
	ChronicKidneyDisease         *bool          `db:"chronic_kidney_disease" json:"chronic_kidney_disease,omitempty"`
	PreviousCardiovascularEvents []string       `db:"previous_cardiovascular_events" json:"previous_cardiovascular_events"`
	LabResults                   *LabResults    `db:"lab_results" json:"lab_results,omitempty"`
	AdditionalMeasurements       map[string]any `db:"additional_measurements" json:"additional_measurements,omitempty"`
	AssignedDoctorID             *string        `db:"assigned_doctor_id" json:"assigned_doctor_id,omitempty"`
	CreatedBy                    *string        `db:"created_by" json:"created_by,omitempty"`
	CreatedAt                    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt                    time.Time      `db:"updated_at" json:"updated_at"`
}

// Update is a partial patient edit. Nil fields are left unchanged.
type Update struct {
	FullName                     *string        `json:"full_name"`
	Age                          *int           `json:"age"`
	Gender                       *string        `json:"gender"`
	BloodType                    *string        `json:"blood_type"`
	Phone                        *string        `json:"phone"`
	EmergencyContact             *string        `json:"emergency_contact"`
	MedicalHistory               *[]string      `json:"medical_history"`
	MedicalHistorySummary        *string        `json:"medical_history_summary"`
	Allergies                    *[]string      `json:"allergies"`
	CurrentMedications           *[]Medication  `json:"current_medications"`
	LifestyleSmokingStatus       *string        `json:"lifestyle_smoking_status"`
	AlcoholConsumption           *string        `json:"alcohol_consumption"`
	PhysicalActivityLevel        *string        `json:"physical_activity_level"`
	DietHabits                   *string        `json:"diet_habits"`
	FamilyHistoryHeartDisease    *bool          `json:"family_history_heart_disease"`
	HasHypertension              *bool          `json:"has_hypertension"`
	HasDiabetes                  *bool          `json:"has_diabetes"`
	HasDyslipidemia              *bool          `json:"has_dyslipidemia"`
	ChronicKidneyDisease         *bool          `json:"chronic_kidney_disease"`
	PreviousCardiovascularEvents *[]string      `json:"previous_cardiovascular_events"`
	LabResults                   *LabResults    `json:"lab_results"`
	AdditionalMeasurements       map[string]any `json:"additional_measurements"`
}

// HistoryFlags is the resolved cardiovascular history of a patient.
type HistoryFlags struct {
	FamilyHistoryHeartDisease    bool     `json:"family_history_heart_disease"`
	HasHypertension              bool     `json:"has_hypertension"`
	HasDiabetes                  bool     `json:"has_diabetes"`
	HasDyslipidemia              bool     `json:"has_dyslipidemia"`
	ChronicKidneyDisease         bool     `json:"chronic_kidney_disease"`
	PreviousCardiovascularEvents []string `json:"previous_cardiovascular_events"`
}

const (
	VisibilityPrivate = "private"
	VisibilityShared  = "shared"
)

type Note struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	AuthorID   string    `db:"author_id" json:"author_id"`
	Content    string    `db:"content" json:"content"`
	Visibility string    `db:"visibility" json:"visibility"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

const FileTypeDocument = "document"

type File struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	UploaderID  string    `db:"uploader_id" json:"uploader_id"`
	BlobID      string    `db:"blob_id" json:"blob_id"`
	FileName    string    `db:"file_name" json:"file_name"`
	ContentType string    `db:"content_type" json:"content_type"`
	Size        int64     `db:"size_bytes" json:"size"`
	FileType    string    `db:"file_type" json:"file_type"`
	Description *string   `db:"description" json:"description,omitempty"`
	FileURL     string    `db:"-" json:"file_url"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ListParams filters patient listings. Search matches name or patient_id.
type ListParams struct {
	Search   string
	DoctorID string
	Limit    int
	Offset   int
}
