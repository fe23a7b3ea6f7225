package mlmodel

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cardiodx/cardiodx/internal/inference"
)

// Model types.
const (
	TypeHeartDisease        = "heart_disease"
	TypeSymptomAnalysis     = "symptom_analysis"
	TypeImageClassification = "image_classification"
	TypeOCR                 = "ocr"
)

// Inference modes. A model's infrastructure uses the same values.
const (
	ModeAPI   = "api"
	ModeLocal = "local"
)

var validTypes = map[string]bool{
	TypeHeartDisease:        true,
	TypeSymptomAnalysis:     true,
	TypeImageClassification: true,
	TypeOCR:                 true,
}

// compatibleTypes lists the model types that can serve a category.
var compatibleTypes = map[string][]string{
	inference.CategoryHeartDisease: {TypeHeartDisease, TypeSymptomAnalysis},
	inference.CategoryImage:        {TypeImageClassification},
	inference.CategoryOCR:          {TypeOCR},
}

type PerformanceMetrics struct {
	Recall      *float64 `json:"recall,omitempty"`
	Specificity *float64 `json:"specificity,omitempty"`
	F1Score     *float64 `json:"f1_score,omitempty"`
}

type MLModel struct {
	ID                   uuid.UUID           `db:"id" json:"id"`
	ModelName            string              `db:"model_name" json:"model_name"`
	Version              string              `db:"version" json:"version"`
	ModelType            string              `db:"model_type" json:"model_type"`
	Accuracy             *float64            `db:"accuracy" json:"accuracy,omitempty"`
	Description          string              `db:"description" json:"description,omitempty"`
	ModelFileURL         string              `db:"model_file_url" json:"model_file_url,omitempty"`
	ArtifactBlobID       string              `db:"artifact_blob_id" json:"artifact_blob_id,omitempty"`
	APIEndpoint          string              `db:"api_endpoint" json:"api_endpoint,omitempty"`
	APIKey               string              `db:"api_key" json:"-"`
	MaskedAPIKey         string              `db:"-" json:"api_key,omitempty"`
	MockPredictionOutput json.RawMessage     `db:"mock_prediction_output" json:"mock_prediction_output,omitempty"`
	PerformanceMetrics   *PerformanceMetrics `db:"performance_metrics" json:"performance_metrics,omitempty"`
	IsActive             bool                `db:"is_active" json:"is_active"`
	CreatedBy            string              `db:"created_by" json:"created_by,omitempty"`
	CreatedAt            time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time           `db:"updated_at" json:"updated_at"`
}

// Infrastructure is local for models with an uploaded artifact, api
// otherwise.
func (m *MLModel) Infrastructure() string {
	if m.ModelFileURL != "" {
		return ModeLocal
	}
	return ModeAPI
}

// Category is the inference category the model serves, or "".
func (m *MLModel) Category() string {
	return categoryOf(m.ModelType)
}

func categoryOf(modelType string) string {
	for category, types := range compatibleTypes {
		for _, t := range types {
			if t == modelType {
				return category
			}
		}
	}
	return ""
}

// maskKey keeps the last four characters of a secret.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", 8) + key[len(key)-4:]
}

func (m *MLModel) redact() *MLModel {
	m.MaskedAPIKey = maskKey(m.APIKey)
	return m
}

func (m *MLModel) ref() *inference.ModelRef {
	return &inference.ModelRef{
		ID:         m.ID.String(),
		Name:       m.ModelName,
		Endpoint:   m.APIEndpoint,
		APIKey:     m.APIKey,
		MockOutput: string(m.MockPredictionOutput),
	}
}

// Input creates or patches a model. Nil fields are left unchanged on update.
type Input struct {
	ModelName            *string             `json:"model_name"`
	Version              *string             `json:"version"`
	ModelType            *string             `json:"model_type"`
	Accuracy             *float64            `json:"accuracy"`
	Description          *string             `json:"description"`
	APIEndpoint          *string             `json:"api_endpoint"`
	APIKey               *string             `json:"api_key"`
	MockPredictionOutput json.RawMessage     `json:"mock_prediction_output"`
	PerformanceMetrics   *PerformanceMetrics `json:"performance_metrics"`
}

// Setting is the clinic-wide inference configuration. There is one row.
type Setting struct {
	ID                              uuid.UUID  `db:"id" json:"id"`
	ActiveModelType                 string     `db:"active_model_type" json:"active_model_type"`
	OCREnabled                      *bool      `db:"ocr_enabled" json:"ocr_enabled,omitempty"`
	ActiveAPIHeartDiseaseModelID    *uuid.UUID `db:"active_api_heart_disease_model_id" json:"active_api_heart_disease_model_id,omitempty"`
	ActiveAPIImageAnalysisModelID   *uuid.UUID `db:"active_api_image_analysis_model_id" json:"active_api_image_analysis_model_id,omitempty"`
	ActiveLocalHeartDiseaseModelID  *uuid.UUID `db:"active_local_heart_disease_model_id" json:"active_local_heart_disease_model_id,omitempty"`
	ActiveLocalImageAnalysisModelID *uuid.UUID `db:"active_local_image_analysis_model_id" json:"active_local_image_analysis_model_id,omitempty"`
	UpdatedAt                       time.Time  `db:"updated_at" json:"updated_at"`
}

// OCROn treats an unset flag as enabled.
func (s *Setting) OCROn() bool {
	return s.OCREnabled == nil || *s.OCREnabled
}

func (s *Setting) IsLocal() bool { return s.ActiveModelType == ModeLocal }

// slot returns the remembered model id for an infrastructure and category.
// OCR has no slot.
func (s *Setting) slot(infra, category string) **uuid.UUID {
	switch {
	case infra == ModeAPI && category == inference.CategoryHeartDisease:
		return &s.ActiveAPIHeartDiseaseModelID
	case infra == ModeAPI && category == inference.CategoryImage:
		return &s.ActiveAPIImageAnalysisModelID
	case infra == ModeLocal && category == inference.CategoryHeartDisease:
		return &s.ActiveLocalHeartDiseaseModelID
	case infra == ModeLocal && category == inference.CategoryImage:
		return &s.ActiveLocalImageAnalysisModelID
	}
	return nil
}
