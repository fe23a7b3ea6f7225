package activity

import (
	"time"

	"github.com/google/uuid"
)

// Log entry kinds.
const (
	KindDiagnosis = "diagnosis"
	KindUser      = "user"
	KindModel     = "model"
	KindSystem    = "system"
)

// Severities.
const (
	SeverityInfo    = "info"
	SeveritySuccess = "success"
	SeverityWarning = "warning"
	SeverityAlert   = "alert"
)

type LogEntry struct {
	Kind     string    `json:"kind"`
	Title    string    `json:"title"`
	Detail   string    `json:"detail"`
	Severity string    `json:"severity"`
	At       time.Time `json:"at"`
	Ago      string    `json:"ago"`
}

type ConditionCount struct {
	Condition string `json:"condition"`
	Count     int    `json:"count"`
}

type DoctorStats struct {
	TotalDiagnoses           int              `json:"total_diagnoses"`
	TotalPatients            int              `json:"total_patients"`
	AverageConfidence        float64          `json:"average_confidence"`
	TopConditions            []ConditionCount `json:"top_conditions"`
	RiskDistribution         map[string]int   `json:"risk_distribution"`
	PatientsNeedingAttention int              `json:"patients_needing_attention"`
	AttentionPatientIDs      []uuid.UUID      `json:"attention_patient_ids"`
}
