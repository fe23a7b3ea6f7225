package diagnosis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardiodx/cardiodx/internal/domain/inbox"
	"github.com/cardiodx/cardiodx/internal/domain/patient"
	"github.com/cardiodx/cardiodx/internal/inference"
	"github.com/cardiodx/cardiodx/internal/platform/auth"
	"github.com/cardiodx/cardiodx/internal/platform/db"
	"github.com/cardiodx/cardiodx/internal/platform/notification"
	"github.com/cardiodx/cardiodx/pkg/riskscore"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNoModelActive     = errors.New("no model active")
	ErrInvalidPrediction = errors.New("model returned an invalid prediction")
)

// MissingFieldsError lists the inputs an assessment still needs.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

func (e *MissingFieldsError) Is(target error) bool { return target == ErrValidation }

// NoModelError carries the user-facing message for an unserved category.
type NoModelError struct {
	Message string
}

func (e *NoModelError) Error() string { return e.Message }

func (e *NoModelError) Is(target error) bool { return target == ErrNoModelActive }

// Record hash separators.
const (
	HashSepAssessment = "a"
	HashSepDocument   = "b"
)

// trendLimit caps the diagnoses read for a vitals trend.
const trendLimit = 200

type PatientReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type Predictor interface {
	Predict(ctx context.Context, req inference.Request) (*inference.Result, error)
}

type Notifier interface {
	NotifyUser(ctx context.Context, userID, typ, title, message, link string) error
	AlertAdmins(ctx context.Context, n *inbox.Notification, templateID string, data map[string]string) error
}

type Service struct {
	diagnoses DiagnosisRepository
	training  TrainingRepository
	patients  PatientReader
	predictor Predictor
	notifier  Notifier
	tx        db.TxRunner
	publicURL string
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(diagnoses DiagnosisRepository, training TrainingRepository, patients PatientReader,
	predictor Predictor, notifier Notifier, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		diagnoses: diagnoses,
		training:  training,
		patients:  patients,
		predictor: predictor,
		notifier:  notifier,
		tx:        tx,
		logger:    logger.With().Str("component", "diagnosis").Logger(),
		now:       time.Now,
	}
}

// SetPublicURL sets the base used for links in alert mail.
func (s *Service) SetPublicURL(u string) {
	s.publicURL = strings.TrimRight(u, "/")
}

// Assessment is the reviewed-before-save result of an AI assessment.
type Assessment struct {
	Prediction     *Prediction           `json:"ai_prediction"`
	DiagnosisNotes string                `json:"diagnosis_notes"`
	TreatmentPlan  string                `json:"treatment_plan"`
	Explanation    riskscore.Explanation `json:"explanation"`
	Structured     StructuredInput       `json:"structured_input"`
	Source         inference.TargetKind  `json:"source"`
	ModelName      string                `json:"model_name,omitempty"`
}

// Assess runs a heart disease assessment for the draft against the
// latest stored patient.
func (s *Service) Assess(ctx context.Context, d *Diagnosis) (*Assessment, error) {
	p, err := s.patients.GetByID(ctx, d.PatientID)
	if err != nil {
		return nil, err
	}
	if missing := RequiredCheck(p, d); len(missing) > 0 {
		return nil, &MissingFieldsError{Fields: missing}
	}

	structured := BuildStructuredInput(p, d)
	input, err := json.Marshal(structured)
	if err != nil {
		return nil, err
	}
	res, err := s.predictor.Predict(ctx, inference.Request{
		Prompt:   BuildPrompt(structured),
		Schema:   inference.PredictionSchema(),
		Input:    input,
		Category: inference.CategoryHeartDisease,
	})
	if err != nil {
		return nil, err
	}
	if res.NoModelActive {
		return nil, &NoModelError{Message: res.Message}
	}

	var pred Prediction
	if err := json.Unmarshal(res.Output, &pred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrediction, err)
	}

	return &Assessment{
		Prediction:     &pred,
		DiagnosisNotes: pred.SummaryNotes,
		TreatmentPlan:  strings.Join(pred.Recommendations.Medications, "\n"),
		Explanation:    riskscore.Explain(RiskFactors(structured), pred.RiskScore, pred.RiskLevel),
		Structured:     structured,
		Source:         res.Source,
		ModelName:      res.ModelName,
	}, nil
}

func randomBase36(n int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}

// RecordHash fingerprints a record: "0x", the hex of unix-ms plus the
// payload length, the origin separator and 8 random base36 characters.
func RecordHash(d *Diagnosis, now time.Time, sep string) string {
	payload, _ := json.Marshal(d)
	return "0x" + strconv.FormatInt(now.UnixMilli()+int64(len(payload)), 16) + sep + randomBase36(8)
}

type SaveOptions struct {
	SaveForTraining bool
	FromDocument    bool
}

func trainingFeatures(d *Diagnosis) Features {
	f := Features{
		VitalSigns:             d.VitalSigns,
		ClinicalObservations:   d.ClinicalObservations,
		Lifestyle:              d.Lifestyle,
		MedicalHistoryFlags:    d.MedicalHistoryFlags,
		LabResults:             d.LabResults,
		AdditionalMeasurements: d.AdditionalMeasurements,
	}
	for _, s := range d.Symptoms {
		if s.AssociatedFactors == nil {
			s.AssociatedFactors = []string{}
		}
		f.Symptoms = append(f.Symptoms, s)
	}
	return f
}

func trainingLabels(d *Diagnosis) (string, []string) {
	level := riskscore.LevelModerate
	conditions := []string{}
	if d.AIPrediction == nil {
		return level, conditions
	}
	if d.AIPrediction.RiskLevel != "" {
		level = d.AIPrediction.RiskLevel
	}
	for _, c := range d.AIPrediction.PredictedConditions {
		if name := strings.TrimSpace(c.Condition); name != "" {
			conditions = append(conditions, name)
		}
	}
	return level, conditions
}

// Save stores a reviewed diagnosis together with its training example and
// notifications in one transaction.
func (s *Service) Save(ctx context.Context, d *Diagnosis, opts SaveOptions) error {
	if d.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	p, err := s.patients.GetByID(ctx, d.PatientID)
	if err != nil {
		return err
	}
	if d.DoctorID == "" {
		d.DoctorID = auth.UserIDFromContext(ctx)
	}
	sep := HashSepAssessment
	if opts.FromDocument {
		sep = HashSepDocument
	}
	d.RecordHash = RecordHash(d, s.now(), sep)
	d.Status = StatusCompleted

	name := p.FullName
	if name == "" {
		name = "patient"
	}

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.diagnoses.Create(ctx, d); err != nil {
			return fmt.Errorf("create diagnosis: %w", err)
		}

		if opts.SaveForTraining {
			level, conditions := trainingLabels(d)
			ex := &TrainingExample{
				PatientID:         d.PatientID,
				DoctorID:          d.DoctorID,
				SourceDiagnosisID: d.ID,
				Features:          trainingFeatures(d),
				LabelRiskLevel:    level,
				LabelConditions:   conditions,
				AIFeedbackMatch:   d.AIFeedbackMatch,
				AIFeedbackNote:    d.AIFeedbackNote,
			}
			if err := s.training.Create(ctx, ex); err != nil {
				return fmt.Errorf("create training example: %w", err)
			}
		}

		if err := s.notifier.NotifyUser(ctx, d.DoctorID, inbox.TypeSuccess, "Diagnosis saved",
			fmt.Sprintf("Diagnosis for %s saved successfully.", name), "PatientRecords"); err != nil {
			return fmt.Errorf("notify doctor: %w", err)
		}

		risk := d.RiskLevel()
		if risk != riskscore.LevelHigh && risk != riskscore.LevelCritical {
			return nil
		}
		link := "AdminDashboard"
		n := &inbox.Notification{
			Title:   "High-risk diagnosis",
			Message: fmt.Sprintf("High/critical risk case recorded for %s (%s).", name, risk),
			Type:    inbox.TypeAlert,
			LinkURL: &link,
			Metadata: map[string]string{
				"diagnosis_id": d.ID.String(),
				"patient_id":   d.PatientID.String(),
				"risk":         risk,
			},
		}
		mailLink := link
		if s.publicURL != "" {
			mailLink = s.publicURL + "/" + link
		}
		data := map[string]string{
			"patient_name": name,
			"risk":         risk,
			"score":        num(d.AIPrediction.RiskScore),
			"link":         mailLink,
		}
		if err := s.notifier.AlertAdmins(ctx, n, notification.TemplateHighRiskAlert, data); err != nil {
			return fmt.Errorf("alert admins: %w", err)
		}
		s.logger.Info().Str("diagnosis_id", d.ID.String()).Str("risk", risk).Msg("high-risk diagnosis recorded")
		return nil
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Diagnosis, error) {
	return s.diagnoses.GetByID(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.diagnoses.Delete(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, f ListFilter) ([]*Diagnosis, int, error) {
	f.Severity = strings.ToLower(strings.TrimSpace(f.Severity))
	if f.Severity == "" {
		f.Severity = "all"
	}
	return s.diagnoses.ListByPatient(ctx, patientID, f)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID string) ([]*Diagnosis, error) {
	return s.diagnoses.ListByDoctor(ctx, doctorID)
}

func (s *Service) ListRecent(ctx context.Context, limit int) ([]*Diagnosis, error) {
	return s.diagnoses.ListRecent(ctx, limit)
}

// ToggleFollowUp flips follow_up_required and completed. Any other status
// becomes follow_up_required.
func (s *Service) ToggleFollowUp(ctx context.Context, id uuid.UUID) (*Diagnosis, error) {
	d, err := s.diagnoses.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next := StatusFollowUpRequired
	if d.Status == StatusFollowUpRequired {
		next = StatusCompleted
	}
	if err := s.diagnoses.UpdateStatus(ctx, id, next); err != nil {
		return nil, err
	}
	d.Status = next
	return d, nil
}

// VitalsTrend returns one point per diagnosis with vitals, oldest first.
func (s *Service) VitalsTrend(ctx context.Context, patientID uuid.UUID) ([]VitalsPoint, error) {
	items, _, err := s.diagnoses.ListByPatient(ctx, patientID, ListFilter{Severity: "all", Limit: trendLimit})
	if err != nil {
		return nil, err
	}
	points := []VitalsPoint{}
	for i := len(items) - 1; i >= 0; i-- {
		d := items[i]
		if d.VitalSigns == nil {
			continue
		}
		points = append(points, VitalsPoint{
			Date:      d.CreatedAt,
			Systolic:  d.VitalSigns.SystolicBP,
			Diastolic: d.VitalSigns.DiastolicBP,
			HeartRate: d.VitalSigns.HeartRate,
		})
	}
	return points, nil
}

func (s *Service) TrainingExamples(ctx context.Context, limit, offset int) ([]*TrainingExample, int, error) {
	return s.training.List(ctx, limit, offset)
}
