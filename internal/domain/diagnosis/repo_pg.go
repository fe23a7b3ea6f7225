package diagnosis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardiodx/cardiodx/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

type diagnosisRepoPG struct{ pool *pgxpool.Pool }

func NewDiagnosisRepoPG(pool *pgxpool.Pool) DiagnosisRepository {
	return &diagnosisRepoPG{pool: pool}
}

func (r *diagnosisRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const diagnosisCols = `id, patient_id, doctor_id, vital_signs, symptoms,
	COALESCE(clinical_observations, ''), lifestyle, medical_history_flags, lab_results,
	additional_measurements, medical_images, ai_prediction, COALESCE(diagnosis_notes, ''),
	COALESCE(treatment_plan, ''), ai_feedback_match, COALESCE(ai_feedback_note, ''),
	status, record_hash, created_at, updated_at`

func decodeJSON(data []byte, dst interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func (r *diagnosisRepoPG) scanDiagnosis(row pgx.Row) (*Diagnosis, error) {
	var d Diagnosis
	var vitals, symptoms, lifestyle, flags, labs, extra, images, prediction []byte
	err := row.Scan(&d.ID, &d.PatientID, &d.DoctorID, &vitals, &symptoms,
		&d.ClinicalObservations, &lifestyle, &flags, &labs,
		&extra, &images, &prediction, &d.DiagnosisNotes,
		&d.TreatmentPlan, &d.AIFeedbackMatch, &d.AIFeedbackNote,
		&d.Status, &d.RecordHash, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, field := range []struct {
		data []byte
		dst  interface{}
	}{
		{vitals, &d.VitalSigns}, {symptoms, &d.Symptoms}, {lifestyle, &d.Lifestyle},
		{flags, &d.MedicalHistoryFlags}, {labs, &d.LabResults}, {extra, &d.AdditionalMeasurements},
		{images, &d.MedicalImages}, {prediction, &d.AIPrediction},
	} {
		if err := decodeJSON(field.data, field.dst); err != nil {
			return nil, fmt.Errorf("decode diagnosis %s: %w", d.ID, err)
		}
	}
	return &d, nil
}

// nullableJSON encodes v, mapping nil pointers and empty maps to NULL.
func nullableJSON(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case *VitalSigns:
		if t == nil {
			return nil, nil
		}
	case *Lifestyle:
		if t == nil {
			return nil, nil
		}
	case *HistoryFlags:
		if t == nil {
			return nil, nil
		}
	case *LabResults:
		if t.Empty() {
			return nil, nil
		}
	case *Prediction:
		if t == nil {
			return nil, nil
		}
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func (r *diagnosisRepoPG) Create(ctx context.Context, d *Diagnosis) error {
	d.ID = uuid.New()
	if d.Symptoms == nil {
		d.Symptoms = []Symptom{}
	}
	if d.MedicalImages == nil {
		d.MedicalImages = []MedicalImage{}
	}
	args := []interface{}{d.ID, d.PatientID, d.DoctorID}
	for _, v := range []interface{}{d.VitalSigns, d.Symptoms} {
		b, err := nullableJSON(v)
		if err != nil {
			return err
		}
		args = append(args, b)
	}
	args = append(args, d.ClinicalObservations)
	for _, v := range []interface{}{d.Lifestyle, d.MedicalHistoryFlags, d.LabResults, d.AdditionalMeasurements, d.MedicalImages, d.AIPrediction} {
		b, err := nullableJSON(v)
		if err != nil {
			return err
		}
		args = append(args, b)
	}
	args = append(args, d.DiagnosisNotes, d.TreatmentPlan, d.AIFeedbackMatch, d.AIFeedbackNote, d.Status, d.RecordHash)

	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO diagnoses (id, patient_id, doctor_id, vital_signs, symptoms, clinical_observations,
			lifestyle, medical_history_flags, lab_results, additional_measurements, medical_images,
			ai_prediction, diagnosis_notes, treatment_plan, ai_feedback_match, ai_feedback_note,
			status, record_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING created_at, updated_at`, args...).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *diagnosisRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Diagnosis, error) {
	return r.scanDiagnosis(r.conn(ctx).QueryRow(ctx, `SELECT `+diagnosisCols+` FROM diagnoses WHERE id = $1`, id))
}

func (r *diagnosisRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE diagnoses SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *diagnosisRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM diagnoses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *diagnosisRepoPG) collect(rows pgx.Rows) ([]*Diagnosis, error) {
	defer rows.Close()
	var items []*Diagnosis
	for rows.Next() {
		d, err := r.scanDiagnosis(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *diagnosisRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, f ListFilter) ([]*Diagnosis, int, error) {
	q := db.NewQuery("diagnoses", diagnosisCols)
	q.Add(fmt.Sprintf("patient_id = $%d", q.Idx()), patientID)
	if f.Severity != "all" {
		q.Eq("ai_prediction->>'risk_level'", f.Severity)
	}
	q.Contains(f.Search, "diagnosis_notes", "treatment_plan")
	q.OrderBy("created_at DESC")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(f.Limit, f.Offset), q.DataArgs(f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *diagnosisRepoPG) ListByDoctor(ctx context.Context, doctorID string) ([]*Diagnosis, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+diagnosisCols+` FROM diagnoses WHERE doctor_id = $1 ORDER BY created_at DESC`, doctorID)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *diagnosisRepoPG) ListRecent(ctx context.Context, limit int) ([]*Diagnosis, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+diagnosisCols+` FROM diagnoses ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

// -- Training examples --

type trainingRepoPG struct{ pool *pgxpool.Pool }

func NewTrainingRepoPG(pool *pgxpool.Pool) TrainingRepository {
	return &trainingRepoPG{pool: pool}
}

func (r *trainingRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *trainingRepoPG) Create(ctx context.Context, t *TrainingExample) error {
	t.ID = uuid.New()
	features, err := json.Marshal(t.Features)
	if err != nil {
		return err
	}
	if t.LabelConditions == nil {
		t.LabelConditions = []string{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO training_examples (id, patient_id, doctor_id, source_diagnosis_id, features,
			label_risk_level, label_conditions, ai_feedback_match, ai_feedback_note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		t.ID, t.PatientID, t.DoctorID, t.SourceDiagnosisID, features,
		t.LabelRiskLevel, t.LabelConditions, t.AIFeedbackMatch, t.AIFeedbackNote).Scan(&t.CreatedAt)
}

func (r *trainingRepoPG) List(ctx context.Context, limit, offset int) ([]*TrainingExample, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM training_examples`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, doctor_id, source_diagnosis_id, features, label_risk_level,
			label_conditions, ai_feedback_match, COALESCE(ai_feedback_note, ''), created_at
		FROM training_examples ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*TrainingExample
	for rows.Next() {
		var t TrainingExample
		var features []byte
		if err := rows.Scan(&t.ID, &t.PatientID, &t.DoctorID, &t.SourceDiagnosisID, &features,
			&t.LabelRiskLevel, &t.LabelConditions, &t.AIFeedbackMatch, &t.AIFeedbackNote, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		if err := decodeJSON(features, &t.Features); err != nil {
			return nil, 0, err
		}
		items = append(items, &t)
	}
	return items, total, rows.Err()
}
