package patient

import (
	"context"
	"encoding/json"
	"errors"

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

// -- Patient --

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const patientCols = `id, patient_id, full_name, age, gender, blood_type, phone, emergency_contact,
	medical_history, medical_history_summary, allergies, current_medications,
	lifestyle_smoking_status, alcohol_consumption, physical_activity_level, diet_habits,
	family_history_heart_disease, has_hypertension, has_diabetes, has_dyslipidemia,
	chronic_kidney_disease, previous_cardiovascular_events, lab_results, additional_measurements,
	assigned_doctor_id, created_by, created_at, updated_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var meds, labs, extra []byte
	err := row.Scan(&p.ID, &p.PatientID, &p.FullName, &p.Age, &p.Gender, &p.BloodType, &p.Phone,
		&p.EmergencyContact, &p.MedicalHistory, &p.MedicalHistorySummary, &p.Allergies, &meds,
		&p.LifestyleSmokingStatus, &p.AlcoholConsumption, &p.PhysicalActivityLevel, &p.DietHabits,
		&p.FamilyHistoryHeartDisease, &p.HasHypertension, &p.HasDiabetes, &p.HasDyslipidemia,
		&p.ChronicKidneyDisease, &p.PreviousCardiovascularEvents, &labs, &extra,
		&p.AssignedDoctorID, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalIfSet(meds, &p.CurrentMedications); err != nil {
		return nil, err
	}
	if err := unmarshalIfSet(labs, &p.LabResults); err != nil {
		return nil, err
	}
	if err := unmarshalIfSet(extra, &p.AdditionalMeasurements); err != nil {
		return nil, err
	}
	return &p, nil
}

func unmarshalIfSet(data []byte, dst interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

// jsonOrNil encodes v, returning nil for values that should be stored as NULL.
func jsonOrNil(v interface{}, empty bool) ([]byte, error) {
	if empty {
		return nil, nil
	}
	return json.Marshal(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *patientRepoPG) encode(p *Patient) (meds, labs, extra []byte, err error) {
	if p.CurrentMedications == nil {
		p.CurrentMedications = []Medication{}
	}
	if meds, err = json.Marshal(p.CurrentMedications); err != nil {
		return
	}
	if labs, err = jsonOrNil(p.LabResults, p.LabResults.Empty()); err != nil {
		return
	}
	extra, err = jsonOrNil(p.AdditionalMeasurements, len(p.AdditionalMeasurements) == 0)
	return
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	meds, labs, extra, err := r.encode(p)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, patient_id, full_name, age, gender, blood_type, phone,
			emergency_contact, medical_history, medical_history_summary, allergies,
			current_medications, lifestyle_smoking_status, alcohol_consumption,
			physical_activity_level, diet_habits, family_history_heart_disease,
			has_hypertension, has_diabetes, has_dyslipidemia, chronic_kidney_disease,
			previous_cardiovascular_events, lab_results, additional_measurements,
			assigned_doctor_id, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
		RETURNING created_at, updated_at`,
		p.ID, p.PatientID, p.FullName, p.Age, p.Gender, p.BloodType, p.Phone,
		p.EmergencyContact, nonNil(p.MedicalHistory), p.MedicalHistorySummary, nonNil(p.Allergies),
		meds, p.LifestyleSmokingStatus, p.AlcoholConsumption,
		p.PhysicalActivityLevel, p.DietHabits, p.FamilyHistoryHeartDisease,
		p.HasHypertension, p.HasDiabetes, p.HasDyslipidemia, p.ChronicKidneyDisease,
		nonNil(p.PreviousCardiovascularEvents), labs, extra,
		p.AssignedDoctorID, p.CreatedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	meds, labs, extra, err := r.encode(p)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET full_name=$2, age=$3, gender=$4, blood_type=$5, phone=$6,
			emergency_contact=$7, medical_history=$8, medical_history_summary=$9, allergies=$10,
			current_medications=$11, lifestyle_smoking_status=$12, alcohol_consumption=$13,
			physical_activity_level=$14, diet_habits=$15, family_history_heart_disease=$16,
			has_hypertension=$17, has_diabetes=$18, has_dyslipidemia=$19,
			chronic_kidney_disease=$20, previous_cardiovascular_events=$21, lab_results=$22,
			additional_measurements=$23, assigned_doctor_id=$24, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FullName, p.Age, p.Gender, p.BloodType, p.Phone,
		p.EmergencyContact, nonNil(p.MedicalHistory), p.MedicalHistorySummary, nonNil(p.Allergies),
		meds, p.LifestyleSmokingStatus, p.AlcoholConsumption,
		p.PhysicalActivityLevel, p.DietHabits, p.FamilyHistoryHeartDisease,
		p.HasHypertension, p.HasDiabetes, p.HasDyslipidemia,
		p.ChronicKidneyDisease, nonNil(p.PreviousCardiovascularEvents), labs,
		extra, p.AssignedDoctorID,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, params ListParams) ([]*Patient, int, error) {
	q := db.NewQuery("patients", patientCols)
	q.Eq("assigned_doctor_id", params.DoctorID)
	q.Contains(params.Search, "full_name", "patient_id")
	q.OrderBy("created_at DESC")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(params.Limit, params.Offset), q.DataArgs(params.Limit, params.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// -- Notes --

type noteRepoPG struct{ pool *pgxpool.Pool }

func NewNoteRepoPG(pool *pgxpool.Pool) NoteRepository {
	return &noteRepoPG{pool: pool}
}

func (r *noteRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const noteCols = `id, patient_id, author_id, content, visibility, created_at`

func (r *noteRepoPG) scanNote(row pgx.Row) (*Note, error) {
	var n Note
	err := row.Scan(&n.ID, &n.PatientID, &n.AuthorID, &n.Content, &n.Visibility, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &n, err
}

func (r *noteRepoPG) Create(ctx context.Context, n *Note) error {
	n.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_notes (id, patient_id, author_id, content, visibility)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		n.ID, n.PatientID, n.AuthorID, n.Content, n.Visibility).Scan(&n.CreatedAt)
}

func (r *noteRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Note, error) {
	return r.scanNote(r.conn(ctx).QueryRow(ctx, `SELECT `+noteCols+` FROM patient_notes WHERE id = $1`, id))
}

func (r *noteRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Note, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+noteCols+` FROM patient_notes WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Note
	for rows.Next() {
		n, err := r.scanNote(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (r *noteRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient_notes WHERE id = $1`, id)
	return err
}

// -- Files --

type fileRepoPG struct{ pool *pgxpool.Pool }

func NewFileRepoPG(pool *pgxpool.Pool) FileRepository {
	return &fileRepoPG{pool: pool}
}

func (r *fileRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const fileCols = `id, patient_id, uploader_id, blob_id, file_name, content_type, size_bytes,
	file_type, description, created_at`

func (r *fileRepoPG) scanFile(row pgx.Row) (*File, error) {
	var f File
	err := row.Scan(&f.ID, &f.PatientID, &f.UploaderID, &f.BlobID, &f.FileName, &f.ContentType,
		&f.Size, &f.FileType, &f.Description, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &f, err
}

func (r *fileRepoPG) Create(ctx context.Context, f *File) error {
	f.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_files (id, patient_id, uploader_id, blob_id, file_name, content_type,
			size_bytes, file_type, description)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		f.ID, f.PatientID, f.UploaderID, f.BlobID, f.FileName, f.ContentType,
		f.Size, f.FileType, f.Description).Scan(&f.CreatedAt)
}

func (r *fileRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*File, error) {
	return r.scanFile(r.conn(ctx).QueryRow(ctx, `SELECT `+fileCols+` FROM patient_files WHERE id = $1`, id))
}

func (r *fileRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*File, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+fileCols+` FROM patient_files WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*File
	for rows.Next() {
		f, err := r.scanFile(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

func (r *fileRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient_files WHERE id = $1`, id)
	return err
}
