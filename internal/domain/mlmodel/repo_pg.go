package mlmodel

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

// -- Models --

type modelRepoPG struct{ pool *pgxpool.Pool }

func NewModelRepoPG(pool *pgxpool.Pool) ModelRepository {
	return &modelRepoPG{pool: pool}
}

func (r *modelRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const modelCols = `id, model_name, version, model_type, accuracy, COALESCE(description, ''),
	COALESCE(model_file_url, ''), COALESCE(artifact_blob_id, ''), COALESCE(api_endpoint, ''), COALESCE(api_key, ''),
	mock_prediction_output, performance_metrics, is_active, COALESCE(created_by, ''),
	created_at, updated_at`

func (r *modelRepoPG) scanModel(row pgx.Row) (*MLModel, error) {
	var m MLModel
	var mock *string
	var metrics []byte
	err := row.Scan(&m.ID, &m.ModelName, &m.Version, &m.ModelType, &m.Accuracy, &m.Description,
		&m.ModelFileURL, &m.ArtifactBlobID, &m.APIEndpoint, &m.APIKey,
		&mock, &metrics, &m.IsActive, &m.CreatedBy,
		&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if mock != nil && *mock != "" {
		m.MockPredictionOutput = json.RawMessage(*mock)
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &m.PerformanceMetrics); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func modelArgs(m *MLModel) ([]interface{}, error) {
	var metrics []byte
	if m.PerformanceMetrics != nil {
		b, err := json.Marshal(m.PerformanceMetrics)
		if err != nil {
			return nil, err
		}
		metrics = b
	}
	return []interface{}{
		m.ID, m.ModelName, m.Version, m.ModelType, m.Accuracy, nullIfEmpty(m.Description),
		nullIfEmpty(m.ModelFileURL), nullIfEmpty(m.ArtifactBlobID), nullIfEmpty(m.APIEndpoint), nullIfEmpty(m.APIKey),
		nullIfEmpty(string(m.MockPredictionOutput)), metrics, m.IsActive, nullIfEmpty(m.CreatedBy),
	}, nil
}

func (r *modelRepoPG) Create(ctx context.Context, m *MLModel) error {
	m.ID = uuid.New()
	args, err := modelArgs(m)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ml_models (id, model_name, version, model_type, accuracy, description,
			model_file_url, artifact_blob_id, api_endpoint, api_key, mock_prediction_output,
			performance_metrics, is_active, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`, args...).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *modelRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MLModel, error) {
	return r.scanModel(r.conn(ctx).QueryRow(ctx, `SELECT `+modelCols+` FROM ml_models WHERE id = $1`, id))
}

func (r *modelRepoPG) Update(ctx context.Context, m *MLModel) error {
	args, err := modelArgs(m)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE ml_models SET model_name = $2, version = $3, model_type = $4, accuracy = $5,
			description = $6, model_file_url = $7, artifact_blob_id = $8, api_endpoint = $9,
			api_key = $10, mock_prediction_output = $11, performance_metrics = $12,
			is_active = $13, created_by = $14, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`, args...).Scan(&m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *modelRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE ml_models SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *modelRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM ml_models WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *modelRepoPG) List(ctx context.Context) ([]*MLModel, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+modelCols+` FROM ml_models ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*MLModel
	for rows.Next() {
		m, err := r.scanModel(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// -- Settings --

type settingRepoPG struct{ pool *pgxpool.Pool }

func NewSettingRepoPG(pool *pgxpool.Pool) SettingRepository {
	return &settingRepoPG{pool: pool}
}

func (r *settingRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *settingRepoPG) Get(ctx context.Context) (*Setting, error) {
	var s Setting
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, active_model_type, ocr_enabled, active_api_heart_disease_model_id,
			active_api_image_analysis_model_id, active_local_heart_disease_model_id,
			active_local_image_analysis_model_id, updated_at
		FROM system_settings ORDER BY updated_at LIMIT 1`).Scan(
		&s.ID, &s.ActiveModelType, &s.OCREnabled, &s.ActiveAPIHeartDiseaseModelID,
		&s.ActiveAPIImageAnalysisModelID, &s.ActiveLocalHeartDiseaseModelID,
		&s.ActiveLocalImageAnalysisModelID, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *settingRepoPG) Create(ctx context.Context, s *Setting) error {
	s.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO system_settings (id, active_model_type, ocr_enabled)
		VALUES ($1, $2, $3)
		RETURNING updated_at`, s.ID, s.ActiveModelType, s.OCREnabled).Scan(&s.UpdatedAt)
}

func (r *settingRepoPG) Update(ctx context.Context, s *Setting) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE system_settings SET active_model_type = $2, ocr_enabled = $3,
			active_api_heart_disease_model_id = $4, active_api_image_analysis_model_id = $5,
			active_local_heart_disease_model_id = $6, active_local_image_analysis_model_id = $7,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.ActiveModelType, s.OCREnabled, s.ActiveAPIHeartDiseaseModelID,
		s.ActiveAPIImageAnalysisModelID, s.ActiveLocalHeartDiseaseModelID,
		s.ActiveLocalImageAnalysisModelID).Scan(&s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
