package diagnosis

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type DiagnosisRepository interface {
	Create(ctx context.Context, d *Diagnosis) error
	GetByID(ctx context.Context, id uuid.UUID) (*Diagnosis, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, f ListFilter) ([]*Diagnosis, int, error)
	ListByDoctor(ctx context.Context, doctorID string) ([]*Diagnosis, error)
	ListRecent(ctx context.Context, limit int) ([]*Diagnosis, error)
}

type TrainingRepository interface {
	Create(ctx context.Context, t *TrainingExample) error
	List(ctx context.Context, limit, offset int) ([]*TrainingExample, int, error)
}
