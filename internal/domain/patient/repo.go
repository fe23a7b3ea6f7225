package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, params ListParams) ([]*Patient, int, error)
}

type NoteRepository interface {
	Create(ctx context.Context, n *Note) error
	GetByID(ctx context.Context, id uuid.UUID) (*Note, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Note, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type FileRepository interface {
	Create(ctx context.Context, f *File) error
	GetByID(ctx context.Context, id uuid.UUID) (*File, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*File, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
