package mlmodel

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type ModelRepository interface {
	Create(ctx context.Context, m *MLModel) error
	GetByID(ctx context.Context, id uuid.UUID) (*MLModel, error)
	Update(ctx context.Context, m *MLModel) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	// List returns every model, newest first.
	List(ctx context.Context) ([]*MLModel, error)
}

type SettingRepository interface {
	// Get returns ErrNotFound until the singleton exists.
	Get(ctx context.Context) (*Setting, error)
	Create(ctx context.Context, s *Setting) error
	Update(ctx context.Context, s *Setting) error
}
