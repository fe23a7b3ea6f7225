package mlmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardiodx/cardiodx/internal/domain/inbox"
	"github.com/cardiodx/cardiodx/internal/inference"
	"github.com/cardiodx/cardiodx/internal/platform/auth"
	"github.com/cardiodx/cardiodx/internal/platform/blobstore"
	"github.com/cardiodx/cardiodx/internal/platform/cache"
	"github.com/cardiodx/cardiodx/internal/platform/db"
	"github.com/cardiodx/cardiodx/internal/platform/notification"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrModeUnavailable   = errors.New("cannot activate local mode: upload at least one local model first")
	ErrModeMismatch      = errors.New("model infrastructure does not match the active inference mode")
	ErrOCRLocalOnly      = errors.New("OCR can only be toggled in local mode")
	ErrInvalidMockOutput = errors.New("mock_prediction_output must be valid JSON")
	ErrArtifactRequired  = errors.New("a model file is required")
)

// Display names returned by ActiveModelName.
const (
	NameNone       = "None"
	NameDefaultLLM = "Default InvokeLLM"
	NameHybridOCR  = "Hybrid OCR (Local)"
	NameCloudOCR   = "Cloud OCR (API)"
	NameDisabled   = "Disabled"
)

const settingsKeyPrefix = "system-settings:"

// Notifier announces mode changes.
type Notifier interface {
	Broadcast(ctx context.Context, typ, priority, title, message, link string) error
	MailAdmins(ctx context.Context, templateID string, data map[string]string)
}

type Service struct {
	models   ModelRepository
	settings SettingRepository
	cache    cache.Cache
	cacheTTL time.Duration
	blobs    blobstore.BlobStore
	notifier Notifier
	tx       db.TxRunner
	logger   zerolog.Logger
}

func NewService(models ModelRepository, settings SettingRepository, c cache.Cache, cacheTTL time.Duration,
	blobs blobstore.BlobStore, notifier Notifier, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		models:   models,
		settings: settings,
		cache:    c,
		cacheTTL: cacheTTL,
		blobs:    blobs,
		notifier: notifier,
		tx:       tx,
		logger:   logger.With().Str("component", "mlmodel").Logger(),
	}
}

// -- Settings --

func settingsKey(ctx context.Context) string {
	return settingsKeyPrefix + db.ClinicFromContext(ctx)
}

// GetSetting returns the singleton through the settings cache.
func (s *Service) GetSetting(ctx context.Context) (*Setting, error) {
	key := settingsKey(ctx)
	b, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var st Setting
		if jerr := json.Unmarshal(b, &st); jerr == nil {
			return &st, nil
		}
	case !errors.Is(err, cache.ErrMiss):
		s.logger.Warn().Err(err).Msg("settings cache read failed")
	}

	st, err := s.FreshSetting(ctx)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(st); err == nil {
		if err := s.cache.Set(ctx, key, b, s.cacheTTL); err != nil {
			s.logger.Warn().Err(err).Msg("settings cache write failed")
		}
	}
	return st, nil
}

// FreshSetting reads the singleton from storage, creating it in api mode
// on first use.
func (s *Service) FreshSetting(ctx context.Context) (*Setting, error) {
	st, err := s.settings.Get(ctx)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	st = &Setting{ActiveModelType: ModeAPI}
	if err := s.settings.Create(ctx, st); err != nil {
		return nil, fmt.Errorf("create settings: %w", err)
	}
	return st, nil
}

func (s *Service) saveSetting(ctx context.Context, st *Setting) error {
	if err := s.settings.Update(ctx, st); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	if err := s.cache.Delete(ctx, settingsKey(ctx)); err != nil {
		s.logger.Warn().Err(err).Msg("settings cache invalidation failed")
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }

func modeLabel(mode string) string {
	if mode == ModeAPI {
		return "API Models"
	}
	return "Local/Hybrid Models"
}

func findModel(models []*MLModel, id uuid.UUID) *MLModel {
	for _, m := range models {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// SwitchMode changes the inference mode. Models of the other
// infrastructure are deactivated and the models remembered for the new
// mode are reactivated.
func (s *Service) SwitchMode(ctx context.Context, mode string) (*Setting, error) {
	if mode != ModeAPI && mode != ModeLocal {
		return nil, fmt.Errorf("%w: active_model_type must be api or local", ErrValidation)
	}
	models, err := s.models.List(ctx)
	if err != nil {
		return nil, err
	}
	if mode == ModeLocal {
		hasLocal := false
		for _, m := range models {
			if m.Infrastructure() == ModeLocal {
				hasLocal = true
				break
			}
		}
		if !hasLocal {
			return nil, ErrModeUnavailable
		}
	}

	var st *Setting
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if st, err = s.FreshSetting(ctx); err != nil {
			return err
		}
		st.ActiveModelType = mode

		for _, m := range models {
			if m.IsActive && m.Infrastructure() != mode {
				if err := s.models.SetActive(ctx, m.ID, false); err != nil {
					return err
				}
				m.IsActive = false
			}
		}
		switch {
		case mode == ModeLocal && !st.OCROn():
			st.OCREnabled = boolPtr(true)
		case mode == ModeAPI && st.OCROn():
			st.OCREnabled = boolPtr(false)
		}
		for _, category := range []string{inference.CategoryHeartDisease, inference.CategoryImage} {
			id := *st.slot(mode, category)
			if id == nil || findModel(models, *id) == nil {
				continue
			}
			if err := s.models.SetActive(ctx, *id, true); err != nil {
				return err
			}
		}
		if err := s.saveSetting(ctx, st); err != nil {
			return err
		}
		return s.notifier.Broadcast(ctx, inbox.TypeInfo, inbox.PriorityHigh, "System Mode Changed",
			fmt.Sprintf("System inference mode has been switched to %s.", modeLabel(mode)), "MLModels")
	})
	if err != nil {
		return nil, err
	}

	changedBy := auth.PrincipalFromContext(ctx).Email
	if changedBy == "" {
		changedBy = auth.UserIDFromContext(ctx)
	}
	s.notifier.MailAdmins(ctx, notification.TemplateModeChanged, map[string]string{
		"mode":       modeLabel(mode),
		"changed_by": changedBy,
	})
	s.logger.Info().Str("mode", mode).Str("changed_by", changedBy).Msg("inference mode switched")
	return st, nil
}

// ToggleOCR flips hybrid OCR. Only local mode has a switchable OCR.
func (s *Service) ToggleOCR(ctx context.Context) (*Setting, error) {
	st, err := s.FreshSetting(ctx)
	if err != nil {
		return nil, err
	}
	if !st.IsLocal() {
		return nil, ErrOCRLocalOnly
	}
	st.OCREnabled = boolPtr(!st.OCROn())
	if err := s.saveSetting(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// -- Activation --

// ToggleModel activates or deactivates a model of the current mode.
// Activating replaces any other active model of the same category and
// infrastructure.
func (s *Service) ToggleModel(ctx context.Context, id uuid.UUID) (*MLModel, error) {
	var target *MLModel
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		st, err := s.FreshSetting(ctx)
		if err != nil {
			return err
		}
		models, err := s.models.List(ctx)
		if err != nil {
			return err
		}
		target = findModel(models, id)
		if target == nil {
			return ErrNotFound
		}
		infra := target.Infrastructure()
		if infra != st.ActiveModelType {
			return ErrModeMismatch
		}

		activate := !target.IsActive
		category := target.Category()
		if activate && (category == inference.CategoryHeartDisease || category == inference.CategoryImage) {
			for _, m := range models {
				if m.ID != id && m.IsActive && m.Infrastructure() == infra && m.Category() == category {
					if err := s.models.SetActive(ctx, m.ID, false); err != nil {
						return err
					}
				}
			}
		}
		if err := s.models.SetActive(ctx, id, activate); err != nil {
			return err
		}
		target.IsActive = activate

		slot := st.slot(infra, category)
		if slot == nil {
			return nil
		}
		*slot = nil
		if activate {
			*slot = &target.ID
		}
		return s.saveSetting(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	return target.redact(), nil
}

func normalizeType(t string) string {
	return strings.NewReplacer("_", "", " ", "").Replace(strings.ToLower(t))
}

func typeMatches(modelType string, acceptable []string) bool {
	mt := normalizeType(modelType)
	if mt == "" {
		return false
	}
	for _, a := range acceptable {
		at := normalizeType(a)
		if mt == at || strings.Contains(mt, at) || strings.Contains(at, mt) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ActiveModelName is the display name of whatever serves modelType right
// now.
func (s *Service) ActiveModelName(ctx context.Context, modelType string) (string, error) {
	st, err := s.GetSetting(ctx)
	if err != nil {
		return "", err
	}
	if modelType == TypeOCR {
		switch {
		case !st.IsLocal():
			return NameCloudOCR, nil
		case st.OCROn():
			return NameHybridOCR, nil
		default:
			return NameDisabled, nil
		}
	}

	models, err := s.models.List(ctx)
	if err != nil {
		return "", err
	}
	infra := ModeAPI
	if st.IsLocal() {
		infra = ModeLocal
	}
	if slot := st.slot(infra, modelType); slot != nil && *slot != nil {
		if m := findModel(models, **slot); m != nil {
			return m.ModelName, nil
		}
	}

	acceptable, ok := compatibleTypes[modelType]
	if !ok {
		acceptable = []string{modelType}
	}
	for _, m := range models {
		if m.IsActive && m.Infrastructure() == infra && typeMatches(m.ModelType, acceptable) {
			return m.ModelName, nil
		}
	}

	if st.ActiveModelType == ModeAPI {
		for _, m := range models {
			if m.IsActive && m.Infrastructure() == ModeAPI && contains(acceptable, m.ModelType) {
				return NameNone, nil
			}
		}
		return NameDefaultLLM, nil
	}
	return NameNone, nil
}

// activeFor picks the model serving category on infra: the remembered one
// if still active, else the first active match.
func activeFor(st *Setting, models []*MLModel, infra, category string) *MLModel {
	if slot := st.slot(infra, category); slot != nil && *slot != nil {
		if m := findModel(models, **slot); m != nil && m.IsActive && m.Infrastructure() == infra {
			return m
		}
	}
	for _, m := range models {
		if m.IsActive && m.Infrastructure() == infra && m.Category() == category {
			return m
		}
	}
	return nil
}

// Resolve implements inference.Resolver.
func (s *Service) Resolve(ctx context.Context, category string) (inference.Target, error) {
	st, err := s.GetSetting(ctx)
	if err != nil {
		return inference.Target{}, err
	}
	models, err := s.models.List(ctx)
	if err != nil {
		return inference.Target{}, err
	}
	t := inference.Target{Kind: inference.TargetNone, Mode: st.ActiveModelType}

	if st.IsLocal() {
		if m := activeFor(st, models, ModeLocal, category); m != nil {
			t.Kind, t.Model = inference.TargetLocalMock, m.ref()
		}
		return t, nil
	}

	if m := activeFor(st, models, ModeAPI, category); m != nil {
		switch {
		case m.APIEndpoint != "":
			t.Kind, t.Model = inference.TargetCustomAPI, m.ref()
			return t, nil
		case len(m.MockPredictionOutput) > 0:
			t.Kind, t.Model = inference.TargetLocalMock, m.ref()
			return t, nil
		}
	}
	if category == inference.CategoryHeartDisease || category == inference.CategoryImage {
		t.Kind = inference.TargetDefaultLLM
	}
	return t, nil
}

// -- CRUD --

// normalizeMock accepts a JSON value or a string holding JSON text.
func normalizeMock(raw json.RawMessage) (json.RawMessage, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, ErrInvalidMockOutput
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, nil
		}
		raw = json.RawMessage(text)
	}
	if !json.Valid(raw) {
		return nil, ErrInvalidMockOutput
	}
	return raw, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func (m *MLModel) apply(in Input) error {
	if in.ModelName != nil {
		m.ModelName = deref(in.ModelName)
	}
	if in.Version != nil {
		m.Version = deref(in.Version)
	}
	if in.ModelType != nil {
		m.ModelType = deref(in.ModelType)
	}
	if in.Accuracy != nil {
		m.Accuracy = in.Accuracy
	}
	if in.Description != nil {
		m.Description = deref(in.Description)
	}
	if in.APIEndpoint != nil {
		m.APIEndpoint = deref(in.APIEndpoint)
	}
	if in.APIKey != nil {
		m.APIKey = deref(in.APIKey)
	}
	if in.MockPredictionOutput != nil {
		mock, err := normalizeMock(in.MockPredictionOutput)
		if err != nil {
			return err
		}
		m.MockPredictionOutput = mock
	}
	if in.PerformanceMetrics != nil {
		m.PerformanceMetrics = in.PerformanceMetrics
	}
	return m.validate()
}

func (m *MLModel) validate() error {
	var missing []string
	if m.ModelName == "" {
		missing = append(missing, "model_name")
	}
	if m.ModelType == "" {
		missing = append(missing, "model_type")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrValidation, strings.Join(missing, ", "))
	}
	if !validTypes[m.ModelType] {
		return fmt.Errorf("%w: unknown model_type %q", ErrValidation, m.ModelType)
	}
	if m.Accuracy != nil && (*m.Accuracy < 0 || *m.Accuracy > 100) {
		return fmt.Errorf("%w: accuracy must be between 0 and 100", ErrValidation)
	}
	return nil
}

// CreateAPIModel registers a model served by a remote endpoint.
func (s *Service) CreateAPIModel(ctx context.Context, in Input) (*MLModel, error) {
	m := &MLModel{CreatedBy: auth.UserIDFromContext(ctx)}
	if err := m.apply(in); err != nil {
		return nil, err
	}
	if err := s.models.Create(ctx, m); err != nil {
		return nil, err
	}
	return m.redact(), nil
}

// Artifact is an uploaded local model file.
type Artifact struct {
	FileName    string
	ContentType string
	Content     io.Reader
}

// CreateLocalModel stores the artifact and registers a local model
// pointing at it. Artifacts are kept, never executed.
func (s *Service) CreateLocalModel(ctx context.Context, in Input, art *Artifact) (*MLModel, error) {
	if art == nil || art.Content == nil {
		return nil, ErrArtifactRequired
	}
	in.APIEndpoint, in.APIKey = nil, nil
	m := &MLModel{CreatedBy: auth.UserIDFromContext(ctx)}
	if err := m.apply(in); err != nil {
		return nil, err
	}

	meta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    art.FileName,
		ContentType: art.ContentType,
		Category:    blobstore.CategoryModelArtifact,
		CreatedBy:   m.CreatedBy,
	}, art.Content)
	if err != nil {
		return nil, fmt.Errorf("store model file: %w", err)
	}
	url, err := s.blobs.URL(ctx, meta.ID)
	if err != nil {
		return nil, err
	}
	m.ModelFileURL, m.ArtifactBlobID = url, meta.ID

	if err := s.models.Create(ctx, m); err != nil {
		if derr := s.blobs.Delete(ctx, meta.ID); derr != nil {
			s.logger.Warn().Err(derr).Str("blob_id", meta.ID).Msg("failed to remove orphaned model file")
		}
		return nil, err
	}
	return m.redact(), nil
}

func (s *Service) List(ctx context.Context) ([]*MLModel, error) {
	models, err := s.models.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range models {
		m.redact()
	}
	return models, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*MLModel, error) {
	m, err := s.models.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.redact(), nil
}

// Update patches descriptive fields. Activation goes through ToggleModel.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in Input) (*MLModel, error) {
	m, err := s.models.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Infrastructure() == ModeLocal {
		in.APIEndpoint, in.APIKey = nil, nil
	}
	if err := m.apply(in); err != nil {
		return nil, err
	}
	if err := s.models.Update(ctx, m); err != nil {
		return nil, err
	}
	return m.redact(), nil
}

// Delete removes the model, forgets it in the settings and drops its
// artifact.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	m, err := s.models.GetByID(ctx, id)
	if err != nil {
		return err
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.models.Delete(ctx, id); err != nil {
			return err
		}
		st, err := s.FreshSetting(ctx)
		if err != nil {
			return err
		}
		changed := false
		for _, slot := range []**uuid.UUID{
			&st.ActiveAPIHeartDiseaseModelID, &st.ActiveAPIImageAnalysisModelID,
			&st.ActiveLocalHeartDiseaseModelID, &st.ActiveLocalImageAnalysisModelID,
		} {
			if *slot != nil && **slot == id {
				*slot = nil
				changed = true
			}
		}
		if !changed {
			return nil
		}
		return s.saveSetting(ctx, st)
	})
	if err != nil {
		return err
	}
	if m.ArtifactBlobID != "" {
		if err := s.blobs.Delete(ctx, m.ArtifactBlobID); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
			s.logger.Warn().Err(err).Str("blob_id", m.ArtifactBlobID).Msg("failed to remove model file")
		}
	}
	return nil
}
