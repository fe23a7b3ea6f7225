package mlmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Catalog is a YAML model catalog used to bootstrap a clinic.
//
//	mode: api
//	models:
//	  - model_name: Cardio Risk
//	    model_type: heart_disease
//	    api_endpoint: https://risk.example.org/predict
//	    active: true
type Catalog struct {
	Mode   string         `yaml:"mode"`
	Models []CatalogModel `yaml:"models"`
}

type CatalogModel struct {
	ModelName            string   `yaml:"model_name"`
	Version              string   `yaml:"version"`
	ModelType            string   `yaml:"model_type"`
	Accuracy             *float64 `yaml:"accuracy"`
	Description          string   `yaml:"description"`
	APIEndpoint          string   `yaml:"api_endpoint"`
	APIKey               string   `yaml:"api_key"`
	MockPredictionOutput string   `yaml:"mock_prediction_output"`
	Active               bool     `yaml:"active"`
}

func (c CatalogModel) input() Input {
	in := Input{
		ModelName:   &c.ModelName,
		Version:     &c.Version,
		ModelType:   &c.ModelType,
		Accuracy:    c.Accuracy,
		Description: &c.Description,
		APIEndpoint: &c.APIEndpoint,
		APIKey:      &c.APIKey,
	}
	if c.MockPredictionOutput != "" {
		in.MockPredictionOutput = json.RawMessage(c.MockPredictionOutput)
	}
	return in
}

func ParseCatalog(r io.Reader) (*Catalog, error) {
	var cat Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if cat.Mode != "" && cat.Mode != ModeAPI && cat.Mode != ModeLocal {
		return nil, fmt.Errorf("%w: catalog mode must be api or local", ErrValidation)
	}
	return &cat, nil
}

// SeedResult counts what Seed changed.
type SeedResult struct {
	Created   int `json:"created"`
	Skipped   int `json:"skipped"`
	Activated int `json:"activated"`
}

// Seed registers catalog models that are not yet present (matched on name
// and version), activates the ones marked active and finally switches to
// the catalog mode. Running it twice is a no-op.
func (s *Service) Seed(ctx context.Context, cat *Catalog) (*SeedResult, error) {
	existing, err := s.models.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]*MLModel, len(existing))
	for _, m := range existing {
		seen[m.ModelName+"@"+m.Version] = m
	}

	st, err := s.FreshSetting(ctx)
	if err != nil {
		return nil, err
	}

	res := &SeedResult{}
	for _, entry := range cat.Models {
		m, ok := seen[entry.ModelName+"@"+entry.Version]
		if ok {
			res.Skipped++
		} else {
			if m, err = s.CreateAPIModel(ctx, entry.input()); err != nil {
				return res, fmt.Errorf("seed %q: %w", entry.ModelName, err)
			}
			seen[m.ModelName+"@"+m.Version] = m
			res.Created++
		}
		if entry.Active && !m.IsActive && m.Infrastructure() == st.ActiveModelType {
			if _, err := s.ToggleModel(ctx, m.ID); err != nil {
				return res, fmt.Errorf("activate %q: %w", entry.ModelName, err)
			}
			m.IsActive = true
			res.Activated++
		}
	}

	if cat.Mode != "" && cat.Mode != st.ActiveModelType {
		if _, err := s.SwitchMode(ctx, cat.Mode); err != nil {
			return res, err
		}
	}
	s.logger.Info().Int("created", res.Created).Int("skipped", res.Skipped).
		Int("activated", res.Activated).Msg("model catalog seeded")
	return res, nil
}
