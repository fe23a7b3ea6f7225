package mlmodel

import (
	"errors"
	"strings"
	"testing"
)

const testCatalog = `
mode: api
models:
  - model_name: Cardio Risk
    version: "1.0"
    model_type: heart_disease
    api_endpoint: https://risk.example.org/predict
    api_key: sk-risk-9999
    active: true
  - model_name: Chest Imaging
    version: "2.1"
    model_type: image_classification
    api_endpoint: https://img.example.org/classify
    mock_prediction_output: '{"risk_level":"low"}'
`

func TestParseCatalog(t *testing.T) {
	cat, err := ParseCatalog(strings.NewReader(testCatalog))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	if cat.Mode != ModeAPI || len(cat.Models) != 2 {
		t.Fatalf("unexpected catalog: %+v", cat)
	}
	if !cat.Models[0].Active || cat.Models[1].Active {
		t.Errorf("active flags not parsed: %+v", cat.Models)
	}
}

func TestParseCatalog_Rejects(t *testing.T) {
	if _, err := ParseCatalog(strings.NewReader("mode: cloud\n")); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for bad mode, got %v", err)
	}
	if _, err := ParseCatalog(strings.NewReader("modles: []\n")); err == nil {
		t.Error("expected error for unknown field")
	}
	cat, err := ParseCatalog(strings.NewReader(""))
	if err != nil || len(cat.Models) != 0 {
		t.Errorf("empty catalog: %+v, %v", cat, err)
	}
}

func TestSeed_CreatesActivatesAndIsIdempotent(t *testing.T) {
	env := newTestEnv()
	cat, err := ParseCatalog(strings.NewReader(testCatalog))
	if err != nil {
		t.Fatal(err)
	}

	res, err := env.svc.Seed(asAdmin(), cat)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if res.Created != 2 || res.Skipped != 0 || res.Activated != 1 {
		t.Errorf("first run = %+v", res)
	}

	st, _ := env.svc.FreshSetting(asAdmin())
	if st.ActiveAPIHeartDiseaseModelID == nil {
		t.Fatal("expected heart disease slot to be set")
	}
	if m := env.models.models[*st.ActiveAPIHeartDiseaseModelID]; m == nil || !m.IsActive || m.ModelName != "Cardio Risk" {
		t.Errorf("active model = %+v", m)
	}

	res, err = env.svc.Seed(asAdmin(), cat)
	if err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	if res.Created != 0 || res.Skipped != 2 || res.Activated != 0 {
		t.Errorf("second run = %+v", res)
	}
	if len(env.models.models) != 2 {
		t.Errorf("expected 2 models, got %d", len(env.models.models))
	}
}

func TestSeed_LocalModeNeedsArtifact(t *testing.T) {
	env := newTestEnv()
	cat := &Catalog{Mode: ModeLocal, Models: []CatalogModel{{ModelName: "Risk", ModelType: TypeHeartDisease, APIEndpoint: "https://x"}}}
	if _, err := env.svc.Seed(asAdmin(), cat); !errors.Is(err, ErrModeUnavailable) {
		t.Errorf("expected ErrModeUnavailable, got %v", err)
	}
}

func TestSeed_InvalidEntry(t *testing.T) {
	env := newTestEnv()
	cat := &Catalog{Models: []CatalogModel{{ModelName: "No Type"}}}
	res, err := env.svc.Seed(asAdmin(), cat)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if res == nil || res.Created != 0 {
		t.Errorf("res = %+v", res)
	}
}
