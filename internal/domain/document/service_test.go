package document

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardiodx/cardiodx/internal/domain/diagnosis"
	"github.com/cardiodx/cardiodx/internal/domain/mlmodel"
	"github.com/cardiodx/cardiodx/internal/domain/patient"
	"github.com/cardiodx/cardiodx/internal/inference"
	"github.com/cardiodx/cardiodx/internal/platform/auth"
	"github.com/cardiodx/cardiodx/internal/platform/blobstore"
)

// -- Mocks --

type mockPatients map[uuid.UUID]*patient.Patient

func (m mockPatients) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

type savedDiagnosis struct {
	d    *diagnosis.Diagnosis
	opts diagnosis.SaveOptions
}

type mockDiagnoses struct {
	history []*diagnosis.Diagnosis
	filter  diagnosis.ListFilter
	saved   []savedDiagnosis
	saveErr error
}

func (m *mockDiagnoses) ListByPatient(_ context.Context, patientID uuid.UUID, f diagnosis.ListFilter) ([]*diagnosis.Diagnosis, int, error) {
	m.filter = f
	var out []*diagnosis.Diagnosis
	for _, d := range m.history {
		if d.PatientID == patientID {
			out = append(out, d)
		}
	}
	return out, len(out), nil
}

func (m *mockDiagnoses) Save(_ context.Context, d *diagnosis.Diagnosis, opts diagnosis.SaveOptions) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	d.ID = uuid.New()
	m.saved = append(m.saved, savedDiagnosis{d: d, opts: opts})
	return nil
}

type mockSettings struct {
	setting *mlmodel.Setting
}

func (m *mockSettings) FreshSetting(context.Context) (*mlmodel.Setting, error) {
	return m.setting, nil
}

type mockExtractor struct {
	out    *inference.Extraction
	err    error
	calls  int
	schema map[string]any
}

func (m *mockExtractor) Extract(_ context.Context, _ inference.File, schema map[string]any) (*inference.Extraction, error) {
	m.calls++
	m.schema = schema
	return m.out, m.err
}

type mockPredictor struct {
	result *inference.Result
	err    error
	req    inference.Request
}

func (m *mockPredictor) Predict(_ context.Context, req inference.Request) (*inference.Result, error) {
	m.req = req
	return m.result, m.err
}

// -- Helpers --

type testEnv struct {
	svc       *Service
	patients  mockPatients
	diagnoses *mockDiagnoses
	settings  *mockSettings
	cloud     *mockExtractor
	hybrid    *mockExtractor
	predictor *mockPredictor
	blobs     *blobstore.InMemoryBlobStore
}

const analysisJSON = `{
	"document_analysis": {"document_type": "ECG", "key_findings": ["ST elevation"], "clinical_significance": "Possible acute ischemia"},
	"patient_correlation": {"historical_comparison": "New finding"},
	"clinical_recommendations": {
		"immediate_actions": ["Troponin now", "Cardiology consult"],
		"follow_up_tests": ["Echo", "Stress test"],
		"medication_adjustments": ["Start aspirin"],
		"lifestyle_modifications": ["Stop smoking"]
	},
	"risk_assessment": {"overall_risk": "High", "risk_factors": ["Hypertension", "Smoking"]}
}`

func newTestEnv() *testEnv {
	e := &testEnv{
		patients:  mockPatients{},
		diagnoses: &mockDiagnoses{},
		settings:  &mockSettings{setting: &mlmodel.Setting{ActiveModelType: mlmodel.ModeAPI}},
		cloud: &mockExtractor{out: &inference.Extraction{
			Output:  map[string]any{"document_type": "ECG", "findings": []any{"ST elevation"}},
			RawText: "12-lead ECG: ST elevation V2-V4",
		}},
		hybrid: &mockExtractor{out: &inference.Extraction{
			Output: map[string]any{"heart_rate": 88.0},
		}},
		predictor: &mockPredictor{result: &inference.Result{
			Output:    json.RawMessage(analysisJSON),
			Source:    inference.TargetCustomAPI,
			ModelName: "ECG Reader",
		}},
		blobs: blobstore.NewInMemoryBlobStore(0, "http://files.local"),
	}
	e.svc = NewService(e.patients, e.diagnoses, e.settings, e.cloud, e.hybrid, e.predictor, e.blobs, zerolog.Nop())
	return e
}

func (e *testEnv) addPatient() *patient.Patient {
	blood := "A+"
	p := &patient.Patient{
		ID:             uuid.New(),
		PatientID:      "MRN-0042",
		FullName:       "Ann Lee",
		Age:            61,
		Gender:         "female",
		BloodType:      &blood,
		MedicalHistory: []string{"Hypertension", "Type 2 diabetes"},
		Allergies:      []string{"Penicillin"},
	}
	e.patients[p.ID] = p
	return p
}

var doctor = auth.Principal{UserID: "doc-1", Email: "doc@clinic.test", Roles: []string{auth.RoleDoctor}}

func asDoctor() context.Context {
	return auth.WithPrincipal(context.Background(), doctor)
}

func pngUpload(pid uuid.UUID) Upload {
	return Upload{
		PatientID: pid,
		File:      inference.File{Name: "ecg.png", ContentType: "image/png", Data: []byte("\x89PNG fake")},
	}
}

// -- Analyze --

func TestAnalyze_Validation(t *testing.T) {
	env := newTestEnv()
	p := env.addPatient()

	tests := []struct {
		name   string
		mutate func(*Upload)
		want   error
	}{
		{"missing patient", func(u *Upload) { u.PatientID = uuid.Nil }, ErrValidation},
		{"unknown document type", func(u *Upload) { u.DocumentType = "mri" }, ErrValidation},
		{"missing file name", func(u *Upload) { u.File.Name = "" }, ErrValidation},
		{"too large", func(u *Upload) { u.File.Data = make([]byte, MaxFileSize+1) }, blobstore.ErrFileTooLarge},
		{"gif", func(u *Upload) { u.File.ContentType = "image/gif" }, ErrUnsupportedFileType},
		{"unknown patient", func(u *Upload) { u.PatientID = uuid.New() }, patient.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := pngUpload(p.ID)
			tt.mutate(&u)
			if _, err := env.svc.Analyze(asDoctor(), u); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if env.cloud.calls != 0 {
		t.Errorf("OCR should not run for rejected uploads, got %d calls", env.cloud.calls)
	}
}

func TestAnalyze_APIModeUsesCloudOCR(t *testing.T) {
	env := newTestEnv()
	p := env.addPatient()
	u := pngUpload(p.ID)
	u.File.ContentType = "image/png; name=ecg.png"

	res, err := env.svc.Analyze(asDoctor(), u)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if env.cloud.calls != 1 || env.hybrid.calls != 0 {
		t.Fatalf("expected cloud OCR only, got cloud=%d hybrid=%d", env.cloud.calls, env.hybrid.calls)
	}
	if _, ok := env.cloud.schema["properties"]; !ok {
		t.Error("expected the medical OCR schema to be passed")
	}
	if res.DocumentType != TypeECG {
		t.Errorf("expected default document type ecg, got %q", res.DocumentType)
	}
	if res.OCRSource != SourceCloudOCR {
		t.Errorf("expected cloud source, got %q", res.OCRSource)
	}
	if res.Analysis == nil || res.Analysis.RiskAssessment.OverallRisk != "High" {
		t.Fatalf("expected decoded analysis, got %+v", res.Analysis)
	}
	if res.ModelName != "ECG Reader" || res.Source != inference.TargetCustomAPI {
		t.Errorf("unexpected attribution %q %q", res.ModelName, res.Source)
	}

	meta, err := env.blobs.GetMetadata(context.Background(), res.BlobID)
	if err != nil {
		t.Fatalf("stored document: %v", err)
	}
	if meta.Category != blobstore.CategoryDocument || meta.PatientID != p.ID.String() || meta.ContentType != "image/png" {
		t.Errorf("unexpected blob metadata %+v", meta)
	}
	if res.FileURL != "http://files.local/"+res.BlobID {
		t.Errorf("unexpected url %q", res.FileURL)
	}

	req := env.predictor.req
	if req.Category != inference.CategoryImage {
		t.Errorf("expected image category, got %q", req.Category)
	}
	if !strings.Contains(req.Prompt, "ST elevation V2-V4") || !strings.Contains(req.Prompt, "Ann Lee (Age: 61, Gender: female)") {
		t.Errorf("prompt missing document or patient context:\n%s", req.Prompt)
	}
	var input map[string]any
	if err := json.Unmarshal(req.Input, &input); err != nil || input["document_type"] != "ECG" {
		t.Errorf("expected OCR output as model input, got %s", req.Input)
	}
	if env.diagnoses.filter.Limit != historyLimit {
		t.Errorf("expected history limit %d, got %d", historyLimit, env.diagnoses.filter.Limit)
	}
}

func TestAnalyze_LocalModeUsesHybridOCR(t *testing.T) {
	env := newTestEnv()
	p := env.addPatient()
	env.settings.setting = &mlmodel.Setting{ActiveModelType: mlmodel.ModeLocal}

	res, err := env.svc.Analyze(asDoctor(), pngUpload(p.ID))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if env.hybrid.calls != 1 || env.cloud.calls != 0 {
		t.Fatalf("expected hybrid OCR only, got cloud=%d hybrid=%d", env.cloud.calls, env.hybrid.calls)
	}
	if res.OCRSource != SourceHybridOCR {
		t.Errorf("expected hybrid source, got %q", res.OCRSource)
	}
	// No raw text from the service: the structured output stands in for it.
	if !strings.Contains(res.RawText, `"heart_rate": 88`) {
		t.Errorf("expected raw text fallback, got %q", res.RawText)
	}
}

func TestAnalyze_LocalOCRDisabled(t *testing.T) {
	env := newTestEnv()
	p := env.addPatient()
	off := false
	env.settings.setting = &mlmodel.Setting{ActiveModelType: mlmodel.ModeLocal, OCREnabled: &off}

	if _, err := env.svc.Analyze(asDoctor(), pngUpload(p.ID)); !errors.Is(err, ErrOCRDisabled) {
		t.Fatalf("expected ErrOCRDisabled, got %v", err)
	}
	if env.hybrid.calls != 0 {
		t.Error("OCR ran while disabled")
	}
}

func TestAnalyze_OCRNotConfigured(t *testing.T) {
	env := newTestEnv()
	p := env.addPatient()
	env.svc = NewService(env.patients, env.diagnoses, env.settings, nil, env.hybrid, env.predictor, env.blobs, zerolog.Nop())

	if _, err := env.svc.Analyze(asDoctor(), pngUpload(p.ID)); !errors.Is(err, ErrOCRUnavailable) {
		t.Fatalf("expected ErrOCRUnavailable, got %v", err)
	}
}

func TestAnalyze_NothingExtracted(t *testing.T) {
	env := newTestEnv()
	p := env.addPatient()
	env.cloud.out = &inference.Extraction{}

	if _, err := env.svc.Analyze(asDoctor(), pngUpload(p.ID)); !errors.Is(err, ErrNothingExtracted) {
		t.Fatalf("expected ErrNothingExtracted, got %v", err)
	}
	if _, total, _ := env.blobs.ListByPatient(context.Background(), p.ID.String(), "", 10, 0); total != 0 {
		t.Errorf("nothing should be stored, got %d blobs", total)
	}
}

func TestAnalyze_NoModelActive(t *testing.T) {
	env := newTestEnv()
	p := env.addPatient()
	env.predictor.result = &inference.Result{NoModelActive: true, Message: "No active image_classification model"}

	res, err := env.svc.Analyze(asDoctor(), pngUpload(p.ID))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.NoModelActive || res.Message == "" || res.Analysis != nil {
		t.Errorf("expected no-model marker, got %+v", res)
	}
	if len(res.OCRData) == 0 || res.FileURL == "" {
		t.Error("OCR data and file should still be returned")
	}
}

func TestAnalyze_InvalidAnalysis(t *testing.T) {
	env := newTestEnv()
	p := env.addPatient()
	env.predictor.result = &inference.Result{Output: json.RawMessage(`"not an object"`)}

	if _, err := env.svc.Analyze(asDoctor(), pngUpload(p.ID)); !errors.Is(err, ErrInvalidAnalysis) {
		t.Fatalf("expected ErrInvalidAnalysis, got %v", err)
	}
}

func TestAnalyze_UpstreamError(t *testing.T) {
	env := newTestEnv()
	p := env.addPatient()
	env.cloud.err = &inference.UpstreamError{Service: "cloud OCR", Status: 503, Body: "down"}

	_, err := env.svc.Analyze(asDoctor(), pngUpload(p.ID))
	var ue *inference.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

// -- Prompt --

func TestBuildPrompt_Defaults(t *testing.T) {
	p := &patient.Patient{FullName: "Bo Park", Age: 45, Gender: "male"}
	prompt := BuildPrompt(nil, "", p, nil)

	for _, want := range []string{
		"RAW OCR TEXT:\nNo raw text available",
		"- Blood Type: Unknown",
		"- Medical History: None recorded",
		"- Known Allergies: None recorded",
		"No previous diagnoses on record",
		"DOCUMENT DATA (from OCR):\n{}",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildPrompt_History(t *testing.T) {
	p := &patient.Patient{FullName: "Ann Lee", Age: 61, Gender: "female", Allergies: []string{"Penicillin", "Latex"}}
	history := []*diagnosis.Diagnosis{
		{
			CreatedAt:      time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
			Symptoms:       []diagnosis.Symptom{{Symptom: "chest pain"}, {Symptom: "dyspnea"}},
			AIPrediction:   &diagnosis.Prediction{RiskLevel: "high"},
			DiagnosisNotes: "Suspected angina",
		},
		{CreatedAt: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)},
	}
	prompt := BuildPrompt(map[string]any{"hr": 90.0}, "raw", p, history)

	for _, want := range []string{
		"- Known Allergies: Penicillin, Latex",
		"- Date: 2026-03-02\n- Symptoms: chest pain, dyspnea\n- Risk Level: high\n- Previous Findings: Suspected angina",
		"- Date: 2026-01-15\n- Symptoms: None\n- Risk Level: Not assessed\n- Previous Findings: None",
		"Provide a comprehensive, context-aware clinical analysis.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

// -- Save --

func analyzedResult(pid uuid.UUID) *Result {
	var a Analysis
	if err := json.Unmarshal([]byte(analysisJSON), &a); err != nil {
		panic(err)
	}
	return &Result{
		PatientID:    pid,
		DocumentType: TypeCardiacReport,
		FileURL:      "http://files.local/doc-1",
		OCRData:      map[string]any{"ef": "40%"},
		Analysis:     &a,
	}
}

func TestRecord_WithAnalysis(t *testing.T) {
	d := Record(analyzedResult(uuid.New()))

	if len(d.Symptoms) != 1 || d.Symptoms[0].Symptom != "Medical document analysis" || d.Symptoms[0].Duration != "N/A" {
		t.Errorf("unexpected symptoms %+v", d.Symptoms)
	}
	img := d.MedicalImages[0]
	if img.ImageType != TypeCardiacReport || img.AnalysisNotes != "Context-aware AI Analysis: Possible acute ischemia" {
		t.Errorf("unexpected image %+v", img)
	}
	pred := d.AIPrediction
	if pred == nil {
		t.Fatal("expected mapped prediction")
	}
	if pred.RiskLevel != "high" || pred.Confidence != defaultConfidence {
		t.Errorf("unexpected risk %q confidence %v", pred.RiskLevel, pred.Confidence)
	}
	if len(pred.PredictedConditions) != 2 || pred.PredictedConditions[0].Severity != "moderate" {
		t.Errorf("unexpected conditions %+v", pred.PredictedConditions)
	}
	if pred.Recommendations.FollowUp != "Echo, Stress test" || pred.Recommendations.Referrals[1] != "Cardiology consult" {
		t.Errorf("unexpected recommendations %+v", pred.Recommendations)
	}
	if d.TreatmentPlan != "Troponin now, Cardiology consult" {
		t.Errorf("unexpected treatment plan %q", d.TreatmentPlan)
	}
	want := "Medical document analysis completed. Document type: cardiac_report. Possible acute ischemia"
	if d.DiagnosisNotes != want {
		t.Errorf("notes = %q, want %q", d.DiagnosisNotes, want)
	}
}

func TestRecord_OCROnly(t *testing.T) {
	r := &Result{PatientID: uuid.New(), DocumentType: TypeBloodTest, FileURL: "u", RawText: "LDL 160", NoModelActive: true}
	d := Record(r)

	if d.AIPrediction != nil {
		t.Error("expected no prediction without analysis")
	}
	if d.MedicalImages[0].AnalysisNotes != "OCR data extracted from uploaded document." {
		t.Errorf("unexpected notes %q", d.MedicalImages[0].AnalysisNotes)
	}
	if d.TreatmentPlan != "Follow standard protocols based on extracted data." {
		t.Errorf("unexpected treatment plan %q", d.TreatmentPlan)
	}
	if !strings.HasSuffix(d.DiagnosisNotes, "OCR processing completed successfully.") {
		t.Errorf("unexpected diagnosis notes %q", d.DiagnosisNotes)
	}
}

func TestSaveToRecord(t *testing.T) {
	env := newTestEnv()
	p := env.addPatient()

	d, err := env.svc.SaveToRecord(asDoctor(), analyzedResult(p.ID))
	if err != nil {
		t.Fatalf("SaveToRecord: %v", err)
	}
	if len(env.diagnoses.saved) != 1 {
		t.Fatalf("expected one save, got %d", len(env.diagnoses.saved))
	}
	s := env.diagnoses.saved[0]
	if s.d != d || !s.opts.FromDocument || s.opts.SaveForTraining {
		t.Errorf("unexpected save options %+v", s.opts)
	}
	if diagnosis.CardType(d) != diagnosis.CardDocumentAnalysis {
		t.Errorf("expected document card, got %q", diagnosis.CardType(d))
	}
}

func TestSaveToRecord_Validation(t *testing.T) {
	env := newTestEnv()
	pid := uuid.New()

	tests := []struct {
		name string
		r    *Result
		want error
	}{
		{"missing patient", &Result{FileURL: "u", RawText: "x"}, ErrValidation},
		{"missing file", &Result{PatientID: pid, RawText: "x"}, ErrValidation},
		{"nothing extracted", &Result{PatientID: pid, FileURL: "u"}, ErrNothingExtracted},
		{"bad type", &Result{PatientID: pid, FileURL: "u", RawText: "x", DocumentType: "mri"}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.SaveToRecord(asDoctor(), tt.r); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if len(env.diagnoses.saved) != 0 {
		t.Error("nothing should be saved")
	}
}
