package diagnosis

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/cardiodx/cardiodx/internal/domain/patient"
	"github.com/cardiodx/cardiodx/pkg/riskscore"
)

// StructuredInput is the assessment context sent to the model next to the
// prompt.
type StructuredInput struct {
	Patient                StructuredPatient `json:"patient"`
	VitalSigns             *VitalSigns       `json:"vital_signs"`
	Symptoms               []Symptom         `json:"symptoms"`
	ClinicalObservations   string            `json:"clinical_observations"`
	LabResults             *LabResults       `json:"lab_results"`
	AdditionalMeasurements map[string]any    `json:"additional_measurements"`
}

type StructuredPatient struct {
	ID        uuid.UUID           `json:"id"`
	PatientID string              `json:"patient_id"`
	Age       int                 `json:"age"`
	Gender    string              `json:"gender"`
	Lifestyle StructuredLifestyle `json:"lifestyle"`
	History   HistoryFlags        `json:"history"`
}

type StructuredLifestyle struct {
	Smoking  string `json:"smoking,omitempty"`
	Alcohol  string `json:"alcohol,omitempty"`
	Activity string `json:"activity,omitempty"`
	Diet     string `json:"diet,omitempty"`
}

func set(v *float64) bool { return v != nil && *v != 0 }

// RequiredCheck lists the fields an assessment cannot run without, in
// display order.
func RequiredCheck(p *patient.Patient, d *Diagnosis) []string {
	missing := []string{}
	if p == nil || p.Age <= 0 {
		missing = append(missing, "Age")
	}
	if p == nil || strings.TrimSpace(p.Gender) == "" {
		missing = append(missing, "Sex")
	}
	v := d.VitalSigns
	if v == nil {
		v = &VitalSigns{}
	}
	for _, f := range []struct {
		label string
		value *float64
	}{
		{"Systolic BP", v.SystolicBP},
		{"Diastolic BP", v.DiastolicBP},
		{"Heart Rate", v.HeartRate},
		{"Weight", v.WeightKg},
		{"Height", v.HeightCm},
	} {
		if !set(f.value) {
			missing = append(missing, f.label)
		}
	}
	hasSymptom := false
	for _, s := range d.Symptoms {
		if strings.TrimSpace(s.Symptom) != "" {
			hasSymptom = true
			break
		}
	}
	if !hasSymptom {
		missing = append(missing, "At least one symptom")
	}
	return missing
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// BuildStructuredInput merges the draft with the stored patient. Draft
// values win.
func BuildStructuredInput(p *patient.Patient, d *Diagnosis) StructuredInput {
	ls := d.Lifestyle
	if ls == nil {
		ls = &Lifestyle{}
	}
	history := patient.NormalizeHistory(p)
	if d.MedicalHistoryFlags != nil {
		history = *d.MedicalHistoryFlags
	}

	in := StructuredInput{
		Patient: StructuredPatient{
			ID:        p.ID,
			PatientID: p.PatientID,
			Age:       p.Age,
			Gender:    p.Gender,
			Lifestyle: StructuredLifestyle{
				Smoking:  firstNonEmpty(ls.SmokingStatus, deref(p.LifestyleSmokingStatus)),
				Alcohol:  firstNonEmpty(ls.AlcoholConsumption, deref(p.AlcoholConsumption)),
				Activity: firstNonEmpty(ls.PhysicalActivityLevel, deref(p.PhysicalActivityLevel)),
				Diet:     firstNonEmpty(ls.DietHabits, deref(p.DietHabits)),
			},
			History: history,
		},
		VitalSigns:             d.VitalSigns,
		ClinicalObservations:   d.ClinicalObservations,
		LabResults:             d.LabResults,
		AdditionalMeasurements: d.AdditionalMeasurements,
	}
	for _, s := range d.Symptoms {
		if s.AssociatedFactors == nil {
			s.AssociatedFactors = []string{}
		}
		in.Symptoms = append(in.Symptoms, s)
	}
	if in.LabResults.Empty() {
		in.LabResults = p.LabResults
	}
	if len(in.AdditionalMeasurements) == 0 {
		in.AdditionalMeasurements = p.AdditionalMeasurements
	}
	return in
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// orUnknown renders a vital; absent and zero values print as "?".
func orUnknown(v *float64) string {
	if !set(v) {
		return "?"
	}
	return num(*v)
}

// labOrUnknown renders a lab value; only absent values print as "?".
func labOrUnknown(v *float64) string {
	if v == nil {
		return "?"
	}
	return num(*v)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func anyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return num(t)
	default:
		return fmt.Sprint(t)
	}
}

// BuildPrompt renders the clinical prompt for a heart disease assessment.
func BuildPrompt(in StructuredInput) string {
	var symptoms []string
	for _, s := range in.Symptoms {
		factors := strings.Join(s.AssociatedFactors, ", ")
		symptoms = append(symptoms, fmt.Sprintf("%s (severity: %s, duration: %s, factors: %s)",
			s.Symptom, s.Severity, s.Duration, orDefault(factors, "none")))
	}

	v := in.VitalSigns
	if v == nil {
		v = &VitalSigns{}
	}
	vitals := fmt.Sprintf("Blood Pressure: %s/%s; Heart Rate: %s; Temp: %s°C; SpO2: %s%%; RR: %s; Weight: %skg; Height: %scm",
		orUnknown(v.SystolicBP), orUnknown(v.DiastolicBP), orUnknown(v.HeartRate), orUnknown(v.Temperature),
		orUnknown(v.OxygenSaturation), orUnknown(v.RespiratoryRate), orUnknown(v.WeightKg), orUnknown(v.HeightCm))

	ls := in.Patient.Lifestyle
	lifestyle := fmt.Sprintf("Smoking: %s; Alcohol: %s; Activity: %s; Diet: %s",
		orDefault(ls.Smoking, "unknown"), orDefault(ls.Alcohol, "unknown"),
		orDefault(ls.Activity, "unknown"), orDefault(ls.Diet, "unknown"))

	h := in.Patient.History
	var history []string
	for _, f := range []struct {
		on    bool
		label string
	}{
		{h.FamilyHistoryHeartDisease, "Family history of CVD"},
		{h.HasHypertension, "Hypertension"},
		{h.HasDiabetes, "Diabetes"},
		{h.HasDyslipidemia, "Dyslipidemia"},
		{h.ChronicKidneyDisease, "CKD"},
	} {
		if f.on {
			history = append(history, f.label)
		}
	}
	if len(h.PreviousCardiovascularEvents) > 0 {
		history = append(history, "Prev events: "+strings.Join(h.PreviousCardiovascularEvents, ", "))
	}

	labs := in.LabResults
	if labs == nil {
		labs = &LabResults{}
	}
	lp := labs.LipidProfile
	if lp == nil {
		lp = &LipidProfile{}
	}
	gl := labs.Glucose
	if gl == nil {
		gl = &Glucose{}
	}
	labsText := fmt.Sprintf("Labs: LDL %s, HDL %s, Total Chol %s, TG %s, FBG %s, HbA1c %s, Cr %s, CRP %s",
		labOrUnknown(lp.LDL), labOrUnknown(lp.HDL), labOrUnknown(lp.TotalCholesterol), labOrUnknown(lp.Triglycerides),
		labOrUnknown(gl.FastingGlucose), labOrUnknown(gl.HbA1c), labOrUnknown(labs.Creatinine), labOrUnknown(labs.CRP))

	waist := orDefault(anyString(in.AdditionalMeasurements["waist_circumference"]), "?")
	extra := fmt.Sprintf("Waist Circumference %s cm", waist)
	if ecg := anyString(in.AdditionalMeasurements["ecg_readings"]); ecg != "" {
		extra += "; ECG: " + ecg
	}

	var b strings.Builder
	b.WriteString("As a professional clinical decision support AI, analyze this patient's up-to-date data for cardiovascular risk and return JSON per schema.\n")
	fmt.Fprintf(&b, "Patient: age %d, sex %s.\n", in.Patient.Age, in.Patient.Gender)
	fmt.Fprintf(&b, "Lifestyle: %s.\n", lifestyle)
	fmt.Fprintf(&b, "History: %s.\n", orDefault(strings.Join(history, "; "), "None reported"))
	fmt.Fprintf(&b, "Vitals: %s.\n", vitals)
	fmt.Fprintf(&b, "Symptoms: %s.\n", orDefault(strings.Join(symptoms, "; "), "None reported"))
	fmt.Fprintf(&b, "Clinical observations: %s.\n", orDefault(in.ClinicalObservations, "None"))
	fmt.Fprintf(&b, "%s.\n", labsText)
	fmt.Fprintf(&b, "%s.\n", extra)
	b.WriteString("Provide a comprehensive, guideline-aligned assessment (ACC/AHA, ESC).")
	return b.String()
}

func val(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// RiskFactors extracts the explanation inputs from a structured input.
func RiskFactors(in StructuredInput) riskscore.Factors {
	f := riskscore.Factors{
		HasDiabetes:   in.Patient.History.HasDiabetes,
		Smoking:       strings.ToLower(in.Patient.Lifestyle.Smoking),
		FamilyHistory: in.Patient.History.FamilyHistoryHeartDisease,
		CKD:           in.Patient.History.ChronicKidneyDisease,
	}
	if v := in.VitalSigns; v != nil {
		f.Systolic, f.Diastolic = val(v.SystolicBP), val(v.DiastolicBP)
		f.WeightKg, f.HeightCm = val(v.WeightKg), val(v.HeightCm)
	}
	if l := in.LabResults; l != nil {
		if l.LipidProfile != nil {
			f.LDL, f.HDL = val(l.LipidProfile.LDL), val(l.LipidProfile.HDL)
		}
		if l.Glucose != nil {
			f.HbA1c = val(l.Glucose.HbA1c)
		}
	}
	return f
}
