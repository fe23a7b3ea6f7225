// Package riskscore explains a cardiovascular risk score: per-factor
// contribution, projected risk, what-if scenarios and triage wording.
package riskscore

import "math"

// Smoking statuses recognised by Breakdown.
const (
	SmokingCurrent = "current"
	SmokingFormer  = "former"
	SmokingNever   = "never"
)

// Risk levels.
const (
	LevelLow      = "low"
	LevelModerate = "moderate"
	LevelHigh     = "high"
	LevelCritical = "critical"
)

// Factors are the inputs the breakdown weighs. Zero means unknown.
type Factors struct {
	Systolic      float64 `json:"systolic_bp"`
	Diastolic     float64 `json:"diastolic_bp"`
	LDL           float64 `json:"ldl"`
	HDL           float64 `json:"hdl"`
	HbA1c         float64 `json:"hba1c"`
	HasDiabetes   bool    `json:"has_diabetes"`
	Smoking       string  `json:"smoking_status"`
	FamilyHistory bool    `json:"family_history"`
	CKD           bool    `json:"chronic_kidney_disease"`
	WeightKg      float64 `json:"weight_kg"`
	HeightCm      float64 `json:"height_cm"`
}

// Contribution is one factor's weight and its share of the total.
type Contribution struct {
	Factor  string  `json:"factor"`
	Value   float64 `json:"value"`
	Percent int     `json:"percent"`
}

// BMI returns weight / height(m)^2, or 0 when either is missing.
func (f Factors) BMI() float64 {
	if f.WeightKg <= 0 || f.HeightCm <= 0 {
		return 0
	}
	h := f.HeightCm / 100
	return f.WeightKg / (h * h)
}

// Breakdown weighs eight factors in a fixed order and normalises them to
// percentages of the total.
func Breakdown(f Factors) []Contribution {
	out := []Contribution{
		{Factor: "BP", Value: pick(f.Systolic >= 140 || f.Diastolic >= 90, 18, 6)},
		{Factor: "LDL", Value: ldlWeight(f.LDL)},
		{Factor: "HDL", Value: hdlWeight(f.HDL)},
		{Factor: "Glucose/DM", Value: pick(f.HasDiabetes || f.HbA1c >= 6.5, 16, 6)},
		{Factor: "Smoking", Value: smokingWeight(f.Smoking)},
		{Factor: "Family Hx", Value: pick(f.FamilyHistory, 10, 5)},
		{Factor: "CKD", Value: pick(f.CKD, 8, 3)},
		{Factor: "BMI", Value: bmiWeight(f.BMI())},
	}

	var sum float64
	for _, c := range out {
		sum += c.Value
	}
	if sum == 0 {
		sum = 1
	}
	for i := range out {
		out[i].Percent = int(math.Round(out[i].Value / sum * 100))
	}
	return out
}

func pick(cond bool, yes, no float64) float64 {
	if cond {
		return yes
	}
	return no
}

func ldlWeight(ldl float64) float64 {
	switch {
	case ldl >= 160:
		return 18
	case ldl >= 130:
		return 12
	default:
		return 5
	}
}

func hdlWeight(hdl float64) float64 {
	switch {
	case hdl <= 0:
		return 6
	case hdl < 40:
		return 10
	default:
		return 4
	}
}

func smokingWeight(status string) float64 {
	switch status {
	case SmokingCurrent:
		return 14
	case SmokingFormer:
		return 8
	default:
		return 4
	}
}

func bmiWeight(bmi float64) float64 {
	switch {
	case bmi >= 30:
		return 12
	case bmi >= 25:
		return 8
	default:
		return 4
	}
}

func clamp(v float64) int {
	r := int(math.Round(v))
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}

// Projection is the projected risk over 5 and 10 years.
type Projection struct {
	FiveYear int `json:"five_year"`
	TenYear  int `json:"ten_year"`
}

// Projections scales the current score to 5 and 10 year horizons, capped at 100.
func Projections(score float64) Projection {
	return Projection{FiveYear: clamp(score * 0.9), TenYear: clamp(score * 1.1)}
}

// Scenario is the score after one intervention.
type Scenario struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Scenarios lists the what-if scores for the standard interventions.
func Scenarios(score float64) []Scenario {
	floor := func(v float64) float64 { return math.Max(0, v) }
	return []Scenario{
		{Name: "LDL -20%", Score: floor(score - 8)},
		{Name: "Smoking cessation", Score: floor(score - 10)},
		{Name: "BP control", Score: floor(score - 6)},
	}
}

// Triage returns the recommended clinical action for a risk level.
func Triage(level string) string {
	switch level {
	case LevelCritical:
		return "Critical – Immediate referral required"
	case LevelHigh:
		return "High – Urgent cardiology consult"
	case LevelModerate:
		return "Moderate – Specialist consultation recommended"
	default:
		return "Stable – Routine monitoring & follow-up"
	}
}

// GaugeBand maps a 0-100 score to a display band.
func GaugeBand(score float64) string {
	switch {
	case score >= 90:
		return LevelCritical
	case score >= 70:
		return LevelHigh
	case score >= 40:
		return LevelModerate
	default:
		return LevelLow
	}
}

// Explanation is the full breakdown returned by POST /risk/explain.
type Explanation struct {
	Score       float64        `json:"score"`
	RiskLevel   string         `json:"risk_level"`
	Band        string         `json:"band"`
	Triage      string         `json:"triage"`
	BMI         float64        `json:"bmi"`
	Breakdown   []Contribution `json:"breakdown"`
	Projections Projection     `json:"projections"`
	Scenarios   []Scenario     `json:"scenarios"`
}

// Explain assembles an Explanation from the factors and a model score.
func Explain(f Factors, score float64, level string) Explanation {
	return Explanation{
		Score:       score,
		RiskLevel:   level,
		Band:        GaugeBand(score),
		Triage:      Triage(level),
		BMI:         math.Round(f.BMI()*10) / 10,
		Breakdown:   Breakdown(f),
		Projections: Projections(score),
		Scenarios:   Scenarios(score),
	}
}
