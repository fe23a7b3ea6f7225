package riskscore

import "testing"

func percentSum(cs []Contribution) int {
	total := 0
	for _, c := range cs {
		total += c.Percent
	}
	return total
}

func TestBreakdown_Order(t *testing.T) {
	want := []string{"BP", "LDL", "HDL", "Glucose/DM", "Smoking", "Family Hx", "CKD", "BMI"}
	got := Breakdown(Factors{})
	if len(got) != len(want) {
		t.Fatalf("expected %d factors, got %d", len(want), len(got))
	}
	for i, f := range want {
		if got[i].Factor != f {
			t.Errorf("factor %d: expected %s, got %s", i, f, got[i].Factor)
		}
	}
}

func TestBreakdown_Weights(t *testing.T) {
	high := Factors{
		Systolic: 150, LDL: 170, HDL: 35, HbA1c: 7, Smoking: SmokingCurrent,
		FamilyHistory: true, CKD: true, WeightKg: 100, HeightCm: 175,
	}
	wantHigh := []float64{18, 18, 10, 16, 14, 10, 8, 12}
	for i, c := range Breakdown(high) {
		if c.Value != wantHigh[i] {
			t.Errorf("%s: expected %v, got %v", c.Factor, wantHigh[i], c.Value)
		}
	}

	low := Factors{Systolic: 118, Diastolic: 76, LDL: 90, HDL: 60, HbA1c: 5.2, Smoking: SmokingNever, WeightKg: 60, HeightCm: 175}
	wantLow := []float64{6, 5, 4, 6, 4, 5, 3, 4}
	for i, c := range Breakdown(low) {
		if c.Value != wantLow[i] {
			t.Errorf("%s: expected %v, got %v", c.Factor, wantLow[i], c.Value)
		}
	}
}

func TestBreakdown_Bands(t *testing.T) {
	tests := []struct {
		name   string
		f      Factors
		factor int
		want   float64
	}{
		{"diastolic alone raises BP", Factors{Diastolic: 90}, 0, 18},
		{"LDL 130 is borderline", Factors{LDL: 130}, 1, 12},
		{"unknown HDL", Factors{}, 2, 6},
		{"diabetes flag", Factors{HasDiabetes: true}, 3, 16},
		{"former smoker", Factors{Smoking: SmokingFormer}, 4, 8},
		{"overweight", Factors{WeightKg: 80, HeightCm: 175}, 7, 8},
		{"missing height", Factors{WeightKg: 150}, 7, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Breakdown(tt.f)[tt.factor].Value
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestBreakdown_PercentagesNearHundred(t *testing.T) {
	cases := []Factors{
		{},
		{Systolic: 150, LDL: 170, HDL: 35, HasDiabetes: true, Smoking: SmokingCurrent, FamilyHistory: true, CKD: true, WeightKg: 110, HeightCm: 170},
		{LDL: 140, Smoking: SmokingFormer, WeightKg: 80, HeightCm: 180},
	}
	for i, f := range cases {
		sum := percentSum(Breakdown(f))
		if sum < 96 || sum > 104 {
			t.Errorf("case %d: percentages sum to %d", i, sum)
		}
	}
}

func TestProjections(t *testing.T) {
	p := Projections(50)
	if p.FiveYear != 45 || p.TenYear != 55 {
		t.Errorf("expected 45/55, got %d/%d", p.FiveYear, p.TenYear)
	}
	p = Projections(95)
	if p.TenYear != 100 {
		t.Errorf("expected 10-year clamped to 100, got %d", p.TenYear)
	}
}

func TestScenarios_FloorAtZero(t *testing.T) {
	s := Scenarios(7)
	if s[0].Score != 0 || s[1].Score != 0 || s[2].Score != 1 {
		t.Errorf("unexpected scenario scores %+v", s)
	}
}

func TestTriageAndBand(t *testing.T) {
	if Triage(LevelCritical) != "Critical – Immediate referral required" {
		t.Error("critical triage wording")
	}
	if Triage("unknown") != "Stable – Routine monitoring & follow-up" {
		t.Error("default triage wording")
	}
	bands := map[float64]string{95: LevelCritical, 90: LevelCritical, 70: LevelHigh, 40: LevelModerate, 39.9: LevelLow}
	for score, want := range bands {
		if got := GaugeBand(score); got != want {
			t.Errorf("GaugeBand(%v) = %s, want %s", score, got, want)
		}
	}
}

func TestExplain(t *testing.T) {
	e := Explain(Factors{WeightKg: 80, HeightCm: 180}, 72, LevelHigh)
	if e.Band != LevelHigh || e.Triage != Triage(LevelHigh) {
		t.Errorf("unexpected band/triage %s / %s", e.Band, e.Triage)
	}
	if e.BMI != 24.7 {
		t.Errorf("expected BMI 24.7, got %v", e.BMI)
	}
	if len(e.Breakdown) != 8 || len(e.Scenarios) != 3 {
		t.Error("explanation missing sections")
	}
}
