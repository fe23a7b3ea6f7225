package patient

import (
	"reflect"
	"testing"
)

func boolp(b bool) *bool { return &b }

func TestNormalizeHistory(t *testing.T) {
	tests := []struct {
		name string
		p    Patient
		want HistoryFlags
	}{
		{
			name: "empty history",
			p:    Patient{},
			want: HistoryFlags{PreviousCardiovascularEvents: []string{}},
		},
		{
			name: "inferred from entries and summary",
			p: Patient{
				MedicalHistory:        []string{"Hypertension since 2010", "Type 2 Diabetes"},
				MedicalHistorySummary: strp("Father heart attack at 60. High cholesterol."),
			},
			want: HistoryFlags{
				FamilyHistoryHeartDisease:    true,
				HasHypertension:              true,
				HasDiabetes:                  true,
				HasDyslipidemia:              true,
				PreviousCardiovascularEvents: []string{"MI"},
			},
		},
		{
			name: "explicit flags win",
			p: Patient{
				MedicalHistory:       []string{"hypertension", "ckd stage 3"},
				HasHypertension:      boolp(false),
				ChronicKidneyDisease: boolp(false),
				HasDiabetes:          boolp(true),
			},
			want: HistoryFlags{HasDiabetes: true, PreviousCardiovascularEvents: []string{}},
		},
		{
			name: "events kept when recorded",
			p: Patient{
				MedicalHistory:               []string{"stroke 2019"},
				PreviousCardiovascularEvents: []string{"CABG"},
			},
			want: HistoryFlags{PreviousCardiovascularEvents: []string{"CABG"}},
		},
		{
			name: "multiple events in fixed order",
			p: Patient{
				MedicalHistorySummary: strp("post stent placement, afib, prior tia"),
			},
			want: HistoryFlags{PreviousCardiovascularEvents: []string{"Arrhythmia", "TIA", "PCI"}},
		},
		{
			name: "renal failure",
			p:    Patient{MedicalHistory: []string{"Acute RENAL FAILURE"}},
			want: HistoryFlags{ChronicKidneyDisease: true, PreviousCardiovascularEvents: []string{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeHistory(&tt.p)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NormalizeHistory() =\n %+v\nwant\n %+v", got, tt.want)
			}
		})
	}
}
