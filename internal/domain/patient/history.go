package patient

import "strings"

var (
	familyHistoryKeywords = []string{
		"family history of heart disease", "family history of cvd", "family history of cad",
		"family history", "father heart", "mother heart", "sibling heart", "coronary",
	}
	hypertensionKeywords = []string{"hypertension", "htn", "high blood pressure"}
	diabetesKeywords     = []string{"diabetes", "dm", "type 2 diabetes", "type ii diabetes", "type 1 diabetes"}
	dyslipidemiaKeywords = []string{
		"dyslipidemia", "hyperlipidemia", "high cholesterol", "hypercholesterolemia", "hypertriglyceridemia",
	}
	ckdKeywords = []string{"chronic kidney disease", "ckd", "kidney disease", "renal failure"}
)

// eventKeywords is ordered; inferred events keep this order.
var eventKeywords = []struct {
	event    string
	keywords []string
}{
	{"MI", []string{"mi", "myocardial infarction", "heart attack"}},
	{"Stroke", []string{"stroke", "cva", "cerebrovascular accident"}},
	{"Arrhythmia", []string{"arrhythmia", "afib", "atrial fibrillation"}},
	{"TIA", []string{"tia", "transient ischemic attack"}},
	{"Angina", []string{"angina"}},
	{"CHF", []string{"chf", "congestive heart failure"}},
	{"CAD", []string{"cad", "coronary artery disease"}},
	{"PCI", []string{"pci", "percutaneous coronary intervention", "stent"}},
	{"CABG", []string{"cabg", "coronary artery bypass graft"}},
}

type historyText struct {
	entries []string
	summary string
}

func newHistoryText(p *Patient) historyText {
	h := historyText{entries: make([]string, 0, len(p.MedicalHistory))}
	for _, e := range p.MedicalHistory {
		h.entries = append(h.entries, strings.ToLower(e))
	}
	if p.MedicalHistorySummary != nil {
		h.summary = strings.ToLower(*p.MedicalHistorySummary)
	}
	return h
}

// hasAny is a plain substring test, so short keywords like "dm" also match
// inside longer words.
func (h historyText) hasAny(keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(h.summary, kw) {
			return true
		}
		for _, e := range h.entries {
			if strings.Contains(e, kw) {
				return true
			}
		}
	}
	return false
}

func flagOr(explicit *bool, infer func() bool) bool {
	if explicit != nil {
		return *explicit
	}
	return infer()
}

// NormalizeHistory resolves the history flags of p. Explicitly recorded
// flags win; unset ones are inferred from the free-text history.
func NormalizeHistory(p *Patient) HistoryFlags {
	h := newHistoryText(p)
	flags := HistoryFlags{
		FamilyHistoryHeartDisease: flagOr(p.FamilyHistoryHeartDisease, func() bool { return h.hasAny(familyHistoryKeywords...) }),
		HasHypertension:           flagOr(p.HasHypertension, func() bool { return h.hasAny(hypertensionKeywords...) }),
		HasDiabetes:               flagOr(p.HasDiabetes, func() bool { return h.hasAny(diabetesKeywords...) }),
		HasDyslipidemia:           flagOr(p.HasDyslipidemia, func() bool { return h.hasAny(dyslipidemiaKeywords...) }),
		ChronicKidneyDisease:      flagOr(p.ChronicKidneyDisease, func() bool { return h.hasAny(ckdKeywords...) }),
	}

	if len(p.PreviousCardiovascularEvents) > 0 {
		flags.PreviousCardiovascularEvents = append([]string(nil), p.PreviousCardiovascularEvents...)
		return flags
	}
	flags.PreviousCardiovascularEvents = []string{}
	for _, ek := range eventKeywords {
		if h.hasAny(ek.keywords...) {
			flags.PreviousCardiovascularEvents = append(flags.PreviousCardiovascularEvents, ek.event)
		}
	}
	return flags
}
