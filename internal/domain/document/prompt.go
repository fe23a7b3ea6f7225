package document

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cardiodx/cardiodx/internal/domain/diagnosis"
	"github.com/cardiodx/cardiodx/internal/domain/patient"
)

// historyLimit is how many prior diagnoses the prompt includes.
const historyLimit = 5

func joinOr(items []string, def string) string {
	if len(items) == 0 {
		return def
	}
	return strings.Join(items, ", ")
}

func valueOr(s *string, def string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return def
	}
	return *s
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func historyBlock(history []*diagnosis.Diagnosis) string {
	if len(history) == 0 {
		return "No previous diagnoses on record"
	}
	var b strings.Builder
	for _, d := range history {
		var symptoms []string
		for _, s := range d.Symptoms {
			symptoms = append(symptoms, s.Symptom)
		}
		fmt.Fprintf(&b, "\n- Date: %s\n- Symptoms: %s\n- Risk Level: %s\n- Previous Findings: %s\n",
			d.CreatedAt.Format("2006-01-02"),
			joinOr(symptoms, "None"),
			orDefault(d.RiskLevel(), "Not assessed"),
			orDefault(d.DiagnosisNotes, "None"))
	}
	return b.String()
}

// BuildPrompt renders the contextual analysis prompt for one document.
func BuildPrompt(ocr map[string]any, rawText string, p *patient.Patient, history []*diagnosis.Diagnosis) string {
	if ocr == nil {
		ocr = map[string]any{}
	}
	data, _ := json.MarshalIndent(ocr, "", "  ")

	var b strings.Builder
	b.WriteString("As a clinical AI specialist, analyze this medical document in the context of the patient's complete medical history.\n\n")
	b.WriteString("DOCUMENT DATA (from OCR):\n")
	b.Write(data)
	b.WriteString("\n\nRAW OCR TEXT:\n")
	b.WriteString(orDefault(rawText, "No raw text available"))
	b.WriteString("\n\nPATIENT CONTEXT:\n")
	fmt.Fprintf(&b, "- Patient: %s (Age: %d, Gender: %s)\n", p.FullName, p.Age, p.Gender)
	fmt.Fprintf(&b, "- Blood Type: %s\n", valueOr(p.BloodType, "Unknown"))
	fmt.Fprintf(&b, "- Medical History: %s\n", joinOr(p.MedicalHistory, "None recorded"))
	fmt.Fprintf(&b, "- Known Allergies: %s\n", joinOr(p.Allergies, "None recorded"))
	b.WriteString("\nRECENT DIAGNOSIS HISTORY:\n")
	b.WriteString(historyBlock(history))
	b.WriteString(`

ANALYSIS REQUIREMENTS:
1. Analyze the document findings in context of this patient's specific medical history
2. Compare current findings with previous assessments if available
3. Identify any progression, improvement, or concerning changes
4. Provide patient-specific recommendations based on their complete profile
5. Consider drug interactions with known allergies
6. Assess cardiovascular risk in context of patient's demographics and history

If no meaningful text was extracted from the document, indicate that OCR processing was attempted but clinical analysis requires manual review.

Provide a comprehensive, context-aware clinical analysis.`)
	return b.String()
}
