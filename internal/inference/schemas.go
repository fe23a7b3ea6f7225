package inference

type schema = map[string]any

func str() schema { return schema{"type": "string"} }
func num() schema { return schema{"type": "number"} }
func strs() schema { return schema{"type": "array", "items": str()} }
func enum(v ...string) schema { return schema{"type": "string", "enum": v} }
func obj(props schema) schema { return schema{"type": "object", "properties": props} }
func withRequired(s schema, r ...string) schema {
	s["required"] = r
	return s
}

// PredictionSchema is the reply shape for heart disease risk assessment.
func PredictionSchema() map[string]any {
	return withRequired(obj(schema{
		"risk_level": enum("low", "moderate", "high", "critical"),
		"risk_score": schema{"type": "number", "description": "A precise numeric risk score from 0 to 100."},
		"confidence": schema{"type": "number", "description": "Confidence score for the overall assessment, from 0 to 100."},
		"predicted_conditions": schema{
			"type": "array",
			"items": withRequired(obj(schema{
				"condition": str(),
				"severity":  enum("low", "moderate", "high"),
			}), "condition", "severity"),
		},
		"recommendations": obj(schema{
			"lifestyle":   strs(),
			"medications": strs(),
			"follow_up":   str(),
			"referrals":   strs(),
		}),
		"urgent_warning_signs":   strs(),
		"guideline_references":   strs(),
		"decision_support_flags": strs(),
		"summary_notes":          str(),
	}), "risk_level", "risk_score", "confidence", "predicted_conditions", "recommendations")
}

// MedicalOCRSchema is the extraction shape for uploaded medical documents.
func MedicalOCRSchema() map[string]any {
	return withRequired(obj(schema{
		"patient_name":  str(),
		"doctor_name":   str(),
		"document_date": schema{"type": "string", "format": "date"},
		"document_type": str(),
		"vital_signs": obj(schema{
			"blood_pressure":    str(),
			"heart_rate":        num(),
			"temperature":       num(),
			"oxygen_saturation": num(),
		}),
		"medications": schema{
			"type": "array",
			"items": obj(schema{
				"medication_name": str(),
				"dosage":          str(),
				"frequency":       str(),
				"duration":        str(),
				"instructions":    str(),
			}),
		},
		"medical_findings":     strs(),
		"risk_assessment":      str(),
		"medical_instructions": strs(),
		"diagnosis":            str(),
		"recommendations":      strs(),
	}), "document_date")
}

// DocumentAnalysisSchema is the reply shape for contextual document analysis.
func DocumentAnalysisSchema() map[string]any {
	return withRequired(obj(schema{
		"document_analysis": obj(schema{
			"document_type":         str(),
			"key_findings":          strs(),
			"abnormal_values":       strs(),
			"clinical_significance": str(),
		}),
		"patient_correlation": obj(schema{
			"symptom_correlation":   strs(),
			"historical_comparison": str(),
			"risk_progression":      enum("improving", "stable", "worsening", "unknown"),
		}),
		"clinical_recommendations": obj(schema{
			"immediate_actions":       strs(),
			"follow_up_tests":         strs(),
			"medication_adjustments":  strs(),
			"lifestyle_modifications": strs(),
		}),
		"risk_assessment": obj(schema{
			"overall_risk":       enum("low", "moderate", "high", "critical"),
			"confidence":         num(),
			"risk_factors":       strs(),
			"protective_factors": strs(),
		}),
	}), "document_analysis", "clinical_recommendations", "risk_assessment")
}
