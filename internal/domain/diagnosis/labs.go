package diagnosis

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// labAliases lists the accepted spellings per lab in priority order.
var labAliases = []struct {
	key     string
	aliases []string
}{
	{"ldl", []string{"ldl", "ldl_c", "ldl-c", "ldl cholesterol"}},
	{"hdl", []string{"hdl", "hdl_c", "hdl-c", "hdl cholesterol"}},
	{"total_cholesterol", []string{"total_cholesterol", "total cholesterol", "cholesterol", "chol", "tc"}},
	{"triglycerides", []string{"triglycerides", "tg", "trig"}},
	{"fasting_glucose", []string{"fasting_glucose", "fasting glucose", "glucose", "fbg", "fpg"}},
	{"hba1c", []string{"hba1c", "a1c", "hemoglobin a1c"}},
	{"creatinine", []string{"creatinine", "cr", "scr"}},
	{"crp", []string{"crp", "hs-crp", "hscrp", "c-reactive protein"}},
}

var firstNumber = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// labValue reads a number, or the first decimal number inside a string.
func labValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		m := firstNumber.FindString(t)
		if m == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(m, 64)
		return f, err == nil
	}
	return 0, false
}

// lowerKeys folds raw keys to trimmed lower case. When two keys fold to
// the same spelling the lexically smaller original wins.
func lowerKeys(raw map[string]any) map[string]any {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(raw))
	for _, k := range keys {
		lk := strings.ToLower(strings.TrimSpace(k))
		if _, seen := out[lk]; !seen {
			out[lk] = raw[k]
		}
	}
	return out
}

// pickFirstNumber returns the value of the first alias present with a
// numeric value.
func pickFirstNumber(lower map[string]any, aliases []string) *float64 {
	for _, a := range aliases {
		v, ok := lower[a]
		if !ok {
			continue
		}
		if f, ok := labValue(v); ok {
			return &f
		}
	}
	return nil
}

// NormalizeLabs maps loosely named lab values onto LabResults. Unknown keys
// and non-numeric values are ignored; empty groups are left nil.
func NormalizeLabs(raw map[string]any) LabResults {
	lower := lowerKeys(raw)
	picked := make(map[string]*float64, len(labAliases))
	for _, l := range labAliases {
		picked[l.key] = pickFirstNumber(lower, l.aliases)
	}

	lp := LipidProfile{
		LDL:              picked["ldl"],
		HDL:              picked["hdl"],
		TotalCholesterol: picked["total_cholesterol"],
		Triglycerides:    picked["triglycerides"],
	}
	gl := Glucose{
		FastingGlucose: picked["fasting_glucose"],
		HbA1c:          picked["hba1c"],
	}
	out := LabResults{Creatinine: picked["creatinine"], CRP: picked["crp"]}
	if !lp.Empty() {
		out.LipidProfile = &lp
	}
	if !gl.Empty() {
		out.Glucose = &gl
	}
	return out
}

var ErrBadLabFile = errors.New("invalid lab file")

// ParseLabCSV reads name,value rows. A header row and extra columns are
// tolerated.
func ParseLabCSV(r io.Reader) (map[string]any, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	out := make(map[string]any)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadLabFile, err)
		}
		if len(rec) < 2 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		out[rec[0]] = rec[1]
	}
	return out, nil
}
