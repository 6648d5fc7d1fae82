package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ResultInput carries the structured fields an analyst fills in. The stored
// result value is composed from it by ComposeResultValue.
type ResultInput struct {
	Text                     string             `json:"text,omitempty"`
	Numeric                  *float64           `json:"numeric,omitempty"`
	Unit                     string             `json:"unit,omitempty"`
	Qualitative              QualitativeOutcome `json:"qualitative,omitempty"`
	BelowDetectionLimit      bool               `json:"below_detection_limit,omitempty"`
	AboveQuantificationLimit bool               `json:"above_quantification_limit,omitempty"`
}

var qualitativeLabels = map[QualitativeOutcome]string{
	OutcomeDetected:     "Detected",
	OutcomeNotDetected:  "Not detected",
	OutcomePositive:     "Positive",
	OutcomeNegative:     "Negative",
	OutcomePresence:     "Presence",
	OutcomeAbsence:      "Absence",
	OutcomeGrowth:       "Growth",
	OutcomeNoGrowth:     "No growth",
	OutcomeConfirmed:    "Confirmed",
	OutcomeNotConfirmed: "Not confirmed",
}

// ComposeResultValue renders the result value for a parameter of the given
// kind. Detection limits take precedence, then free text, then the typed
// reading. An empty string means no result.
func ComposeResultValue(kind ResultKind, in ResultInput) string {
	unit := strings.TrimSpace(in.Unit)
	switch {
	case in.BelowDetectionLimit:
		return strings.TrimSpace("< LD " + unit)
	case in.AboveQuantificationLimit:
		return strings.TrimSpace("> LC " + unit)
	}
	if text := strings.TrimSpace(in.Text); text != "" {
		return text
	}
	if kind == ResultQualitative {
		if in.Qualitative == "" {
			return ""
		}
		if label, ok := qualitativeLabels[in.Qualitative]; ok {
			return label
		}
		return string(in.Qualitative)
	}
	if in.Numeric == nil {
		return ""
	}
	if isPHUnit(unit) {
		return strings.TrimSpace(fmt.Sprintf("%.1f %s", *in.Numeric, unit))
	}
	return strings.TrimSpace(strconv.FormatFloat(*in.Numeric, 'f', -1, 64) + " " + unit)
}

func isPHUnit(unit string) bool {
	switch strings.ToLower(unit) {
	case "ph", "ph units", "unidades de ph":
		return true
	}
	return false
}

// FormatColonyCount computes a plate count result in CFU/g from colonies and
// the dilution factor, applying the countable range of the plate method.
func FormatColonyCount(colonies int, dilutionFactor int) string {
	if dilutionFactor <= 0 {
		dilutionFactor = 1
	}
	if colonies < 0 {
		return ""
	}
	result := colonies * dilutionFactor
	switch {
	case result == 0:
		return "Not detected"
	case result < 10:
		return "< 1.0 x 10^1 CFU/g"
	case result > 300000:
		return "> 3.0 x 10^5 CFU/g"
	case result >= 1000:
		exp := len(strconv.Itoa(result)) - 1
		base := float64(result)
		for i := 0; i < exp; i++ {
			base /= 10
		}
		return fmt.Sprintf("%.1f x 10^%d CFU/g", base, exp)
	default:
		return fmt.Sprintf("%d CFU/g", result)
	}
}
