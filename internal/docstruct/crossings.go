package docstruct

import (
	"regexp"
	"strings"

	"github.com/plan-agent/backend/internal/station"
)

// utilityAliases is the closed dictionary of utility abbreviations seen
// on plan sheets, normalized to canonical names.
var utilityAliases = map[string]string{
	"ELEC":  "ELECTRICAL",
	"ELECT": "ELECTRICAL",
	"E":     "ELECTRICAL",
	"SS":    "SANITARY SEWER",
	"SAN":   "SANITARY SEWER",
	"SWR":   "SANITARY SEWER",
	"SD":    "STORM DRAIN",
	"STM":   "STORM DRAIN",
	"STORM": "STORM DRAIN",
	"RCP":   "STORM DRAIN",
	"GAS":   "GAS",
	"G":     "GAS",
	"TEL":   "TELECOM",
	"TELE":  "TELECOM",
	"COMM":  "TELECOM",
	"FO":    "FIBER OPTIC",
	"FOC":   "FIBER OPTIC",
	"FIBER": "FIBER OPTIC",
	"W":     "WATER",
	"WTR":   "WATER",
	"WM":    "WATER",
}

var existingModifiers = map[string]bool{
	"EX": true, "EXIST": true, "EXISTING": true, "E/": true,
}

var proposedModifiers = map[string]bool{
	"PROP": true, "PROPOSED": true,
}

// fittingKeywords name point features of the primary utility. A line
// carrying one of these plus a pipe size describes a component, not a
// crossing, however it is worded.
var fittingKeywords = []string{
	"GATE VALVE", "VALVE", "TEE", "BEND", "DEFL", "DEFLECTION",
	"REDUCER", "PLUG", "CAP", "FITTING", "CROSS FITTING", "HYDRANT",
}

var crossingKeyword = regexp.MustCompile(`(?i)\b(CROSSING|CROSSES|XING)\b`)

// primaryUtility is the utility the plan set is designed around. Sized
// callouts of the primary utility are components of the work, not
// crossings of it.
const primaryUtility = "WATER"

// IsPrimaryComponent applies the semantic filter shared with vision
// validation: any description containing a pipe-size pattern is
// presumptively a component of the primary utility, never a crossing,
// unless the line names a different utility ("EX 8-IN SS"). Fitting
// keywords classify as primary even then, since a valve or tee belongs
// to the main line regardless of what the note mentions around it.
func IsPrimaryComponent(description string) bool {
	if !sizeTokenPattern.MatchString(description) {
		return false
	}
	upper := strings.ToUpper(description)
	for _, kw := range fittingKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	utility, _, found := matchUtility(description)
	return !found || utility == primaryUtility
}

// ExtractCrossingIndicators finds utility-crossing mentions in chunk
// text. Lines describing components of the primary utility are filtered
// out even when they contain crossing-adjacent wording.
func ExtractCrossingIndicators(text string) []CrossingIndicator {
	if text == "" {
		return nil
	}

	var indicators []CrossingIndicator
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if IsPrimaryComponent(trimmed) {
			continue
		}

		utility, existing, found := matchUtility(trimmed)
		if !found {
			continue
		}
		// Require either an explicit crossing keyword or a station on the
		// same line; a bare abbreviation in a legend is not a crossing.
		hasKeyword := crossingKeyword.MatchString(trimmed)
		sta, hasStation := station.Parse(trimmed)
		if !hasKeyword && !hasStation {
			continue
		}

		ind := CrossingIndicator{
			Utility:  utility,
			Existing: existing,
			Context:  trimmed,
		}
		if hasStation {
			ind.Station = &sta
		}
		indicators = append(indicators, ind)
	}

	return indicators
}

func matchUtility(line string) (utility string, existing bool, found bool) {
	words := strings.Fields(strings.ToUpper(line))
	for i, w := range words {
		token := strings.Trim(w, ".,()'\"")
		canonical, ok := utilityAliases[token]
		if !ok {
			continue
		}
		// "EX 8-IN SS" marks the crossing utility existing even when the
		// modifier is not directly adjacent.
		for _, prior := range words[:i] {
			tok := strings.Trim(prior, ".,()'\"")
			if existingModifiers[tok] {
				existing = true
				break
			}
			if proposedModifiers[tok] {
				break
			}
		}
		return canonical, existing, true
	}
	return "", false, false
}
