package vision

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/plan-agent/backend/internal/llm"
	"github.com/plan-agent/backend/pkg/config"
)

// strictStation is the shape stations take when printed on a sheet. The
// model occasionally hallucinates offsets like "13+2500" or copies road
// names into station fields; neither survives this pattern.
var strictStation = regexp.MustCompile(`^\d{1,3}\+\d{2}(\.\d{1,2})?$`)

var roadTokens = []string{
	"ROAD", "STREET", "AVENUE", "BLVD", "DRIVE", "LANE", "HWY", "HIGHWAY", "COURT",
}

// ValidateAnalysis inspects one sheet's extraction for the failure modes
// vision models actually exhibit. Findings are warnings for the log, not
// rejections: a suspicious row is still better evidence than no row, and
// the human reviewing extractions decides.
func ValidateAnalysis(a *llm.VisionAnalysis, cfg config.VisionConfig) []string {
	var warnings []string

	if cfg.MaxQuantitiesPerPage > 0 && len(a.Quantities) > cfg.MaxQuantitiesPerPage {
		warnings = append(warnings, fmt.Sprintf(
			"%d quantities on one sheet exceeds the expected maximum of %d, likely over-extraction",
			len(a.Quantities), cfg.MaxQuantitiesPerPage))
	}
	if cfg.MaxCrossingsPerPage > 0 && len(a.UtilityCrossings) > cfg.MaxCrossingsPerPage {
		warnings = append(warnings, fmt.Sprintf(
			"%d crossings on one sheet exceeds the expected maximum of %d, likely over-extraction",
			len(a.UtilityCrossings), cfg.MaxCrossingsPerPage))
	}

	for _, q := range a.Quantities {
		warnings = append(warnings, checkStation("quantity "+q.ItemName, q.StationFrom)...)
		warnings = append(warnings, checkStation("quantity "+q.ItemName, q.StationTo)...)
		if q.Quantity < 0 {
			warnings = append(warnings, fmt.Sprintf("negative quantity %g for %s", q.Quantity, q.ItemName))
		}
	}
	for _, tp := range a.TerminationPoints {
		warnings = append(warnings, checkStation("termination point", tp.Station)...)
	}
	for _, cr := range a.UtilityCrossings {
		warnings = append(warnings, checkStation("crossing "+cr.CrossingUtility, cr.Station)...)
	}

	return warnings
}

func checkStation(context, value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}

	var warnings []string
	if !strictStation.MatchString(trimmed) {
		warnings = append(warnings, fmt.Sprintf("station %q for %s is not valid station notation", trimmed, context))
	}
	upper := strings.ToUpper(trimmed)
	for _, tok := range roadTokens {
		if strings.Contains(upper, tok) {
			warnings = append(warnings, fmt.Sprintf("station %q for %s looks like a road name", trimmed, context))
			break
		}
	}
	return warnings
}
