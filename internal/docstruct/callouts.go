package docstruct

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/plan-agent/backend/internal/station"
)

// Callout headers follow a closed "SYSTEM ... STA X+YY" convention across
// plan sets. The system group captures the utility name with an optional
// quoted run letter ("WATER LINE 'A'").
var calloutHeaderPattern = regexp.MustCompile(
	`(?im)^[^\S\n]*((?:WATER\s?LINE|SANITARY SEWER|STORM DRAIN|FORCE MAIN|RECLAIMED WATER|GAS LINE|IRRIGATION LINE)(?:\s+'?[A-Z0-9]+'?)?)\s+STA\.?\s*(\d{1,4}\+\d{1,3}(?:\.\d{1,2})?)`)

// Component lines are bulleted or numbered: "- 1 - 12-IN GATE VALVE AND
// VALVE BOX", "2) 3 - 8-IN 45 BEND".
var componentLinePattern = regexp.MustCompile(
	`(?i)^[^\S\n]*(?:[-•*]|\d+[.)])?[^\S\n]*(\d+)[^\S\n]*[-–][^\S\n]*(?:(\d+(?:/\d+)?[-\s]?IN(?:CH)?)[^\S\n]+)?(.+?)[^\S\n]*$`)

var sizeTokenPattern = regexp.MustCompile(`(?i)\b(\d+(?:/\d+)?)[-\s]?IN(?:CH)?\b`)

// DetectCallouts scans chunk text for callout boxes. The scan is
// two-phase: match a header line, then consume component lines until a
// line that is not a component, which closes the box.
func DetectCallouts(text string) []CalloutBox {
	if text == "" {
		return nil
	}

	var callouts []CalloutBox
	lines := strings.Split(text, "\n")
	offset := 0
	lineStarts := make([]int, len(lines))
	for i, line := range lines {
		lineStarts[i] = offset
		offset += len(line) + 1
	}

	for i := 0; i < len(lines); i++ {
		header := calloutHeaderPattern.FindStringSubmatch(lines[i])
		if header == nil {
			continue
		}

		sta, ok := station.Parse(header[2])
		if !ok {
			continue
		}

		box := CalloutBox{
			Header:     strings.TrimSpace(lines[i]),
			SystemName: normalizeSystemName(header[1]),
			Station:    sta,
			SpanStart:  lineStarts[i],
		}

		end := i
		for j := i + 1; j < len(lines); j++ {
			comp, ok := parseComponentLine(lines[j])
			if !ok {
				if strings.TrimSpace(lines[j]) == "" && j == i+1 {
					// A single blank line between header and the first
					// component is common in extracted text.
					end = j
					continue
				}
				break
			}
			box.Components = append(box.Components, comp)
			end = j
		}

		box.SpanEnd = lineStarts[end] + len(lines[end])
		box.Confidence = calloutConfidence(len(box.Components))
		callouts = append(callouts, box)
		i = end
	}

	return callouts
}

func calloutConfidence(componentCount int) float64 {
	switch {
	case componentCount >= 3:
		return 0.95
	case componentCount >= 1:
		return 0.9
	default:
		return 0.7
	}
}

func parseComponentLine(line string) (Component, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Component{}, false
	}
	// A second callout header ends the current box.
	if calloutHeaderPattern.MatchString(line) {
		return Component{}, false
	}

	m := componentLinePattern.FindStringSubmatch(line)
	if m == nil {
		return Component{}, false
	}

	qty, err := strconv.Atoi(m[1])
	if err != nil || qty < 1 {
		return Component{}, false
	}

	name := strings.TrimSpace(m[3])
	if name == "" {
		return Component{}, false
	}

	size := strings.ToUpper(strings.ReplaceAll(m[2], " ", "-"))
	if size != "" && !strings.Contains(size, "-") {
		size = strings.Replace(size, "IN", "-IN", 1)
	}

	return Component{
		Quantity:        qty,
		Size:            size,
		Name:            strings.ToUpper(name),
		FullDescription: trimmed,
	}, true
}

func normalizeSystemName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "WATERLINE", "WATER LINE")
	return name
}

var matchLinePattern = regexp.MustCompile(`(?i)\bMATCH\s?LINE\b`)

// navigationTokens are the vocabulary of sheet-navigation text. A chunk
// dominated by these carries no component data.
var navigationTokens = map[string]bool{
	"match": true, "line": true, "see": true, "sheet": true, "sta": true,
	"continued": true, "on": true, "this": true, "for": true, "continuation": true,
}

var sheetNumberToken = regexp.MustCompile(`(?i)^[A-Z]{1,3}[-]?\d{2,4}$`)

// IsMatchLineNoise reports whether a chunk is sheet-navigation text with
// no component data. Such chunks inflate apparent sheet counts and are
// excluded from quantity-relevant retrieval. A chunk is noise when it
// contains a match-line marker, has no component-indicator line, and its
// navigation-token density exceeds 40% of words.
func IsMatchLineNoise(text string) bool {
	if !matchLinePattern.MatchString(text) {
		return false
	}

	for _, line := range strings.Split(text, "\n") {
		if _, ok := parseComponentLine(line); ok {
			return false
		}
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return true
	}

	nav := 0
	for _, w := range words {
		cleaned := strings.ToLower(strings.Trim(w, ".,()'\"-"))
		if navigationTokens[cleaned] {
			nav++
			continue
		}
		if sheetNumberToken.MatchString(strings.Trim(w, ".,()'\"")) {
			nav++
			continue
		}
		if _, ok := station.Parse(w); ok {
			nav++
		}
	}

	return float64(nav)/float64(len(words)) > 0.4
}
