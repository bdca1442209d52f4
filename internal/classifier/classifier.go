// Package classifier turns a free-text question about a plan set into a
// typed classification with extracted entities. The intent model is an
// ordered rule table of patterns, kept explicit because it is a heuristic
// keyword cascade, not a calibrated model: confidence values order
// classifications relative to each other and mean nothing in isolation.
package classifier

import (
	"regexp"
	"strings"

	prose "github.com/jdkato/prose/v2"

	"github.com/plan-agent/backend/internal/docstruct"
	"github.com/plan-agent/backend/internal/station"
)

type QueryType string

const (
	TypeQuantity      QueryType = "quantity"
	TypeLocation      QueryType = "location"
	TypeSpecification QueryType = "specification"
	TypeDetail        QueryType = "detail"
	TypeReference     QueryType = "reference"
	TypeGeneral       QueryType = "general"
)

type SearchHints struct {
	PreferredSheetTypes []docstruct.SheetType
}

type Classification struct {
	Type                  QueryType
	Confidence            float64
	Intent                string
	ItemName              string
	SheetNumber           string
	SizeFilter            string
	Station               *station.Station
	NeedsCompleteData     bool
	NeedsVisualInspection bool
	SearchHints           SearchHints
}

// rule is one row of the intent table. Rules are evaluated in order and
// every match applies; later rules may refine what earlier ones set.
type rule struct {
	name    string
	pattern *regexp.Regexp
	apply   func(c *Classification)
}

var rules = []rule{
	{
		name:    "aggregation",
		pattern: regexp.MustCompile(`(?i)\b(how many|how much|total|length of|count of|number of|sum of|quantity)\b`),
		apply: func(c *Classification) {
			c.Type = TypeQuantity
			c.Intent = "aggregate"
		},
	},
	{
		name:    "length measure",
		pattern: regexp.MustCompile(`(?i)\b(total length|length of|linear (feet|footage)|how long)\b`),
		apply: func(c *Classification) {
			c.Type = TypeQuantity
			c.Intent = "measure_length"
		},
	},
	{
		name:    "location",
		pattern: regexp.MustCompile(`(?i)\b(where|located?|location|between sta|at sta(tion)?)\b`),
		apply: func(c *Classification) {
			if c.Type == TypeGeneral {
				c.Type = TypeLocation
				c.Intent = "find_location"
			}
		},
	},
	{
		name:    "specification",
		pattern: regexp.MustCompile(`(?i)\b(spec(ification)?s?|material|pressure class|pipe class|thickness|coating|rating)\b`),
		apply: func(c *Classification) {
			if c.Type == TypeGeneral {
				c.Type = TypeSpecification
				c.Intent = "lookup_spec"
			}
		},
	},
	{
		name:    "detail",
		pattern: regexp.MustCompile(`(?i)\b(detail|section [a-z]-[a-z]|typical section|trench)\b`),
		apply: func(c *Classification) {
			if c.Type == TypeGeneral {
				c.Type = TypeDetail
				c.Intent = "find_detail"
			}
		},
	},
	{
		name:    "sheet reference",
		pattern: regexp.MustCompile(`(?i)\b(which sheets?|what sheets?|sheet list|drawing index)\b`),
		apply: func(c *Classification) {
			if c.Type == TypeGeneral {
				c.Type = TypeReference
				c.Intent = "find_sheets"
			}
		},
	},
	{
		name:    "material takeoff",
		pattern: regexp.MustCompile(`(?i)\b(material take-?off|take-?off|bill of materials)\b`),
		apply: func(c *Classification) {
			c.Type = TypeQuantity
			c.Intent = "material_takeoff"
			c.NeedsCompleteData = true
		},
	},
	{
		name: "exhaustive count",
		// Top-k search under-counts enumerable items, so full-count
		// phrasing on a quantity query switches to complete retrieval.
		pattern: regexp.MustCompile(`(?i)\b(complete (list|count)|every|all|entire (system|line|run))\b`),
		apply: func(c *Classification) {
			if c.Type == TypeQuantity {
				c.NeedsCompleteData = true
			}
		},
	},
}

// componentNouns are countable point features. Counting or locating them
// needs the original page images, not indexed text: top-k search
// under-counts enumerable items, and text extraction misses drawn-only
// symbols.
var componentNouns = []string{
	"gate valve", "butterfly valve", "check valve", "air release valve",
	"valve", "fire hydrant", "hydrant", "tee", "bend", "reducer", "plug",
	"blowoff", "blow-off", "manhole", "meter", "fitting", "thrust block",
	"service connection",
}

// systemNamePattern extracts named utility runs ("waterline A").
var systemNamePattern = regexp.MustCompile(
	`(?i)\b(water\s?line|sanitary sewer|storm drain|force main|reclaimed water|gas line)\s*'?([a-z0-9])'?\b`)

var sizeFilterPattern = regexp.MustCompile(`(?i)\b(\d+(?:/\d+)?)\s*[-\s]?\s*(?:inch|in\b|")`)

var sheetNumberPattern = regexp.MustCompile(`(?i)\b([a-z]{1,3}-?\d{2,4})\b`)

var countVerbPattern = regexp.MustCompile(`(?i)\b(how many|count|number of)\b`)

var locateVerbPattern = regexp.MustCompile(`(?i)\b(where (is|are)|locate|show me|find (the|all))\b`)

// Classify never fails: empty or garbled input degrades to a general
// classification with confidence at or below 0.5.
func Classify(text string) Classification {
	c := Classification{
		Type:   TypeGeneral,
		Intent: "general",
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		c.Confidence = 0.2
		return c
	}

	matches := 0
	for _, r := range rules {
		if r.pattern.MatchString(trimmed) {
			r.apply(&c)
			matches++
		}
	}

	if stations := station.ParseAll(trimmed); len(stations) > 0 {
		anchor := stations[0]
		c.Station = &anchor
		if c.Type == TypeGeneral {
			c.Type = TypeLocation
			c.Intent = "find_location"
		}
		matches++
	}

	if m := sizeFilterPattern.FindStringSubmatch(trimmed); m != nil {
		c.SizeFilter = strings.ToUpper(m[1]) + "-IN"
		matches++
	}

	if sheet := extractSheetNumber(trimmed); sheet != "" {
		c.SheetNumber = sheet
		matches++
	}

	c.ItemName = extractItemName(trimmed)
	if c.ItemName != "" {
		matches++
	}

	c.NeedsVisualInspection = needsVisualInspection(trimmed, c)
	if c.NeedsVisualInspection {
		c.Intent = "inspect_sheets"
	}

	c.SearchHints.PreferredSheetTypes = preferredSheetTypes(c.Type)
	c.Confidence = confidenceFromMatches(matches, c.Type)

	return c
}

// needsVisualInspection: counting or locating discrete physical
// components, or a material takeoff. Aggregate measures over indexed data
// (lengths, totals of recorded quantities) stay on the text path.
func needsVisualInspection(text string, c Classification) bool {
	if c.NeedsCompleteData && isComponentNoun(c.ItemName) {
		return true
	}
	if !isComponentNoun(c.ItemName) {
		return false
	}
	return countVerbPattern.MatchString(text) || locateVerbPattern.MatchString(text)
}

func isComponentNoun(item string) bool {
	if item == "" {
		return false
	}
	lower := strings.ToLower(item)
	for _, noun := range componentNouns {
		if strings.Contains(lower, noun) {
			return true
		}
	}
	return false
}

func extractItemName(text string) string {
	lower := strings.ToLower(text)

	if m := systemNamePattern.FindStringSubmatch(lower); m != nil {
		return strings.Join(strings.Fields(m[1]+" "+m[2]), " ")
	}

	for _, noun := range componentNouns {
		if idx := strings.Index(lower, noun); idx >= 0 {
			return singularize(noun)
		}
	}

	// Fall back to the longest noun run the tagger finds; plan questions
	// name their subject as a noun phrase ("thrust restraint schedule").
	doc, err := prose.NewDocument(text)
	if err != nil {
		return ""
	}
	var current, best []string
	for _, tok := range doc.Tokens() {
		if strings.HasPrefix(tok.Tag, "NN") {
			current = append(current, strings.ToLower(tok.Text))
			if len(current) > len(best) {
				best = current
			}
			continue
		}
		current = nil
	}
	return strings.Join(best, " ")
}

func singularize(noun string) string {
	if strings.HasSuffix(noun, "s") && !strings.HasSuffix(noun, "ss") {
		return strings.TrimSuffix(noun, "s")
	}
	return noun
}

func extractSheetNumber(text string) string {
	for _, m := range sheetNumberPattern.FindAllStringSubmatch(text, -1) {
		candidate := strings.ToUpper(m[1])
		// Size tokens like "12-IN" never reach here (letters lead), but
		// "IN-12" style false positives are cheap to keep out.
		if strings.HasPrefix(candidate, "IN") {
			continue
		}
		return candidate
	}
	return ""
}

func preferredSheetTypes(t QueryType) []docstruct.SheetType {
	switch t {
	case TypeQuantity:
		return []docstruct.SheetType{docstruct.SheetPlan, docstruct.SheetProfile, docstruct.SheetSummary}
	case TypeLocation:
		return []docstruct.SheetType{docstruct.SheetPlan, docstruct.SheetProfile}
	case TypeSpecification:
		return []docstruct.SheetType{docstruct.SheetDetail, docstruct.SheetLegend, docstruct.SheetSummary}
	case TypeDetail:
		return []docstruct.SheetType{docstruct.SheetDetail}
	case TypeReference:
		return []docstruct.SheetType{docstruct.SheetIndex, docstruct.SheetTitle}
	default:
		return nil
	}
}

// confidenceFromMatches is a heuristic score from pattern-match counts,
// not a probability.
func confidenceFromMatches(matches int, t QueryType) float64 {
	if t == TypeGeneral {
		if matches == 0 {
			return 0.3
		}
		return 0.5
	}
	conf := 0.5 + 0.15*float64(matches)
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}
