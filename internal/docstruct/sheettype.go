package docstruct

import (
	"regexp"
	"strings"
)

var (
	indexSheetNumber   = regexp.MustCompile(`(?i)^(G|GI|T|CV)-?0*[01]$`)
	profileSheetNumber = regexp.MustCompile(`(?i)^C?P[PR]?-?\d+`)
	indexContent       = regexp.MustCompile(`(?i)\b(TABLE OF CONTENTS|SHEET INDEX|INDEX OF (SHEETS|DRAWINGS)|DRAWING INDEX)\b`)
	summaryContent     = regexp.MustCompile(`(?i)\b(SUMMARY OF QUANTITIES|QUANTITY SUMMARY|ESTIMATED QUANTITIES)\b`)
	legendContent      = regexp.MustCompile(`(?i)\b(LEGEND|ABBREVIATIONS|GENERAL NOTES)\b`)
	detailContent      = regexp.MustCompile(`(?i)\b(DETAIL|SECTION [A-Z]-[A-Z]|TYP(ICAL)? SECTION)\b`)
	profileContent     = regexp.MustCompile(`(?i)\b(PROFILE|VERT(ICAL)? SCALE|DATUM ELEV)\b`)
	planContent        = regexp.MustCompile(`(?i)\b(PLAN VIEW|MATCH ?LINE|STA\.?\s*\d+\+\d+)\b`)
	titleContent       = regexp.MustCompile(`(?i)\b(PROJECT NO|VICINITY MAP|COVER SHEET)\b`)
)

// ClassifySheetType infers a sheet-type hint from the sheet number and
// the sheet's extracted text. Content patterns win over number patterns;
// both are heuristics, and callers must treat the result as a hint only.
func ClassifySheetType(sheetNumber, text string) SheetType {
	switch {
	case indexContent.MatchString(text):
		return SheetIndex
	case summaryContent.MatchString(text):
		return SheetSummary
	case titleContent.MatchString(text):
		return SheetTitle
	case profileContent.MatchString(text):
		return SheetProfile
	case detailContent.MatchString(text):
		return SheetDetail
	case legendContent.MatchString(text):
		return SheetLegend
	case planContent.MatchString(text):
		return SheetPlan
	}

	num := strings.TrimSpace(sheetNumber)
	switch {
	case num == "":
		return SheetUnknown
	case indexSheetNumber.MatchString(num):
		return SheetIndex
	case profileSheetNumber.MatchString(num):
		return SheetProfile
	}
	return SheetUnknown
}

// LooksLikeIndexSheet reports whether a result should take the
// index-sheet penalty during re-ranking: typed index, an index-style
// sheet number, or table-of-contents phrasing in the content.
func LooksLikeIndexSheet(sheetType SheetType, sheetNumber, text string) bool {
	if sheetType == SheetIndex {
		return true
	}
	if indexSheetNumber.MatchString(strings.TrimSpace(sheetNumber)) {
		return true
	}
	return indexContent.MatchString(text)
}
