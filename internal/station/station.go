// Package station parses and measures linear-referencing ("station")
// notation from utility plan sheets. One major station equals 100 feet,
// so "13+50" is 1,350 feet along the alignment.
package station

import (
	"fmt"
	"regexp"
	"strconv"
)

// Station is an immutable linear position along an alignment.
type Station struct {
	Major  int
	Offset float64
}

// stationPattern accepts "13+00", "STA 13+00", "0013+50.00". The offset
// is matched greedily and validated numerically: anything >= 100 is not a
// station, it is a typo or a different notation.
var stationPattern = regexp.MustCompile(`(?i)(?:STA\.?\s*)?(\d{1,4})\+(\d{1,3}(?:\.\d{1,2})?)`)

// Parse returns the first valid station found in text. Malformed input
// returns ok=false rather than an error so classification stays robust
// against garbled plan text.
func Parse(text string) (Station, bool) {
	all := ParseAll(text)
	if len(all) == 0 {
		return Station{}, false
	}
	return all[0], true
}

// ParseAll returns every station found in text, in order of appearance.
// Callers use the first as the anchor when a query mentions several.
func ParseAll(text string) []Station {
	matches := stationPattern.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return nil
	}
	stations := make([]Station, 0, len(matches))
	for _, m := range matches {
		if s, ok := fromMatch(m); ok {
			stations = append(stations, s)
		}
	}
	return stations
}

func fromMatch(m []string) (Station, bool) {
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return Station{}, false
	}
	offset, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Station{}, false
	}
	if offset < 0 || offset >= 100 {
		return Station{}, false
	}
	return Station{Major: major, Offset: offset}, true
}

// TotalFeet is the position in feet from station 0+00.
func (s Station) TotalFeet() float64 {
	return float64(s.Major)*100 + s.Offset
}

// FromFeet converts a linear position back into station notation.
// Negative positions clamp to 0+00.
func FromFeet(feet float64) Station {
	if feet < 0 {
		feet = 0
	}
	major := int(feet / 100)
	return Station{Major: major, Offset: feet - float64(major)*100}
}

func (s Station) String() string {
	return fmt.Sprintf("%d+%05.2f", s.Major, s.Offset)
}

// Distance is the symmetric distance between two stations in feet.
func Distance(a, b Station) float64 {
	d := a.TotalFeet() - b.TotalFeet()
	if d < 0 {
		return -d
	}
	return d
}

// RangeLength returns the length of the run from from to to. A
// non-positive length means the endpoints were extracted in reverse
// order; that is reported as ok=false instead of being negated, since
// silently fixing it would hide a bad extraction.
func RangeLength(from, to Station) (float64, bool) {
	length := to.TotalFeet() - from.TotalFeet()
	if length <= 0 {
		return 0, false
	}
	return length, true
}

// EstimateOpenEndedLength estimates the length of an open-ended range
// ("13+00 to End") from the document-wide maximum station. The result is
// a lower-confidence fallback, never authoritative.
func EstimateOpenEndedLength(from Station, docMaxFeet float64) (float64, bool) {
	length := docMaxFeet - from.TotalFeet()
	if length <= 0 {
		return 0, false
	}
	return length, true
}
