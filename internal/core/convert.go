package core

// convert.go strips spreadsheet export artifacts from raw cell values before
// they reach the field cleaners.
//
// Spreadsheets exporting to CSV often protect leading zeros and long numbers
// by writing them as formulas (="0123"), and some tools quote a value a second
// time inside the CSV quoting. Both are undone here so a phone exported as
// ="5550100" cleans the same way as 5550100.

import "strings"

// CleanCell removes common export artifacts from a cell value:
//   - surrounding whitespace
//   - an Excel formula wrapper (="..." or a bare leading =)
//   - the apostrophe spreadsheets use to force a number to text ('0123)
//   - one pair of matching surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	switch {
	case len(s) >= 3 && strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`):
		s = s[2 : len(s)-1]
	case strings.HasPrefix(s, "=") && !strings.HasPrefix(s, "=="):
		s = s[1:]
	case len(s) >= 2 && s[0] == '\'' && s[len(s)-1] != '\'' && (isDigit(s[1]) || s[1] == '+'):
		s = s[1:]
	}

	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'') {
			s = s[1 : len(s)-1]
		}
	}
	return strings.TrimSpace(s)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
