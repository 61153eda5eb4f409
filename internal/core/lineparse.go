package core

import (
	"strconv"
	"strings"
)

const utf8BOM = "\uFEFF"

// ParseLine splits one raw delimited line into fields.
//
// A double quote toggles quoted state and a doubled quote inside a quoted
// field is a literal quote. Commas separate fields only outside quotes. Each
// field is trimmed. When isHeader is true, empty fields are replaced with
// Column_<n> (1-based); data lines keep empty strings. A leading byte-order
// mark is dropped. ParseLine never fails: an unclosed quote runs to the end
// of the line.
func ParseLine(line string, isHeader bool) []string {
	fields, _ := splitLine(line)
	for i, f := range fields {
		if f == "" && isHeader {
			fields[i] = placeholderHeader(i)
		}
	}
	return fields
}

// splitLine tokenizes line the way ParseLine does, with fields trimmed, and
// reports whether every opened quote was closed.
func splitLine(line string) (fields []string, closed bool) {
	line = strings.TrimPrefix(line, utf8BOM)
	line = strings.TrimRight(line, "\r\n")

	var (
		field   strings.Builder
		inQuote bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"' && inQuote && i+1 < len(line) && line[i+1] == '"':
			field.WriteByte('"')
			i++
		case c == '"':
			inQuote = !inQuote
		case c == ',' && !inQuote:
			fields = append(fields, strings.TrimSpace(field.String()))
			field.Reset()
		default:
			field.WriteByte(c)
		}
	}
	fields = append(fields, strings.TrimSpace(field.String()))
	return fields, !inQuote
}

// NormalizeHeaders trims header fields and fills empty ones with placeholders,
// matching what ParseLine does for header lines.
func NormalizeHeaders(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		if i == 0 {
			f = strings.TrimPrefix(f, utf8BOM)
		}
		f = strings.TrimSpace(f)
		if f == "" {
			f = placeholderHeader(i)
		}
		out[i] = f
	}
	return out
}

func placeholderHeader(i int) string {
	return "Column_" + strconv.Itoa(i+1)
}
