package core

// header.go locates the header row of a delimited file.
//
// Exported CSVs often start with banner or metadata lines. The locator scans a
// bounded number of leading lines for one that mentions an expected header
// and falls back to line 0 when nothing matches. Only the first
// DefaultHeaderPreviewBytes of a remote object are fetched for this.

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// DefaultHeaderScanLines bounds how many leading lines are searched for a header.
const DefaultHeaderScanLines = 20

// DefaultHeaderPreviewBytes is the byte-range size fetched for header discovery.
const DefaultHeaderPreviewBytes = 50 * 1024

// HeaderMatch is the result of header discovery.
type HeaderMatch struct {
	Index   int      // 0-based physical line index of the header row
	Line    string   // raw header line
	Headers []string // parsed header fields
	Matched bool     // false when the index is the line-0 fallback
}

// LocateHeader returns the 0-based index of the first line within maxLines
// that contains any expected header as a literal substring. If none match it
// returns index 0 and logs a warning. With no expected headers the first
// non-empty line is returned.
func LocateHeader(r io.Reader, expected []string, maxLines int) (HeaderMatch, error) {
	if maxLines <= 0 {
		maxLines = DefaultHeaderScanLines
	}

	lines, err := readLeadingLines(r, maxLines)
	if err != nil {
		return HeaderMatch{}, err
	}
	if len(lines) == 0 {
		return HeaderMatch{}, ErrEmptyFile
	}

	var needles []string
	for _, e := range expected {
		if e = strings.TrimSpace(e); e != "" {
			needles = append(needles, e)
		}
	}

	if len(needles) == 0 {
		for i, line := range lines {
			if strings.TrimSpace(strings.TrimPrefix(line, utf8BOM)) != "" {
				return newHeaderMatch(i, line, true), nil
			}
		}
		return HeaderMatch{}, ErrEmptyFile
	}

	for i, line := range lines {
		for _, n := range needles {
			if strings.Contains(line, n) {
				return newHeaderMatch(i, line, true), nil
			}
		}
	}

	slog.Warn("header row not found in scan window, using first line",
		"scanned_lines", len(lines),
		"expected", needles,
	)
	return newHeaderMatch(0, lines[0], false), nil
}

func newHeaderMatch(i int, line string, matched bool) HeaderMatch {
	return HeaderMatch{
		Index:   i,
		Line:    line,
		Headers: ParseLine(line, true),
		Matched: matched,
	}
}

// readLeadingLines reads up to n lines without their terminators. A trailing
// line without a newline is included. A truncated final line from a ranged
// read is kept as-is.
func readLeadingLines(r io.Reader, n int) ([]string, error) {
	br := bufio.NewReader(r)
	lines := make([]string, 0, n)
	for len(lines) < n {
		line, err := br.ReadString('\n')
		if line != "" {
			if len(lines) == 0 {
				line = strings.TrimPrefix(line, utf8BOM)
			}
			lines = append(lines, strings.TrimRight(line, "\r\n"))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return lines, nil
}

// skipLines discards n physical lines from br without buffering them.
func skipLines(br *bufio.Reader, n int) error {
	for range n {
		if _, _, err := readLine(br, 0); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return nil
}
