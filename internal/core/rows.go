package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

// MaxLineBytes bounds one physical line of a data file. A longer line is a
// malformed row; it is discarded without being buffered.
const MaxLineBytes = 1 << 20

// ErrMalformedRow marks a single unparseable line.
var ErrMalformedRow = errors.New("malformed row")

// RowError describes a malformed line. It matches ErrMalformedRow.
type RowError struct {
	Line   int64 // 1-based physical line number
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%v at line %d: %s", ErrMalformedRow, e.Line, e.Reason)
}

func (e *RowError) Is(target error) bool { return target == ErrMalformedRow }

// ReadRows lazily yields the data records of r after skipping the first
// skip physical lines (the header and anything before it).
//
// Each physical line is one record, tokenized like ParseLine, so quote state
// never carries across a line break. A line with an unclosed quote or longer
// than MaxLineBytes is yielded as a *RowError and reading continues. Any
// other error is yielded once and ends the sequence. Blank rows are skipped.
func ReadRows(r io.Reader, skip int) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		br := bufio.NewReaderSize(r, 64*1024)
		if err := skipLines(br, skip); err != nil {
			yield(nil, err)
			return
		}

		lineNo := int64(skip)
		for {
			line, tooLong, err := readLine(br, MaxLineBytes)
			if err != nil && !errors.Is(err, io.EOF) {
				yield(nil, err)
				return
			}
			atEOF := err != nil
			if atEOF && line == "" && !tooLong {
				return
			}
			lineNo++

			var (
				fields []string
				rowErr error
			)
			if tooLong {
				rowErr = &RowError{Line: lineNo, Reason: fmt.Sprintf("line longer than %d bytes", MaxLineBytes)}
			} else {
				var closed bool
				fields, closed = splitLine(line)
				if !closed {
					rowErr = &RowError{Line: lineNo, Reason: "unterminated quoted field"}
				}
			}

			switch {
			case rowErr != nil:
				if !yield(nil, rowErr) {
					return
				}
			case !isEmptyRow(fields):
				if !yield(fields, nil) {
					return
				}
			}
			if atEOF {
				return
			}
		}
	}
}

// readLine returns the next line including its terminator. A line longer
// than max is drained and reported as tooLong with no data. err is io.EOF
// when the stream ended, possibly after a final unterminated line.
func readLine(br *bufio.Reader, max int) (line string, tooLong bool, err error) {
	var buf []byte
	for {
		frag, err := br.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(frag) > max {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, frag...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			return "", true, err
		}
		return string(buf), false, err
	}
}

// IsMalformedRow reports whether err describes one unparseable record rather
// than a failure of the underlying stream.
func IsMalformedRow(err error) bool {
	return errors.Is(err, ErrMalformedRow)
}

// isEmptyRow reports whether every field is blank.
func isEmptyRow(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
