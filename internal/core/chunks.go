package core

// chunks.go reassembles chunked uploads.
//
// Chunks of one upload are appended to <dir>/<uploadID>.part in arrival
// order; chunk 0 truncates any earlier attempt. When the final chunk lands the
// header line is read from the local file, the file is hashed and stored in
// the blob store under a fresh key, and the local file is removed whether or
// not the store accepted it.

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/ingest/internal/blob"
	"github.com/JonMunkholm/ingest/internal/metrics"
	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

const partSuffix = ".part"

// DefaultHeaderTimeout bounds header extraction from an assembled upload.
const DefaultHeaderTimeout = 5 * time.Second

// fallbackHeaderBytes bounds the manual header read.
const fallbackHeaderBytes = 1 << 20

// AssembledUpload describes a fully stored upload.
type AssembledUpload struct {
	StorageKey  string
	Headers     []string
	ContentHash string
	Size        int64
}

// Reassembler turns sequential chunks into a stored object.
type Reassembler struct {
	dir           string
	blobs         blob.Store
	headerTimeout time.Duration
}

// NewReassembler stores partial uploads under dir.
func NewReassembler(dir string, blobs blob.Store, headerTimeout time.Duration) (*Reassembler, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "ingest-uploads")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if headerTimeout <= 0 {
		headerTimeout = DefaultHeaderTimeout
	}
	return &Reassembler{dir: dir, blobs: blobs, headerTimeout: headerTimeout}, nil
}

func (r *Reassembler) partPath(uploadID string) string {
	return filepath.Join(r.dir, SafeName(uploadID, "upload")+partSuffix)
}

// Append writes one chunk. Index 0 starts a new file; later indices append to
// the existing one and fail with ErrUploadIncomplete if it is missing.
func (r *Reassembler) Append(ctx context.Context, uploadID string, index int, chunk io.Reader) (int64, error) {
	flags := os.O_WRONLY | os.O_APPEND
	if index == 0 {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	f, err := os.OpenFile(r.partPath(uploadID), flags, 0o644)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrUploadIncomplete, uploadID)
	}
	if err != nil {
		return 0, fmt.Errorf("open part file: %w", err)
	}

	n, err := io.Copy(f, chunk)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("append chunk %d: %w", index, err)
	}
	if err := ctx.Err(); err != nil {
		return n, err
	}
	return n, nil
}

// Finalize extracts headers, hashes and stores the assembled file. The local
// file is always removed.
func (r *Reassembler) Finalize(ctx context.Context, uploadID, fileName string) (*AssembledUpload, error) {
	path := r.partPath(uploadID)
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to remove part file", "path", path, "error", err)
		}
	}()

	headers, err := r.extractHeaders(ctx, path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open assembled file: %w", err)
	}
	defer f.Close()

	h := xxh3.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return nil, fmt.Errorf("hash assembled file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	key := StorageKeyFor(fileName)
	if err := r.blobs.Put(ctx, key, f, contentTypeFor(fileName)); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	metrics.UploadBytes.Add(float64(size))

	return &AssembledUpload{
		StorageKey:  key,
		Headers:     headers,
		ContentHash: fmt.Sprintf("%016x", h.Sum64()),
		Size:        size,
	}, nil
}

// Discard removes any partial file for uploadID.
func (r *Reassembler) Discard(uploadID string) error {
	err := os.Remove(r.partPath(uploadID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveStale deletes part files not modified since before cutoff and returns
// their upload ids.
func (r *Reassembler) RemoveStale(cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), partSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(r.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to remove stale part file", "name", e.Name(), "error", err)
			continue
		}
		removed = append(removed, strings.TrimSuffix(e.Name(), partSuffix))
	}
	return removed, nil
}

// extractHeaders reads the first non-empty line as a strict record, bounded
// by the header timeout, and falls back to a lenient ParseLine read.
func (r *Reassembler) extractHeaders(ctx context.Context, path string) ([]string, error) {
	type result struct {
		headers []string
		err     error
	}
	done := make(chan result, 1)

	go func() {
		h, err := readHeaderRecord(path)
		done <- result{h, err}
	}()

	timer := time.NewTimer(r.headerTimeout)
	defer timer.Stop()

	var primaryErr error
	select {
	case res := <-done:
		if res.err == nil {
			return res.headers, nil
		}
		primaryErr = res.err
	case <-timer.C:
		primaryErr = ErrHeaderTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	slog.Warn("primary header extraction failed, reading first line", "error", primaryErr)

	headers, err := readFirstLineHeader(path)
	if err != nil {
		if errors.Is(primaryErr, ErrHeaderTimeout) && !errors.Is(err, ErrEmptyFile) {
			return nil, fmt.Errorf("%w: %v", ErrHeaderTimeout, err)
		}
		return nil, err
	}
	return headers, nil
}

// readHeaderRecord returns the first non-empty line's fields. A line with an
// unclosed quote or longer than MaxLineBytes is an error.
func readHeaderRecord(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(NewBOMSkippingReader(f))
	for lineNo := int64(1); ; lineNo++ {
		line, tooLong, err := readLine(br, MaxLineBytes)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if tooLong {
			return nil, &RowError{Line: lineNo, Reason: "header line too long"}
		}
		fields, closed := splitLine(line)
		if !closed {
			return nil, &RowError{Line: lineNo, Reason: "unterminated quoted field in header"}
		}
		if !isEmptyRow(fields) {
			return NormalizeHeaders(fields), nil
		}
		if err != nil {
			return nil, ErrEmptyFile
		}
	}
}

func readFirstLineHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(io.LimitReader(f, fallbackHeaderBytes))
	sc.Buffer(make([]byte, 0, 64*1024), fallbackHeaderBytes)
	for sc.Scan() {
		line := strings.TrimPrefix(sc.Text(), utf8BOM)
		if strings.TrimSpace(line) != "" {
			return ParseLine(line, true), nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, ErrEmptyFile
}

// StorageKeyFor generates a unique blob key for an uploaded file.
func StorageKeyFor(fileName string) string {
	return "uploads/" + uuid.NewString() + "-" + SafeName(fileName, "upload.csv")
}

// SafeName reduces s to a file-system and URL safe name.
func SafeName(s, fallback string) string {
	s = filepath.Base(strings.ReplaceAll(s, "\\", "/"))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	s = strings.Trim(s, "._")
	if s == "" {
		return fallback
	}
	return s
}

func contentTypeFor(fileName string) string {
	if strings.HasSuffix(strings.ToLower(fileName), ".tsv") {
		return "text/tab-separated-values"
	}
	return "text/csv"
}
