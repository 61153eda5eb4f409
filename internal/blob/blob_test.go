package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	return l
}

func readString(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return string(b)
}

func TestLocal_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t)

	if err := l.Put(ctx, "uploads/a.csv", strings.NewReader("name,email\n"), "text/csv"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	ok, err := l.Exists(ctx, "uploads/a.csv")
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v", ok, err)
	}

	rc, err := l.Get(ctx, "uploads/a.csv")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := readString(t, rc); got != "name,email\n" {
		t.Errorf("Get() = %q", got)
	}

	if err := l.Delete(ctx, "uploads/a.csv"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := l.Delete(ctx, "uploads/a.csv"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
	if _, err := l.Get(ctx, "uploads/a.csv"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if ok, _ := l.Exists(ctx, "uploads/a.csv"); ok {
		t.Error("Exists() after delete = true")
	}
}

func TestLocal_GetRange(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t)
	if err := l.Put(ctx, "k", strings.NewReader("0123456789"), ""); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		start, end int64
		want       string
	}{
		{"prefix", 0, 3, "0123"},
		{"middle", 4, 6, "456"},
		{"past end truncated", 8, 100, "89"},
		{"single byte", 9, 9, "9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := l.GetRange(ctx, "k", tt.start, tt.end)
			if err != nil {
				t.Fatalf("GetRange() error = %v", err)
			}
			if got := readString(t, rc); got != tt.want {
				t.Errorf("GetRange(%d, %d) = %q, want %q", tt.start, tt.end, got, tt.want)
			}
		})
	}

	if _, err := l.GetRange(ctx, "k", 5, 2); err == nil {
		t.Error("GetRange() with end < start should fail")
	}
	if _, err := l.GetRange(ctx, "missing", 0, 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRange() on missing key error = %v", err)
	}
}

func TestLocal_KeysStayUnderRoot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l, err := NewLocal(filepath.Join(root, "store"))
	if err != nil {
		t.Fatal(err)
	}

	if err := l.Put(ctx, "../../escape.csv", strings.NewReader("x"), ""); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "escape.csv")); err == nil {
		t.Error("key escaped the store root")
	}
	if _, err := os.Stat(filepath.Join(root, "store", "escape.csv")); err != nil {
		t.Errorf("object not stored under root: %v", err)
	}
	if err := l.Put(ctx, "/", strings.NewReader("x"), ""); err == nil {
		t.Error("Put() with empty key should fail")
	}
}

func TestLocal_PutCancelled(t *testing.T) {
	l := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Put(ctx, "k", strings.NewReader("data"), ""); !errors.Is(err, context.Canceled) {
		t.Errorf("Put() error = %v, want context.Canceled", err)
	}
	if ok, _ := l.Exists(context.Background(), "k"); ok {
		t.Error("cancelled Put left an object behind")
	}
}

func TestNew(t *testing.T) {
	if _, err := New(context.Background(), Config{Backend: "ftp"}); err == nil {
		t.Error("New() with unknown backend should fail")
	}
	s, err := New(context.Background(), Config{Backend: "LOCAL", LocalDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New(local) error = %v", err)
	}
	if _, ok := s.(*Local); !ok {
		t.Errorf("New(local) = %T, want *Local", s)
	}
}

func TestJoinKey(t *testing.T) {
	tests := []struct{ prefix, key, want string }{
		{"", "a.csv", "a.csv"},
		{"ingest", "a.csv", "ingest/a.csv"},
		{"/ingest/", "a.csv", "ingest/a.csv"},
	}
	for _, tt := range tests {
		if got := joinKey(tt.prefix, tt.key); got != tt.want {
			t.Errorf("joinKey(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
		}
	}
}
