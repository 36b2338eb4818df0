package store

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/pkg/errors"

	"pastebox/pkg/domain"
)

func tempEntries(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".*.tmp-*"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func TestWriteSnapshotCreatesAndReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pastes.json")
	w := NewFileWriter(path)

	if err := w.WriteSnapshot([]byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteSnapshot([]byte("second")); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Fatalf("file = %q, want second", got)
	}
	if left := tempEntries(t, dir); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("perm = %o, want 600", perm)
		}
	}
}

func TestWriteSnapshotFailedRenameKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pastes.json")
	original := []byte(`{"ab12cd": {"content": "keep me", "created": "2024-01-01T00:00:00Z"}}`)
	if err := os.WriteFile(path, original, 0o600); err != nil {
		t.Fatal(err)
	}

	renameFile = func(string, string) error { return errors.New("power cut") }
	defer func() { renameFile = os.Rename }()

	err := NewFileWriter(path).WriteSnapshot([]byte("replacement"))
	if !errors.Is(err, domain.ErrWrite) {
		t.Fatalf("err = %v, want ErrWrite", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, original) {
		t.Fatalf("original modified: %q", got)
	}
	if left := tempEntries(t, dir); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
}

func TestWriteSnapshotMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "pastes.json")
	err := NewFileWriter(path).WriteSnapshot([]byte("x"))
	if !errors.Is(err, domain.ErrWrite) {
		t.Fatalf("err = %v, want ErrWrite", err)
	}
}

func TestReadSnapshotMissingFile(t *testing.T) {
	data, err := NewFileWriter(filepath.Join(t.TempDir(), "none.json")).ReadSnapshot()
	if err != nil || data != nil {
		t.Fatalf("ReadSnapshot = %q, %v", data, err)
	}
}

func TestQuarantine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pastes.json")
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	dst, err := NewFileWriter(path).Quarantine("42")
	if err != nil {
		t.Fatal(err)
	}
	if dst != path+".corrupt-42" {
		t.Errorf("dst = %s", dst)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original path should be gone")
	}
	if got, _ := os.ReadFile(dst); string(got) != "garbage" {
		t.Errorf("quarantined content = %q", got)
	}
}
