package store

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"pastebox/pkg/domain"
)

// renameFile is the commit point of a snapshot write; tests swap it to
// simulate a crash between the temp write and the rename.
var renameFile = os.Rename

// FileWriter replaces a single file atomically: the new bytes go to a temp
// file in the same directory, are fsynced, and then renamed over the target.
// A failure at any step before the rename leaves the target untouched.
type FileWriter struct {
	path string
	perm os.FileMode
}

func NewFileWriter(path string) *FileWriter {
	return &FileWriter{path: path, perm: 0o600}
}

func (w *FileWriter) Path() string { return w.path }

func (w *FileWriter) WriteSnapshot(data []byte) error {
	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(domain.ErrWrite, "create temp: %v", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()
	if err := tmp.Chmod(w.perm); err != nil {
		return errors.Wrapf(domain.ErrWrite, "chmod temp: %v", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return errors.Wrapf(domain.ErrWrite, "write temp: %v", err)
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrapf(domain.ErrWrite, "sync temp: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(domain.ErrWrite, "close temp: %v", err)
	}
	if err := renameFile(tmpName, w.path); err != nil {
		return errors.Wrapf(domain.ErrWrite, "rename: %v", err)
	}
	committed = true
	syncDir(dir)
	return nil
}

// ReadSnapshot returns the current file contents, or nil when the file does
// not exist yet.
func (w *FileWriter) ReadSnapshot() ([]byte, error) {
	data, err := os.ReadFile(w.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot")
	}
	return data, nil
}

// Quarantine moves an unreadable snapshot aside so the next flush does not
// overwrite it.
func (w *FileWriter) Quarantine(suffix string) (string, error) {
	dst := w.path + ".corrupt-" + suffix
	if err := os.Rename(w.path, dst); err != nil {
		return "", errors.Wrap(err, "quarantine snapshot")
	}
	return dst, nil
}

// syncDir persists the rename itself. Not every platform supports fsync on a
// directory, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
