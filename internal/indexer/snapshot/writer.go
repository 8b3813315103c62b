// Package snapshot persists catalog indexes. A build is first written to a
// scratch file, then published over the canonical path with an atomic
// replace so readers only ever observe a complete snapshot.
package snapshot

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/errors"
)

// PreviousSuffix is appended to the canonical path for the retained
// previous snapshot.
const PreviousSuffix = ".prev"

// ErrNoPrevious is returned by Rollback when no previous snapshot exists.
var ErrNoPrevious = errors.New("no previous snapshot to roll back to")

// Store publishes and loads the snapshot at one canonical path.
type Store struct {
	path         string
	keepPrevious bool
	logger       *slog.Logger
}

// NewStore returns a Store for the canonical index path. With keepPrevious
// set, each publish retains the replaced snapshot for Rollback.
func NewStore(path string, keepPrevious bool) *Store {
	return &Store{
		path:         path,
		keepPrevious: keepPrevious,
		logger:       slog.Default().With("component", "snapshot"),
	}
}

// Path returns the canonical index path.
func (s *Store) Path() string {
	return s.path
}

// PreviousPath returns the path of the retained previous snapshot.
func (s *Store) PreviousPath() string {
	return s.path + PreviousSuffix
}

// WriteTemp encodes idx into path, which must live outside the canonical
// location. It returns the number of bytes written.
func WriteTemp(path string, idx *catalog.Index) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, apperrors.NewIOError("create temp dir", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, apperrors.NewIOError("create", path, err)
	}
	w := bufio.NewWriter(f)
	if err := catalog.EncodeIndex(w, idx); err != nil {
		f.Close()
		return 0, apperrors.NewIOError("write", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, apperrors.NewIOError("write", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, apperrors.NewIOError("sync", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, apperrors.NewIOError("stat", path, err)
	}
	if err := f.Close(); err != nil {
		return 0, apperrors.NewIOError("close", path, err)
	}
	return info.Size(), nil
}

// Publish replaces the canonical snapshot with the file at builtPath. The
// built file is copied next to the canonical path and renamed over it, so
// builtPath may sit on another filesystem.
func (s *Store) Publish(builtPath string) error {
	data, err := os.ReadFile(builtPath)
	if err != nil {
		return apperrors.NewIOError("read", builtPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return apperrors.NewIOError("create index dir", filepath.Dir(s.path), err)
	}
	if s.keepPrevious {
		if err := s.retainCurrent(); err != nil {
			return err
		}
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return apperrors.NewIOError("publish", s.path, err)
	}
	s.logger.Info("snapshot published", "path", s.path, "size", humanize.Bytes(uint64(len(data))))
	return nil
}

func (s *Store) retainCurrent() error {
	current, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return apperrors.NewIOError("read", s.path, err)
	}
	if err := atomic.WriteFile(s.PreviousPath(), bytes.NewReader(current)); err != nil {
		return apperrors.NewIOError("retain previous", s.PreviousPath(), err)
	}
	return nil
}

// Rollback swaps the canonical and previous snapshots, so a second Rollback
// restores the original state. It returns the restored index.
func (s *Store) Rollback() (*catalog.Index, error) {
	prev, err := os.ReadFile(s.PreviousPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoPrevious
	}
	if err != nil {
		return nil, apperrors.NewIOError("read", s.PreviousPath(), err)
	}
	idx, err := catalog.DecodeIndex(bytes.NewReader(prev))
	if err != nil {
		return nil, fmt.Errorf("previous snapshot %s: %w", s.PreviousPath(), err)
	}
	current, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NewIOError("read", s.path, err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(prev)); err != nil {
		return nil, apperrors.NewIOError("publish", s.path, err)
	}
	if current != nil {
		if err := atomic.WriteFile(s.PreviousPath(), bytes.NewReader(current)); err != nil {
			return nil, apperrors.NewIOError("retain previous", s.PreviousPath(), err)
		}
	}
	s.logger.Info("snapshot rolled back", "path", s.path, "records", idx.Len())
	return idx, nil
}
