package snapshot

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/errors"
)

// Load reads the canonical snapshot. A missing file returns (nil, nil): the
// catalog has simply never been published.
func (s *Store) Load() (*catalog.Index, error) {
	return ReadFile(s.path)
}

// ReadFile decodes the snapshot at path, returning (nil, nil) if it does not
// exist.
func ReadFile(path string) (*catalog.Index, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewIOError("open", path, err)
	}
	defer f.Close()
	idx, err := catalog.DecodeIndex(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	return idx, nil
}
