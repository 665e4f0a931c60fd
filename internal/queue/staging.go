package queue

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrPoison marks an item whose staged payload can never be imported.
var ErrPoison = errors.New("poison item")

// StagedPath resolves where an add item's payload lives.
func (s *Store) StagedPath(item *Item) string {
	if item == nil || item.StagedName == "" {
		return ""
	}
	return filepath.Join(s.stagingDir, item.StagedName)
}

// OpenStaged verifies an add item's payload is present, non-empty and
// readable, returning its path. Failures wrap ErrPoison.
func (s *Store) OpenStaged(item *Item) (string, error) {
	if item == nil || item.Kind != KindAdd {
		return "", fmt.Errorf("%w: not an add item", ErrPoison)
	}
	path := s.StagedPath(item)
	if path == "" {
		return "", fmt.Errorf("%w: no staged file recorded", ErrPoison)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: staged file missing", ErrPoison)
		}
		return "", fmt.Errorf("%w: stat staged file: %w", ErrPoison, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: staged path is not a regular file", ErrPoison)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%w: staged file is empty", ErrPoison)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: staged file unreadable: %w", ErrPoison, err)
	}
	defer f.Close()
	var probe [1]byte
	if _, err := f.Read(probe[:]); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("%w: staged file unreadable: %w", ErrPoison, err)
	}
	return path, nil
}

func stagedExtension(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func (s *Store) removeStaged(name string) error {
	if name == "" {
		return nil
	}
	err := os.Remove(filepath.Join(s.stagingDir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
