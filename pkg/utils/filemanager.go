// =============================================================================
// ICBU Broker - File Manager Utility
// =============================================================================
//
// This module manages a download root made of one directory per item:
//
//   <root>/<id>/video.mp4
//   <root>/<id>/audio.m4a
//   <root>/<id>/meta.json
//
// It provides:
//   - Directory management (root and per-item directories)
//   - Confined path resolution (no escape from the item directory)
//   - JSON metadata files
//   - Retention cleanup of old items
//
// All ids and relative paths pass through SafeJoin, so a caller-supplied id
// such as "../etc" is rejected instead of resolved.
//
// =============================================================================

package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ErrUnsafePath is returned for ids or relative paths that would leave the
// managed root.
var ErrUnsafePath = errors.New("path escapes the managed directory")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles files below a single root directory.
type FileManager struct {
	// Root is the directory that holds one subdirectory per item.
	Root string
}

// NewFileManager creates a FileManager for root.
func NewFileManager(root string) *FileManager {
	return &FileManager{Root: root}
}

// =============================================================================
// DIRECTORY MANAGEMENT
// =============================================================================

// EnsureRoot creates the root directory if it doesn't exist.
func (fm *FileManager) EnsureRoot() error {
	if err := os.MkdirAll(fm.Root, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", fm.Root, err)
	}
	return nil
}

// ValidID reports whether id can name an item directory.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ItemDir returns the directory of an item without creating it.
func (fm *FileManager) ItemDir(id string) (string, error) {
	if !ValidID(id) {
		return "", fmt.Errorf("%w: id %q", ErrUnsafePath, id)
	}
	return filepath.Join(fm.Root, id), nil
}

// EnsureItemDir creates and returns the directory of an item.
func (fm *FileManager) EnsureItemDir(id string) (string, error) {
	dir, err := fm.ItemDir(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return dir, nil
}

// SafeJoin joins rel below base. Backslashes are treated as separators and
// leading separators are dropped, so "\\video.mp4" and "/video.mp4" both
// resolve inside base.
func SafeJoin(base, rel string) (string, error) {
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = strings.TrimLeft(rel, "/")
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnsafePath)
	}

	joined := filepath.Join(base, filepath.FromSlash(rel))
	within, err := filepath.Rel(base, joined)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, rel)
	}
	return joined, nil
}

// Contains reports whether path lies inside the root.
func (fm *FileManager) Contains(path string) bool {
	root, err := filepath.Abs(fm.Root)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	within, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return within != ".." && !strings.HasPrefix(within, ".."+string(filepath.Separator))
}

// =============================================================================
// METADATA FILES
// =============================================================================

// WriteJSON writes v as indented JSON to <root>/<id>/<name>.
func (fm *FileManager) WriteJSON(id, name string, v any) error {
	dir, err := fm.EnsureItemDir(id)
	if err != nil {
		return err
	}
	path, err := SafeJoin(dir, name)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadJSON decodes <root>/<id>/<name> into v. A missing file is reported
// with an error satisfying errors.Is(err, os.ErrNotExist).
func (fm *FileManager) ReadJSON(id, name string, v any) error {
	dir, err := fm.ItemDir(id)
	if err != nil {
		return err
	}
	path, err := SafeJoin(dir, name)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// RETENTION
// =============================================================================

// CleanOlderThan removes item directories whose most recent file is older
// than maxAge. It returns the number of directories removed.
func (fm *FileManager) CleanOlderThan(maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(fm.Root)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", fm.Root, err)
	}

	cutoff := now.Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !ValidID(entry.Name()) {
			continue
		}
		dir := filepath.Join(fm.Root, entry.Name())
		latest, err := latestModTime(dir)
		if err != nil {
			return removed, err
		}
		if latest.Before(cutoff) {
			if err := os.RemoveAll(dir); err != nil {
				return removed, fmt.Errorf("failed to remove %s: %w", dir, err)
			}
			removed++
		}
	}
	return removed, nil
}

func latestModTime(dir string) (time.Time, error) {
	var latest time.Time
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return latest, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return latest, nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// FileExists checks if a regular file exists.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// GetFileSize returns the size of a file in bytes.
func GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
