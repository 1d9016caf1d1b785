// Package extract unpacks verified archives into the installation target.
// Extraction is idempotent: re-running the same archive overwrites rather
// than duplicates.
package extract

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/monika-after-story/installer/internal/paths"
)

var (
	// ErrPermissionDenied wraps filesystem permission failures during
	// extraction.
	ErrPermissionDenied = errors.New("permission denied")
)

// UnsafePathError means an archive entry would resolve outside the target
// directory. The whole archive is rejected before any file is written.
type UnsafePathError struct {
	Entry string
}

func (e *UnsafePathError) Error() string {
	return fmt.Sprintf("archive entry %q escapes the target directory", e.Entry)
}

// IncompleteError reports a mid-extraction I/O failure. Files written so far
// are left in place so the caller can decide between retry and abort.
type IncompleteError struct {
	Written int
	Err     error
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("extraction incomplete after %d entries: %v", e.Written, e.Err)
}

func (e *IncompleteError) Unwrap() error {
	return e.Err
}

// ProgressFunc is called per extracted entry with current index and total
type ProgressFunc func(current, total int, name string)

// Archive unpacks the zip at archivePath into targetDir. Every entry path is
// validated before the first write: an entry escaping targetDir rejects the
// archive as UnsafePathError with zero files written. Existing files are
// overwritten, merging with any pre-existing installation.
func Archive(ctx context.Context, archivePath, targetDir string, progress ProgressFunc) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return wrapIO(0, fmt.Errorf("failed to create target directory: %w", err))
	}

	// Validate the whole entry table before touching the filesystem
	dests := make([]string, len(reader.File))
	for i, f := range reader.File {
		dest, err := entryPath(targetDir, f.Name)
		if err != nil {
			return err
		}
		dests[i] = dest
	}

	total := len(reader.File)
	written := 0
	for i, f := range reader.File {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if progress != nil {
			progress(i+1, total, f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dests[i], 0755); err != nil {
				return wrapIO(written, fmt.Errorf("failed to create directory %s: %w", f.Name, err))
			}
			continue
		}

		if err := writeEntry(f, dests[i]); err != nil {
			return wrapIO(written, fmt.Errorf("failed to extract %s: %w", f.Name, err))
		}
		written++
	}

	slog.Debug("archive extracted", "archive", archivePath, "entries", written, "target", targetDir)
	return nil
}

// entryPath resolves an archive entry name to a destination inside
// targetDir, rejecting absolute paths and traversal attempts.
func entryPath(targetDir, name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if clean == "." {
		return "", &UnsafePathError{Entry: name}
	}
	if path.IsAbs(clean) || strings.HasPrefix(clean, "../") || clean == ".." {
		return "", &UnsafePathError{Entry: name}
	}
	if strings.Contains(clean, ":") {
		// Drive-letter entries (C:/...) are absolute on Windows
		return "", &UnsafePathError{Entry: name}
	}

	// SecureJoin also defends against symlinked components already present
	// in the target.
	dest, err := securejoin.SecureJoin(targetDir, paths.Denormalize(clean))
	if err != nil {
		return "", &UnsafePathError{Entry: name}
	}
	return dest, nil
}

func writeEntry(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode()
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func wrapIO(written int, err error) error {
	if errors.Is(err, os.ErrPermission) {
		err = fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return &IncompleteError{Written: written, Err: err}
}
