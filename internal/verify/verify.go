// Package verify computes content digests of downloaded artifacts and
// compares them against the manifest-supplied checksums.
package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// MismatchError reports a checksum that did not match the manifest value.
// Always fatal for the artifact: a mismatch is never silently accepted.
type MismatchError struct {
	Path string
	Want string
	Got  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: want %s, got %s", e.Path, e.Want, e.Got)
}

// File hashes the file at path with SHA-256 and compares against the
// expected hex digest.
func File(path, wantSHA256 string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("failed to hash artifact: %w", err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, wantSHA256) {
		return &MismatchError{Path: path, Want: strings.ToLower(wantSHA256), Got: got}
	}
	return nil
}

// Sum returns the SHA-256 hex digest of data. Used by tests and tooling to
// produce manifest checksums.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
