// Package gamedir proposes an installation target by looking for an
// existing game directory. Its absence is "no suggestion", never an error.
package gamedir

import (
	"log/slog"
	"os"
	"path/filepath"
)

var requiredDirs = []string{"characters", "game", "renpy"}
var launcherFiles = []string{"DDLC.py", "DDLC.sh", "DDLC.exe", "DDLC.app"}

// IsGameDir reports whether path looks like a valid game installation: the
// three engine directories plus at least one launcher entry point. An
// unreadable directory is treated as valid so the user can still install
// into a folder we cannot enumerate.
func IsGameDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		slog.Warn("failed to read candidate directory, allowing install anyway",
			"path", path,
			"error", err,
		)
		return true
	}

	dirs := make(map[string]bool)
	files := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			dirs[entry.Name()] = true
		} else {
			files[entry.Name()] = true
		}
	}

	for _, want := range requiredDirs {
		if !dirs[want] {
			return false
		}
	}
	for _, launcher := range launcherFiles {
		// DDLC.app is a directory bundle on macOS
		if files[launcher] || dirs[launcher] {
			return true
		}
	}
	return false
}

// Detect returns the first valid game directory among the working directory
// and the given extra candidates. The boolean is false when nothing
// qualifies.
func Detect(extra ...string) (string, bool) {
	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, cwd)
	}
	candidates = append(candidates, extra...)

	for _, c := range candidates {
		if c == "" {
			continue
		}
		abs, err := filepath.Abs(c)
		if err != nil {
			continue
		}
		if IsGameDir(abs) {
			slog.Info("detected game directory", "path", abs)
			return abs, true
		}
	}
	return "", false
}
