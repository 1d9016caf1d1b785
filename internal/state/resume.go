package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// resumeRecord is the persisted snapshot of an interrupted run. Partial
// archive files in the download directory carry the byte offsets; the record
// only needs the decisions the user already made.
type resumeRecord struct {
	RunID     string    `json:"run_id"`
	Version   string    `json:"version"`
	Selection []string  `json:"selection"`
	Target    Target    `json:"target"`
	SavedAt   time.Time `json:"saved_at"`
}

// saveResume writes the record before downloads begin so an interrupted run
// can restart with the same selection and target.
func (m *Machine) saveResume() error {
	if m.cfg.StateFile == "" {
		return nil
	}

	m.mu.Lock()
	rec := resumeRecord{
		RunID:     m.runID,
		Selection: append([]string(nil), m.selection...),
		Target:    m.target,
		SavedAt:   time.Now().UTC(),
	}
	if m.man != nil {
		rec.Version = m.man.Version
	}
	m.mu.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.cfg.StateFile), 0o755); err != nil {
		return err
	}

	// Write-then-rename keeps the record whole if the process dies mid-write
	tmp := m.cfg.StateFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.cfg.StateFile)
}

// loadResume restores selection and target from a prior interrupted run.
// A missing or unreadable record is not an error, the run simply starts
// fresh.
func (m *Machine) loadResume() {
	if m.cfg.StateFile == "" {
		return
	}

	data, err := os.ReadFile(m.cfg.StateFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.deps.Logger.Warn("unreadable resume state", "path", m.cfg.StateFile, "error", err)
		}
		return
	}

	var rec resumeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		m.deps.Logger.Warn("discarding corrupt resume state", "path", m.cfg.StateFile, "error", err)
		m.clearResume()
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.selection) == 0 {
		m.selection = rec.Selection
	}
	if m.target.Dir == "" {
		m.target = rec.Target
	}
	if rec.RunID != "" {
		m.runID = rec.RunID
	}
	m.deps.Logger.Info("resuming interrupted installation",
		"run_id", rec.RunID,
		"version", rec.Version,
		"saved_at", rec.SavedAt,
	)
}

func (m *Machine) clearResume() {
	if m.cfg.StateFile == "" {
		return
	}
	if err := os.Remove(m.cfg.StateFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.deps.Logger.Warn("failed to remove resume state", "path", m.cfg.StateFile, "error", err)
	}
}
