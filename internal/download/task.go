package download

import (
	"fmt"
	"path/filepath"

	"github.com/monika-after-story/installer/internal/resolve"
)

// Status is the lifecycle state of a single download task
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusVerifying
	StatusVerified
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusVerifying:
		return "verifying"
	case StatusVerified:
		return "verified"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether the task will make no further progress
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusFailed || s == StatusCancelled
}

// ErrorKind classifies download failures
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindTimeout
	KindConnectionReset
	KindServerRejected
	KindChecksumMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnectionReset:
		return "connection_reset"
	case KindServerRejected:
		return "server_rejected"
	case KindChecksumMismatch:
		return "checksum_mismatch"
	default:
		return "transport"
	}
}

// Error is a classified, per-package download failure
type Error struct {
	Kind      ErrorKind
	PackageID string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("download of %s failed (%s): %v", e.PackageID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// task is the live state of one download. Owned exclusively by the Manager;
// everything handed out is a copied Snapshot.
type task struct {
	id        string
	spec      resolve.Task
	dest      string
	status    Status
	bytesDone int64
	size      int64
	attempts  int
	err       error
}

// Snapshot is a read-only view of a task's progress
type Snapshot struct {
	TaskID    string
	PackageID string
	Name      string
	Status    Status
	BytesDone int64
	Size      int64
	Attempts  int
	Mandatory bool
	Err       string
}

func (t *task) snapshot() Snapshot {
	s := Snapshot{
		TaskID:    t.id,
		PackageID: t.spec.PackageID,
		Name:      t.spec.Name,
		Status:    t.status,
		BytesDone: t.bytesDone,
		Size:      t.size,
		Attempts:  t.attempts,
		Mandatory: t.spec.Mandatory,
	}
	if t.err != nil {
		s.Err = t.err.Error()
	}
	return s
}

// ArtifactPath returns the destination file for a package's archive
func ArtifactPath(destDir, packageID string) string {
	return filepath.Join(destDir, packageID+".zip")
}
