package dumper

import "sync"

// ValidationStatus is the overall verdict of a dump.
type ValidationStatus int

const (
	// ValidationOk means every file verified against reference hashes.
	ValidationOk ValidationStatus = iota
	// ValidationUnknown means at least one file had no reference to
	// check against.
	ValidationUnknown
	// ValidationFailed means a hard failure or a hash mismatch.
	ValidationFailed
)

func (s ValidationStatus) String() string {
	switch s {
	case ValidationOk:
		return "ok"
	case ValidationUnknown:
		return "unknown"
	case ValidationFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// BrokenFile is one failed file with its failure reason.
type BrokenFile struct {
	Path   string
	Reason string
}

// Progress is a snapshot of the dump state.
type Progress struct {
	CurrentFile int
	TotalFiles  int
	CurrentPath string

	CurrentSector uint64
	TotalSectors  uint64

	Validation  ValidationStatus
	BrokenFiles []BrokenFile
}

// progressTracker holds the mutable dump state behind a lock so the host
// can poll snapshots while the controller runs.
type progressTracker struct {
	mu sync.Mutex
	p  Progress
}

func (t *progressTracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	ret := t.p
	ret.BrokenFiles = make([]BrokenFile, len(t.p.BrokenFiles))
	copy(ret.BrokenFiles, t.p.BrokenFiles)
	return ret
}

func (t *progressTracker) update(fn func(*Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fn(&t.p)
}

// degrade moves the status towards Failed, never back.
func (p *Progress) degrade(to ValidationStatus) {
	if to > p.Validation {
		p.Validation = to
	}
}
