package port

import "kbrag/internal/domain"

// SnapshotStore persists the (index, chunks) pair as a matched set.
type SnapshotStore interface {
	// Save writes both artifacts. A failed Save leaves any previous snapshot intact.
	Save(snap domain.Snapshot) error

	// Load reads both artifacts. It returns domain.ErrNoSnapshot when either
	// is missing and domain.ErrCorruptState when they disagree.
	Load() (domain.Snapshot, error)
}
