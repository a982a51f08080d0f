package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lyzr/mediagrab/common/models"
)

// ErrUnsupportedVersion is returned for snapshots written by a newer schema
var ErrUnsupportedVersion = errors.New("unsupported ledger version")

// Store persists the ledger snapshot as a single document
type Store interface {
	Load(ctx context.Context) (*models.Snapshot, error)
	// Update runs fn against the current snapshot and persists the result
	// atomically. Nothing is written when fn returns an error.
	Update(ctx context.Context, fn func(*models.Snapshot) error) error
}

// decodeSnapshot parses a stored document, filling defaults for missing
// fields and dropping entries that cannot be used
func decodeSnapshot(data []byte) (*models.Snapshot, error) {
	snap := models.NewSnapshot()
	if len(data) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}

	if snap.Version == 0 {
		snap.Version = models.SnapshotVersion
	}
	if snap.Version > models.SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)
	}

	downloads := make([]models.HistoryEntry, 0, len(snap.Downloads))
	for _, e := range snap.Downloads {
		if e.URL == "" || e.RequesterID == "" {
			continue
		}
		if e.Status == "" {
			e.Status = models.StatusPending
		}
		if !e.Status.Valid() {
			continue
		}
		downloads = append(downloads, e)
	}
	snap.Downloads = downloads

	sessions := make([]models.SessionEntry, 0, len(snap.Sessions))
	for _, s := range snap.Sessions {
		if s.RequesterID == "" {
			continue
		}
		if s.Links == nil {
			s.Links = []string{}
		}
		sessions = append(sessions, s)
	}
	snap.Sessions = sessions

	return snap, nil
}

// FileStore keeps the snapshot in a JSON file, replaced via temp file and rename
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store; the parent directory is created on first write
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the snapshot; a missing file is an empty ledger
func (s *FileStore) Load(ctx context.Context) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) load() (*models.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.NewSnapshot(), nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return decodeSnapshot(data)
}

// Update applies fn under the store lock
func (s *FileStore) Update(ctx context.Context, fn func(*models.Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(snap); err != nil {
		return err
	}
	return s.write(snap)
}

func (s *FileStore) write(snap *models.Snapshot) error {
	snap.Version = models.SnapshotVersion
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close ledger: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
