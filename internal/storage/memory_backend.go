package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryBackend keeps artifacts in process memory. Used for dry runs and
// tests.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string]*memoryItem
}

type memoryItem struct {
	ref      Reference
	artifact Artifact
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string]*memoryItem)}
}

func (m *MemoryBackend) Store(ctx context.Context, runID string, artifact *Artifact) (*Reference, error) {
	if err := validName(runID); err != nil {
		return nil, fmt.Errorf("invalid run id: %w", err)
	}
	if err := validName(artifact.Name); err != nil {
		return nil, fmt.Errorf("invalid artifact name: %w", err)
	}
	created := artifact.CreatedTime
	if created.IsZero() {
		created = time.Now()
	}
	hash := sha256.Sum256(artifact.Content)

	ref := Reference{
		RunID:       runID,
		Backend:     "MEM",
		Location:    "mem://" + runID + "/" + artifact.Name,
		Name:        artifact.Name,
		ContentType: artifact.ContentType,
		Size:        int64(len(artifact.Content)),
		Checksum:    hex.EncodeToString(hash[:]),
		CreatedTime: created,
	}
	stored := *artifact
	stored.Content = append([]byte(nil), artifact.Content...)
	stored.CreatedTime = created

	m.mu.Lock()
	m.items[ref.Location] = &memoryItem{ref: ref, artifact: stored}
	m.mu.Unlock()

	out := ref
	return &out, nil
}

func (m *MemoryBackend) Retrieve(ctx context.Context, ref *Reference) (*Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[ref.Location]
	if !ok {
		return nil, fmt.Errorf("artifact not found: %s", ref.Location)
	}
	out := item.artifact
	out.Content = append([]byte(nil), item.artifact.Content...)
	return &out, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, ref *Reference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, ref.Location)
	return nil
}

func (m *MemoryBackend) Exists(ctx context.Context, ref *Reference) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items[ref.Location]
	return ok, nil
}

func (m *MemoryBackend) List(ctx context.Context, runID string) ([]*Reference, error) {
	if err := validName(runID); err != nil {
		return nil, fmt.Errorf("invalid run id: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	refs := make([]*Reference, 0)
	for _, item := range m.items {
		if item.ref.RunID == runID {
			ref := item.ref
			refs = append(refs, &ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if !refs[i].CreatedTime.Equal(refs[j].CreatedTime) {
			return refs[i].CreatedTime.Before(refs[j].CreatedTime)
		}
		return refs[i].Name < refs[j].Name
	})
	return refs, nil
}

func (m *MemoryBackend) GetInfo() *BackendInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &BackendStats{TotalFiles: int64(len(m.items))}
	for _, item := range m.items {
		stats.TotalSize += item.ref.Size
	}
	return &BackendInfo{
		Name:         "MemoryBackend",
		Type:         "MEM",
		Capabilities: []string{"store", "retrieve", "delete", "list"},
		Status:       "active",
		Statistics:   stats,
	}
}

func (m *MemoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}

func init() {
	DefaultFactory.Register("MEM", func(map[string]interface{}) (Backend, error) {
		return NewMemoryBackend(), nil
	})
}
