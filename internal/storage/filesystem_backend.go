package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const metaSuffix = ".meta"

// ErrInvalidName is returned for run ids and artifact names that cannot be
// used as a single path element.
var ErrInvalidName = errors.New("invalid name")

// FilesystemBackend stores artifacts under basePath/YYYY/MM/DD/<run id>/,
// each file accompanied by a JSON .meta sidecar.
type FilesystemBackend struct {
	basePath string
	now      func() time.Time
}

// NewFilesystemBackend creates a new filesystem storage backend
func NewFilesystemBackend(basePath string) (*FilesystemBackend, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}
	return &FilesystemBackend{basePath: basePath, now: time.Now}, nil
}

// BasePath returns the root directory.
func (f *FilesystemBackend) BasePath() string {
	return f.basePath
}

type fileMetadata struct {
	RunID       string            `json:"run_id"`
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	Checksum    string            `json:"checksum"`
	CreatedTime time.Time         `json:"created_time"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Store saves an artifact to the filesystem
func (f *FilesystemBackend) Store(ctx context.Context, runID string, artifact *Artifact) (*Reference, error) {
	if err := validName(runID); err != nil {
		return nil, fmt.Errorf("invalid run id: %w", err)
	}
	if err := validName(artifact.Name); err != nil {
		return nil, fmt.Errorf("invalid artifact name: %w", err)
	}

	created := artifact.CreatedTime
	if created.IsZero() {
		created = f.now()
	}
	hash := sha256.Sum256(artifact.Content)
	checksum := hex.EncodeToString(hash[:])

	dirPath := f.runPath(runID, created)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	filePath := filepath.Join(dirPath, artifact.Name)
	if err := os.WriteFile(filePath, artifact.Content, 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	meta := fileMetadata{
		RunID:       runID,
		ContentType: artifact.ContentType,
		Size:        int64(len(artifact.Content)),
		Checksum:    checksum,
		CreatedTime: created,
		Metadata:    artifact.Metadata,
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filePath+metaSuffix, metaJSON, 0644); err != nil {
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	return &Reference{
		RunID:       runID,
		Backend:     "FS",
		Location:    filePath,
		Name:        artifact.Name,
		ContentType: artifact.ContentType,
		Size:        meta.Size,
		Checksum:    checksum,
		CreatedTime: created,
	}, nil
}

// Retrieve reads an artifact and its sidecar metadata
func (f *FilesystemBackend) Retrieve(ctx context.Context, ref *Reference) (*Artifact, error) {
	content, err := os.ReadFile(ref.Location)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", ref.Location)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	artifact := &Artifact{
		Name:        filepath.Base(ref.Location),
		ContentType: ref.ContentType,
		Content:     content,
		Metadata:    make(map[string]string),
		CreatedTime: ref.CreatedTime,
	}
	if meta, err := readMetadata(ref.Location); err == nil {
		artifact.ContentType = meta.ContentType
		artifact.CreatedTime = meta.CreatedTime
		for k, v := range meta.Metadata {
			artifact.Metadata[k] = v
		}
	}
	return artifact, nil
}

// Delete removes an artifact and its metadata
func (f *FilesystemBackend) Delete(ctx context.Context, ref *Reference) error {
	if err := os.Remove(ref.Location); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if err := os.Remove(ref.Location + metaSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	// Fails harmlessly while the run directory still has files.
	_ = os.Remove(filepath.Dir(ref.Location))
	return nil
}

// Exists checks if an artifact exists on the filesystem
func (f *FilesystemBackend) Exists(ctx context.Context, ref *Reference) (bool, error) {
	_, err := os.Stat(ref.Location)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List scans the date directories for a run's artifacts
func (f *FilesystemBackend) List(ctx context.Context, runID string) ([]*Reference, error) {
	if err := validName(runID); err != nil {
		return nil, fmt.Errorf("invalid run id: %w", err)
	}
	pattern := filepath.Join(f.basePath, "*", "*", "*", runID)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}

	refs := make([]*Reference, 0)
	for _, dir := range matches {
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, file := range files {
			if file.IsDir() || strings.HasSuffix(file.Name(), metaSuffix) {
				continue
			}
			info, err := file.Info()
			if err != nil {
				continue
			}
			ref := &Reference{
				RunID:       runID,
				Backend:     "FS",
				Location:    filepath.Join(dir, file.Name()),
				Name:        file.Name(),
				Size:        info.Size(),
				CreatedTime: info.ModTime(),
			}
			if meta, err := readMetadata(ref.Location); err == nil {
				ref.ContentType = meta.ContentType
				ref.Checksum = meta.Checksum
				ref.CreatedTime = meta.CreatedTime
			}
			refs = append(refs, ref)
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

// GetInfo returns backend information
func (f *FilesystemBackend) GetInfo() *BackendInfo {
	stats := &BackendStats{}
	_ = filepath.Walk(f.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() && !strings.HasSuffix(path, metaSuffix) {
			stats.TotalFiles++
			stats.TotalSize += info.Size()
		}
		return nil
	})

	return &BackendInfo{
		Name:         "FilesystemBackend",
		Type:         "FS",
		Capabilities: []string{"store", "retrieve", "delete", "list"},
		Status:       "active",
		Statistics:   stats,
	}
}

// HealthCheck verifies the base path is writable
func (f *FilesystemBackend) HealthCheck(ctx context.Context) error {
	testFile := filepath.Join(f.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("filesystem not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return fmt.Errorf("filesystem cleanup failed: %w", err)
	}
	return nil
}

func (f *FilesystemBackend) runPath(runID string, t time.Time) string {
	return filepath.Join(f.basePath, t.Format("2006"), t.Format("01"), t.Format("02"), runID)
}

func readMetadata(location string) (*fileMetadata, error) {
	data, err := os.ReadFile(location + metaSuffix)
	if err != nil {
		return nil, err
	}
	var meta fileMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// validName rejects names that would escape the run directory or expand
// into other runs when used in a glob pattern.
func validName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: reserved name %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.ContainsAny(name, "*?["):
		return fmt.Errorf("%w: %q contains a glob metacharacter", ErrInvalidName, name)
	case strings.HasSuffix(name, metaSuffix):
		return fmt.Errorf("%w: %q uses the metadata suffix", ErrInvalidName, name)
	}
	return nil
}

func init() {
	DefaultFactory.Register("FS", func(config map[string]interface{}) (Backend, error) {
		basePath, ok := config["base_path"].(string)
		if !ok || basePath == "" {
			return nil, fmt.Errorf("filesystem backend requires 'base_path' configuration")
		}
		return NewFilesystemBackend(basePath)
	})
}
