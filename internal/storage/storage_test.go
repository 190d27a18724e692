package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Backend {
	fs, err := NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)
	return map[string]Backend{
		"filesystem": fs,
		"memory":     NewMemoryBackend(),
	}
}

func TestBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			shot := &Artifact{
				Name:        "01-timeout.png",
				ContentType: ContentTypePNG,
				Content:     []byte("\x89PNG fake"),
				Metadata:    map[string]string{"target": "search_input"},
				CreatedTime: created,
			}
			dump := &Artifact{
				Name:        "02-timeout.html",
				ContentType: ContentTypeHTML,
				Content:     []byte("<html></html>"),
				CreatedTime: created.Add(time.Second),
			}

			ref, err := backend.Store(ctx, "run-1", shot)
			require.NoError(t, err)
			assert.Equal(t, "run-1", ref.RunID)
			assert.Equal(t, int64(len(shot.Content)), ref.Size)
			assert.Len(t, ref.Checksum, 64)

			_, err = backend.Store(ctx, "run-1", dump)
			require.NoError(t, err)
			_, err = backend.Store(ctx, "run-2", dump)
			require.NoError(t, err)

			got, err := backend.Retrieve(ctx, ref)
			require.NoError(t, err)
			assert.Equal(t, shot.Content, got.Content)
			assert.Equal(t, ContentTypePNG, got.ContentType)
			assert.Equal(t, "search_input", got.Metadata["target"])

			refs, err := backend.List(ctx, "run-1")
			require.NoError(t, err)
			require.Len(t, refs, 2)
			assert.Equal(t, "01-timeout.png", refs[0].Name)
			assert.Equal(t, "02-timeout.html", refs[1].Name)

			exists, err := backend.Exists(ctx, ref)
			require.NoError(t, err)
			assert.True(t, exists)

			require.NoError(t, backend.Delete(ctx, ref))
			exists, err = backend.Exists(ctx, ref)
			require.NoError(t, err)
			assert.False(t, exists)

			refs, err = backend.List(ctx, "run-1")
			require.NoError(t, err)
			assert.Len(t, refs, 1)

			info := backend.GetInfo()
			assert.Equal(t, "active", info.Status)
			assert.Equal(t, int64(2), info.Statistics.TotalFiles)
			assert.NoError(t, backend.HealthCheck(ctx))
		})
	}
}

func TestBackendRejectsUnsafeNames(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := backend.Store(ctx, "../escape", &Artifact{Name: "a.png"})
			assert.Error(t, err)
			_, err = backend.Store(ctx, "run", &Artifact{Name: "sub/a.png"})
			assert.Error(t, err)
			_, err = backend.Store(ctx, "run", &Artifact{Name: "a.png.meta"})
			assert.Error(t, err)
			_, err = backend.Store(ctx, "", &Artifact{Name: "a.png"})
			assert.Error(t, err)
			_, err = backend.Store(ctx, "run", &Artifact{Name: "shot[1].png"})
			assert.ErrorIs(t, err, ErrInvalidName)
		})
	}
}

func TestListRejectsGlobPatterns(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, runID := range []string{"run-1", "run-2"} {
				_, err := backend.Store(ctx, runID, &Artifact{Name: "a.png", Content: []byte("png")})
				require.NoError(t, err)
			}
			for _, pattern := range []string{"*", "run-?", "run-[12]", "["} {
				refs, err := backend.List(ctx, pattern)
				assert.ErrorIs(t, err, ErrInvalidName, pattern)
				assert.Empty(t, refs, pattern)
			}
			refs, err := backend.List(ctx, "run-1")
			require.NoError(t, err)
			require.Len(t, refs, 1)
			assert.Equal(t, "run-1", refs[0].RunID)
		})
	}
}

func TestFilesystemLayout(t *testing.T) {
	base := t.TempDir()
	fs, err := NewFilesystemBackend(base)
	require.NoError(t, err)

	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	ref, err := fs.Store(context.Background(), "abc", &Artifact{
		Name:        "page.html",
		ContentType: ContentTypeHTML,
		Content:     []byte("<p>x</p>"),
		CreatedTime: created,
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "2025", "01", "02", "abc", "page.html"), ref.Location)
	_, err = os.Stat(ref.Location + ".meta")
	assert.NoError(t, err)
}

func TestConfigCreateBackend(t *testing.T) {
	t.Run("filesystem", func(t *testing.T) {
		cfg := &Config{Backend: "fs", FSBasePath: filepath.Join(t.TempDir(), "artifacts")}
		backend, err := cfg.CreateBackend()
		require.NoError(t, err)
		assert.Equal(t, "FS", backend.GetInfo().Type)
		assert.Equal(t, "FS", cfg.Backend)
	})

	t.Run("memory", func(t *testing.T) {
		backend, err := (&Config{Backend: "MEM"}).CreateBackend()
		require.NoError(t, err)
		assert.Equal(t, "MEM", backend.GetInfo().Type)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := (&Config{Backend: "S3"}).CreateBackend()
		assert.Error(t, err)
		_, err = (&Config{Backend: "FS"}).CreateBackend()
		assert.Error(t, err)
	})
}

func TestFactoryList(t *testing.T) {
	assert.Equal(t, []string{"FS", "MEM"}, DefaultFactory.List())
	_, err := DefaultFactory.Create("DB", nil)
	assert.Error(t, err)
}
