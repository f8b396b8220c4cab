package progress

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhihu_archiver/internal/links"
	"zhihu_archiver/internal/logger"
	"zhihu_archiver/internal/models"
)

const target = "user:someone"

func load(t *testing.T, dir string, flushEvery int) *Store {
	t.Helper()
	s, err := Load(dir, target, flushEvery, logger.NewNoOp())
	require.NoError(t, err)
	return s
}

func TestFreshStore(t *testing.T) {
	s := load(t, t.TempDir(), 1)

	assert.False(t, s.HasManifest())
	assert.Zero(t, s.Manifest().Len())
	assert.Empty(t, s.Completed())
}

func TestRecordAndReload(t *testing.T) {
	dir := t.TempDir()
	a, b, c := links.NewAnswer("1", "10"), links.NewArticle("20"), links.NewPin("30")

	s := load(t, dir, 1)
	require.NoError(t, s.RecordDiscovered(links.NewManifest(a, b, c)))
	require.NoError(t, s.SetConfig(map[string]any{"download_images": true}))
	require.NoError(t, s.RecordCompleted(b, "articles/b"))
	require.NoError(t, s.RecordCompleted(a, "answers/a"))

	reloaded := load(t, dir, 1)
	assert.True(t, reloaded.HasManifest())
	assert.Equal(t, []string{a.Key(), b.Key(), c.Key()}, keys(reloaded.Manifest().Items()))
	assert.True(t, reloaded.IsCompleted(a))
	assert.True(t, reloaded.IsCompleted(b))
	assert.False(t, reloaded.IsCompleted(c))

	completed := reloaded.Completed()
	require.Len(t, completed, 2)
	assert.Equal(t, "articles/b", completed[0].Path)
	assert.Equal(t, b.CanonicalURL, completed[0].CanonicalURL)
	assert.JSONEq(t, `{"download_images": true}`, string(reloaded.config))
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	a, b := links.NewAnswer("1", "10"), links.NewArticle("20")

	s := load(t, dir, 1)
	require.NoError(t, s.RecordDiscovered(links.NewManifest(a, b)))
	require.NoError(t, s.RecordCompleted(a, "answers/a"))
	require.NoError(t, s.RecordCompleted(b, "articles/b"))

	assert.True(t, s.Reopen(a))
	assert.False(t, s.Reopen(a), "already reopened")
	assert.False(t, s.IsCompleted(a))
	require.NoError(t, s.Flush())

	reloaded := load(t, dir, 1)
	assert.False(t, reloaded.IsCompleted(a))
	assert.True(t, reloaded.IsCompleted(b))
	assert.Len(t, reloaded.Completed(), 1)
}

func TestRecordCompletedRejectsUnknownItem(t *testing.T) {
	s := load(t, t.TempDir(), 1)
	require.NoError(t, s.RecordDiscovered(links.NewManifest(links.NewPin("1"))))

	err := s.RecordCompleted(links.NewPin("2"), "pins/x")
	assert.ErrorIs(t, err, ErrUnknownItem)
}

func TestFlushEvery(t *testing.T) {
	dir := t.TempDir()
	a, b, c := links.NewPin("1"), links.NewPin("2"), links.NewPin("3")

	s := load(t, dir, 2)
	require.NoError(t, s.RecordDiscovered(links.NewManifest(a, b, c)))
	require.NoError(t, s.RecordCompleted(a, "pins/1"))
	assert.NoFileExists(t, filepath.Join(dir, ProgressFile))

	require.NoError(t, s.RecordCompleted(b, "pins/2"))
	require.NoError(t, s.RecordCompleted(c, "pins/3"))
	assert.Len(t, load(t, dir, 1).Completed(), 2, "third mark is still buffered")

	require.NoError(t, s.Flush())
	assert.Len(t, load(t, dir, 1).Completed(), 3)
}

func TestRecordDiscoveredMustExtend(t *testing.T) {
	a, b, c := links.NewPin("1"), links.NewPin("2"), links.NewPin("3")
	s := load(t, t.TempDir(), 1)
	require.NoError(t, s.RecordDiscovered(links.NewManifest(a, b)))

	assert.Error(t, s.RecordDiscovered(links.NewManifest(a)))
	assert.Error(t, s.RecordDiscovered(links.NewManifest(b, a, c)))
	require.NoError(t, s.RecordDiscovered(links.NewManifest(a, b, c)))
	assert.Equal(t, 3, s.Manifest().Len())
}

func TestLoadDetectsCorruption(t *testing.T) {
	tests := []struct {
		name     string
		links    string
		progress string
	}{
		{
			name:     "completed item outside manifest",
			links:    `[{"kind":"pin","platform_id":"1","canonical_url":"https://www.zhihu.com/pin/1"}]`,
			progress: `{"target_key":"user:someone","completed":[{"kind":"pin","platform_id":"2","canonical_url":"https://www.zhihu.com/pin/2","path":"pins/2"}]}`,
		},
		{
			name:     "completed items without manifest",
			progress: `{"target_key":"user:someone","completed":[{"kind":"pin","platform_id":"1","path":"pins/1"}]}`,
		},
		{
			name:     "unreadable progress",
			links:    `[]`,
			progress: `{"completed":`,
		},
		{
			name:  "unreadable manifest",
			links: `{"not":"a list"}`,
		},
		{
			name:     "another target",
			links:    `[]`,
			progress: `{"target_key":"question:1","completed":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.links != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, LinksFile), []byte(tt.links), 0o644))
			}
			if tt.progress != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, ProgressFile), []byte(tt.progress), 0o644))
			}

			_, err := Load(dir, target, 1, logger.NewNoOp())
			assert.ErrorIs(t, err, ErrProgressStoreCorruption)
		})
	}
}

func keys(ids []models.ContentIdentifier) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Key())
	}
	return out
}

func TestFlushSkipsCleanStore(t *testing.T) {
	dir := t.TempDir()
	a := links.NewPin("1")
	snapshot := map[string]any{"comments": false, "target": target}

	s := load(t, dir, 1)
	require.NoError(t, s.RecordDiscovered(links.NewManifest(a)))
	require.NoError(t, s.SetConfig(snapshot))
	require.NoError(t, s.RecordCompleted(a, "pins/1"))

	path := filepath.Join(dir, ProgressFile)
	before, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(path, before.ModTime().Add(-time.Hour), before.ModTime().Add(-time.Hour)))
	before, err = os.Stat(path)
	require.NoError(t, err)

	reloaded := load(t, dir, 1)
	require.NoError(t, reloaded.SetConfig(snapshot))
	require.NoError(t, reloaded.Flush())

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())

	require.NoError(t, reloaded.SetConfig(map[string]any{"comments": true}))
	require.NoError(t, reloaded.Flush())
	after, err = os.Stat(path)
	require.NoError(t, err)
	assert.NotEqual(t, before.ModTime(), after.ModTime())
}
