package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filedrop/internal/server/database"
	"filedrop/internal/server/storage"

	"github.com/stretchr/testify/require"
)

// testEnv wires the services against a temporary base directory, a SQLite
// store and a controllable clock.
type testEnv struct {
	base    string
	store   database.Store
	links   *LinkService
	uploads *UploadService
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	base, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	store, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)

	env := &testEnv{
		base:  base,
		store: store,
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local),
	}
	clock := func() time.Time { return env.now }

	files := storage.NewFileSystemStore()
	env.links = NewLinkService(store, files, base, "http://drop.test/")
	env.links.now = clock

	recorder := NewRecorder(store)
	recorder.now = clock
	env.uploads = NewUploadService(store, files, recorder, base, 0)
	env.uploads.now = clock
	return env
}

func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

func (e *testEnv) createLink(t *testing.T, folder, password, expiry string) *LinkView {
	t.Helper()
	link, err := e.links.CreateUploadLink(context.Background(), testRC(), folder, password, expiry)
	require.NoError(t, err)
	return link
}

func testRC() RequestContext {
	return NewRequestContext("127.0.0.1").WithUser(1, "admin")
}

func fileOf(name, content string) IncomingFile {
	return IncomingFile{
		Name: name,
		Size: int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
