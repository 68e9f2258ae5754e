package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"filedrop/internal/server/database"
	"filedrop/internal/server/database/mocks"
	"filedrop/internal/server/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestCreateUploadLink(t *testing.T) {
	ctx := context.Background()

	t.Run("creates missing folder and stores canonical path", func(t *testing.T) {
		env := newTestEnv(t)

		link := env.createLink(t, "photos/2026", "", "")

		want := filepath.Join(env.base, "photos", "2026")
		assert.Equal(t, want, link.FolderPath)
		assert.True(t, storage.IsDir(want))
		assert.Len(t, link.Token, tokenLength)
		assert.Equal(t, "http://drop.test/upload/"+link.Token, link.UploadURL)
		assert.False(t, link.HasPassword)
		assert.Nil(t, link.ExpiresAt)
		assert.False(t, link.Expired)
	})

	t.Run("one link per folder across spellings", func(t *testing.T) {
		env := newTestEnv(t)
		first := env.createLink(t, "docs", "", "")

		for _, spelling := range []string{
			"docs",
			"./docs/",
			"docs/../docs",
			filepath.Join(env.base, "docs") + "/",
			" docs ",
		} {
			_, err := env.links.CreateUploadLink(ctx, testRC(), spelling, "", "")
			require.ErrorIs(t, err, ErrConflict, spelling)

			var conflict *ConflictError
			require.True(t, errors.As(err, &conflict))
			assert.Equal(t, first.Token, conflict.Token)
		}

		links, err := env.links.ListLinks(ctx)
		require.NoError(t, err)
		assert.Len(t, links, 1)
	})

	t.Run("folder reached through an internal symlink conflicts with its target", func(t *testing.T) {
		env := newTestEnv(t)
		first := env.createLink(t, "real", "", "")
		require.NoError(t, os.Symlink(filepath.Join(env.base, "real"), filepath.Join(env.base, "alias")))

		_, err := env.links.CreateUploadLink(ctx, testRC(), "alias", "", "")
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, first.Token, conflict.Token)
	})

	t.Run("rejects paths outside the base", func(t *testing.T) {
		env := newTestEnv(t)
		outside := t.TempDir()
		require.NoError(t, os.Symlink(outside, filepath.Join(env.base, "escape")))

		for _, raw := range []string{
			"../../etc",
			"/etc",
			env.base + "-evil",
			"escape",
			"escape/new",
		} {
			_, err := env.links.CreateUploadLink(ctx, testRC(), raw, "", "")
			assert.ErrorIs(t, err, ErrPathUnsafe, raw)
		}

		_, err := os.Stat(filepath.Join(outside, "new"))
		assert.True(t, os.IsNotExist(err), "nothing created outside the base")
	})

	t.Run("rejects a regular file", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, os.WriteFile(filepath.Join(env.base, "notes.txt"), []byte("x"), 0644))

		_, err := env.links.CreateUploadLink(ctx, testRC(), "notes.txt", "", "")
		assert.ErrorIs(t, err, ErrPathInvalid)
	})

	t.Run("parses expiry in local time", func(t *testing.T) {
		env := newTestEnv(t)
		link := env.createLink(t, "timed", "", "2026-03-01T13:30")

		require.NotNil(t, link.ExpiresAt)
		assert.Equal(t, time.Date(2026, 3, 1, 13, 30, 0, 0, time.Local).Unix(), link.ExpiresAt.Unix())
	})

	t.Run("rejects malformed expiry before storing", func(t *testing.T) {
		env := newTestEnv(t)
		for _, expiry := range []string{"tomorrow", "2026-03-01", "2026-13-01T10:00"} {
			_, err := env.links.CreateUploadLink(ctx, testRC(), "bad", "", expiry)
			assert.ErrorIs(t, err, ErrInvalidExpiry, expiry)
		}

		links, err := env.links.ListLinks(ctx)
		require.NoError(t, err)
		assert.Empty(t, links)
		assert.False(t, storage.IsDir(filepath.Join(env.base, "bad")))
	})

	t.Run("hashes password", func(t *testing.T) {
		env := newTestEnv(t)
		link := env.createLink(t, "secret", "hunter2", "")
		assert.True(t, link.HasPassword)

		stored, err := env.store.GetLinkByID(ctx, link.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.PasswordHash)
		assert.NotEqual(t, "hunter2", *stored.PasswordHash)
	})
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := func(d time.Duration) *int64 {
		v := now.Add(d).Unix()
		return &v
	}

	tests := []struct {
		name   string
		expiry *int64
		want   bool
	}{
		{"no expiry", nil, false},
		{"one second ago", ts(-time.Second), true},
		{"one second ahead", ts(time.Second), false},
		{"exactly now", ts(0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := &database.Link{ExpiryTimestamp: tt.expiry}
			assert.Equal(t, tt.want, IsExpired(link, now))
		})
	}
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	expired := env.createLink(t, "expired", "", env.now.Add(time.Hour).Format(ExpiryLayout))
	gone := env.createLink(t, "gone", "", "")
	keep := env.createLink(t, "keep", "", env.now.Add(48*time.Hour).Format(ExpiryLayout))

	env.advance(2 * time.Hour)
	require.NoError(t, os.Remove(gone.FolderPath))

	preview, err := env.links.Cleanup(ctx, testRC(), false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{expired.ID, gone.ID}, viewIDs(preview))

	all, err := env.links.ListLinks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3, "preview must not delete")

	for _, v := range preview {
		switch v.ID {
		case expired.ID:
			assert.True(t, v.Expired)
			assert.False(t, v.FolderMissing)
		case gone.ID:
			assert.False(t, v.Expired)
			assert.True(t, v.FolderMissing)
		}
	}

	deleted, err := env.links.Cleanup(ctx, testRC(), true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{expired.ID, gone.ID}, viewIDs(deleted))

	all, err = env.links.ListLinks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{keep.ID}, viewIDs(all))

	again, err := env.links.Cleanup(ctx, testRC(), false)
	require.NoError(t, err)
	assert.Empty(t, again)

	assert.True(t, storage.IsDir(expired.FolderPath), "folders are left on disk")
}

func TestDeleteLink(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	a := env.createLink(t, "a", "", "")
	b := env.createLink(t, "b", "", "")

	_, err := env.uploads.Upload(ctx, testRC(), a.Token, "", Files(fileOf("one.txt", "1")))
	require.NoError(t, err)
	_, err = env.uploads.Upload(ctx, testRC(), b.Token, "", Files(fileOf("two.txt", "2")))
	require.NoError(t, err)

	require.NoError(t, env.links.DeleteLink(ctx, testRC(), a.ID))

	_, err = env.links.ListUploads(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	orphans, err := env.store.ListUploads(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	files, err := env.links.ListUploads(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "two.txt", files[0].Filename)

	assert.Equal(t, "1", readFile(t, filepath.Join(a.FolderPath, "one.txt")))

	t.Run("unknown id is a no-op", func(t *testing.T) {
		assert.NoError(t, env.links.DeleteLink(ctx, testRC(), 9999))
	})
}

func TestListLinksCountsFiles(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	link := env.createLink(t, "counted", "", "")
	_, err := env.uploads.Upload(ctx, testRC(), link.Token, "", Files(
		fileOf("a.txt", "a"),
		fileOf("b.txt", "b"),
	))
	require.NoError(t, err)

	got, err := env.links.GetLink(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.FileCount)

	_, err = env.links.GetLink(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenArchive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	link := env.createLink(t, "export", "", "")
	require.NoError(t, os.WriteFile(filepath.Join(link.FolderPath, "a.txt"), []byte("hello"), 0644))

	tree, name, err := env.links.OpenArchive(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, "export.zip", name)
	assert.Equal(t, int64(5), tree.Size())

	require.NoError(t, os.RemoveAll(link.FolderPath))
	_, _, err = env.links.OpenArchive(ctx, link.ID)
	assert.ErrorIs(t, err, ErrDirectoryUnavailable)
}

func TestLinkService_StoreErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")

	newService := func(t *testing.T) (*LinkService, *mocks.MockStore, string) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)
		base, err := filepath.EvalSymlinks(t.TempDir())
		require.NoError(t, err)
		return NewLinkService(store, storage.NewFileSystemStore(), base, "http://drop.test"), store, base
	}

	t.Run("list failure is surfaced", func(t *testing.T) {
		svc, store, _ := newService(t)
		store.EXPECT().ListLinks(gomock.Any()).Return(nil, boom)

		_, err := svc.ListLinks(ctx)
		assert.ErrorIs(t, err, ErrStore)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cleanup delete failure is surfaced", func(t *testing.T) {
		svc, store, base := newService(t)
		store.EXPECT().ListLinks(gomock.Any()).Return([]*database.Link{
			{ID: 1, Token: "t", FolderPath: filepath.Join(base, "missing")},
		}, nil)
		store.EXPECT().DeleteLink(gomock.Any(), int64(1)).Return(boom)

		deleted, err := svc.Cleanup(ctx, testRC(), true)
		assert.ErrorIs(t, err, ErrStore)
		assert.Empty(t, deleted)
	})

	t.Run("token collision is retried", func(t *testing.T) {
		svc, store, base := newService(t)
		folder := filepath.Join(base, "retry")

		store.EXPECT().GetLinkByPath(gomock.Any(), folder).Return(nil, database.ErrLinkNotFound)
		gomock.InOrder(
			store.EXPECT().CreateLink(gomock.Any(), folder, gomock.Nil(), gomock.Nil(), gomock.Any()).Return(nil, database.ErrTokenCollision),
			store.EXPECT().CreateLink(gomock.Any(), folder, gomock.Nil(), gomock.Nil(), gomock.Any()).Return(nil, database.ErrTokenCollision),
			store.EXPECT().CreateLink(gomock.Any(), folder, gomock.Nil(), gomock.Nil(), gomock.Any()).
				DoAndReturn(func(_ context.Context, path string, _ *string, _ *int64, token string) (*database.Link, error) {
					return &database.Link{ID: 7, Token: token, FolderPath: path}, nil
				}),
		)

		link, err := svc.CreateUploadLink(ctx, testRC(), "retry", "", "")
		require.NoError(t, err)
		assert.Equal(t, int64(7), link.ID)
	})

	t.Run("gives up after repeated collisions", func(t *testing.T) {
		svc, store, base := newService(t)
		folder := filepath.Join(base, "unlucky")

		store.EXPECT().GetLinkByPath(gomock.Any(), folder).Return(nil, database.ErrLinkNotFound)
		store.EXPECT().CreateLink(gomock.Any(), folder, gomock.Nil(), gomock.Nil(), gomock.Any()).
			Return(nil, database.ErrTokenCollision).Times(maxTokenAttempts)

		_, err := svc.CreateUploadLink(ctx, testRC(), "unlucky", "", "")
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("concurrent insert surfaces as conflict", func(t *testing.T) {
		svc, store, base := newService(t)
		folder := filepath.Join(base, "raced")

		gomock.InOrder(
			store.EXPECT().GetLinkByPath(gomock.Any(), folder).Return(nil, database.ErrLinkNotFound),
			store.EXPECT().CreateLink(gomock.Any(), folder, gomock.Nil(), gomock.Nil(), gomock.Any()).Return(nil, database.ErrLinkExists),
			store.EXPECT().GetLinkByPath(gomock.Any(), folder).Return(&database.Link{ID: 3, Token: "winner"}, nil),
		)

		_, err := svc.CreateUploadLink(ctx, testRC(), "raced", "", "")
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "winner", conflict.Token)
	})
}

func viewIDs(views []LinkView) []int64 {
	ids := make([]int64, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.ID)
	}
	return ids
}
