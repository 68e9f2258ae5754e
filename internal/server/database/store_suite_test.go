package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func int64Ptr(n int64) *int64 { return &n }

// runStoreSuite exercises the Store contract against any backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and look up link", func(t *testing.T) {
		s := newStore(t)

		created, err := s.CreateLink(ctx, "/srv/drop/photos", strPtr("hash"), int64Ptr(1700000000), "tok-photos")
		require.NoError(t, err)
		assert.NotZero(t, created.ID)
		assert.False(t, created.CreatedAt.IsZero())

		byToken, err := s.GetLinkByToken(ctx, "tok-photos")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byToken.ID)
		assert.Equal(t, "/srv/drop/photos", byToken.FolderPath)
		require.NotNil(t, byToken.PasswordHash)
		assert.Equal(t, "hash", *byToken.PasswordHash)
		require.NotNil(t, byToken.ExpiryTimestamp)
		assert.Equal(t, int64(1700000000), *byToken.ExpiryTimestamp)

		byID, err := s.GetLinkByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "tok-photos", byID.Token)

		byPath, err := s.GetLinkByPath(ctx, "/srv/drop/photos")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byPath.ID)
	})

	t.Run("nullable columns round trip as nil", func(t *testing.T) {
		s := newStore(t)

		_, err := s.CreateLink(ctx, "/srv/drop/open", nil, nil, "tok-open")
		require.NoError(t, err)

		link, err := s.GetLinkByToken(ctx, "tok-open")
		require.NoError(t, err)
		assert.Nil(t, link.PasswordHash)
		assert.Nil(t, link.ExpiryTimestamp)
	})

	t.Run("missing link lookups", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetLinkByToken(ctx, "nope")
		assert.ErrorIs(t, err, ErrLinkNotFound)
		_, err = s.GetLinkByID(ctx, 999)
		assert.ErrorIs(t, err, ErrLinkNotFound)
		_, err = s.GetLinkByPath(ctx, "/nope")
		assert.ErrorIs(t, err, ErrLinkNotFound)
	})

	t.Run("folder path is unique", func(t *testing.T) {
		s := newStore(t)

		_, err := s.CreateLink(ctx, "/srv/drop/docs", nil, nil, "tok-a")
		require.NoError(t, err)

		_, err = s.CreateLink(ctx, "/srv/drop/docs", nil, nil, "tok-b")
		assert.ErrorIs(t, err, ErrLinkExists)

		links, err := s.ListLinks(ctx)
		require.NoError(t, err)
		assert.Len(t, links, 1)
	})

	t.Run("token is unique", func(t *testing.T) {
		s := newStore(t)

		_, err := s.CreateLink(ctx, "/srv/drop/a", nil, nil, "same")
		require.NoError(t, err)

		_, err = s.CreateLink(ctx, "/srv/drop/b", nil, nil, "same")
		assert.ErrorIs(t, err, ErrTokenCollision)
	})

	t.Run("list orders newest first", func(t *testing.T) {
		s := newStore(t)

		for _, tok := range []string{"first", "second", "third"} {
			_, err := s.CreateLink(ctx, "/srv/drop/"+tok, nil, nil, tok)
			require.NoError(t, err)
		}

		links, err := s.ListLinks(ctx)
		require.NoError(t, err)
		require.Len(t, links, 3)
		assert.Equal(t, "third", links[0].Token)
		assert.Equal(t, "first", links[2].Token)
	})

	t.Run("delete cascades only to own uploads", func(t *testing.T) {
		s := newStore(t)

		a, err := s.CreateLink(ctx, "/srv/drop/a", nil, nil, "tok-a")
		require.NoError(t, err)
		b, err := s.CreateLink(ctx, "/srv/drop/b", nil, nil, "tok-b")
		require.NoError(t, err)

		now := time.Now()
		require.NoError(t, s.RecordUpload(ctx, a.ID, "one.txt", 3, now))
		require.NoError(t, s.RecordUpload(ctx, a.ID, "two.txt", 4, now))
		require.NoError(t, s.RecordUpload(ctx, b.ID, "other.txt", 5, now))

		require.NoError(t, s.DeleteLink(ctx, a.ID))

		n, err := s.CountUploads(ctx, a.ID)
		require.NoError(t, err)
		assert.Zero(t, n)

		files, err := s.ListUploads(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "other.txt", files[0].Filename)
		assert.Equal(t, int64(5), files[0].Size)

		assert.ErrorIs(t, s.DeleteLink(ctx, a.ID), ErrLinkNotFound)
	})

	t.Run("user lifecycle", func(t *testing.T) {
		s := newStore(t)

		n, err := s.CountUsers(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		u, err := s.CreateUser(ctx, "admin", "h1")
		require.NoError(t, err)
		assert.NotZero(t, u.ID)

		_, err = s.CreateUser(ctx, "admin", "h2")
		assert.ErrorIs(t, err, ErrUserExists)

		byName, err := s.GetUserByUsername(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byName.ID)

		require.NoError(t, s.UpdateUserPassword(ctx, u.ID, "h3"))
		byID, err := s.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "h3", byID.PasswordHash)

		_, err = s.CreateUser(ctx, "bob", "hb")
		require.NoError(t, err)
		users, err := s.ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "admin", users[0].Username)

		require.NoError(t, s.DeleteUser(ctx, u.ID))
		_, err = s.GetUserByID(ctx, u.ID)
		assert.True(t, errors.Is(err, ErrUserNotFound))
		assert.ErrorIs(t, s.DeleteUser(ctx, u.ID), ErrUserNotFound)
		assert.ErrorIs(t, s.UpdateUserPassword(ctx, u.ID, "x"), ErrUserNotFound)
	})

	t.Run("stats", func(t *testing.T) {
		s := newStore(t)
		now := time.Unix(1_800_000_000, 0)

		live, err := s.CreateLink(ctx, "/srv/drop/live", nil, int64Ptr(now.Unix()+60), "live")
		require.NoError(t, err)
		_, err = s.CreateLink(ctx, "/srv/drop/forever", nil, nil, "forever")
		require.NoError(t, err)
		_, err = s.CreateLink(ctx, "/srv/drop/old", nil, int64Ptr(now.Unix()-60), "old")
		require.NoError(t, err)
		require.NoError(t, s.RecordUpload(ctx, live.ID, "a.bin", 100, now))
		require.NoError(t, s.RecordUpload(ctx, live.ID, "b.bin", 50, now))

		stats, err := s.GetStats(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.TotalLinks)
		assert.Equal(t, int64(2), stats.ActiveLinks)
		assert.Equal(t, int64(1), stats.ExpiredLinks)
		assert.Equal(t, int64(2), stats.TotalUploads)
		assert.Equal(t, int64(150), stats.BytesUploaded)
	})

	t.Run("health check", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.HealthCheck(ctx))
	})
}
