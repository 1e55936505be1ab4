package library

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phototree/internal/directory"
	"phototree/internal/filesystem"
	"phototree/internal/logging"
	"phototree/internal/test"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func idPtr(i int64) *int64    { return &i }

func TestUpdateAlbum_RenameRelocatesDescendants(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"Trips/Japan/Tokyo/a.jpg": "one",
		"Trips/Italy/":            "",
	})
	ctx := context.Background()
	env.sync(t)
	trips := env.album(t, "Trips")
	japan := env.album(t, "Trips/Japan")
	tokyo := env.album(t, "Trips/Japan/Tokyo")

	updated, err := env.engine.UpdateAlbum(ctx, trips.ID, AlbumChanges{Name: strPtr("Travel")})
	require.NoError(t, err)
	assert.Equal(t, "Travel", updated.Name)

	assert.False(t, test.Exists(t, env.root, "Trips"))
	assert.True(t, test.Exists(t, env.root, "Travel/Japan/Tokyo/a.jpg"))

	assert.Equal(t, japan.ID, env.album(t, "Travel/Japan").ID)
	assert.Equal(t, tokyo.ID, env.album(t, "Travel/Japan/Tokyo").ID)
	env.album(t, "Travel/Italy")
	env.noAlbum(t, "Trips")
	env.noAlbum(t, "Trips/Japan")

	assert.Zero(t, env.sync(t).Images.Len())
	env.assertUnique(t)
}

func TestUpdateAlbum_DestinationExists(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"Trips/Japan/": "",
		"Trips/Italy/": "",
		"Travel/":      "",
	})
	ctx := context.Background()
	env.sync(t)
	japan := env.album(t, "Trips/Japan")

	_, err := env.engine.UpdateAlbum(ctx, japan.ID, AlbumChanges{Name: strPtr("Italy")})
	assert.ErrorIs(t, err, ErrDestinationExists)
	assert.Equal(t, KindConflict, KindOf(err))

	// untracked directory on disk
	test.WriteEntry(t, env.root, "Trips/Peru/", "")
	_, err = env.engine.UpdateAlbum(ctx, japan.ID, AlbumChanges{Name: strPtr("Peru")})
	assert.ErrorIs(t, err, ErrDestinationExists)

	got := env.album(t, "Trips/Japan")
	assert.Equal(t, japan.ID, got.ID)
	assert.True(t, test.Exists(t, env.root, "Trips/Japan"))
}

func TestUpdateAlbum_FailedRenameRollsBack(t *testing.T) {
	var faulty *faultyProvider
	env := newTestEnvWith(t, map[string]string{"Trips/Japan/": ""}, func(p filesystem.Provider) filesystem.Provider {
		faulty = &faultyProvider{Provider: p}
		return faulty
	})
	ctx := context.Background()
	env.sync(t)
	trips := env.album(t, "Trips")

	faulty.failRename = true
	_, err := env.engine.UpdateAlbum(ctx, trips.ID, AlbumChanges{Name: strPtr("Travel"), Rating: intPtr(4)})
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))

	got := env.album(t, "Trips")
	assert.Nil(t, got.Rating)
	env.album(t, "Trips/Japan")
	env.noAlbum(t, "Travel")
}

func TestUpdateAlbum_ParentChange(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"Trips/Japan/Tokyo/": "",
		"Archive/":           "",
	})
	ctx := context.Background()
	env.sync(t)
	archive := env.album(t, "Archive")
	japan := env.album(t, "Trips/Japan")

	_, err := env.engine.UpdateAlbum(ctx, japan.ID, AlbumChanges{ParentID: idPtr(archive.ID), Location: strPtr("Trips")})
	assert.ErrorIs(t, err, ErrInconsistentMove)
	assert.Equal(t, KindBadRequest, KindOf(err))

	tokyo := env.album(t, "Trips/Japan/Tokyo")
	_, err = env.engine.UpdateAlbum(ctx, japan.ID, AlbumChanges{ParentID: idPtr(tokyo.ID)})
	assert.ErrorIs(t, err, ErrInconsistentMove)

	moved, err := env.engine.UpdateAlbum(ctx, japan.ID, AlbumChanges{ParentID: idPtr(archive.ID), Location: strPtr("Archive/")})
	require.NoError(t, err)
	assert.Equal(t, "Archive", moved.Location)
	assert.Equal(t, archive.ID, *moved.ParentID)
	assert.True(t, test.Exists(t, env.root, "Archive/Japan/Tokyo"))
	assert.Equal(t, "Archive/Japan", env.album(t, "Archive/Japan/Tokyo").Location)

	toRoot, err := env.engine.UpdateAlbum(ctx, japan.ID, AlbumChanges{ParentID: idPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, "", toRoot.Location)
	assert.Nil(t, toRoot.ParentID)
	assert.True(t, test.Exists(t, env.root, "Japan/Tokyo"))
}

func TestUpdateAlbum_LocationChangeResolvesParent(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"Trips/Japan/": "",
		"Archive/":     "",
	})
	ctx := context.Background()
	env.sync(t)
	archive := env.album(t, "Archive")
	japan := env.album(t, "Trips/Japan")

	_, err := env.engine.UpdateAlbum(ctx, japan.ID, AlbumChanges{Location: strPtr("Nowhere")})
	assert.ErrorIs(t, err, ErrOrphanedLocation)

	moved, err := env.engine.UpdateAlbum(ctx, japan.ID, AlbumChanges{Location: strPtr(`Archive\`)})
	require.NoError(t, err)
	assert.Equal(t, archive.ID, *moved.ParentID)
	assert.Equal(t, "Archive", moved.Location)
	assert.True(t, test.Exists(t, env.root, "Archive/Japan"))
}

func TestUpdateAlbum_Validation(t *testing.T) {
	env := newTestEnv(t, map[string]string{"Trips/": ""})
	ctx := context.Background()
	env.sync(t)
	trips := env.album(t, "Trips")

	_, err := env.engine.UpdateAlbum(ctx, trips.ID, AlbumChanges{Rating: intPtr(9)})
	assert.ErrorIs(t, err, ErrInvalidChanges)

	_, err = env.engine.UpdateAlbum(ctx, trips.ID, AlbumChanges{Name: strPtr("a/b")})
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = env.engine.UpdateAlbum(ctx, 404, AlbumChanges{Rating: intPtr(3)})
	assert.ErrorIs(t, err, ErrAlbumNotFound)

	rated, err := env.engine.UpdateAlbum(ctx, trips.ID, AlbumChanges{Rating: intPtr(5), URL: strPtr("https://example.com/trips")})
	require.NoError(t, err)
	assert.Equal(t, 5, *rated.Rating)
	assert.Equal(t, 5, *env.album(t, "Trips").Rating)
}

func TestUpdateImage_RenameAndMove(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"Trips/Japan/a.jpg": "one",
		"Trips/Japan/b.jpg": "two",
		"Trips/Italy/":      "",
	})
	ctx := context.Background()
	env.sync(t)
	a := env.image(t, "Trips/Japan", "a.jpg")
	italy := env.album(t, "Trips/Italy")

	_, err := env.engine.UpdateImage(ctx, a.ID, ImageChanges{Filename: strPtr("b.jpg")})
	assert.ErrorIs(t, err, ErrDestinationExists)

	_, err = env.engine.UpdateImage(ctx, a.ID, ImageChanges{Filename: strPtr("a.txt")})
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = env.engine.UpdateImage(ctx, a.ID, ImageChanges{Rating: intPtr(6)})
	assert.ErrorIs(t, err, ErrInvalidChanges)

	renamed, err := env.engine.UpdateImage(ctx, a.ID, ImageChanges{Filename: strPtr("sunrise.jpg"), Rating: intPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, "sunrise.jpg", renamed.Filename)
	assert.Equal(t, 0, *renamed.Rating)
	assert.True(t, test.Exists(t, env.root, "Trips/Japan/sunrise.jpg"))
	assert.False(t, test.Exists(t, env.root, "Trips/Japan/a.jpg"))

	moved, err := env.engine.UpdateImage(ctx, a.ID, ImageChanges{AlbumID: idPtr(italy.ID), CropX: intPtr(1), CropW: intPtr(10)})
	require.NoError(t, err)
	assert.Equal(t, italy.ID, moved.AlbumID)
	assert.Equal(t, 10, *moved.CropW)
	assert.True(t, test.Exists(t, env.root, "Trips/Italy/sunrise.jpg"))
	env.image(t, "Trips/Italy", "sunrise.jpg")

	// directory timestamps moved, image content did not
	assert.Zero(t, env.sync(t).Images.Len())
	env.assertUnique(t)
}

func TestDeleteAlbum_NotEmptyThenEmpty(t *testing.T) {
	env := newTestEnv(t, map[string]string{"Trips/Japan/a.jpg": "one"})
	ctx := context.Background()
	env.sync(t)
	japan := env.album(t, "Trips/Japan")
	a := env.image(t, "Trips/Japan", "a.jpg")

	err := env.engine.DeleteAlbum(ctx, japan.ID)
	assert.ErrorIs(t, err, ErrAlbumNotEmpty)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, test.Exists(t, env.root, "Trips/Japan/a.jpg"))

	require.NoError(t, env.engine.DeleteImage(ctx, a.ID))
	assert.False(t, test.Exists(t, env.root, "Trips/Japan/a.jpg"))

	require.NoError(t, env.engine.DeleteAlbum(ctx, japan.ID))
	assert.False(t, test.Exists(t, env.root, "Trips/Japan"))
	env.noAlbum(t, "Trips/Japan")

	assert.ErrorIs(t, env.engine.DeleteAlbum(ctx, japan.ID), ErrAlbumNotFound)
	assert.ErrorIs(t, env.engine.DeleteImage(ctx, a.ID), ErrImageNotFound)
}

func TestDeleteAlbum_UntrackedFilesKeepDirectory(t *testing.T) {
	env := newTestEnv(t, map[string]string{"Trips/Japan/folder.jpg": "cover"})
	ctx := context.Background()
	env.sync(t)
	japan := env.album(t, "Trips/Japan")

	err := env.engine.DeleteAlbum(ctx, japan.ID)
	assert.ErrorIs(t, err, ErrAlbumNotEmpty)
	env.album(t, "Trips/Japan")
}

func TestDeleteAlbum_AlreadyGoneFromDisk(t *testing.T) {
	env := newTestEnv(t, map[string]string{"Trips/Japan/": ""})
	ctx := context.Background()
	env.sync(t)
	japan := env.album(t, "Trips/Japan")

	require.NoError(t, env.engine.fs.RemoveEmptyDirectory(ctx, "Trips/Japan"))
	require.NoError(t, env.engine.DeleteAlbum(ctx, japan.ID))
	env.noAlbum(t, "Trips/Japan")
}

// cancelAfterRemove cancels the operation's context once an entry is gone
// from disk, so the enclosing transaction cannot commit
type cancelAfterRemove struct {
	filesystem.Provider
	cancel context.CancelFunc
}

func (p *cancelAfterRemove) Remove(ctx context.Context, name string) error {
	err := p.Provider.Remove(ctx, name)
	p.cancel()
	return err
}

func TestDeleteImage_FailedCommitIsLogged(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnvWith(t, map[string]string{"Trips/a.jpg": "one"}, func(p filesystem.Provider) filesystem.Provider {
		return &cancelAfterRemove{Provider: p, cancel: cancel}
	})
	var logs bytes.Buffer
	env.engine.logger = logging.NewLogger(logging.ErrorLevel, &logs)
	env.sync(t)
	a := env.image(t, "Trips", "a.jpg")

	err := env.engine.DeleteImage(ctx, a.ID)
	require.Error(t, err)
	assert.False(t, test.Exists(t, env.root, "Trips/a.jpg"))
	assert.Contains(t, logs.String(), "Entry removed from disk but record delete did not commit")
	assert.Contains(t, logs.String(), `"path":"Trips/a.jpg"`)

	assert.Equal(t, a.ID, env.image(t, "Trips", "a.jpg").ID)
}

func TestCreateAlbumFromPath(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"Trips/Japan/Tokyo/Shibuya/": "",
		"Trips/notes.txt":            "",
	})
	ctx := context.Background()

	_, err := env.engine.CreateAlbumFromPath(ctx, "Trips/Japan", nil)
	assert.ErrorIs(t, err, ErrOrphanedLocation)

	trips, err := env.engine.CreateAlbumFromPath(ctx, "Trips", nil)
	require.NoError(t, err)
	assert.Nil(t, trips.ParentID)

	_, err = env.engine.CreateAlbumFromPath(ctx, "Trips", nil)
	assert.ErrorIs(t, err, ErrAlbumExists)

	_, err = env.engine.CreateAlbumFromPath(ctx, "Trips/Missing", nil)
	assert.ErrorIs(t, err, ErrNotFoundOnDisk)

	_, err = env.engine.CreateAlbumFromPath(ctx, "Trips/notes.txt", nil)
	assert.ErrorIs(t, err, ErrInvalidPath)

	japan, err := env.engine.CreateAlbumFromPath(ctx, "Trips/Japan", &trips.ID)
	require.NoError(t, err)
	assert.Equal(t, trips.ID, *japan.ParentID)

	_, err = env.engine.CreateAlbumFromPath(ctx, "Trips/Japan/Tokyo", &trips.ID)
	assert.ErrorIs(t, err, ErrInconsistentMove)

	_, err = env.engine.CreateAlbumFromPath(ctx, "Trips/Japan/Tokyo", nil)
	require.NoError(t, err)

	_, err = env.engine.CreateAlbumFromPath(ctx, "Trips/Japan/Tokyo/Shibuya", nil)
	var classErr *directory.ClassificationError
	require.True(t, errors.As(err, &classErr))
	assert.Equal(t, "Trips/Japan/Tokyo/Shibuya", classErr.Path)
	assert.Equal(t, KindInternal, KindOf(err))

	_, err = env.engine.CreateAlbumFromPath(ctx, "../outside", nil)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestCreateAlbumFromPath_RestoresDeleted(t *testing.T) {
	env := newTestEnv(t, map[string]string{"Trips/": ""})
	ctx := context.Background()

	trips, err := env.engine.CreateAlbumFromPath(ctx, "Trips", nil)
	require.NoError(t, err)
	_, err = env.engine.UpdateAlbum(ctx, trips.ID, AlbumChanges{Rating: intPtr(3)})
	require.NoError(t, err)
	require.NoError(t, env.engine.DeleteAlbum(ctx, trips.ID))

	test.WriteEntry(t, env.root, "Trips/", "")
	restored, err := env.engine.CreateAlbumFromPath(ctx, "Trips", nil)
	require.NoError(t, err)
	assert.Equal(t, trips.ID, restored.ID)
	assert.Equal(t, 3, *restored.Rating)
	env.assertUnique(t)
}

func TestCreateImageFromPath(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"Trips/a.jpg": "one",
		"cover.jpg":   "root image",
	})
	ctx := context.Background()
	trips, err := env.engine.CreateAlbumFromPath(ctx, "Trips", nil)
	require.NoError(t, err)

	img, err := env.engine.CreateImageFromPath(ctx, "Trips/a.jpg", nil)
	require.NoError(t, err)
	assert.Equal(t, trips.ID, img.AlbumID)
	assert.NotEmpty(t, img.Checksum)

	_, err = env.engine.CreateImageFromPath(ctx, "Trips/a.jpg", &trips.ID)
	assert.ErrorIs(t, err, ErrImageExists)

	_, err = env.engine.CreateImageFromPath(ctx, "Trips/missing.jpg", nil)
	assert.ErrorIs(t, err, ErrNotFoundOnDisk)

	_, err = env.engine.CreateImageFromPath(ctx, "cover.jpg", nil)
	assert.ErrorIs(t, err, ErrOrphanedLocation)

	_, err = env.engine.CreateImageFromPath(ctx, "Trips/a.doc", nil)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestAncestorsAndAlbumContext(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"Trips/Japan/Kyoto/": "",
		"Trips/Japan/Osaka/": "",
		"Trips/Japan/Tokyo/": "",
	})
	ctx := context.Background()
	env.sync(t)
	trips := env.album(t, "Trips")
	japan := env.album(t, "Trips/Japan")
	kyoto := env.album(t, "Trips/Japan/Kyoto")
	osaka := env.album(t, "Trips/Japan/Osaka")
	tokyo := env.album(t, "Trips/Japan/Tokyo")

	ancestors, err := env.engine.Ancestors(ctx, osaka.ID)
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	assert.Equal(t, trips.ID, ancestors[0].ID)
	assert.Equal(t, japan.ID, ancestors[1].ID)

	rootAncestors, err := env.engine.Ancestors(ctx, trips.ID)
	require.NoError(t, err)
	assert.Empty(t, rootAncestors)

	albumCtx, err := env.engine.AlbumContext(ctx, osaka.ID)
	require.NoError(t, err)
	assert.Equal(t, osaka.ID, albumCtx.Album.ID)
	require.NotNil(t, albumCtx.PreviousID)
	require.NotNil(t, albumCtx.NextID)
	assert.Equal(t, kyoto.ID, *albumCtx.PreviousID)
	assert.Equal(t, tokyo.ID, *albumCtx.NextID)

	first, err := env.engine.AlbumContext(ctx, kyoto.ID)
	require.NoError(t, err)
	assert.Nil(t, first.PreviousID)

	_, err = env.engine.Ancestors(ctx, 404)
	assert.ErrorIs(t, err, ErrAlbumNotFound)
}
