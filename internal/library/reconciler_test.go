package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phototree/internal/directory"
	"phototree/internal/filesystem"
	"phototree/internal/media"
	"phototree/internal/models"
	"phototree/internal/test"
)

func TestReconcileRoot_AddsTopLevelDirectories(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"Trips/":     "",
		"folder.jpg": "cover",
		"__cache/":   "",
	})
	ctx := context.Background()

	result, err := env.engine.ReconcileRoot(ctx)
	require.NoError(t, err)
	require.Len(t, result.Albums.Added, 1)
	assert.Empty(t, result.Images.Added)

	trips := env.album(t, "Trips")
	assert.Equal(t, result.Albums.Added[0], trips.ID)
	assert.Equal(t, "", trips.Location)
	assert.Nil(t, trips.ParentID)
	require.NotNil(t, trips.TypeID)
	env.noAlbum(t, "__cache")

	again, err := env.engine.ReconcileRoot(ctx)
	require.NoError(t, err)
	assert.True(t, again.IsEmpty())
}

func TestReconcileRoot_SkipsUnclassifiableDirectories(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"Trips/": "",
		"Other/": "",
	})
	require.NoError(t, env.db.Model(&models.AlbumType{}).
		Where("name = ?", "Container").
		Update("path_match", "^Trips$").Error)

	result, err := env.engine.ReconcileRoot(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Albums.Added, 1)
	env.album(t, "Trips")
	env.noAlbum(t, "Other")
}

func TestReconcileRoot_MissingRoot(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, os.RemoveAll(env.root))

	_, err := env.engine.ReconcileRoot(context.Background())
	assert.ErrorIs(t, err, ErrNotFoundOnDisk)
}

func TestReconcileDirectory_AddsImagesOnceThenIdempotent(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"Trips/Japan/a.jpg":     "jpeg bytes",
		"Trips/Japan/b.png":     pngBytes(t, 4, 3),
		"Trips/Japan/notes.txt": "not an image",
	})
	ctx := context.Background()

	_, err := env.engine.ReconcileRoot(ctx)
	require.NoError(t, err)
	trips := env.album(t, "Trips")

	result, err := env.engine.ReconcileDirectory(ctx, trips.ID)
	require.NoError(t, err)
	require.Len(t, result.Albums.Added, 1)
	japan := env.album(t, "Trips/Japan")
	assert.Equal(t, trips.ID, *japan.ParentID)
	assert.Equal(t, "Trips", japan.Location)

	first, err := env.engine.ReconcileDirectory(ctx, japan.ID)
	require.NoError(t, err)
	assert.Len(t, first.Images.Added, 2)
	assert.Empty(t, first.Images.Updated)
	assert.Empty(t, first.Images.Removed)

	second, err := env.engine.ReconcileDirectory(ctx, japan.ID)
	require.NoError(t, err)
	assert.True(t, second.IsEmpty(), "second reconcile should change nothing: %+v", second)

	b := env.image(t, "Trips/Japan", "b.png")
	assert.Equal(t, 4, b.Width)
	assert.Equal(t, 3, b.Height)
	assert.Equal(t, int64(12), b.Resolution)
	assert.Equal(t, media.FormatLandscape, b.Format)
	assert.Equal(t, media.Checksum([]byte(pngBytes(t, 4, 3))), b.Checksum)

	a := env.image(t, "Trips/Japan", "a.jpg")
	assert.Equal(t, int64(len("jpeg bytes")), a.Filesize)
	assert.Zero(t, a.Width)

	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.SyncChangesTotal.WithLabelValues("images", "added")))
	env.assertUnique(t)
}

func TestReconcileDirectory_DetectsChangesAndRemovals(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"Trips/Japan/a.jpg":       "one",
		"Trips/Japan/b.png":       "two",
		"Trips/Japan/c.gif":       "three",
		"Trips/Japan/Tokyo/d.jpg": "four",
	})
	ctx := context.Background()
	env.sync(t)

	japan := env.album(t, "Trips/Japan")
	tokyo := env.album(t, "Trips/Japan/Tokyo")
	b := env.image(t, "Trips/Japan", "b.png")
	d := env.image(t, "Trips/Japan/Tokyo", "d.jpg")

	test.WriteEntry(t, env.root, "Trips/Japan/a.jpg", "one, edited")
	test.Touch(t, env.root, "Trips/Japan/c.gif", time.Hour)
	require.NoError(t, os.Remove(filepath.Join(env.root, "Trips/Japan/b.png")))
	require.NoError(t, os.RemoveAll(filepath.Join(env.root, "Trips/Japan/Tokyo")))

	result, err := env.engine.ReconcileDirectory(ctx, japan.ID)
	require.NoError(t, err)
	assert.Len(t, result.Images.Updated, 2)
	assert.ElementsMatch(t, []int64{b.ID, d.ID}, result.Images.Removed)
	assert.Equal(t, []int64{tokyo.ID}, result.Albums.Removed)

	a := env.image(t, "Trips/Japan", "a.jpg")
	assert.Equal(t, media.Checksum([]byte("one, edited")), a.Checksum)

	env.noAlbum(t, "Trips/Japan/Tokyo")
	_, err = env.repo.GetImageByID(ctx, d.ID)
	assert.Error(t, err, "images of a removed album are removed with it")

	again, err := env.engine.ReconcileDirectory(ctx, japan.ID)
	require.NoError(t, err)
	assert.True(t, again.IsEmpty())
}

func TestReconcileDirectory_RemovedSubtreeReportsEveryRecord(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"Trips/x.jpg":             "keep",
		"Trips/Japan/a.jpg":       "one",
		"Trips/Japan/Tokyo/d.jpg": "four",
	})
	ctx := context.Background()
	env.sync(t)

	trips := env.album(t, "Trips")
	japan := env.album(t, "Trips/Japan")
	tokyo := env.album(t, "Trips/Japan/Tokyo")
	a := env.image(t, "Trips/Japan", "a.jpg")
	d := env.image(t, "Trips/Japan/Tokyo", "d.jpg")

	require.NoError(t, os.RemoveAll(filepath.Join(env.root, "Trips/Japan")))

	result, err := env.engine.ReconcileDirectory(ctx, trips.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{japan.ID, tokyo.ID}, result.Albums.Removed)
	assert.ElementsMatch(t, []int64{a.ID, d.ID}, result.Images.Removed)
	assert.Empty(t, result.Images.Updated)

	env.image(t, "Trips", "x.jpg")
	env.assertUnique(t)
}

func TestReconcileDirectory_DirectoryTimestampChange(t *testing.T) {
	env := newTestEnv(t, map[string]string{"Trips/Japan/": ""})
	env.sync(t)
	trips := env.album(t, "Trips")
	japan := env.album(t, "Trips/Japan")

	test.Touch(t, env.root, "Trips/Japan", 2*time.Hour)

	result, err := env.engine.ReconcileDirectory(context.Background(), trips.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{japan.ID}, result.Albums.Updated)
}

func TestReconcileDirectory_NotFoundOnDiskLeavesRecords(t *testing.T) {
	env := newTestEnv(t, map[string]string{"Trips/Japan/a.jpg": "one"})
	ctx := context.Background()
	env.sync(t)
	japan := env.album(t, "Trips/Japan")

	require.NoError(t, os.RemoveAll(filepath.Join(env.root, "Trips/Japan")))

	_, err := env.engine.ReconcileDirectory(ctx, japan.ID)
	assert.ErrorIs(t, err, ErrNotFoundOnDisk)
	assert.Equal(t, KindNotFound, KindOf(err))

	images, err := env.repo.ImagesByAlbum(ctx, japan.ID)
	require.NoError(t, err)
	assert.Len(t, images, 1)
}

func TestReconcileDirectory_UnknownAlbum(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.engine.ReconcileDirectory(context.Background(), 404)
	assert.ErrorIs(t, err, ErrAlbumNotFound)
}

func TestReconcileDirectory_SkipsFailingEntries(t *testing.T) {
	var faulty *faultyProvider
	env := newTestEnvWith(t, map[string]string{
		"Trips/a.jpg": "one",
		"Trips/b.jpg": "two",
	}, func(p filesystem.Provider) filesystem.Provider {
		faulty = &faultyProvider{Provider: p, failRead: map[string]bool{"Trips/a.jpg": true}}
		return faulty
	})
	ctx := context.Background()

	_, err := env.engine.ReconcileRoot(ctx)
	require.NoError(t, err)
	trips := env.album(t, "Trips")

	result, err := env.engine.ReconcileDirectory(ctx, trips.ID)
	require.NoError(t, err)
	assert.Len(t, result.Images.Added, 1)
	env.image(t, "Trips", "b.jpg")
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.SyncEntryErrors))

	// a known image that cannot be read is kept, not removed
	delete(faulty.failRead, "Trips/a.jpg")
	_, err = env.engine.ReconcileDirectory(ctx, trips.ID)
	require.NoError(t, err)
	faulty.failRead["Trips/b.jpg"] = true
	result, err = env.engine.ReconcileDirectory(ctx, trips.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Images.Removed)
	env.image(t, "Trips", "b.jpg")
}

func TestReconcileDirectory_RestoresDeletedRecords(t *testing.T) {
	env := newTestEnv(t, map[string]string{"Trips/Japan/a.jpg": "one"})
	ctx := context.Background()
	env.sync(t)
	trips := env.album(t, "Trips")
	japan := env.album(t, "Trips/Japan")
	a := env.image(t, "Trips/Japan", "a.jpg")

	hidden := filepath.Join(env.root, "hidden-japan")
	require.NoError(t, os.Rename(filepath.Join(env.root, "Trips/Japan"), hidden))
	_, err := env.engine.ReconcileDirectory(ctx, trips.ID)
	require.NoError(t, err)
	env.noAlbum(t, "Trips/Japan")

	require.NoError(t, os.Rename(hidden, filepath.Join(env.root, "Trips/Japan")))
	result, err := env.engine.ReconcileTree(ctx, trips.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{japan.ID}, result.Albums.Added)
	assert.Equal(t, []int64{a.ID}, result.Images.Added)
	assert.Equal(t, japan.ID, env.album(t, "Trips/Japan").ID)
	env.assertUnique(t)
}

func TestReconcilePath_CreatesAlbumFirst(t *testing.T) {
	env := newTestEnv(t, map[string]string{"Trips/Japan/a.jpg": "one"})
	ctx := context.Background()

	_, err := env.engine.ReconcileRoot(ctx)
	require.NoError(t, err)

	result, err := env.engine.ReconcilePath(ctx, filepath.Join(env.root, "Trips", "Japan"))
	require.NoError(t, err)
	japan := env.album(t, "Trips/Japan")
	assert.Equal(t, []int64{japan.ID}, result.Albums.Added)
	assert.Len(t, result.Images.Added, 1)

	result, err = env.engine.ReconcilePath(ctx, "Trips/Japan")
	require.NoError(t, err)
	assert.True(t, result.IsEmpty())

	_, err = env.engine.ReconcilePath(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestSyncLibrary_FullTreeAndRemovedRoots(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"Trips/Japan/a.jpg":          "one",
		"Trips/Japan/Tokyo/b.jpg":    "two",
		"People/_Family/Anna/c.jpg":  "three",
		"People/_Family/Anna/d.tiff": "four",
		"Archive/":                   "",
	})
	ctx := context.Background()

	result := env.sync(t)
	assert.Len(t, result.Albums.Added, 7)
	assert.Len(t, result.Images.Added, 4)

	family := env.album(t, "People/_Family")
	assert.Equal(t, "Family", family.DisplayName)

	types, err := env.repo.GetAlbumTypes(ctx)
	require.NoError(t, err)
	typeName := make(map[int64]string)
	for _, at := range types {
		typeName[at.ID] = at.Name
	}
	assert.Equal(t, "Container", typeName[*env.album(t, "People").TypeID])
	assert.Equal(t, "Group", typeName[*family.TypeID])
	assert.Equal(t, "Entity", typeName[*env.album(t, "People/_Family/Anna").TypeID])
	assert.Equal(t, "Entity", typeName[*env.album(t, "Trips/Japan").TypeID])
	assert.Equal(t, "Set", typeName[*env.album(t, "Trips/Japan/Tokyo").TypeID])

	assert.True(t, env.sync(t).IsEmpty())

	archive := env.album(t, "Archive")
	require.NoError(t, os.RemoveAll(filepath.Join(env.root, "Archive")))
	result = env.sync(t)
	assert.Equal(t, []int64{archive.ID}, result.Albums.Removed)

	trips := env.album(t, "Trips")
	japan := env.album(t, "Trips/Japan")
	tokyo := env.album(t, "Trips/Japan/Tokyo")
	a := env.image(t, "Trips/Japan", "a.jpg")
	b := env.image(t, "Trips/Japan/Tokyo", "b.jpg")
	require.NoError(t, os.RemoveAll(filepath.Join(env.root, "Trips")))
	result = env.sync(t)
	assert.ElementsMatch(t, []int64{trips.ID, japan.ID, tokyo.ID}, result.Albums.Removed)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, result.Images.Removed)
	env.assertUnique(t)
}

func TestSyncLibrary_ClassificationGapSkipsSubtree(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"Trips/Japan/Tokyo/Shibuya/a.jpg": "one",
	})

	env.sync(t)
	env.album(t, "Trips/Japan/Tokyo")
	env.noAlbum(t, "Trips/Japan/Tokyo/Shibuya")
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.SyncEntryErrors))
}

func TestSyncResult_Merge(t *testing.T) {
	a := NewSyncResult()
	a.Albums.Added = append(a.Albums.Added, 1)
	b := NewSyncResult()
	b.Images.Removed = append(b.Images.Removed, 2)

	a.Merge(b)
	a.Merge(nil)
	assert.Equal(t, []int64{1}, a.Albums.Added)
	assert.Equal(t, []int64{2}, a.Images.Removed)
	assert.Equal(t, 1, a.Images.Len())
	assert.False(t, a.IsEmpty())
	assert.True(t, NewSyncResult().IsEmpty())
}

func TestKeyOf(t *testing.T) {
	assert.Equal(t, directory.Key{Location: "Trips", Name: "Japan"}, keyOf("Trips/Japan"))
	assert.Equal(t, directory.Key{Location: "", Name: "Trips"}, keyOf("Trips"))
}
