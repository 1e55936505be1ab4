package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"phototree/internal/directory"
	"phototree/internal/media"
	"phototree/internal/models"
	"phototree/internal/services"
)

// ChangeSet lists the record ids affected by a reconcile
type ChangeSet struct {
	Added   []int64 `json:"added" yaml:"added"`
	Updated []int64 `json:"updated" yaml:"updated"`
	Removed []int64 `json:"removed" yaml:"removed"`
}

func newChangeSet() ChangeSet {
	return ChangeSet{Added: []int64{}, Updated: []int64{}, Removed: []int64{}}
}

// Len returns the total number of changes
func (c ChangeSet) Len() int {
	return len(c.Added) + len(c.Updated) + len(c.Removed)
}

func (c *ChangeSet) merge(o ChangeSet) {
	c.Added = append(c.Added, o.Added...)
	c.Updated = append(c.Updated, o.Updated...)
	c.Removed = append(c.Removed, o.Removed...)
}

// SyncResult summarizes a reconcile per record kind
type SyncResult struct {
	Albums ChangeSet `json:"albums" yaml:"albums"`
	Images ChangeSet `json:"images" yaml:"images"`
}

// NewSyncResult returns an empty result
func NewSyncResult() *SyncResult {
	return &SyncResult{Albums: newChangeSet(), Images: newChangeSet()}
}

// Merge appends the changes of o
func (r *SyncResult) Merge(o *SyncResult) {
	if o == nil {
		return
	}
	r.Albums.merge(o.Albums)
	r.Images.merge(o.Images)
}

// IsEmpty reports whether nothing changed
func (r *SyncResult) IsEmpty() bool {
	return r.Albums.Len() == 0 && r.Images.Len() == 0
}

// ReconcileRoot creates an album for every top-level directory not yet
// known. Directories that already have an album or match no type rule are
// skipped silently.
func (e *Engine) ReconcileRoot(ctx context.Context) (*SyncResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.observe(ctx, "reconcile_root", "", 0, e.reconcileRoot)
}

// ReconcileDirectory diffs an album's directory against its known children
// and adds, updates and removes child records to match.
func (e *Engine) ReconcileDirectory(ctx context.Context, albumID int64) (*SyncResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	album, err := e.getAlbum(ctx, e.store, albumID)
	if err != nil {
		return nil, err
	}
	return e.observe(ctx, "reconcile_directory", album.Path(), album.ID, func(ctx context.Context) (*SyncResult, error) {
		return e.reconcileAlbum(ctx, album)
	})
}

// ReconcilePath reconciles the album at p, creating its record first when
// the directory is not known yet.
func (e *Engine) ReconcilePath(ctx context.Context, p string) (*SyncResult, error) {
	key, err := e.parsePath(p)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.observe(ctx, "reconcile_path", key.Path(), 0, func(ctx context.Context) (*SyncResult, error) {
		result := NewSyncResult()
		album, err := e.store.FindAlbum(ctx, key)
		if err != nil {
			return nil, err
		}
		if album == nil {
			if album, err = e.createAlbum(ctx, e.store, key, nil); err != nil {
				return nil, err
			}
			result.Albums.Added = append(result.Albums.Added, album.ID)
		}

		sub, err := e.reconcileAlbum(ctx, album)
		if err != nil {
			return nil, err
		}
		result.Merge(sub)
		return result, nil
	})
}

// ReconcileTree reconciles an album and then every album below it
func (e *Engine) ReconcileTree(ctx context.Context, albumID int64) (*SyncResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	album, err := e.getAlbum(ctx, e.store, albumID)
	if err != nil {
		return nil, err
	}
	return e.observe(ctx, "reconcile_tree", album.Path(), album.ID, func(ctx context.Context) (*SyncResult, error) {
		return e.reconcileTree(ctx, album)
	})
}

// SyncLibrary reconciles the whole library: new top-level directories are
// added, root albums whose directory is gone are removed and every
// remaining album is reconciled depth first.
func (e *Engine) SyncLibrary(ctx context.Context) (*SyncResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.observe(ctx, "sync_library", "", 0, func(ctx context.Context) (*SyncResult, error) {
		result, err := e.reconcileRoot(ctx)
		if err != nil {
			return nil, err
		}

		roots, err := e.store.RootAlbums(ctx)
		if err != nil {
			return nil, err
		}
		log := e.logger.WithContext(ctx)
		for i := range roots {
			root := &roots[i]
			exists, err := e.fs.Exists(ctx, root.Path())
			if err != nil {
				e.skipEntry(log, root.Path(), err)
				continue
			}
			if !exists {
				if err := e.removeAlbumTree(ctx, root, result); err != nil {
					e.skipEntry(log, root.Path(), err)
				}
				continue
			}

			sub, err := e.reconcileTree(ctx, root)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				e.skipEntry(log, root.Path(), err)
				continue
			}
			result.Merge(sub)
		}
		return result, nil
	})
}

// observe wraps a reconcile with tracing, metrics and a summary log line
func (e *Engine) observe(ctx context.Context, operation, target string, albumID int64, fn func(context.Context) (*SyncResult, error)) (*SyncResult, error) {
	ctx, end := e.startSpan(ctx, operation, albumID, target)
	start := time.Now()

	result, err := fn(ctx)
	end(err)
	e.metrics.ObserveSync(operation, start, err)
	if err != nil {
		return nil, err
	}

	e.metrics.AddChanges("albums", len(result.Albums.Added), len(result.Albums.Updated), len(result.Albums.Removed))
	e.metrics.AddChanges("images", len(result.Images.Added), len(result.Images.Updated), len(result.Images.Removed))
	if target == "" {
		target = directory.Separator
	}
	e.logger.LogSync(target,
		len(result.Albums.Added)+len(result.Images.Added),
		len(result.Albums.Updated)+len(result.Images.Updated),
		len(result.Albums.Removed)+len(result.Images.Removed),
		time.Since(start))
	return result, nil
}

func (e *Engine) reconcileRoot(ctx context.Context) (*SyncResult, error) {
	entries, err := e.fs.ListDirectory(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("%w: library root: %w", ErrNotFoundOnDisk, err)
	}

	result := NewSyncResult()
	log := e.logger.WithContext(ctx)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDirectory || directory.IsExcluded(entry.Name) {
			continue
		}

		album, err := e.createAlbum(ctx, e.store, directory.Key{Name: entry.Name}, nil)
		switch {
		case err == nil:
			result.Albums.Added = append(result.Albums.Added, album.ID)
		case errors.Is(err, ErrAlbumExists), errors.Is(err, directory.ErrNoMatchingType):
		default:
			e.skipEntry(log, entry.Name, err)
		}
	}
	return result, nil
}

func (e *Engine) reconcileTree(ctx context.Context, album *models.Album) (*SyncResult, error) {
	result, err := e.reconcileAlbum(ctx, album)
	if err != nil {
		return nil, err
	}

	children, err := e.store.ChildAlbums(ctx, album.ID)
	if err != nil {
		return nil, err
	}
	log := e.logger.WithContext(ctx)
	for i := range children {
		sub, err := e.reconcileTree(ctx, &children[i])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.skipEntry(log, children[i].Path(), err)
			continue
		}
		result.Merge(sub)
	}
	return result, nil
}

type probeResult struct {
	info media.ImageInfo
	err  error
}

// reconcileAlbum applies the difference between an album's directory and
// its known children. Nothing is written when the directory cannot be read.
func (e *Engine) reconcileAlbum(ctx context.Context, album *models.Album) (*SyncResult, error) {
	dir := album.Path()
	entries, err := e.fs.ListDirectory(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotFoundOnDisk, dir, err)
	}

	children, err := e.store.ChildAlbums(ctx, album.ID)
	if err != nil {
		return nil, err
	}
	images, err := e.store.ImagesByAlbum(ctx, album.ID)
	if err != nil {
		return nil, err
	}

	knownAlbums := make(map[string]*models.Album, len(children))
	for i := range children {
		knownAlbums[children[i].Name] = &children[i]
	}
	knownImages := make(map[string]*models.Image, len(images))
	for i := range images {
		knownImages[images[i].Filename] = &images[i]
	}

	result := NewSyncResult()
	log := e.logger.WithContext(ctx)

	var files []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if directory.IsExcluded(entry.Name) {
			continue
		}
		if entry.IsDirectory {
			known := knownAlbums[entry.Name]
			delete(knownAlbums, entry.Name)
			if err := e.reconcileChildAlbum(ctx, album, entry.Name, known, result); err != nil {
				e.skipEntry(log, directory.Join(dir, entry.Name), err)
			}
			continue
		}
		if media.IsImageFile(entry.Name) {
			files = append(files, entry.Name)
		}
	}

	probes := e.probeImages(ctx, dir, files)
	for i, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		known := knownImages[name]
		delete(knownImages, name)
		if probes[i].err != nil {
			e.skipEntry(log, directory.Join(dir, name), probes[i].err)
			continue
		}
		if err := e.reconcileImage(ctx, album, name, known, probes[i].info, result); err != nil {
			e.skipEntry(log, directory.Join(dir, name), err)
		}
	}

	for i := range children {
		child := &children[i]
		if _, stale := knownAlbums[child.Name]; !stale {
			continue
		}
		exists, err := e.fs.Exists(ctx, child.Path())
		if err != nil {
			e.skipEntry(log, child.Path(), err)
			continue
		}
		if exists {
			log.Warn().Str("path", child.Path()).Msg("Album path is no longer a directory, keeping record")
			continue
		}
		if err := e.removeAlbumTree(ctx, child, result); err != nil {
			e.skipEntry(log, child.Path(), err)
		}
	}

	for i := range images {
		img := &images[i]
		if _, stale := knownImages[img.Filename]; !stale {
			continue
		}
		if err := e.store.DeleteImage(ctx, img.ID); err != nil {
			e.skipEntry(log, directory.Join(dir, img.Filename), err)
			continue
		}
		result.Images.Removed = append(result.Images.Removed, img.ID)
	}

	return result, nil
}

func (e *Engine) reconcileChildAlbum(ctx context.Context, parent *models.Album, name string, known *models.Album, result *SyncResult) error {
	if known == nil {
		child, err := e.createAlbum(ctx, e.store, directory.Key{Location: parent.Path(), Name: name}, parent)
		if err != nil {
			return err
		}
		result.Albums.Added = append(result.Albums.Added, child.ID)
		return nil
	}

	info, err := e.fs.Stat(ctx, known.Path())
	if err != nil {
		return err
	}
	created, modified := timestamp(info.CreatedAt), timestamp(info.ModifiedAt)
	if known.CreatedAt.Equal(created) && known.ModifiedAt.Equal(modified) {
		return nil
	}

	known.CreatedAt, known.ModifiedAt = created, modified
	if err := e.store.SaveAlbum(ctx, known); err != nil {
		return err
	}
	result.Albums.Updated = append(result.Albums.Updated, known.ID)
	return nil
}

func (e *Engine) reconcileImage(ctx context.Context, album *models.Album, name string, known *models.Image, info media.ImageInfo, result *SyncResult) error {
	if known == nil {
		img, err := e.createImage(ctx, e.store, album, name, info)
		if err != nil {
			return err
		}
		result.Images.Added = append(result.Images.Added, img.ID)
		return nil
	}

	if known.Checksum == info.Checksum &&
		known.Filesize == info.Filesize &&
		known.ModifiedAt.Equal(timestamp(info.ModifiedAt)) {
		return nil
	}

	applyProbe(known, info)
	if err := e.store.SaveImage(ctx, known); err != nil {
		return err
	}
	result.Images.Updated = append(result.Images.Updated, known.ID)
	return nil
}

// probeImages reads the given files concurrently. Record writes stay on the
// caller's goroutine.
func (e *Engine) probeImages(ctx context.Context, dir string, files []string) []probeResult {
	results := make([]probeResult, len(files))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, name := range files {
		g.Go(func() error {
			info, err := media.Probe(ctx, e.fs, directory.Join(dir, name))
			results[i] = probeResult{info: info, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// createAlbum creates the record for the directory at key, reviving a
// soft-deleted record with the same key when one exists. When parent is nil
// it is resolved from the key's location.
func (e *Engine) createAlbum(ctx context.Context, store *services.Repository, key directory.Key, parent *models.Album) (*models.Album, error) {
	p := key.Path()
	info, err := e.fs.Stat(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotFoundOnDisk, p, err)
	}
	if !info.IsDirectory {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, p)
	}

	albumType, err := e.classify(ctx, store, p)
	if err != nil {
		return nil, err
	}

	existing, err := store.FindAlbum(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlbumExists, p)
	}

	if parent == nil && key.Location != "" {
		parent, err = store.FindAlbum(ctx, keyOf(key.Location))
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, fmt.Errorf("%w: %s", ErrOrphanedLocation, key.Location)
		}
	}

	var parentID *int64
	if parent != nil {
		id := parent.ID
		parentID = &id
	}
	typeID := albumType.ID

	album, err := store.FindDeletedAlbum(ctx, key)
	if err != nil {
		return nil, err
	}
	if album != nil {
		album.TypeID = &typeID
		album.ParentID = parentID
		album.CreatedAt = timestamp(info.CreatedAt)
		album.ModifiedAt = timestamp(info.ModifiedAt)
		if err := store.RestoreAlbum(ctx, album); err != nil {
			return nil, fmt.Errorf("failed to restore album %s: %w", p, err)
		}
		return album, nil
	}

	album = &models.Album{
		Name:       key.Name,
		Location:   key.Location,
		TypeID:     &typeID,
		ParentID:   parentID,
		CreatedAt:  timestamp(info.CreatedAt),
		ModifiedAt: timestamp(info.ModifiedAt),
	}
	if err := store.CreateAlbum(ctx, album); err != nil {
		return nil, fmt.Errorf("failed to create album %s: %w", p, err)
	}
	return album, nil
}

// createImage creates the record for a probed file, reviving a soft-deleted
// record with the same key when one exists.
func (e *Engine) createImage(ctx context.Context, store *services.Repository, album *models.Album, filename string, info media.ImageInfo) (*models.Image, error) {
	existing, err := store.FindImage(ctx, album.ID, filename)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrImageExists, imagePath(album, filename))
	}

	img, err := store.FindDeletedImage(ctx, album.ID, filename)
	if err != nil {
		return nil, err
	}
	if img != nil {
		applyProbe(img, info)
		img.CreatedAt = timestamp(info.CreatedAt)
		if err := store.RestoreImage(ctx, img); err != nil {
			return nil, fmt.Errorf("failed to restore image %s: %w", imagePath(album, filename), err)
		}
		return img, nil
	}

	img = &models.Image{
		Filename:  filename,
		AlbumID:   album.ID,
		CreatedAt: timestamp(info.CreatedAt),
	}
	applyProbe(img, info)
	if err := store.CreateImage(ctx, img); err != nil {
		return nil, fmt.Errorf("failed to create image %s: %w", imagePath(album, filename), err)
	}
	return img, nil
}

func applyProbe(img *models.Image, info media.ImageInfo) {
	img.Checksum = info.Checksum
	img.Filesize = info.Filesize
	img.Width = info.Width
	img.Height = info.Height
	img.Resolution = info.Resolution()
	img.Format = info.Format
	img.ModifiedAt = timestamp(info.ModifiedAt)
}

func (e *Engine) skipEntry(log *zerolog.Logger, p string, err error) {
	log.Warn().Err(err).Str("path", p).Msg("Skipping entry that could not be reconciled")
	e.metrics.EntrySkipped()
}

// keyOf splits a stored location into the key of the album it names
func keyOf(location string) directory.Key {
	key, _ := directory.Parse(location, "")
	return key
}

func (e *Engine) parsePath(p string) (directory.Key, error) {
	key, err := directory.Parse(p, e.rootPath)
	if err != nil {
		return directory.Key{}, fmt.Errorf("%w: %w", ErrInvalidPath, err)
	}
	return key, nil
}

// removeAlbumTree soft-deletes an album gone from disk together with its
// subtree and records every deleted id in result
func (e *Engine) removeAlbumTree(ctx context.Context, album *models.Album, result *SyncResult) error {
	albumIDs, imageIDs, err := e.store.DeleteAlbumTree(ctx, album)
	if err != nil {
		return err
	}
	result.Albums.Removed = append(result.Albums.Removed, albumIDs...)
	result.Images.Removed = append(result.Images.Removed, imageIDs...)
	return nil
}
