package library

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"phototree/internal/directory"
	"phototree/internal/filesystem"
	"phototree/internal/media"
	"phototree/internal/models"
	"phototree/internal/services"
)

// AlbumChanges lists album fields to update; nil fields are left alone
type AlbumChanges struct {
	Name     *string `json:"name,omitempty"`
	Location *string `json:"location,omitempty"`
	// ParentID moves the album below another album, 0 moves it to the root
	ParentID *int64  `json:"parent_id,omitempty"`
	Rating   *int    `json:"rating,omitempty" validate:"omitnil,min=1,max=5"`
	URL      *string `json:"url,omitempty" validate:"omitnil,max=1024"`
}

// ImageChanges lists image fields to update; nil fields are left alone
type ImageChanges struct {
	Filename *string `json:"filename,omitempty"`
	AlbumID  *int64  `json:"album_id,omitempty" validate:"omitnil,min=1"`
	Rating   *int    `json:"rating,omitempty" validate:"omitnil,min=0,max=5"`
	Ranking  *int    `json:"ranking,omitempty" validate:"omitnil,min=0"`
	CropX    *int    `json:"crop_x,omitempty" validate:"omitnil,min=0"`
	CropY    *int    `json:"crop_y,omitempty" validate:"omitnil,min=0"`
	CropW    *int    `json:"crop_w,omitempty" validate:"omitnil,min=0"`
	CropH    *int    `json:"crop_h,omitempty" validate:"omitnil,min=0"`
}

// AlbumContext is an album with its breadcrumb and neighbours
type AlbumContext struct {
	Album      *models.Album  `json:"album"`
	Ancestors  []models.Album `json:"ancestors"`
	PreviousID *int64         `json:"previous_id"`
	NextID     *int64         `json:"next_id"`
}

// UpdateAlbum applies changes to an album. Name and placement changes move
// the album's directory; the record only changes if the move succeeds.
func (e *Engine) UpdateAlbum(ctx context.Context, id int64, changes AlbumChanges) (album *models.Album, err error) {
	if err := e.validate.Struct(changes); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidChanges, err)
	}
	if changes.Name != nil {
		if err := validName(*changes.Name); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, end := e.startSpan(ctx, "update_album", id, "")
	defer func() {
		end(err)
		e.metrics.ObserveMutation("album", "update", err)
	}()

	album, err = e.getAlbum(ctx, e.store, id)
	if err != nil {
		return nil, err
	}
	if err := e.applyAlbumMutation(ctx, album, changes); err != nil {
		return nil, err
	}
	return album, nil
}

// UpdateImage applies changes to an image. Filename and album changes move
// the file; the record only changes if the move succeeds.
func (e *Engine) UpdateImage(ctx context.Context, id int64, changes ImageChanges) (image *models.Image, err error) {
	if err := e.validate.Struct(changes); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidChanges, err)
	}
	if changes.Filename != nil {
		if err := validImageName(*changes.Filename); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, end := e.startSpan(ctx, "update_image", 0, "")
	defer func() {
		end(err)
		e.metrics.ObserveMutation("image", "update", err)
	}()

	image, err = e.getImage(ctx, e.store, id)
	if err != nil {
		return nil, err
	}
	if err := e.applyImageMutation(ctx, image, changes); err != nil {
		return nil, err
	}
	return image, nil
}

// applyAlbumMutation resolves the album's new placement, checks the
// destination and then moves the directory inside the record transaction.
// On failure album is left as it was.
func (e *Engine) applyAlbumMutation(ctx context.Context, album *models.Album, changes AlbumChanges) error {
	oldPath := album.Path()
	name, location, parentID := album.Name, album.Location, album.ParentID
	if changes.Name != nil {
		name = *changes.Name
	}

	switch {
	case changes.ParentID != nil && !sameParent(*changes.ParentID, album.ParentID):
		derived := ""
		parentID = nil
		if *changes.ParentID != 0 {
			parent, err := e.getAlbum(ctx, e.store, *changes.ParentID)
			if err != nil {
				return err
			}
			if directory.IsWithin(parent.Path(), oldPath) {
				return fmt.Errorf("%w: cannot move %s into %s", ErrInconsistentMove, oldPath, parent.Path())
			}
			derived = parent.Path()
			parentID = &parent.ID
		}
		if changes.Location != nil && cleanLocation(*changes.Location) != derived {
			return fmt.Errorf("%w: location %q but parent is at %q", ErrInconsistentMove, *changes.Location, derived)
		}
		location = derived

	case changes.Location != nil && cleanLocation(*changes.Location) != album.Location:
		location = cleanLocation(*changes.Location)
		parentID = nil
		if location != "" {
			if directory.IsWithin(location, oldPath) {
				return fmt.Errorf("%w: cannot move %s into %s", ErrInconsistentMove, oldPath, location)
			}
			parent, err := e.store.FindAlbum(ctx, keyOf(location))
			if err != nil {
				return err
			}
			if parent == nil {
				return fmt.Errorf("%w: %s", ErrOrphanedLocation, location)
			}
			parentID = &parent.ID
		}
	}

	before := *album
	if changes.Rating != nil {
		album.Rating = changes.Rating
	}
	if changes.URL != nil {
		album.URL = *changes.URL
	}

	newPath := directory.Join(location, name)
	if newPath == oldPath {
		album.ParentID = parentID
		if err := e.store.SaveAlbum(ctx, album); err != nil {
			*album = before
			return err
		}
		return nil
	}

	key := directory.Key{Location: location, Name: name}
	existing, err := e.store.FindAlbum(ctx, key)
	if err != nil {
		*album = before
		return err
	}
	if existing != nil && existing.ID != album.ID {
		*album = before
		return fmt.Errorf("%w: album %s", ErrDestinationExists, newPath)
	}
	if err := e.checkDisk(ctx, newPath); err != nil {
		*album = before
		return err
	}

	album.Name, album.Location, album.ParentID = name, location, parentID
	err = e.commitWithRename(ctx, oldPath, newPath, func(tx *services.Repository) error {
		descendants, err := tx.DescendantAlbums(ctx, oldPath)
		if err != nil {
			return err
		}
		if err := tx.SaveAlbum(ctx, album); err != nil {
			return err
		}
		for i := range descendants {
			loc, ok := directory.ReplacePrefix(descendants[i].Location, oldPath, newPath)
			if !ok {
				continue
			}
			descendants[i].Location = loc
			if err := tx.SaveAlbum(ctx, &descendants[i]); err != nil {
				return fmt.Errorf("failed to relocate %s: %w", descendants[i].Path(), err)
			}
		}
		return nil
	})
	if err != nil {
		*album = before
		return err
	}
	return nil
}

// applyImageMutation is the image counterpart of applyAlbumMutation
func (e *Engine) applyImageMutation(ctx context.Context, image *models.Image, changes ImageChanges) error {
	album, err := e.getAlbum(ctx, e.store, image.AlbumID)
	if err != nil {
		return err
	}
	oldPath := imagePath(album, image.Filename)

	filename, target := image.Filename, album
	if changes.Filename != nil {
		filename = *changes.Filename
	}
	if changes.AlbumID != nil && *changes.AlbumID != image.AlbumID {
		if target, err = e.getAlbum(ctx, e.store, *changes.AlbumID); err != nil {
			return err
		}
	}

	before := *image
	applyImageFields(image, changes)

	newPath := imagePath(target, filename)
	if newPath == oldPath {
		if err := e.store.SaveImage(ctx, image); err != nil {
			*image = before
			return err
		}
		return nil
	}

	existing, err := e.store.FindImage(ctx, target.ID, filename)
	if err != nil {
		*image = before
		return err
	}
	if existing != nil && existing.ID != image.ID {
		*image = before
		return fmt.Errorf("%w: image %s", ErrDestinationExists, newPath)
	}
	if err := e.checkDisk(ctx, newPath); err != nil {
		*image = before
		return err
	}

	image.Filename, image.AlbumID, image.Album = filename, target.ID, target
	err = e.commitWithRename(ctx, oldPath, newPath, func(tx *services.Repository) error {
		return tx.SaveImage(ctx, image)
	})
	if err != nil {
		*image = before
		return err
	}
	return nil
}

func applyImageFields(image *models.Image, changes ImageChanges) {
	if changes.Rating != nil {
		image.Rating = changes.Rating
	}
	if changes.Ranking != nil {
		image.Ranking = changes.Ranking
	}
	if changes.CropX != nil {
		image.CropX = changes.CropX
	}
	if changes.CropY != nil {
		image.CropY = changes.CropY
	}
	if changes.CropW != nil {
		image.CropW = changes.CropW
	}
	if changes.CropH != nil {
		image.CropH = changes.CropH
	}
}

// checkDisk fails with ErrDestinationExists when anything is already at p
func (e *Engine) checkDisk(ctx context.Context, p string) error {
	exists, err := e.fs.Exists(ctx, p)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s is present on disk", ErrDestinationExists, p)
	}
	return nil
}

// commitWithRename runs fn in a transaction and renames oldPath to newPath
// before the transaction commits. A failed rename rolls the records back; a
// failed commit moves the entry back to oldPath.
func (e *Engine) commitWithRename(ctx context.Context, oldPath, newPath string, fn func(tx *services.Repository) error) error {
	renamed := false
	err := e.store.Transaction(ctx, func(tx *services.Repository) error {
		if err := fn(tx); err != nil {
			return err
		}
		if err := e.fs.Rename(ctx, oldPath, newPath); err != nil {
			switch {
			case errors.Is(err, filesystem.ErrExist):
				return fmt.Errorf("%w: %s", ErrDestinationExists, newPath)
			case errors.Is(err, filesystem.ErrNotExist):
				return fmt.Errorf("%w: %s: %w", ErrNotFoundOnDisk, oldPath, err)
			}
			return fmt.Errorf("failed to move %s to %s: %w", oldPath, newPath, err)
		}
		renamed = true
		return nil
	})

	if err != nil && renamed {
		if rerr := e.fs.Rename(context.WithoutCancel(ctx), newPath, oldPath); rerr != nil {
			e.logger.WithContext(ctx).Error().
				Err(rerr).
				Str("from", newPath).
				Str("to", oldPath).
				Msg("Failed to move entry back after aborted commit")
		}
	}
	return err
}

// DeleteAlbum soft-deletes an empty album and removes its directory
func (e *Engine) DeleteAlbum(ctx context.Context, id int64) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, end := e.startSpan(ctx, "delete_album", id, "")
	defer func() {
		end(err)
		e.metrics.ObserveMutation("album", "delete", err)
	}()

	album, err := e.getAlbum(ctx, e.store, id)
	if err != nil {
		return err
	}

	albums, images, err := e.store.CountChildren(ctx, album.ID)
	if err != nil {
		return err
	}
	if albums+images > 0 {
		return fmt.Errorf("%w: %s holds %d albums and %d images", ErrAlbumNotEmpty, album.Path(), albums, images)
	}

	return e.commitWithRemoval(ctx, album.Path(), e.fs.RemoveEmptyDirectory, func(tx *services.Repository) error {
		return tx.DeleteAlbum(ctx, album.ID)
	})
}

// DeleteImage soft-deletes an image and removes its file
func (e *Engine) DeleteImage(ctx context.Context, id int64) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, end := e.startSpan(ctx, "delete_image", 0, "")
	defer func() {
		end(err)
		e.metrics.ObserveMutation("image", "delete", err)
	}()

	image, err := e.getImage(ctx, e.store, id)
	if err != nil {
		return err
	}
	album, err := e.getAlbum(ctx, e.store, image.AlbumID)
	if err != nil {
		return err
	}

	return e.commitWithRemoval(ctx, imagePath(album, image.Filename), e.fs.Remove, func(tx *services.Repository) error {
		return tx.DeleteImage(ctx, image.ID)
	})
}

// commitWithRemoval runs fn in a transaction and removes p before the
// transaction commits. A commit that fails after the removal leaves a live
// record with nothing on disk and is logged.
func (e *Engine) commitWithRemoval(ctx context.Context, p string, remove func(context.Context, string) error, fn func(tx *services.Repository) error) error {
	removed := false
	err := e.store.Transaction(ctx, func(tx *services.Repository) error {
		if err := fn(tx); err != nil {
			return err
		}
		if err := e.removeFromDisk(ctx, p, remove); err != nil {
			return err
		}
		removed = true
		return nil
	})

	if err != nil && removed {
		e.logger.WithContext(ctx).Error().
			Err(err).
			Str("path", p).
			Msg("Entry removed from disk but record delete did not commit")
	}
	return err
}

func (e *Engine) removeFromDisk(ctx context.Context, p string, remove func(context.Context, string) error) error {
	err := remove(ctx, p)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, filesystem.ErrNotExist):
		e.logger.WithContext(ctx).Warn().Str("path", p).Msg("Entry already missing from disk")
		return nil
	case errors.Is(err, filesystem.ErrNotEmpty):
		return fmt.Errorf("%w: directory %s still holds files", ErrAlbumNotEmpty, p)
	default:
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
}

// CreateAlbumFromPath creates the album for an existing directory. When
// parentID is nil the parent is resolved from the path.
func (e *Engine) CreateAlbumFromPath(ctx context.Context, p string, parentID *int64) (album *models.Album, err error) {
	key, err := e.parsePath(p)
	if err != nil {
		return nil, err
	}
	if err := validName(key.Name); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, end := e.startSpan(ctx, "create_album", 0, key.Path())
	defer func() {
		end(err)
		e.metrics.ObserveMutation("album", "create", err)
	}()

	var parent *models.Album
	if parentID != nil {
		if parent, err = e.getAlbum(ctx, e.store, *parentID); err != nil {
			return nil, err
		}
		if parent.Path() != key.Location {
			return nil, fmt.Errorf("%w: %s is not below %s", ErrInconsistentMove, key.Path(), parent.Path())
		}
	}
	return e.createAlbum(ctx, e.store, key, parent)
}

// CreateImageFromPath creates the image record for an existing file. When
// albumID is nil the album is resolved from the path.
func (e *Engine) CreateImageFromPath(ctx context.Context, p string, albumID *int64) (image *models.Image, err error) {
	key, err := e.parsePath(p)
	if err != nil {
		return nil, err
	}
	if err := validImageName(key.Name); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, end := e.startSpan(ctx, "create_image", 0, key.Path())
	defer func() {
		end(err)
		e.metrics.ObserveMutation("image", "create", err)
	}()

	var album *models.Album
	switch {
	case albumID != nil:
		if album, err = e.getAlbum(ctx, e.store, *albumID); err != nil {
			return nil, err
		}
		if album.Path() != key.Location {
			return nil, fmt.Errorf("%w: %s is not in %s", ErrInconsistentMove, key.Path(), album.Path())
		}
	case key.Location == "":
		return nil, fmt.Errorf("%w: images must belong to an album", ErrOrphanedLocation)
	default:
		if album, err = e.store.FindAlbum(ctx, keyOf(key.Location)); err != nil {
			return nil, err
		}
		if album == nil {
			return nil, fmt.Errorf("%w: %s", ErrOrphanedLocation, key.Location)
		}
	}

	info, err := media.Probe(ctx, e.fs, key.Path())
	if err != nil {
		if errors.Is(err, filesystem.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %w", ErrNotFoundOnDisk, key.Path(), err)
		}
		return nil, err
	}
	return e.createImage(ctx, e.store, album, key.Name, info)
}

// Ancestors returns the albums above albumID, root first
func (e *Engine) Ancestors(ctx context.Context, albumID int64) ([]models.Album, error) {
	album, err := e.getAlbum(ctx, e.store, albumID)
	if err != nil {
		return nil, err
	}
	return e.ancestors(ctx, album)
}

func (e *Engine) ancestors(ctx context.Context, album *models.Album) ([]models.Album, error) {
	keys := directory.Ancestors(album.Location)
	found, err := e.store.AlbumsByKeys(ctx, keys)
	if err != nil {
		return nil, err
	}

	byPath := make(map[string]models.Album, len(found))
	for _, a := range found {
		byPath[a.Path()] = a
	}
	ancestors := make([]models.Album, 0, len(keys))
	for _, k := range keys {
		if a, ok := byPath[k.Path()]; ok {
			ancestors = append(ancestors, a)
		}
	}
	return ancestors, nil
}

// AlbumContext returns an album with its ancestors and the ids of its
// previous and next siblings by name
func (e *Engine) AlbumContext(ctx context.Context, albumID int64) (*AlbumContext, error) {
	album, err := e.getAlbum(ctx, e.store, albumID)
	if err != nil {
		return nil, err
	}
	ancestors, err := e.ancestors(ctx, album)
	if err != nil {
		return nil, err
	}
	siblings, err := e.store.SiblingAlbums(ctx, album)
	if err != nil {
		return nil, err
	}

	result := &AlbumContext{Album: album, Ancestors: ancestors}
	for i, s := range siblings {
		if s.ID != album.ID {
			continue
		}
		if i > 0 {
			prev := siblings[i-1].ID
			result.PreviousID = &prev
		}
		if i < len(siblings)-1 {
			next := siblings[i+1].ID
			result.NextID = &next
		}
		break
	}
	return result, nil
}

func validImageName(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if !media.IsImageFile(name) {
		return fmt.Errorf("%w: %q is not an image file", ErrInvalidName, name)
	}
	return nil
}

func sameParent(id int64, current *int64) bool {
	if current == nil {
		return id == 0
	}
	return *current == id
}

func cleanLocation(location string) string {
	return strings.Trim(directory.Normalize(location), directory.Separator)
}
