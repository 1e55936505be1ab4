package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"phototree/internal/directory"
	"phototree/internal/models"
)

// ErrNotFound is returned by the Get* lookups when no live record matches
var ErrNotFound = gorm.ErrRecordNotFound

// Repository is the record store for albums, images and album types. Find*
// lookups return nil without an error when nothing matches.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository instance
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db: db,
	}
}

// Transaction runs fn against a repository bound to a single transaction.
// Only the repository passed to fn may be used until fn returns.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepository(tx))
	})
}

// Album type operations

// GetAlbumTypes returns every album type rule in precedence order
func (r *Repository) GetAlbumTypes(ctx context.Context) ([]models.AlbumType, error) {
	var types []models.AlbumType
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&types).Error; err != nil {
		return nil, fmt.Errorf("failed to load album types: %w", err)
	}
	return types, nil
}

// Album operations

func (r *Repository) GetAlbumByID(ctx context.Context, id int64) (*models.Album, error) {
	var album models.Album
	err := r.db.WithContext(ctx).Preload("Type").First(&album, id).Error
	if err != nil {
		return nil, err
	}
	return &album, nil
}

// FindAlbum returns the live album at key
func (r *Repository) FindAlbum(ctx context.Context, key directory.Key) (*models.Album, error) {
	var album models.Album
	err := r.db.WithContext(ctx).
		Where("location = ? AND name = ?", key.Location, key.Name).
		Take(&album).Error
	return found(&album, err)
}

// FindDeletedAlbum returns the most recently soft-deleted album at key
func (r *Repository) FindDeletedAlbum(ctx context.Context, key directory.Key) (*models.Album, error) {
	var album models.Album
	err := r.db.WithContext(ctx).Unscoped().
		Where("location = ? AND name = ? AND deleted_at IS NOT NULL", key.Location, key.Name).
		Order("deleted_at DESC").
		Take(&album).Error
	return found(&album, err)
}

func (r *Repository) CreateAlbum(ctx context.Context, album *models.Album) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(album).Error
}

// SaveAlbum writes every column of a live album
func (r *Repository) SaveAlbum(ctx context.Context, album *models.Album) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(album).Error
}

// RestoreAlbum clears the soft-delete marker and writes the album's fields
func (r *Repository) RestoreAlbum(ctx context.Context, album *models.Album) error {
	album.DeletedAt = gorm.DeletedAt{}
	return r.db.WithContext(ctx).Unscoped().Omit(clause.Associations).Save(album).Error
}

// DeleteAlbum soft-deletes an album
func (r *Repository) DeleteAlbum(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&models.Album{}, id).Error
}

// DeleteAlbumTree soft-deletes album, every live album stored below it and
// all of their images. It returns the ids of the deleted albums and images.
func (r *Repository) DeleteAlbumTree(ctx context.Context, album *models.Album) (albumIDs, imageIDs []int64, err error) {
	descendants, err := r.DescendantAlbums(ctx, album.Path())
	if err != nil {
		return nil, nil, err
	}

	albumIDs = make([]int64, 0, len(descendants)+1)
	albumIDs = append(albumIDs, album.ID)
	for _, a := range descendants {
		albumIDs = append(albumIDs, a.ID)
	}
	db := r.db.WithContext(ctx)
	imageIDs = []int64{}
	if err := db.Model(&models.Image{}).Where("album_id IN ?", albumIDs).Order("id ASC").Pluck("id", &imageIDs).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load images: %w", err)
	}
	if len(imageIDs) > 0 {
		if err := db.Where("id IN ?", imageIDs).Delete(&models.Image{}).Error; err != nil {
			return nil, nil, fmt.Errorf("failed to delete images: %w", err)
		}
	}
	if err := db.Where("id IN ?", albumIDs).Delete(&models.Album{}).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to delete albums: %w", err)
	}
	return albumIDs, imageIDs, nil
}

// RootAlbums returns the live albums directly under the library root
func (r *Repository) RootAlbums(ctx context.Context) ([]models.Album, error) {
	var albums []models.Album
	err := r.db.WithContext(ctx).
		Where("parent_id IS NULL AND location = ?", "").
		Order("name ASC, id ASC").
		Find(&albums).Error
	return albums, err
}

// ChildAlbums returns the live albums whose parent is parentID
func (r *Repository) ChildAlbums(ctx context.Context, parentID int64) ([]models.Album, error) {
	var albums []models.Album
	err := r.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("name ASC, id ASC").
		Find(&albums).Error
	return albums, err
}

// SiblingAlbums returns the albums sharing a parent with album, album included
func (r *Repository) SiblingAlbums(ctx context.Context, album *models.Album) ([]models.Album, error) {
	if album.ParentID == nil {
		return r.RootAlbums(ctx)
	}
	return r.ChildAlbums(ctx, *album.ParentID)
}

// AlbumsByIDs returns live albums by id, in the order of ids
func (r *Repository) AlbumsByIDs(ctx context.Context, ids []int64) ([]models.Album, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var albums []models.Album
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&albums).Error; err != nil {
		return nil, err
	}

	byID := make(map[int64]models.Album, len(albums))
	for _, a := range albums {
		byID[a.ID] = a
	}
	ordered := make([]models.Album, 0, len(albums))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			ordered = append(ordered, a)
		}
	}
	return ordered, nil
}

// AlbumsByKeys returns the live albums found at any of keys
func (r *Repository) AlbumsByKeys(ctx context.Context, keys []directory.Key) ([]models.Album, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	conds := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		conds = append(conds, "(location = ? AND name = ?)")
		args = append(args, k.Location, k.Name)
	}

	var albums []models.Album
	err := r.db.WithContext(ctx).
		Where("("+strings.Join(conds, " OR ")+")", args...).
		Find(&albums).Error
	return albums, err
}

// DescendantAlbums returns every live album whose location lies within
// albumPath, ordered shallowest first
func (r *Repository) DescendantAlbums(ctx context.Context, albumPath string) ([]models.Album, error) {
	var candidates []models.Album
	err := r.db.WithContext(ctx).
		Where("location = ? OR location LIKE ?", albumPath, albumPath+directory.Separator+"%").
		Order("location ASC, name ASC").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	// LIKE treats _ and % in names as wildcards
	albums := candidates[:0]
	for _, a := range candidates {
		if directory.IsWithin(a.Location, albumPath) {
			albums = append(albums, a)
		}
	}
	return albums, nil
}

// CountChildren returns the number of live albums and images held by albumID
func (r *Repository) CountChildren(ctx context.Context, albumID int64) (int64, int64, error) {
	var albums, images int64
	db := r.db.WithContext(ctx)
	if err := db.Model(&models.Album{}).Where("parent_id = ?", albumID).Count(&albums).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count child albums: %w", err)
	}
	if err := db.Model(&models.Image{}).Where("album_id = ?", albumID).Count(&images).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count images: %w", err)
	}
	return albums, images, nil
}

// Image operations

func (r *Repository) GetImageByID(ctx context.Context, id int64) (*models.Image, error) {
	var image models.Image
	err := r.db.WithContext(ctx).Preload("Album").First(&image, id).Error
	if err != nil {
		return nil, err
	}
	return &image, nil
}

// FindImage returns the live image named filename in albumID
func (r *Repository) FindImage(ctx context.Context, albumID int64, filename string) (*models.Image, error) {
	var image models.Image
	err := r.db.WithContext(ctx).
		Where("album_id = ? AND filename = ?", albumID, filename).
		Take(&image).Error
	return found(&image, err)
}

// FindDeletedImage returns the most recently soft-deleted image at the key
func (r *Repository) FindDeletedImage(ctx context.Context, albumID int64, filename string) (*models.Image, error) {
	var image models.Image
	err := r.db.WithContext(ctx).Unscoped().
		Where("album_id = ? AND filename = ? AND deleted_at IS NOT NULL", albumID, filename).
		Order("deleted_at DESC").
		Take(&image).Error
	return found(&image, err)
}

func (r *Repository) CreateImage(ctx context.Context, image *models.Image) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(image).Error
}

func (r *Repository) SaveImage(ctx context.Context, image *models.Image) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(image).Error
}

func (r *Repository) RestoreImage(ctx context.Context, image *models.Image) error {
	image.DeletedAt = gorm.DeletedAt{}
	return r.db.WithContext(ctx).Unscoped().Omit(clause.Associations).Save(image).Error
}

func (r *Repository) DeleteImage(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&models.Image{}, id).Error
}

// ImagesByAlbum returns the live images of albumID ordered by filename
func (r *Repository) ImagesByAlbum(ctx context.Context, albumID int64) ([]models.Image, error) {
	var images []models.Image
	err := r.db.WithContext(ctx).
		Where("album_id = ?", albumID).
		Order("filename ASC, id ASC").
		Find(&images).Error
	return images, err
}

// ImagesPage returns one page of albumID's live images with the total count
func (r *Repository) ImagesPage(ctx context.Context, albumID int64, offset, limit int) ([]models.Image, int64, error) {
	var total int64
	query := r.db.WithContext(ctx).Model(&models.Image{}).Where("album_id = ?", albumID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var images []models.Image
	err := r.db.WithContext(ctx).
		Where("album_id = ?", albumID).
		Order("filename ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&images).Error
	return images, total, err
}

// ImagesByIDs returns live images by id, in the order of ids
func (r *Repository) ImagesByIDs(ctx context.Context, ids []int64) ([]models.Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var images []models.Image
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&images).Error; err != nil {
		return nil, err
	}

	byID := make(map[int64]models.Image, len(images))
	for _, img := range images {
		byID[img.ID] = img
	}
	ordered := make([]models.Image, 0, len(images))
	for _, id := range ids {
		if img, ok := byID[id]; ok {
			ordered = append(ordered, img)
		}
	}
	return ordered, nil
}

func found[T any](record *T, err error) (*T, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}
