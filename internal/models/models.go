package models

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AlbumType represents the album_types table. Types are evaluated in id
// order against an album's full path; the first match wins.
type AlbumType struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string `gorm:"size:255;uniqueIndex;not null" json:"name"`
	PluralName string `gorm:"size:255;uniqueIndex;not null" json:"plural_name"`
	PathMatch  string `gorm:"size:512;not null" json:"-"`
	Container  bool   `gorm:"default:false" json:"container"`
}

func (AlbumType) TableName() string {
	return "album_types"
}

// Album represents the albums table
type Album struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	APIKey      uuid.UUID      `gorm:"type:uuid;uniqueIndex" json:"api_key"`
	Name        string         `gorm:"size:255;not null;uniqueIndex:idx_albums_name_location,where:deleted_at IS NULL" json:"name"`
	DisplayName string         `gorm:"size:255;not null" json:"display_name"`
	Location    string         `gorm:"size:2048;not null;default:'';index;uniqueIndex:idx_albums_name_location,where:deleted_at IS NULL" json:"location"`
	Rating      *int           `json:"rating"`
	URL         string         `gorm:"size:1024" json:"url,omitempty"`
	TypeID      *int64         `gorm:"index" json:"type_id"`
	ParentID    *int64         `gorm:"index" json:"parent_id"`
	CreatedAt   time.Time      `json:"created_at"`
	ModifiedAt  time.Time      `json:"modified_at"` // filesystem mtime; UpdatedAt is the record's own
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Type *AlbumType `gorm:"foreignKey:TypeID" json:"type,omitempty"`
}

func (Album) TableName() string {
	return "albums"
}

// Path returns the album's full library-relative path
func (a *Album) Path() string {
	if a.IsRoot() {
		return a.Name
	}
	return path.Join(a.Location, a.Name)
}

// IsRoot reports whether the album sits directly under the library root
func (a *Album) IsRoot() bool {
	return a.Location == ""
}

// BeforeCreate sets the API key before creating an album
func (a *Album) BeforeCreate(tx *gorm.DB) error {
	if a.APIKey == uuid.Nil {
		a.APIKey = uuid.New()
	}
	return nil
}

// BeforeSave keeps DisplayName and Location in their canonical form
func (a *Album) BeforeSave(tx *gorm.DB) error {
	a.DisplayName = DisplayNameFor(a.Name)
	a.Location = strings.Trim(strings.ReplaceAll(a.Location, `\`, "/"), "/")
	return nil
}

// DisplayNameFor strips the leading underscore used to mark group albums
func DisplayNameFor(name string) string {
	return strings.TrimPrefix(name, "_")
}

// Image represents the images table
type Image struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	APIKey     uuid.UUID      `gorm:"type:uuid;uniqueIndex" json:"api_key"`
	Filename   string         `gorm:"size:255;not null;index;uniqueIndex:idx_images_album_filename,where:deleted_at IS NULL" json:"filename"`
	Checksum   string         `gorm:"size:64" json:"-"`
	Format     string         `gorm:"size:1" json:"format"` // 'l' landscape, 'p' portrait
	Width      int            `gorm:"not null;default:0" json:"width"`
	Height     int            `gorm:"not null;default:0" json:"height"`
	Resolution int64          `gorm:"not null;default:0" json:"resolution"`
	Filesize   int64          `gorm:"not null;default:0" json:"filesize"`
	Rating     *int           `json:"rating"`
	Ranking    *int           `json:"ranking,omitempty"` // rank within album
	CropX      *int           `json:"crop_x"`
	CropY      *int           `json:"crop_y"`
	CropW      *int           `json:"crop_w"`
	CropH      *int           `json:"crop_h"`
	AlbumID    int64          `gorm:"not null;index;uniqueIndex:idx_images_album_filename,where:deleted_at IS NULL" json:"album_id"`
	CreatedAt  time.Time      `json:"created_at"`
	ModifiedAt time.Time      `json:"modified_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Album *Album `gorm:"foreignKey:AlbumID" json:"album,omitempty"`
}

func (Image) TableName() string {
	return "images"
}

// BeforeCreate sets the API key before creating an image
func (i *Image) BeforeCreate(tx *gorm.DB) error {
	if i.APIKey == uuid.Nil {
		i.APIKey = uuid.New()
	}
	return nil
}

// Tag represents the tags table
type Tag struct {
	ID   int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string `gorm:"size:255;uniqueIndex;not null" json:"name"`
}

func (Tag) TableName() string {
	return "tags"
}

// AlbumTag is an edge between an album and a tag
type AlbumTag struct {
	AlbumID int64 `gorm:"primaryKey" json:"album_id"`
	TagID   int64 `gorm:"primaryKey" json:"tag_id"`
}

func (AlbumTag) TableName() string {
	return "album_tags"
}

// ImageTag is an edge between an image and a tag
type ImageTag struct {
	ImageID int64 `gorm:"primaryKey" json:"image_id"`
	TagID   int64 `gorm:"primaryKey" json:"tag_id"`
}

func (ImageTag) TableName() string {
	return "image_tags"
}

// RelatedAlbum is a directed edge between two albums. Aliases are stored as
// a pair of edges with RelationType "alias".
type RelatedAlbum struct {
	SourceID     int64  `gorm:"primaryKey" json:"source_id"`
	AlbumID      int64  `gorm:"primaryKey" json:"album_id"`
	RelationType string `gorm:"size:50;not null;default:'related'" json:"relation_type"`
}

func (RelatedAlbum) TableName() string {
	return "related_albums"
}

// All returns every model in migration order
func All() []interface{} {
	return []interface{}{
		&AlbumType{},
		&Album{},
		&Image{},
		&Tag{},
		&AlbumTag{},
		&ImageTag{},
		&RelatedAlbum{},
	}
}
