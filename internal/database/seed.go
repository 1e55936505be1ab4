package database

import (
	"gorm.io/gorm"

	"phototree/internal/models"
)

// DefaultAlbumTypes lists the structural rules in precedence order. The
// library layout is Container/[_Group/]Entity/Set.
func DefaultAlbumTypes() []models.AlbumType {
	return []models.AlbumType{
		{Name: "Container", PluralName: "Containers", PathMatch: `^[^/]+$`, Container: true},
		{Name: "Group", PluralName: "Groups", PathMatch: `^[^/]+/_[^/]+$`, Container: true},
		{Name: "Entity", PluralName: "Entities", PathMatch: `^[^/]+/(?:_[^/]+/)?[^_/][^/]*$`, Container: false},
		{Name: "Set", PluralName: "Sets", PathMatch: `^[^/]+/(?:_[^/]+/)?[^_/][^/]*/[^/]+$`, Container: false},
	}
}

// SeedAlbumTypes creates the default album types if none exist
func SeedAlbumTypes(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.AlbumType{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	// one at a time so ids follow precedence order
	for _, t := range DefaultAlbumTypes() {
		albumType := t
		if err := db.Create(&albumType).Error; err != nil {
			return err
		}
	}
	return nil
}
