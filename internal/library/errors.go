package library

import (
	"errors"

	"gorm.io/gorm"

	"phototree/internal/directory"
)

var (
	// ErrNotFoundOnDisk is returned when an album's directory cannot be read
	ErrNotFoundOnDisk = errors.New("not found on disk")

	ErrDestinationExists    = errors.New("destination already exists")
	ErrDestinationCollision = errors.New("destination already holds an item with the same name")
	ErrDuplicateName        = errors.New("rename would produce duplicate names")
	ErrAlbumExists          = errors.New("album already exists")
	ErrImageExists          = errors.New("image already exists")

	ErrInconsistentMove = errors.New("location does not agree with parent")
	ErrOrphanedLocation = errors.New("no album exists at location")
	ErrInvalidName      = errors.New("invalid name")
	ErrInvalidPath      = errors.New("invalid path")
	ErrInvalidPattern   = errors.New("invalid rename pattern")
	ErrInvalidChanges   = errors.New("invalid changes")

	ErrAlbumNotEmpty = errors.New("album is not empty")
	ErrAlbumNotFound = errors.New("album not found")
	ErrImageNotFound = errors.New("image not found")
)

// Kind groups errors by how a caller should react to them
type Kind int

const (
	KindInternal Kind = iota
	KindConflict
	KindNotFound
	KindBadRequest
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	default:
		return "internal"
	}
}

// KindOf classifies err. Classification gaps and unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, directory.ErrNoMatchingType):
		return KindInternal
	case errors.Is(err, ErrDestinationExists),
		errors.Is(err, ErrDestinationCollision),
		errors.Is(err, ErrDuplicateName),
		errors.Is(err, ErrAlbumExists),
		errors.Is(err, ErrImageExists),
		errors.Is(err, ErrAlbumNotEmpty):
		return KindConflict
	case errors.Is(err, ErrNotFoundOnDisk),
		errors.Is(err, ErrAlbumNotFound),
		errors.Is(err, ErrImageNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return KindNotFound
	case errors.Is(err, ErrInconsistentMove),
		errors.Is(err, ErrOrphanedLocation),
		errors.Is(err, ErrInvalidName),
		errors.Is(err, ErrInvalidPath),
		errors.Is(err, ErrInvalidPattern),
		errors.Is(err, ErrInvalidChanges),
		errors.Is(err, directory.ErrEmptyPath),
		errors.Is(err, directory.ErrOutsideRoot):
		return KindBadRequest
	default:
		return KindInternal
	}
}
