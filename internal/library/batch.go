package library

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"phototree/internal/directory"
	"phototree/internal/models"
)

// ItemKind selects which children of an album a batch operation targets
type ItemKind string

const (
	ItemAlbums ItemKind = "albums"
	ItemImages ItemKind = "images"
)

// ParseItemKind validates a kind name
func ParseItemKind(s string) (ItemKind, error) {
	switch ItemKind(s) {
	case ItemAlbums, ItemImages:
		return ItemKind(s), nil
	}
	return "", fmt.Errorf("%w: unknown item kind %q", ErrInvalidChanges, s)
}

func (k ItemKind) singular() string {
	return strings.TrimSuffix(string(k), "s")
}

// ItemResult is the outcome of a batch operation for one item
type ItemResult struct {
	ID    int64  `json:"id"`
	From  string `json:"from"`
	To    string `json:"to"`
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// BatchResult reports every item of a batch operation. Items are applied
// one by one once the whole batch passed its collision checks, so some may
// fail while others succeed.
type BatchResult struct {
	Items     []ItemResult `json:"items"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

func newBatchResult() *BatchResult {
	return &BatchResult{Items: []ItemResult{}}
}

func (r *BatchResult) add(id int64, from, to string, err error) {
	item := ItemResult{ID: id, From: from, To: to, Err: err}
	if err != nil {
		item.Error = err.Error()
		r.Failed++
	} else {
		r.Succeeded++
	}
	r.Items = append(r.Items, item)
}

// Err joins the errors of the failed items
func (r *BatchResult) Err() error {
	var errs []error
	for _, item := range r.Items {
		if item.Err != nil {
			errs = append(errs, item.Err)
		}
	}
	return errors.Join(errs...)
}

type pendingRename struct {
	album *models.Album
	image *models.Image
	id    int64
	from  string
	to    string
	err   error
}

// RenameMany renames the direct children of kind under parentID by
// replacing the first match of pattern in each name with replacement, which
// may reference capture groups as $1 or ${name}. The resulting names are
// checked as a whole before anything is renamed.
func (e *Engine) RenameMany(ctx context.Context, parentID int64, kind ItemKind, pattern, replacement string) (result *BatchResult, err error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	if _, err := ParseItemKind(string(kind)); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, end := e.startSpan(ctx, "rename_many", parentID, "")
	defer func() { end(err) }()

	parent, err := e.getAlbum(ctx, e.store, parentID)
	if err != nil {
		return nil, err
	}
	albums, err := e.store.ChildAlbums(ctx, parent.ID)
	if err != nil {
		return nil, err
	}
	images, err := e.store.ImagesByAlbum(ctx, parent.ID)
	if err != nil {
		return nil, err
	}

	var renames []*pendingRename
	finalNames := make(map[string]int, len(albums)+len(images))
	tracked := make(map[string]bool, len(albums)+len(images))

	plan := func(id int64, name string, album *models.Album, image *models.Image) error {
		tracked[name] = true
		if (album != nil) != (kind == ItemAlbums) {
			finalNames[name]++
			return nil
		}
		to := replaceFirst(re, name, replacement)
		finalNames[to]++
		if to == name {
			return nil
		}
		check := validName
		if image != nil {
			check = validImageName
		}
		if err := check(to); err != nil {
			return fmt.Errorf("renaming %q: %w", name, err)
		}
		renames = append(renames, &pendingRename{album: album, image: image, id: id, from: name, to: to})
		return nil
	}
	for i := range albums {
		if err := plan(albums[i].ID, albums[i].Name, &albums[i], nil); err != nil {
			return nil, err
		}
	}
	for i := range images {
		if err := plan(images[i].ID, images[i].Filename, nil, &images[i]); err != nil {
			return nil, err
		}
	}

	var dupes []string
	for name, n := range finalNames {
		if n > 1 {
			dupes = append(dupes, name)
		}
	}
	if len(dupes) > 0 {
		sort.Strings(dupes)
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, strings.Join(dupes, ", "))
	}

	result = newBatchResult()
	if len(renames) == 0 {
		return result, nil
	}

	entries, err := e.fs.ListDirectory(ctx, parent.Path())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotFoundOnDisk, parent.Path(), err)
	}
	onDisk := make(map[string]bool, len(entries))
	for _, entry := range entries {
		onDisk[entry.Name] = true
	}
	oldNames := make(map[string]bool, len(renames))
	for _, r := range renames {
		oldNames[r.from] = true
	}
	for _, r := range renames {
		if onDisk[r.to] && !tracked[r.to] {
			return nil, fmt.Errorf("%w: %s is present on disk", ErrDestinationExists, directory.Join(parent.Path(), r.to))
		}
	}

	// names still held by another member of the batch go through a
	// temporary name so that swaps and chains succeed
	var staged []*pendingRename
	for _, r := range renames {
		if !oldNames[r.to] {
			r.err = e.renameItem(ctx, r, r.to)
			continue
		}
		if r.err = e.renameItem(ctx, r, stagingName(r.from)); r.err == nil {
			staged = append(staged, r)
		}
	}
	for _, r := range staged {
		if r.err = e.renameItem(ctx, r, r.to); r.err != nil {
			if rerr := e.renameItem(ctx, r, r.from); rerr != nil {
				e.logger.WithContext(ctx).Error().
					Err(rerr).
					Int64("id", r.id).
					Str("name", r.from).
					Msg("Item left under temporary name")
			}
		}
	}

	for _, r := range renames {
		result.add(r.id, r.from, r.to, r.err)
		e.metrics.ObserveMutation(kind.singular(), "rename", r.err)
	}
	return result, nil
}

func (e *Engine) renameItem(ctx context.Context, r *pendingRename, name string) error {
	if r.album != nil {
		return e.applyAlbumMutation(ctx, r.album, AlbumChanges{Name: &name})
	}
	return e.applyImageMutation(ctx, r.image, ImageChanges{Filename: &name})
}

// replaceFirst substitutes only the leftmost match of re in s
func replaceFirst(re *regexp.Regexp, s, replacement string) string {
	match := re.FindStringSubmatchIndex(s)
	if match == nil {
		return s
	}
	expanded := re.ExpandString(nil, replacement, s, match)
	return s[:match[0]] + string(expanded) + s[match[1]:]
}

// MoveMany moves children of kind from sourceID into destinationID. The
// batch is rejected if any moved name is already used in the destination by
// an album, an image or an untracked entry on disk.
func (e *Engine) MoveMany(ctx context.Context, kind ItemKind, ids []int64, sourceID, destinationID int64) (result *BatchResult, err error) {
	if _, err := ParseItemKind(string(kind)); err != nil {
		return nil, err
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no items to move", ErrInvalidChanges)
	}
	if sourceID == destinationID {
		return nil, fmt.Errorf("%w: source and destination are the same album", ErrInconsistentMove)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, end := e.startSpan(ctx, "move_many", sourceID, "")
	defer func() { end(err) }()

	source, err := e.getAlbum(ctx, e.store, sourceID)
	if err != nil {
		return nil, err
	}
	dest, err := e.getAlbum(ctx, e.store, destinationID)
	if err != nil {
		return nil, err
	}

	taken, err := e.namesIn(ctx, dest)
	if err != nil {
		return nil, err
	}

	var collisions []string
	result = newBatchResult()
	if kind == ItemAlbums {
		albums, err := e.store.AlbumsByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(albums) != len(ids) {
			return nil, fmt.Errorf("%w: %v", ErrAlbumNotFound, missingIDs(ids, albumIDs(albums)))
		}
		for _, a := range albums {
			if a.ParentID == nil || *a.ParentID != source.ID {
				return nil, fmt.Errorf("%w: %s is not in %s", ErrInconsistentMove, a.Path(), source.Path())
			}
			if directory.IsWithin(dest.Path(), a.Path()) {
				return nil, fmt.Errorf("%w: cannot move %s into %s", ErrInconsistentMove, a.Path(), dest.Path())
			}
			if taken[a.Name] {
				collisions = append(collisions, a.Name)
			}
		}
		if len(collisions) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrDestinationCollision, strings.Join(collisions, ", "))
		}

		for i := range albums {
			from := albums[i].Path()
			err := e.applyAlbumMutation(ctx, &albums[i], AlbumChanges{ParentID: &dest.ID})
			result.add(albums[i].ID, from, directory.Join(dest.Path(), albums[i].Name), err)
			e.metrics.ObserveMutation("album", "move", err)
		}
		return result, nil
	}

	images, err := e.store.ImagesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(images) != len(ids) {
		found := make([]int64, 0, len(images))
		for _, img := range images {
			found = append(found, img.ID)
		}
		return nil, fmt.Errorf("%w: %v", ErrImageNotFound, missingIDs(ids, found))
	}
	for _, img := range images {
		if img.AlbumID != source.ID {
			return nil, fmt.Errorf("%w: image %d is not in %s", ErrInconsistentMove, img.ID, source.Path())
		}
		if taken[img.Filename] {
			collisions = append(collisions, img.Filename)
		}
	}
	if len(collisions) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDestinationCollision, strings.Join(collisions, ", "))
	}

	for i := range images {
		from := imagePath(source, images[i].Filename)
		err := e.applyImageMutation(ctx, &images[i], ImageChanges{AlbumID: &dest.ID})
		result.add(images[i].ID, from, imagePath(dest, images[i].Filename), err)
		e.metrics.ObserveMutation("image", "move", err)
	}
	return result, nil
}

// namesIn returns every name used in album's directory, by records or on disk
func (e *Engine) namesIn(ctx context.Context, album *models.Album) (map[string]bool, error) {
	albums, err := e.store.ChildAlbums(ctx, album.ID)
	if err != nil {
		return nil, err
	}
	images, err := e.store.ImagesByAlbum(ctx, album.ID)
	if err != nil {
		return nil, err
	}
	entries, err := e.fs.ListDirectory(ctx, album.Path())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotFoundOnDisk, album.Path(), err)
	}

	names := make(map[string]bool, len(albums)+len(images)+len(entries))
	for _, a := range albums {
		names[a.Name] = true
	}
	for _, img := range images {
		names[img.Filename] = true
	}
	for _, entry := range entries {
		names[entry.Name] = true
	}
	return names, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func albumIDs(albums []models.Album) []int64 {
	ids := make([]int64, 0, len(albums))
	for _, a := range albums {
		ids = append(ids, a.ID)
	}
	return ids
}

func missingIDs(want, found []int64) []int64 {
	have := make(map[int64]bool, len(found))
	for _, id := range found {
		have[id] = true
	}
	var missing []int64
	for _, id := range want {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// maxNameBytes is the longest entry name common filesystems accept
const maxNameBytes = 255

// stagingName returns an excluded temporary name for from. The front of from
// is dropped when the result would exceed maxNameBytes, keeping its extension.
func stagingName(from string) string {
	prefix := "__" + uuid.NewString() + "_"
	if room := maxNameBytes - len(prefix); len(from) > room {
		cut := len(from) - room
		for cut < len(from) && !utf8.RuneStart(from[cut]) {
			cut++
		}
		from = from[cut:]
	}
	return prefix + from
}
