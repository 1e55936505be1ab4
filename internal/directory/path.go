package directory

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Separator is the segment separator used for every stored location,
// regardless of the host path syntax.
const Separator = "/"

var (
	// ErrEmptyPath is returned when a path has no segments
	ErrEmptyPath = errors.New("path is empty")
	// ErrOutsideRoot is returned when a path escapes the library root
	ErrOutsideRoot = errors.New("path is outside the library root")
)

// excludePattern marks hidden/system entries that never become records
var excludePattern = regexp.MustCompile(`^(__|folder)`)

// Key identifies a node by its ancestor location and leaf name.
type Key struct {
	Location string `json:"location"`
	Name     string `json:"name"`
}

// Path returns the full library-relative path of the key
func (k Key) Path() string {
	return Join(k.Location, k.Name)
}

// Normalize converts host separators to forward slashes and strips trailing separators.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, `\`, Separator)
	return strings.TrimRight(p, Separator)
}

// Parse splits a path into its location and name. Absolute paths are first
// rewritten relative to rootDir.
func Parse(p, rootDir string) (Key, error) {
	if filepath.IsAbs(p) && rootDir != "" {
		rel, err := filepath.Rel(rootDir, p)
		if err != nil {
			return Key{}, fmt.Errorf("%w: %s", ErrOutsideRoot, p)
		}
		p = rel
	}

	p = strings.TrimLeft(Normalize(p), Separator)
	if p == "" || p == "." {
		return Key{}, ErrEmptyPath
	}

	for _, seg := range strings.Split(p, Separator) {
		if seg == ".." {
			return Key{}, fmt.Errorf("%w: %s", ErrOutsideRoot, p)
		}
	}

	idx := strings.LastIndex(p, Separator)
	if idx < 0 {
		return Key{Location: "", Name: p}, nil
	}

	location := p[:idx]
	if location == "." {
		location = ""
	}
	return Key{Location: location, Name: p[idx+1:]}, nil
}

// Join is the inverse of Parse for well-formed inputs
func Join(location, name string) string {
	if location == "" {
		return name
	}
	if name == "" {
		return location
	}
	return location + Separator + name
}

// Ancestors returns the key of every ancestor described by location, ordered
// from the root down to the immediate parent.
func Ancestors(location string) []Key {
	location = strings.Trim(Normalize(location), Separator)
	if location == "" {
		return nil
	}

	segs := strings.Split(location, Separator)
	keys := make([]Key, 0, len(segs))
	for i, name := range segs {
		keys = append(keys, Key{
			Location: strings.Join(segs[:i], Separator),
			Name:     name,
		})
	}
	return keys
}

// IsExcluded reports whether a directory entry is hidden from the library
func IsExcluded(name string) bool {
	return excludePattern.MatchString(name)
}

// IsWithin reports whether p equals prefix or lies below it
func IsWithin(p, prefix string) bool {
	if prefix == "" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+Separator)
}

// ReplacePrefix rewrites the leading prefix of location. The second return
// value is false when location is not within prefix.
func ReplacePrefix(location, prefix, replacement string) (string, bool) {
	if !IsWithin(location, prefix) {
		return location, false
	}
	rest := strings.TrimPrefix(location[len(prefix):], Separator)
	return Join(replacement, rest), true
}
