package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

var (
	// ErrExist is returned when a rename destination is already present
	ErrExist = fs.ErrExist
	// ErrNotExist is returned when a path is missing
	ErrNotExist = fs.ErrNotExist
	// ErrNotEmpty is returned when removing a directory that still has entries
	ErrNotEmpty = errors.New("directory not empty")
)

// Entry is a single directory listing result
type Entry struct {
	Name        string
	IsDirectory bool
}

// Info describes a filesystem entry
type Info struct {
	Size        int64
	CreatedAt   time.Time
	ModifiedAt  time.Time
	IsDirectory bool
}

// Provider is the filesystem collaborator used by the library engine. All
// paths are library-relative and use forward slashes; "" is the library root.
type Provider interface {
	ListDirectory(ctx context.Context, p string) ([]Entry, error)
	Stat(ctx context.Context, p string) (Info, error)
	Exists(ctx context.Context, p string) (bool, error)
	// Rename fails with ErrExist if newPath exists and ErrNotExist if oldPath is missing
	Rename(ctx context.Context, oldPath, newPath string) error
	Remove(ctx context.Context, p string) error
	RemoveEmptyDirectory(ctx context.Context, p string) error
	// OpenContent opens a file for reading; the caller closes it
	OpenContent(ctx context.Context, p string) (io.ReadCloser, error)
}

// AferoProvider implements Provider on an afero filesystem
type AferoProvider struct {
	fs afero.Fs
}

// NewAferoProvider wraps an afero filesystem whose root is the library root
func NewAferoProvider(fs afero.Fs) *AferoProvider {
	return &AferoProvider{fs: fs}
}

// NewOSProvider creates a provider confined to rootPath on the host filesystem
func NewOSProvider(rootPath string) (*AferoProvider, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("library root unavailable: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("library root %s is not a directory", rootPath)
	}
	return NewAferoProvider(afero.NewBasePathFs(afero.NewOsFs(), rootPath)), nil
}

// resolve converts a library-relative path to the afero path
func resolve(p string) string {
	return "/" + strings.Trim(path.Clean("/"+p), "/")
}

func (p *AferoProvider) ListDirectory(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := afero.ReadDir(p.fs, resolve(dir))
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		// symbolic links are not followed
		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		entries = append(entries, Entry{Name: info.Name(), IsDirectory: info.IsDir()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (p *AferoProvider) Stat(ctx context.Context, name string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}

	info, err := p.fs.Stat(resolve(name))
	if err != nil {
		return Info{}, err
	}
	// creation time is not portable across filesystems; mtime stands in
	return Info{
		Size:        info.Size(),
		CreatedAt:   info.ModTime(),
		ModifiedAt:  info.ModTime(),
		IsDirectory: info.IsDir(),
	}, nil
}

func (p *AferoProvider) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return afero.Exists(p.fs, resolve(name))
}

func (p *AferoProvider) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	from, to := resolve(oldPath), resolve(newPath)
	if _, err := p.fs.Stat(from); err != nil {
		return &fs.PathError{Op: "rename", Path: oldPath, Err: ErrNotExist}
	}
	exists, err := afero.Exists(p.fs, to)
	if err != nil {
		return err
	}
	if exists {
		return &fs.PathError{Op: "rename", Path: newPath, Err: ErrExist}
	}
	return p.fs.Rename(from, to)
}

func (p *AferoProvider) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := p.fs.Stat(resolve(name))
	if err != nil {
		return err
	}
	if info.IsDir() {
		return &fs.PathError{Op: "remove", Path: name, Err: errors.New("is a directory")}
	}
	return p.fs.Remove(resolve(name))
}

func (p *AferoProvider) RemoveEmptyDirectory(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.Trim(name, "/") == "" {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrPermission}
	}

	infos, err := afero.ReadDir(p.fs, resolve(name))
	if err != nil {
		return err
	}
	if len(infos) > 0 {
		return &fs.PathError{Op: "remove", Path: name, Err: ErrNotEmpty}
	}
	return p.fs.Remove(resolve(name))
}

func (p *AferoProvider) OpenContent(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := p.fs.Open(resolve(name))
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", name)
	}
	return f, nil
}
