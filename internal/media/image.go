package media

import (
	"context"
	"fmt"
	"image"
	"io"
	"regexp"
	"time"

	// registered decoders for DecodeConfig
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"phototree/internal/filesystem"
)

const (
	FormatLandscape = "l"
	FormatPortrait  = "p"
)

var imagePattern = regexp.MustCompile(`(?i)\.(jpg|jpeg|bmp|png|gif|tif|tiff)$`)

// IsImageFile reports whether name carries a recognized image extension
func IsImageFile(name string) bool {
	return imagePattern.MatchString(name)
}

// FormatFor returns the orientation code for the given dimensions
func FormatFor(width, height int) string {
	switch {
	case width <= 0 || height <= 0:
		return ""
	case width >= height:
		return FormatLandscape
	default:
		return FormatPortrait
	}
}

// ImageInfo is everything the library stores about an image file
type ImageInfo struct {
	Checksum   string
	Filesize   int64
	Width      int
	Height     int
	Format     string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Resolution returns width x height
func (i ImageInfo) Resolution() int64 {
	return int64(i.Width) * int64(i.Height)
}

// Probe reads an image file through the provider. The content is hashed in
// one pass while the header is decoded from the same stream. Files whose
// header cannot be decoded are still reported, with zero dimensions.
func Probe(ctx context.Context, fs filesystem.Provider, p string) (ImageInfo, error) {
	stat, err := fs.Stat(ctx, p)
	if err != nil {
		return ImageInfo{}, err
	}
	if stat.IsDirectory {
		return ImageInfo{}, fmt.Errorf("%s is a directory", p)
	}

	rc, err := fs.OpenContent(ctx, p)
	if err != nil {
		return ImageInfo{}, err
	}
	defer rc.Close()

	pr, pw := io.Pipe()
	decoded := make(chan image.Config, 1)
	go func() {
		cfg, _, err := image.DecodeConfig(pr)
		if err != nil {
			cfg = image.Config{}
		}
		// drain so the hashing side never blocks on the pipe
		_, _ = io.Copy(io.Discard, pr)
		decoded <- cfg
	}()

	sum, size, err := ChecksumReader(io.TeeReader(rc, pw))
	pw.CloseWithError(err)
	cfg := <-decoded
	if err != nil {
		return ImageInfo{}, err
	}

	info := ImageInfo{
		Checksum:   sum,
		Filesize:   size,
		Width:      cfg.Width,
		Height:     cfg.Height,
		CreatedAt:  stat.CreatedAt,
		ModifiedAt: stat.ModifiedAt,
	}
	info.Format = FormatFor(info.Width, info.Height)
	return info, nil
}
