package materialize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/agentic-research/photoman/internal/graph"
)

// Extractor turns a raw container already on disk into a displayable JPEG
// and returns the JPEG's path. Failures must wrap ErrConversion or will be
// wrapped with it by the pipeline.
type Extractor interface {
	Extract(ctx context.Context, rawPath string, h graph.Handle) (string, error)
}

// previewPath is where the normalized image for h lives.
func previewPath(dir string, h graph.Handle) string {
	return filepath.Join(dir, fmt.Sprintf("%d.jpg", h))
}

// Exiv2Extractor shells out to exiv2 to pull the largest embedded preview.
type Exiv2Extractor struct {
	// Bin is the exiv2 executable; "exiv2" from PATH when empty.
	Bin string
}

// Extract runs `exiv2 -ep3 -l <dir> <raw>` and renames the resulting
// <stem>-preview3.jpg to <handle>.jpg. The context only tears the process
// down; no timeout is applied here.
func (x Exiv2Extractor) Extract(ctx context.Context, rawPath string, h graph.Handle) (string, error) {
	bin := x.Bin
	if bin == "" {
		bin = "exiv2"
	}
	dir := filepath.Dir(rawPath)
	stem := strings.TrimSuffix(filepath.Base(rawPath), filepath.Ext(rawPath))
	preview := filepath.Join(dir, stem+"-preview3.jpg")

	// exiv2 asks before overwriting; a stale preview would stall it.
	_ = os.Remove(preview)

	cmd := exec.CommandContext(ctx, bin, "-ep3", "-l", dir, rawPath)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: exiv2: %w: %s", ErrConversion, err, strings.TrimSpace(out.String()))
	}

	if _, err := os.Stat(preview); err != nil {
		return "", fmt.Errorf("%w: exiv2 produced no preview: %w", ErrConversion, err)
	}
	dst := previewPath(dir, h)
	if err := os.Rename(preview, dst); err != nil {
		return "", fmt.Errorf("%w: %w", ErrConversion, err)
	}
	return dst, nil
}

// ExifThumbnailExtractor reads the JPEG thumbnail from the EXIF IFD1 of a
// TIFF-based raw file without any external tool. Thumbnails are smaller
// than exiv2's largest preview.
type ExifThumbnailExtractor struct{}

func (ExifThumbnailExtractor) Extract(ctx context.Context, rawPath string, h graph.Handle) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := os.Open(rawPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConversion, err)
	}
	defer func() { _ = f.Close() }()

	x, err := exif.Decode(f)
	if err != nil {
		return "", fmt.Errorf("%w: decode exif: %w", ErrConversion, err)
	}
	thumb, err := x.JpegThumbnail()
	if err != nil {
		return "", fmt.Errorf("%w: no thumbnail: %w", ErrConversion, err)
	}
	if len(thumb) == 0 {
		return "", fmt.Errorf("%w: empty thumbnail", ErrConversion)
	}

	dst := previewPath(filepath.Dir(rawPath), h)
	if _, err := writeAtomic(dst, bytes.NewReader(thumb)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrConversion, err)
	}
	return dst, nil
}

// NewExtractor maps a configuration name to an Extractor.
func NewExtractor(name, exiv2Bin string) (Extractor, error) {
	switch name {
	case "", "exiv2":
		return Exiv2Extractor{Bin: exiv2Bin}, nil
	case "exif":
		return ExifThumbnailExtractor{}, nil
	default:
		return nil, errors.New("unknown extractor " + name)
	}
}

// Interface compliance
var (
	_ Extractor = Exiv2Extractor{}
	_ Extractor = ExifThumbnailExtractor{}
)
