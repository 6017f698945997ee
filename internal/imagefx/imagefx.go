// Package imagefx post-processes downloaded photos before publishing.
package imagefx

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Mode selects the transformation applied to a photo.
type Mode string

const (
	ModeNone      Mode = "none"
	ModeComposite Mode = "composite"
	ModeCrop      Mode = "crop"
)

// Resample selects the filter used to fit the overlay to the base image.
type Resample string

const (
	Nearest    Resample = "nearest"
	CatmullRom Resample = "catmull-rom"
)

var (
	ErrCropTooLarge = errors.New("imagefx: crop height must be smaller than image height")
	ErrUnknownMode  = errors.New("imagefx: unknown mode")
)

// Options configures Apply.
type Options struct {
	Mode     Mode
	Overlay  string   // composite: path to the overlay asset
	Resample Resample // composite: resize filter
	CropTop  int      // crop: pixels removed from the top
}

// Result reports the outcome of Apply. Path is always publishable: it is
// the transformed file on success and the original file otherwise.
type Result struct {
	Path    string
	Applied bool
	Err     error
}

// Apply runs the configured transformation on the file at path.
func Apply(path string, opts Options) Result {
	var (
		out string
		err error
	)
	switch opts.Mode {
	case ModeNone, "":
		return Result{Path: path}
	case ModeComposite:
		out, err = CompositeFile(path, opts.Overlay, opts.Resample)
	case ModeCrop:
		out, err = CropFile(path, opts.CropTop)
	default:
		err = fmt.Errorf("%w %q", ErrUnknownMode, opts.Mode)
	}
	if err != nil {
		return Result{Path: path, Err: err}
	}
	return Result{Path: out, Applied: true}
}

// OutputPath derives the transformed file name from the source name.
func OutputPath(path, suffix string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "_" + suffix + ".png"
}

// CompositeFile draws the overlay over the image at basePath and writes
// <name>_overlay.png.
func CompositeFile(basePath, overlayPath string, r Resample) (string, error) {
	base, err := decodeFile(basePath)
	if err != nil {
		return "", fmt.Errorf("open base: %w", err)
	}
	overlay, err := decodeFile(overlayPath)
	if err != nil {
		return "", fmt.Errorf("open overlay: %w", err)
	}

	out := OutputPath(basePath, "overlay")
	if err := encodeFile(out, Composite(base, overlay, r)); err != nil {
		return "", err
	}
	return out, nil
}

// CropFile removes top pixels from the image at path and writes
// <name>_cropped.png.
func CropFile(path string, top int) (string, error) {
	img, err := decodeFile(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}

	cropped, err := Crop(img, top)
	if err != nil {
		return "", err
	}

	out := OutputPath(path, "cropped")
	if err := encodeFile(out, cropped); err != nil {
		return "", err
	}
	return out, nil
}

// Composite returns base with overlay alpha-composited on top. The overlay
// is resized to the base dimensions when they differ.
func Composite(base, overlay image.Image, r Resample) *image.RGBA {
	bb := base.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bb.Dx(), bb.Dy()))
	draw.Draw(dst, dst.Bounds(), base, bb.Min, draw.Src)

	ob := overlay.Bounds()
	if ob.Dx() != bb.Dx() || ob.Dy() != bb.Dy() {
		scaled := image.NewRGBA(dst.Bounds())
		scaler(r).Scale(scaled, scaled.Bounds(), overlay, ob, draw.Src, nil)
		overlay = scaled
		ob = scaled.Bounds()
	}

	draw.Draw(dst, dst.Bounds(), overlay, ob.Min, draw.Over)
	return dst
}

// Crop returns img without its top rows.
func Crop(img image.Image, top int) (*image.RGBA, error) {
	b := img.Bounds()
	if top < 0 {
		return nil, fmt.Errorf("imagefx: negative crop height %d", top)
	}
	if top >= b.Dy() {
		return nil, fmt.Errorf("%w (crop %d, height %d)", ErrCropTooLarge, top, b.Dy())
	}

	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()-top))
	draw.Draw(dst, dst.Bounds(), img, image.Pt(b.Min.X, b.Min.Y+top), draw.Src)
	return dst, nil
}

func scaler(r Resample) draw.Scaler {
	if r == CatmullRom {
		return draw.CatmullRom
	}
	return draw.NearestNeighbor
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func encodeFile(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
