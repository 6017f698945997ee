// Package media downloads the photo attached to a matched post.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ppiankov/postrelay/internal/source"
)

const maxImageBytes = 20 << 20

var (
	// ErrNoPhoto is returned for posts without an extractable photo URL.
	ErrNoPhoto = errors.New("media: post has no photo")
	// ErrNotImage is returned when the downloaded content is not an image.
	ErrNotImage = errors.New("media: content is not an image")
)

// Image is a photo saved to local storage.
type Image struct {
	Path string
	Size int64
	MIME string
}

// Downloader fetches photos into a working directory.
type Downloader struct {
	client *http.Client
	dir    string
}

// NewDownloader returns a downloader writing into dir.
func NewDownloader(client *http.Client, dir string) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	return &Downloader{client: client, dir: dir}
}

// FileName is the deterministic local name for a channel's photo.
func FileName(channel string) string {
	return source.NormalizeHandle(channel) + "_image.jpg"
}

// Download fetches the post's photo and writes it to <dir>/<handle>_image.jpg,
// replacing any previous file.
func (d *Downloader) Download(ctx context.Context, post source.Post) (Image, error) {
	if !post.HasPhoto() {
		return Image{}, ErrNoPhoto
	}

	data, err := d.fetch(ctx, post.PhotoURL)
	if err != nil {
		return Image{}, err
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return Image{}, fmt.Errorf("%w: %s", ErrNotImage, mt.String())
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return Image{}, fmt.Errorf("create work dir: %w", err)
	}

	path := filepath.Join(d.dir, FileName(post.Channel))
	if err := writeFile(path, data); err != nil {
		return Image{}, err
	}

	return Image{Path: path, Size: int64(len(data)), MIME: mt.String()}, nil
}

func (d *Downloader) fetch(ctx context.Context, photoURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, photoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("media: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media: GET %s: %w", photoURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media: GET %s: HTTP %d", photoURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("media: read %s: %w", photoURL, err)
	}
	return data, nil
}

// writeFile replaces path via a temp file in the same directory.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
