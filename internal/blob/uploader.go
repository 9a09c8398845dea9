package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Uploader stores artifact bytes under a caller-chosen key and returns a
// downloadable URL. Uploading the same key again must overwrite, never
// duplicate; the export worker relies on that for retry idempotency.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error)
}

// FSUploader is the filesystem implementation: key-addressed files under a
// base directory, served at a base URL by whatever fronts the directory.
type FSUploader struct {
	Dir     string
	BaseURL string
}

func NewFSUploader(dir, baseURL string) *FSUploader {
	return &FSUploader{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (u *FSUploader) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	clean := filepath.Clean("/" + key)[1:] // no escaping the base dir
	path := filepath.Join(u.Dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, "create artifact dir")
	}

	// Write-then-rename so a re-upload atomically replaces the old bytes.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write artifact")
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", errors.Wrap(err, "publish artifact")
	}
	return u.BaseURL + "/" + clean, nil
}
