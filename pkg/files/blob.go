package files

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/appvend/appvend/pkg/apperr"
)

// BlobInfo is the metadata a backend reports for a stored object.
type BlobInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Blob is a read-only object store. Open distinguishes "missing" from
// "unreadable" so operators can tell a bad link from a permission
// problem.
type Blob interface {
	Open(ctx context.Context, key string) (io.ReadCloser, BlobInfo, error)
}

// Filesystem serves blobs from a directory root. Keys are relative
// slash-separated paths; anything escaping the root is treated as
// missing.
type Filesystem struct {
	root string
}

// NewFilesystem creates a filesystem blob store rooted at dir.
func NewFilesystem(dir string) *Filesystem {
	return &Filesystem{root: dir}
}

// Open implements Blob.
func (f *Filesystem) Open(ctx context.Context, key string) (io.ReadCloser, BlobInfo, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	path := filepath.Join(f.root, clean)
	if !strings.HasPrefix(path, filepath.Clean(f.root)+string(os.PathSeparator)) {
		return nil, BlobInfo{}, apperr.NotFound(apperr.CodeFileNotFound, "file not found").
			WithData("key", key)
	}

	// Existence and readability are checked in order so each failure
	// keeps its own error code.
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, BlobInfo{}, apperr.NotFound(apperr.CodeFileNotFound, "file not found").
				WithData("key", key)
		}
		return nil, BlobInfo{}, apperr.Internal(apperr.CodeFileReadingError, "file is not readable").
			WithData("key", key).WithCause(err)
	}
	if info.IsDir() {
		return nil, BlobInfo{}, apperr.NotFound(apperr.CodeFileNotFound, "file not found").
			WithData("key", key)
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, BlobInfo{}, apperr.Internal(apperr.CodeFileReadingError, "file is not readable").
			WithData("key", key).WithCause(err)
	}
	return fh, BlobInfo{
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}
