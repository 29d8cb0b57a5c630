package port

import (
	"context"
	"io"
	"time"
)

type Sweeper interface {
	// Sweep deletes files older than maxAge and returns how many were removed.
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
}

type FileStore interface {
	Sweeper
	// Save writes data under a freshly generated name with the given extension and returns that name.
	Save(ctx context.Context, data []byte, extension string) (string, error)
	// Path resolves a name returned by Save to a path on disk, or domain.ErrNotFound.
	Path(name string) (string, error)
	// Remove deletes a stored file, logging instead of failing when it is already gone.
	Remove(name string)
}

// UploadStore additionally streams request bodies to disk and reads them back.
type UploadStore interface {
	FileStore
	// Put streams r into a new file with the given extension and returns its name.
	Put(ctx context.Context, r io.Reader, extension string) (string, error)
	// Get returns the content of a stored file, or domain.ErrNotFound.
	Get(name string) ([]byte, error)
}

type SourceFetcher interface {
	// Fetch resolves an image reference (data URI, base64 payload or http(s) URL) into raw bytes.
	Fetch(ctx context.Context, source string) ([]byte, error)
}
