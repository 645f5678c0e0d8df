package acquire

import (
	"context"
	"io"
	"os"
)

// StorageOpener opens a granted-storage reference for reading.
type StorageOpener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Downloader fetches a remote model into dst. Implementations own the
// transport; Resolve only validates the result.
type Downloader interface {
	Download(ctx context.Context, rawURL, dst string) error
}

// FileOpener opens granted references as local filesystem paths.
type FileOpener struct{}

func (FileOpener) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(ref)
}
