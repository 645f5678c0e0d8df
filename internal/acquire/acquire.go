package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"llamachat/internal/common/fsutil"
)

// Config wires the collaborators used by an Acquirer. Nil fields fall back to
// FileOpener, an HTTPDownloader and a no-op logger.
type Config struct {
	Opener     StorageOpener
	Downloader Downloader
	Logger     *zerolog.Logger
}

// Acquirer resolves Descriptors to local model files.
type Acquirer struct {
	opener     StorageOpener
	downloader Downloader
	log        zerolog.Logger
}

// New constructs an Acquirer from cfg.
func New(cfg Config) *Acquirer {
	a := &Acquirer{opener: cfg.Opener, downloader: cfg.Downloader, log: zerolog.Nop()}
	if a.opener == nil {
		a.opener = FileOpener{}
	}
	if a.downloader == nil {
		a.downloader = NewHTTPDownloader(nil)
	}
	if cfg.Logger != nil {
		a.log = cfg.Logger.With().Str("component", "acquire").Logger()
	}
	return a
}

// Resolve returns the local path for d, producing the file first if needed.
//   - an existing non-empty LocalPath is returned as-is with no further I/O;
//   - a granted source is copied verbatim into LocalPath;
//   - a remote source is handed to the Downloader and the result validated.
//
// Failures are *AcquisitionError values; partial output is removed.
func (a *Acquirer) Resolve(ctx context.Context, d Descriptor) (string, error) {
	if strings.TrimSpace(d.LocalPath) == "" {
		return "", &AcquisitionError{Reason: ReasonSourceMissing, Name: d.Name, Err: errors.New("descriptor has no local path")}
	}
	if fsutil.NonEmptyFile(d.LocalPath) {
		a.log.Debug().Str("model", d.Name).Str("path", d.LocalPath).Msg("model resident")
		return d.LocalPath, nil
	}
	switch d.Source.Kind {
	case LocatorGranted:
		return a.copyGranted(ctx, d)
	case LocatorRemote:
		return a.download(ctx, d)
	case LocatorNone:
		return "", &AcquisitionError{Reason: ReasonSourceMissing, Name: d.Name, Path: d.LocalPath}
	default:
		return "", &AcquisitionError{Reason: ReasonSourceMissing, Name: d.Name, Path: d.LocalPath, Err: fmt.Errorf("unknown locator kind %d", d.Source.Kind)}
	}
}

func (a *Acquirer) copyGranted(ctx context.Context, d Descriptor) (string, error) {
	start := time.Now()
	fail := func(err error) (string, error) {
		a.log.Error().Err(err).Str("model", d.Name).Str("ref", d.Source.Ref).Msg("copy failed")
		return "", &AcquisitionError{Reason: ReasonCopyFailed, Name: d.Name, Path: d.LocalPath, Err: err}
	}
	if strings.TrimSpace(d.Source.Ref) == "" {
		return "", &AcquisitionError{Reason: ReasonSourceMissing, Name: d.Name, Path: d.LocalPath, Err: errors.New("empty source reference")}
	}
	if filepath.Clean(d.Source.Ref) == filepath.Clean(d.LocalPath) {
		// Resident files return earlier, so the source itself is empty or absent.
		return "", &AcquisitionError{Reason: ReasonSourceMissing, Name: d.Name, Path: d.LocalPath, Err: errors.New("source is the target file")}
	}
	src, err := a.opener.Open(ctx, d.Source.Ref)
	if err != nil {
		return fail(fmt.Errorf("open source: %w", err))
	}
	defer src.Close()

	n, err := writeFileAtomic(ctx, d.LocalPath, src)
	if err != nil {
		return fail(err)
	}
	a.log.Info().Str("model", d.Name).Str("path", d.LocalPath).Int64("bytes", n).Dur("dur", time.Since(start)).Msg("copied model")
	return d.LocalPath, nil
}

func (a *Acquirer) download(ctx context.Context, d Descriptor) (string, error) {
	start := time.Now()
	if err := a.downloader.Download(ctx, d.Source.Ref, d.LocalPath); err != nil {
		a.log.Error().Err(err).Str("model", d.Name).Str("url", d.Source.Ref).Msg("download failed")
		return "", &AcquisitionError{Reason: ReasonDownloadFailed, Name: d.Name, Path: d.LocalPath, Err: err}
	}
	if !fsutil.NonEmptyFile(d.LocalPath) {
		return "", &AcquisitionError{Reason: ReasonSourceMissing, Name: d.Name, Path: d.LocalPath, Err: errors.New("download produced no file")}
	}
	a.log.Info().Str("model", d.Name).Str("path", d.LocalPath).Dur("dur", time.Since(start)).Msg("downloaded model")
	return d.LocalPath, nil
}

// errEmptySource is returned by writeFileAtomic when r yields no bytes.
var errEmptySource = errors.New("source is empty")

// writeFileAtomic copies r into a temp file beside dst and renames it into
// place. The temp file is removed on any failure, and dst is left untouched
// when r is empty.
func writeFileAtomic(ctx context.Context, dst string, r io.Reader) (int64, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".part-*")
	if err != nil {
		return 0, fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()
	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		return n, fmt.Errorf("copy: %w", err)
	}
	if n == 0 {
		return 0, errEmptySource
	}
	if err := tmp.Sync(); err != nil {
		return n, fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return n, fmt.Errorf("rename: %w", err)
	}
	ok = true
	return n, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
