package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/harrison/webpilot/internal/models"
)

// Download attempt outcomes reported to the Recorder.
const (
	DownloadOK        = "ok"
	DownloadForbidden = "forbidden"
	DownloadError     = "error"
	DownloadTimeout   = "timeout"
)

// Transfer copies a remote resource to a local path.
type Transfer interface {
	Fetch(ctx context.Context, url, path string) (int64, error)
}

// HTTPTransfer fetches over HTTP. Non-200 responses return *StatusError.
// The body is written to a temporary file beside path and renamed into place
// once complete, so path is untouched on failure.
type HTTPTransfer struct {
	Client *http.Client
}

// Fetch writes the body of url to path and returns the byte count.
func (t *HTTPTransfer) Fetch(ctx context.Context, url, path string) (int64, error) {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &StatusError{StatusCode: resp.StatusCode}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	tmp := f.Name()
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		err = fmt.Errorf("write output file: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("close output file: %w", closeErr)
	case n == 0:
		err = errors.New("downloaded file is empty")
	default:
		err = os.Rename(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

// DownloadResult describes a completed download.
type DownloadResult struct {
	Path     string
	Bytes    int64
	Attempts int
}

// Downloader retries a signed URL on 403 with no backoff. Each attempt has
// its own hard wall-clock timeout. A file the download created never
// survives a failure; a file that was already at the path is left alone.
type Downloader struct {
	transfer    Transfer
	maxAttempts int
	timeout     time.Duration
	logger      Logger
	recorder    Recorder
}

// NewDownloader creates a downloader.
func NewDownloader(transfer Transfer, maxAttempts int, timeout time.Duration, logger Logger, recorder Recorder) *Downloader {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Downloader{transfer: transfer, maxAttempts: maxAttempts, timeout: timeout, logger: logger, recorder: recorder}
}

// Download fetches url into path. A 403 is retried against the same URL up
// to the attempt limit, after which the error wraps models.ErrURLExpired.
// A timeout or any other failure is returned immediately.
func (d *Downloader) Download(ctx context.Context, url, path string) (*DownloadResult, error) {
	_, statErr := os.Stat(path)
	existed := statErr == nil

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		logInfo(d.logger, fmt.Sprintf("Download attempt %d/%d: %s", attempt, d.maxAttempts, truncateURL(url)))

		n, timedOut, err := d.fetch(ctx, url, path)
		if err == nil {
			recordDownload(d.recorder, DownloadOK)
			logInfo(d.logger, fmt.Sprintf("Downloaded %s (%.2f KB)", path, float64(n)/1024))
			return &DownloadResult{Path: path, Bytes: n, Attempts: attempt}, nil
		}
		if !existed {
			removePartial(path)
		}

		if ctx.Err() != nil {
			recordDownload(d.recorder, DownloadError)
			return nil, fmt.Errorf("download cancelled: %w", ctx.Err())
		}
		if timedOut {
			recordDownload(d.recorder, DownloadTimeout)
			return nil, fmt.Errorf("download timed out after %s, the URL may have expired: %w", d.timeout, err)
		}
		if !IsForbidden(err) {
			recordDownload(d.recorder, DownloadError)
			return nil, fmt.Errorf("download attempt %d: %w", attempt, err)
		}

		recordDownload(d.recorder, DownloadForbidden)
		logWarn(d.logger, fmt.Sprintf("Download attempt %d/%d forbidden, signed URL may have expired", attempt, d.maxAttempts))
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %d attempts forbidden: %v", models.ErrURLExpired, d.maxAttempts, lastErr)
}

// fetch runs one transfer under the per-attempt deadline.
func (d *Downloader) fetch(ctx context.Context, url, path string) (int64, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	n, err := d.transfer.Fetch(attemptCtx, url, path)
	return n, err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded), err
}

func removePartial(path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
}

func truncateURL(u string) string {
	if len(u) <= 60 {
		return u
	}
	return u[:60] + "..."
}
