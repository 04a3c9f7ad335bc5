package executor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harrison/webpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTransfer writes a partial file on every call, then fails with the
// scripted error for that attempt or completes the file.
type scriptedTransfer struct {
	errs  []error
	calls int
	block bool
	delay time.Duration // per call, cut short by ctx
}

func (s *scriptedTransfer) Fetch(ctx context.Context, url, path string) (int64, error) {
	idx := s.calls
	s.calls++
	if err := os.WriteFile(path, []byte("part"), 0644); err != nil {
		return 0, err
	}
	if s.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if idx < len(s.errs) && s.errs[idx] != nil {
		return 0, s.errs[idx]
	}
	if err := os.WriteFile(path, []byte("%PDF-1.7 complete"), 0644); err != nil {
		return 0, err
	}
	return 17, nil
}

var forbidden = &StatusError{StatusCode: http.StatusForbidden}

func TestDownloadRetriesForbiddenThenSucceeds(t *testing.T) {
	out := filepath.Join(t.TempDir(), "form.pdf")
	transfer := &scriptedTransfer{errs: []error{forbidden, forbidden}}
	rec := &fakeRecorder{}

	res, err := NewDownloader(transfer, 5, time.Minute, nil, rec).Download(context.Background(), "https://b.s3.amazonaws.com/f.pdf", out)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, transfer.calls)
	assert.Equal(t, int64(17), res.Bytes)
	assert.Equal(t, []string{DownloadForbidden, DownloadForbidden, DownloadOK}, rec.downloads)
	assert.FileExists(t, out)
}

func TestDownloadForbiddenEveryAttempt(t *testing.T) {
	out := filepath.Join(t.TempDir(), "form.pdf")
	transfer := &scriptedTransfer{errs: []error{forbidden, forbidden, forbidden, forbidden, forbidden}}

	_, err := NewDownloader(transfer, 5, time.Minute, nil, nil).Download(context.Background(), "https://b.s3.amazonaws.com/f.pdf", out)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrURLExpired)
	assert.Contains(t, err.Error(), "expired")
	assert.Equal(t, models.ErrorKindExpiredAuthorization, models.KindOf(err))
	assert.Equal(t, 5, transfer.calls)
	assert.NoFileExists(t, out, "partial file is cleaned up")
}

func TestDownloadNonForbiddenErrorIsNotRetried(t *testing.T) {
	out := filepath.Join(t.TempDir(), "form.pdf")
	diskFull := errors.New("no space left on device")
	transfer := &scriptedTransfer{errs: []error{diskFull}}

	_, err := NewDownloader(transfer, 5, time.Minute, nil, nil).Download(context.Background(), "https://b.s3.amazonaws.com/f.pdf", out)
	require.Error(t, err)
	assert.ErrorIs(t, err, diskFull)
	assert.NotErrorIs(t, err, models.ErrURLExpired)
	assert.Equal(t, 1, transfer.calls)
	assert.NoFileExists(t, out)
}

func TestDownloadHardTimeout(t *testing.T) {
	out := filepath.Join(t.TempDir(), "form.pdf")
	transfer := &scriptedTransfer{block: true}

	_, err := NewDownloader(transfer, 5, 50*time.Millisecond, nil, nil).Download(context.Background(), "https://b.s3.amazonaws.com/f.pdf", out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Equal(t, 1, transfer.calls)
	assert.NoFileExists(t, out)
}

func TestDownloadTimeoutIsPerAttempt(t *testing.T) {
	out := filepath.Join(t.TempDir(), "form.pdf")
	transfer := &scriptedTransfer{errs: []error{forbidden, forbidden}, delay: 40 * time.Millisecond}

	res, err := NewDownloader(transfer, 5, 100*time.Millisecond, nil, nil).Download(context.Background(), "https://b.s3.amazonaws.com/f.pdf", out)
	require.NoError(t, err, "three attempts together outlast one attempt's deadline")
	assert.Equal(t, 3, res.Attempts)
}

func TestDownloadCancelled(t *testing.T) {
	out := filepath.Join(t.TempDir(), "form.pdf")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDownloader(&scriptedTransfer{block: true}, 5, time.Minute, nil, nil).Download(ctx, "https://b.s3.amazonaws.com/f.pdf", out)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, out)
}

func TestDownloadKeepsExistingFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "form.pdf")
	require.NoError(t, os.WriteFile(out, []byte("earlier download"), 0644))

	t.Run("http transfer", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		_, err := NewDownloader(&HTTPTransfer{Client: srv.Client()}, 2, time.Minute, nil, nil).Download(context.Background(), srv.URL+"/form.pdf", out)
		require.ErrorIs(t, err, models.ErrURLExpired)

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "earlier download", string(data))
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no temporary files are left behind")
	})

	t.Run("other transfer", func(t *testing.T) {
		_, err := NewDownloader(&scriptedTransfer{errs: []error{errors.New("connection reset")}}, 2, time.Minute, nil, nil).
			Download(context.Background(), "https://b.s3.amazonaws.com/f.pdf", out)
		require.Error(t, err)
		assert.FileExists(t, out)
	})
}

func TestHTTPTransferWithDownloader(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("<Error><Code>AccessDenied</Code><Message>Request has expired</Message></Error>"))
			return
		}
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "nested", "file.pdf")
	res, err := NewDownloader(&HTTPTransfer{Client: srv.Client()}, 5, time.Minute, nil, nil).Download(context.Background(), srv.URL+"/file.pdf", out)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))
}

func TestHTTPTransferErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		forbidden bool
	}{
		{name: "forbidden", status: http.StatusForbidden, forbidden: true},
		{name: "not found", status: http.StatusNotFound},
		{name: "empty body", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := (&HTTPTransfer{}).Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "f"))
			require.Error(t, err)
			assert.Equal(t, tt.forbidden, IsForbidden(err))
		})
	}
}

func TestIsForbidden(t *testing.T) {
	assert.False(t, IsForbidden(nil))
	assert.True(t, IsForbidden(&StatusError{StatusCode: 403}))
	assert.False(t, IsForbidden(&StatusError{StatusCode: 500}))
	assert.True(t, IsForbidden(errors.New("Failed to download PDF. Status code: 403")))
}
