// Package upload hands a finished recording to the remote collector with a
// single HTTP POST.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/large-farva/pocketmic/internal/wavfile"
)

// ContentType is sent with every upload.
const ContentType = "audio/wav"

// maxBody bounds how much of the collector's reply is kept.
const maxBody = 4096

// Outcome is what the collector answered. StatusCode is 0 when the request
// never produced a response.
type Outcome struct {
	StatusCode int
	Body       string
	Bytes      int64
	Elapsed    time.Duration
}

// OK reports whether the collector accepted the file.
func (o Outcome) OK() bool { return o.StatusCode == http.StatusOK }

// Uploader posts files from a Storage to URL.
type Uploader struct {
	URL    string
	Store  wavfile.Storage
	Client *http.Client
	Log    logrus.FieldLogger
}

// New returns an uploader with its own client bounded by timeout.
func New(url string, store wavfile.Storage, timeout time.Duration, logger logrus.FieldLogger) *Uploader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Uploader{
		URL:    url,
		Store:  store,
		Client: &http.Client{Timeout: timeout},
		Log:    logger.WithField("component", "upload"),
	}
}

// Upload sends path as the request body. Exactly one attempt is made. The
// file is removed only when the collector answers 200; on any other result
// it stays in place for a later retry.
func (u *Uploader) Upload(ctx context.Context, path string) (Outcome, error) {
	var out Outcome

	info, err := u.Store.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, fmt.Errorf("%s: %w", path, ErrMissingFile)
		}
		return out, fmt.Errorf("stat %s: %w", path, err)
	}
	f, err := u.Store.Open(path)
	if err != nil {
		return out, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, f)
	if err != nil {
		return out, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.ContentLength = info.Size()
	out.Bytes = info.Size()

	u.Log.WithFields(logrus.Fields{"url": u.URL, "bytes": info.Size()}).Info("uploading recording")

	start := time.Now()
	resp, err := u.Client.Do(req)
	out.Elapsed = time.Since(start)
	if err != nil {
		return out, fmt.Errorf("post %s: %w", u.URL, err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	out.StatusCode = resp.StatusCode
	out.Body = strings.TrimSpace(string(b))

	if !out.OK() {
		return out, fmt.Errorf("HTTP %s: %w", resp.Status, ErrStatus)
	}

	if err := u.Store.Remove(path); err != nil {
		// The collector already has it.
		u.Log.WithError(err).Warn("remove uploaded recording")
	}
	u.Log.WithFields(logrus.Fields{
		"status":  out.StatusCode,
		"elapsed": out.Elapsed.Round(time.Millisecond).String(),
	}).Info("upload accepted")
	return out, nil
}
