// Package fetcher obtains raw spreadsheet bytes from an upload, a remote URL
// or a blob storage object.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/logger"
	"github.com/dvloznov/dre-reports/internal/storage"
)

// SourceKind identifies where a spreadsheet comes from.
type SourceKind string

const (
	SourceUpload SourceKind = "upload"
	SourceURL    SourceKind = "url"
	SourceBlob   SourceKind = "blob"
)

// Source describes a spreadsheet to retrieve. Exactly one of Data, URL or
// URI is used, according to Kind.
type Source struct {
	Kind SourceKind
	Name string // file name; derived from the URL or URI when empty
	Data []byte // SourceUpload
	URL  string // SourceURL
	URI  string // SourceBlob, gs://bucket/object
}

// Upload is a Source for bytes received from a client.
func Upload(name string, data []byte) Source {
	return Source{Kind: SourceUpload, Name: name, Data: data}
}

// URL is a Source for a remote HTTP(S) download.
func URL(rawURL string) Source {
	return Source{Kind: SourceURL, URL: rawURL}
}

// Blob is a Source for a gs:// object.
func Blob(uri string) Source {
	return Source{Kind: SourceBlob, URI: uri}
}

// String describes the source for run records. Query strings are dropped
// from URLs since download links often carry credentials.
func (s Source) String() string {
	switch s.Kind {
	case SourceUpload:
		return "upload:" + s.Name
	case SourceURL:
		u, err := url.Parse(s.URL)
		if err != nil {
			return "url:invalid"
		}
		u.RawQuery, u.Fragment, u.User = "", "", nil
		return "url:" + u.String()
	case SourceBlob:
		return "blob:" + s.URI
	}
	return string(s.Kind)
}

// Payload is a retrieved spreadsheet.
type Payload struct {
	Name        string
	Data        []byte
	SHA256      string
	ContentType string
}

// Options configures retry behaviour for remote downloads.
type Options struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxBytes    int64
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:     60 * time.Second,
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		MaxBytes:    50 << 20,
	}
}

// Fetcher retrieves spreadsheets.
type Fetcher struct {
	client *http.Client
	blobs  storage.BlobStore
	opts   Options
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Fetcher. blobs may be nil when gs:// sources are not used.
func New(client *http.Client, blobs storage.BlobStore, opts Options) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Fetcher{client: client, blobs: blobs, opts: opts, sleep: sleepContext}
}

// Fetch retrieves the source and hashes its content.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (*Payload, error) {
	var (
		p   *Payload
		err error
	)
	switch src.Kind {
	case SourceUpload:
		p, err = f.fromUpload(src)
	case SourceURL:
		p, err = f.fromURL(ctx, src)
	case SourceBlob:
		p, err = f.fromBlob(ctx, src)
	default:
		return nil, fmt.Errorf("Fetch: unknown source kind %q", src.Kind)
	}
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(p.Data)
	p.SHA256 = hex.EncodeToString(sum[:])
	if p.ContentType == "" {
		p.ContentType = contentTypeFor(p.Name)
	}
	return p, nil
}

func (f *Fetcher) fromUpload(src Source) (*Payload, error) {
	if len(src.Data) == 0 {
		return nil, errors.New("fromUpload: uploaded file is empty")
	}
	name := src.Name
	if name == "" {
		name = "upload.xlsx"
	}
	return &Payload{Name: name, Data: src.Data}, nil
}

func (f *Fetcher) fromBlob(ctx context.Context, src Source) (*Payload, error) {
	if f.blobs == nil {
		return nil, errors.New("fromBlob: blob storage is not configured")
	}
	bucket, object, err := storage.ParseURI(src.URI)
	if err != nil {
		return nil, fmt.Errorf("fromBlob: %w", err)
	}
	data, err := f.blobs.Get(ctx, bucket, object)
	if err != nil {
		return nil, &domain.FetchError{URL: src.URI, Attempts: 1, Err: err}
	}
	if len(data) == 0 {
		return nil, &domain.FetchError{URL: src.URI, Attempts: 1, Err: errors.New("object is empty")}
	}
	name := src.Name
	if name == "" {
		name = storage.FileName(src.URI)
	}
	return &Payload{Name: name, Data: data}, nil
}

func (f *Fetcher) fromURL(ctx context.Context, src Source) (*Payload, error) {
	log := logger.FromContext(ctx)

	if strings.TrimSpace(src.URL) == "" {
		return nil, errors.New("fromURL: url is empty")
	}
	u, err := url.Parse(src.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("fromURL: invalid url %q", src.URL)
	}

	var (
		lastErr    error
		lastStatus int
	)
	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := f.backoff(attempt - 1)
			log.Warn().
				Str("url", u.Redacted()).
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("Retrying download")
			if err := f.sleep(ctx, delay); err != nil {
				return nil, &domain.FetchError{URL: u.Redacted(), StatusCode: lastStatus, Attempts: attempt - 1, Err: err}
			}
		}

		data, contentType, status, err := f.get(ctx, src.URL)
		if err == nil {
			name := src.Name
			if name == "" {
				name = nameFromURL(u)
			}
			log.Info().
				Str("url", u.Redacted()).
				Int("attempt", attempt).
				Int("bytes", len(data)).
				Msg("Downloaded source file")
			return &Payload{Name: name, Data: data, ContentType: contentType}, nil
		}

		lastErr, lastStatus = err, status
		if ctx.Err() != nil || !retryable(status) {
			return nil, &domain.FetchError{URL: u.Redacted(), StatusCode: status, Attempts: attempt, Err: err}
		}
	}

	return nil, &domain.FetchError{URL: u.Redacted(), StatusCode: lastStatus, Attempts: f.opts.MaxAttempts, Err: lastErr}
}

// get performs one attempt. status is 0 when no response was received.
func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", 0, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var body io.Reader = resp.Body
	if f.opts.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.opts.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if f.opts.MaxBytes > 0 && int64(len(data)) > f.opts.MaxBytes {
		return nil, "", http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %d bytes", f.opts.MaxBytes)
	}
	if len(data) == 0 {
		return nil, "", resp.StatusCode, errors.New("empty response body")
	}
	return data, resp.Header.Get("Content-Type"), resp.StatusCode, nil
}

// backoff returns BaseDelay * 2^(n-1), capped at MaxDelay.
func (f *Fetcher) backoff(n int) time.Duration {
	delay := f.opts.BaseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if f.opts.MaxDelay > 0 && delay >= f.opts.MaxDelay {
			return f.opts.MaxDelay
		}
	}
	if f.opts.MaxDelay > 0 && delay > f.opts.MaxDelay {
		return f.opts.MaxDelay
	}
	return delay
}

// retryable reports whether an attempt that ended with status should be
// retried. 0 means a transport error.
func retryable(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func nameFromURL(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return "download.xlsx"
	}
	return base
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".csv":
		return "text/csv"
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
