// ABOUTME: Sample operations: upload, download, search, analysis retrieval and requests
// ABOUTME: Streams file content both ways and maps status codes to the documented sentinels

package koodous

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hikmaai-io/hikmaai-koodous/pkg/apkfile"
)

// Upload sends a local APK to the service and returns its SHA-256.
// It fails with ErrAlreadyExists when the service already holds the sample.
func (c *Client) Upload(ctx context.Context, path string) (string, error) {
	digest, err := apkfile.SHA256(path)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return c.upload(ctx, path, digest)
}

// UploadReader spools r into a temporary file, hashing while copying, and
// uploads it. The temporary file is removed before returning.
func (c *Client) UploadReader(ctx context.Context, r io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "koodous-upload-*.apk")
	if err != nil {
		return "", fmt.Errorf("upload: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	digest, _, err := apkfile.SHA256Reader(io.TeeReader(r, tmp))
	if err != nil {
		tmp.Close()
		return "", fmt.Errorf("upload: spool content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("upload: close temp file: %w", err)
	}

	return c.upload(ctx, tmp.Name(), digest)
}

// upload sends path, whose content hashes to digest.
func (c *Client) upload(ctx context.Context, path, digest string) (string, error) {
	var target struct {
		UploadURL string `json:"upload_url"`
	}
	err := c.doJSON(ctx, request{
		operation: "get upload url",
		method:    http.MethodGet,
		ref:       digestPath(digest, "get_upload_url"),
		sha256:    digest,
	}, &target)
	if IsConflict(err) {
		return "", ErrAlreadyExists
	}
	if err != nil {
		return "", err
	}
	if target.UploadURL == "" {
		return "", errors.New("get upload url: response carried no upload_url")
	}

	if err := c.postFile(ctx, target.UploadURL, path, digest); err != nil {
		return "", err
	}

	c.logger.InfoContext(ctx, "sample uploaded", "sha256", digest)
	return digest, nil
}

// postFile streams path as the "file" field of a multipart POST with a
// precomputed Content-Length, since signed storage URLs may refuse chunked
// bodies. The writer goroutine owns the file and always exits before
// postFile returns.
func (c *Client) postFile(ctx context.Context, uploadURL, path, digest string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("upload: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	filename := filepath.Base(path)

	length, err := multipartLength(mw.Boundary(), filename, info.Size())
	if err != nil {
		f.Close()
		return fmt.Errorf("upload: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer f.Close()

		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	defer func() {
		// Unblocks the writer if the transport stopped reading early.
		pr.CloseWithError(io.ErrClosedPipe)
		<-done
	}()

	resp, err := c.do(ctx, request{
		operation:     "upload file",
		method:        http.MethodPost,
		ref:           uploadURL,
		external:      true,
		body:          pr,
		contentType:   mw.FormDataContentType(),
		contentLength: length,
		sha256:        digest,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return errorFromResponse("upload file", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// multipartLength returns the size of a single-file multipart body written
// with boundary: the part envelope plus size content bytes.
func multipartLength(boundary, filename string, size int64) (int64, error) {
	var envelope bytes.Buffer
	mw := multipart.NewWriter(&envelope)
	if err := mw.SetBoundary(boundary); err != nil {
		return 0, err
	}
	if _, err := mw.CreateFormFile("file", filename); err != nil {
		return 0, err
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}
	return int64(envelope.Len()) + size, nil
}

// GetDownloadURL returns a signed, time-limited URL for the sample bytes.
func (c *Client) GetDownloadURL(ctx context.Context, digest string) (string, error) {
	var target struct {
		DownloadURL string `json:"download_url"`
	}
	err := c.doJSON(ctx, request{
		operation: "get download url",
		method:    http.MethodGet,
		ref:       digestPath(digest, "download"),
		sha256:    digest,
	}, &target)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	if target.DownloadURL == "" {
		return "", fmt.Errorf("%w: response carried no download_url", ErrDownloadFailed)
	}
	return target.DownloadURL, nil
}

// DownloadToFile writes the sample to path and returns its digest.
// Content is verified against digest before it replaces path; every failure
// matches ErrDownloadFailed and leaves no partial file behind.
func (c *Client) DownloadToFile(ctx context.Context, digest, path string) (string, error) {
	want := strings.ToLower(strings.TrimSpace(digest))

	downloadURL, err := c.GetDownloadURL(ctx, want)
	if err != nil {
		return "", err
	}

	resp, err := c.do(ctx, request{
		operation: "download file",
		method:    http.MethodGet,
		ref:       downloadURL,
		external:  true,
		sha256:    want,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return "", fmt.Errorf("%w: %w", ErrDownloadFailed, errorFromResponse("download file", resp))
	}

	got, err := writeVerified(resp.Body, path, want)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	c.logger.InfoContext(ctx, "sample downloaded", "sha256", got, "path", path)
	return got, nil
}

// writeVerified streams r into a temporary sibling of path and renames it
// into place only when its digest equals want.
func writeVerified(r io.Reader, path, want string) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".koodous-*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), r); err != nil {
		return "", fmt.Errorf("write content: %w", err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != want {
		return "", fmt.Errorf("digest mismatch: got %s", got)
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		committed = true
		return "", fmt.Errorf("move into place: %w", err)
	}
	committed = true
	return got, nil
}

// SearchOption configures Search.
type SearchOption func(*searchOptions)

type searchOptions struct {
	limit int
}

// WithLimit follows next pages until n results are gathered or the listing
// ends. Without it Search returns the first page only.
func WithLimit(n int) SearchOption {
	return func(o *searchOptions) { o.limit = n }
}

// Search runs a query against the sample corpus.
// An empty, non-nil slice means no sample matched.
func (c *Client) Search(ctx context.Context, query string, opts ...SearchOption) ([]APK, error) {
	var o searchOptions
	for _, opt := range opts {
		opt(&o)
	}

	p := c.searchPager(query)
	if o.limit > 0 {
		return p.collect(ctx, o.limit)
	}

	items, _, err := p.Next(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []APK{}
	}
	return items, nil
}

// IterSearch lazily yields result pages for query.
func (c *Client) IterSearch(ctx context.Context, query string) iter.Seq2[[]APK, error] {
	return func(yield func([]APK, error) bool) {
		c.searchPager(query).All(ctx)(yield)
	}
}

func (c *Client) searchPager(query string) *pager[APK] {
	q := c.listQuery()
	q.Set("search", query)
	return newPager[APK](c, "search", "apks", q)
}

// errEmptyAnalysis reports a successful analysis response without a report,
// kept apart from the (nil, nil) answer for unknown identifiers.
var errEmptyAnalysis = errors.New("get analysis: response carried no analysis")

// GetAnalysis returns the analysis report of a sample.
//
// A sample that exists but was never analyzed yields ErrNoAnalysis. An
// identifier the service does not recognize yields (nil, nil).
func (c *Client) GetAnalysis(ctx context.Context, digest string) (Analysis, error) {
	var analysis Analysis
	err := c.doJSON(ctx, request{
		operation: "get analysis",
		method:    http.MethodGet,
		ref:       digestPath(digest, "analysis"),
		sha256:    digest,
	}, &analysis)

	switch {
	case err == nil && analysis == nil:
		return nil, errEmptyAnalysis
	case err == nil:
		return analysis, nil
	case HasStatusCode(err, http.StatusMethodNotAllowed):
		return nil, ErrNoAnalysis
	case IsNotFound(err), HasStatusCode(err, http.StatusBadRequest):
		return nil, nil
	default:
		return nil, err
	}
}

// Analyze asks the service to analyze a sample. It reports false when the
// service does not accept the request for that identifier.
func (c *Client) Analyze(ctx context.Context, digest string) (bool, error) {
	err := c.doJSON(ctx, request{
		operation: "request analysis",
		method:    http.MethodGet,
		ref:       digestPath(digest, "analyze"),
		sha256:    digest,
	}, nil)

	switch {
	case err == nil:
		return true, nil
	case IsNotFound(err), HasStatusCode(err, http.StatusBadRequest), HasStatusCode(err, http.StatusMethodNotAllowed):
		return false, nil
	default:
		return false, err
	}
}
