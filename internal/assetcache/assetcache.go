// Package assetcache implements the content-addressed download cache:
// manifest assets are materialized once under R/cache/assets/<sha256>/<filename>
// and reused verbatim thereafter, verified on every reuse. Grounded on the
// write-tmp-then-rename atomicity idiom the teacher uses for its own state
// file, generalized here to streamed downloads.
package assetcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
	"github.com/petitechose-midi-studio/ms-manager/internal/layout"
)

// Asset is the subset of a manifest asset needed to materialize its bytes.
type Asset struct {
	Filename string
	SHA256   string
	Size     uint64
	URL      string
}

// Cache downloads and verifies assets into the content-addressed cache
// rooted at a Layout.
type Cache struct {
	layout *layout.Layout
	client *http.Client
}

// New constructs a Cache. A nil client defaults to http.DefaultClient.
func New(l *layout.Layout, client *http.Client) *Cache {
	if client == nil {
		client = http.DefaultClient
	}
	return &Cache{layout: l, client: client}
}

// EnsureCached returns the local path to asset's bytes, downloading and
// verifying them if not already cached. Idempotent and safe to call
// concurrently for distinct assets (same-asset concurrent calls race on the
// same .download temp file, which is acceptable for this single-task caller).
func (c *Cache) EnsureCached(asset Asset) (string, error) {
	if asset.URL == "" || asset.Filename == "" || asset.SHA256 == "" {
		return "", apierr.New(apierr.CodeAssetInvalid, "asset is missing url, filename, or sha256")
	}

	finalPath := c.layout.CachePath(asset.SHA256, asset.Filename)

	if info, err := os.Stat(finalPath); err == nil {
		if asset.Size == 0 || uint64(info.Size()) == asset.Size {
			if sum, err := sha256File(finalPath); err == nil && sum == asset.SHA256 {
				return finalPath, nil
			}
		}
		_ = os.Remove(finalPath)
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", apierr.Wrap(apierr.CodeIOMkdir, "", err)
	}

	downloadPath := finalPath + ".download"
	sum, err := c.download(asset.URL, downloadPath)
	if err != nil {
		_ = os.Remove(downloadPath)
		return "", err
	}

	info, err := os.Stat(downloadPath)
	if err != nil {
		_ = os.Remove(downloadPath)
		return "", apierr.Wrap(apierr.CodeIORead, "", err)
	}
	if asset.Size != 0 && uint64(info.Size()) != asset.Size {
		_ = os.Remove(downloadPath)
		return "", apierr.New(apierr.CodeAssetSizeMismatch, fmt.Sprintf("expected %d bytes, got %d", asset.Size, info.Size())).
			WithDetail("filename", asset.Filename)
	}
	if sum != asset.SHA256 {
		_ = os.Remove(downloadPath)
		return "", apierr.New(apierr.CodeAssetSHA256Mismatch, fmt.Sprintf("expected sha256 %s, got %s", asset.SHA256, sum)).
			WithDetail("filename", asset.Filename)
	}

	if err := os.Rename(downloadPath, finalPath); err != nil {
		return "", apierr.Wrap(apierr.CodeIORename, "", err)
	}
	return finalPath, nil
}

// download streams url into path, returning the hex SHA-256 digest of the
// bytes written.
func (c *Cache) download(url, path string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", apierr.Wrap(apierr.CodeHTTPRequestFailed, "", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", apierr.Wrap(apierr.CodeHTTPRequestFailed, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apierr.New(apierr.CodeHTTPStatus, fmt.Sprintf("unexpected status %d", resp.StatusCode)).
			WithDetail("url", url).WithDetail("status", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", apierr.Wrap(apierr.CodeIOWrite, "", err)
	}
	defer f.Close()

	h := sha256.New()
	w := io.MultiWriter(f, h)
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", apierr.Wrap(apierr.CodeHTTPReadFailed, "", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
