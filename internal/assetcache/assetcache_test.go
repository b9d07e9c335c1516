package assetcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
	"github.com/petitechose-midi-studio/ms-manager/internal/layout"
	"github.com/stretchr/testify/require"
)

func sumOf(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func newCache(t *testing.T) (*Cache, *layout.Layout) {
	t.Helper()
	l := &layout.Layout{Root: t.TempDir()}
	return New(l, http.DefaultClient), l
}

func TestEnsureCachedRejectsIncompleteAsset(t *testing.T) {
	c, _ := newCache(t)
	_, err := c.EnsureCached(Asset{Filename: "x.zip"})
	require.Error(t, err)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, apierr.CodeAssetInvalid, apiErr.Code)
}

func TestEnsureCachedDownloadsAndVerifies(t *testing.T) {
	body := []byte("hello world, this is firmware bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	c, l := newCache(t)
	asset := Asset{Filename: "fw.bin", SHA256: sumOf(body), Size: uint64(len(body)), URL: srv.URL}

	path, err := c.EnsureCached(asset)
	require.NoError(t, err)
	require.Equal(t, l.CachePath(asset.SHA256, asset.Filename), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, body, got)

	_, err = os.Stat(path + ".download")
	require.True(t, os.IsNotExist(err))
}

func TestEnsureCachedIsIdempotent(t *testing.T) {
	body := []byte("idempotent bytes")
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(body)
	}))
	defer srv.Close()

	c, _ := newCache(t)
	asset := Asset{Filename: "a.bin", SHA256: sumOf(body), Size: uint64(len(body)), URL: srv.URL}

	_, err := c.EnsureCached(asset)
	require.NoError(t, err)
	_, err = c.EnsureCached(asset)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestEnsureCachedRehashesOnSizeMatchButContentDrift(t *testing.T) {
	body := []byte("original bytes!!")
	c, l := newCache(t)
	asset := Asset{Filename: "a.bin", SHA256: sumOf(body), Size: uint64(len(body)), URL: "unused"}

	path := l.CachePath(asset.SHA256, asset.Filename)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("corruptedbytes!!"), 0o644))

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(body)
	}))
	defer srv.Close()
	asset.URL = srv.URL

	got, err := c.EnsureCached(asset)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	data, err := os.ReadFile(got)
	require.NoError(t, err)
	require.Equal(t, body, data)
}

func TestEnsureCachedHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := newCache(t)
	_, err := c.EnsureCached(Asset{Filename: "a.bin", SHA256: "deadbeef", Size: 4, URL: srv.URL})
	require.Error(t, err)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, apierr.CodeHTTPStatus, apiErr.Code)
}

func TestEnsureCachedSizeMismatch(t *testing.T) {
	body := []byte("twelve bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	c, l := newCache(t)
	asset := Asset{Filename: "a.bin", SHA256: sumOf(body), Size: 999, URL: srv.URL}
	_, err := c.EnsureCached(asset)
	require.Error(t, err)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, apierr.CodeAssetSizeMismatch, apiErr.Code)

	_, statErr := os.Stat(l.CachePath(asset.SHA256, asset.Filename))
	require.True(t, os.IsNotExist(statErr))
}

func TestEnsureCachedHashMismatch(t *testing.T) {
	body := []byte("thirteen byte")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	c, l := newCache(t)
	asset := Asset{Filename: "a.bin", SHA256: "0000000000000000000000000000000000000000000000000000000000000000", Size: uint64(len(body)), URL: srv.URL}
	_, err := c.EnsureCached(asset)
	require.Error(t, err)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, apierr.CodeAssetSHA256Mismatch, apiErr.Code)

	_, statErr := os.Stat(l.CachePath(asset.SHA256, asset.Filename))
	require.True(t, os.IsNotExist(statErr))
}

func TestEnsureCachedZeroSizeSkipsSizeCheckButHashStillMandatory(t *testing.T) {
	body := []byte("zero size sentinel means no size check")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	c, _ := newCache(t)

	// Correct hash, Size: 0 -> succeeds despite no size check being possible.
	ok := Asset{Filename: "a.bin", SHA256: sumOf(body), Size: 0, URL: srv.URL}
	_, err := c.EnsureCached(ok)
	require.NoError(t, err)

	// Wrong hash, Size: 0 -> still fails on hash.
	bad := Asset{Filename: "b.bin", SHA256: "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef", Size: 0, URL: srv.URL}
	_, err = c.EnsureCached(bad)
	require.Error(t, err)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, apierr.CodeAssetSHA256Mismatch, apiErr.Code)
}
