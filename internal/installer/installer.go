// Package installer stages a downloaded release into the payload root and
// swaps the current pointer atomically. Grounded on the write-tmp-then-rename
// idiom used throughout the state store, extended here to whole directory
// trees, plus the netlink manager's defensive pre-flight validation style.
package installer

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
	"github.com/petitechose-midi-studio/ms-manager/internal/layout"
)

func init() {
	// Use klauspost's faster flate decompressor for bundle extraction
	// instead of stdlib's, without giving up archive/zip's container parsing.
	zip.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
}

// CachedAsset is a manifest asset resolved to its local, content-addressed
// bytes.
type CachedAsset struct {
	Kind      string
	Filename  string
	LocalPath string
}

// Plan is the concrete set of cached assets for one install, naming which
// one is the bundle.
type Plan struct {
	Tag    string
	Assets []CachedAsset
}

const (
	bridgeBinName = "oc-bridge"
	loaderBinName = "midi-studio-loader"
)

func executableSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}

// ApplyInstall stages plan.Tag's version directory (extracting the bundle
// fresh, or overlaying assets incrementally if the version already exists)
// and points current at it.
func ApplyInstall(l *layout.Layout, plan Plan) error {
	versionDir := l.VersionDir(plan.Tag)

	if _, err := os.Stat(versionDir); err == nil {
		if err := overlayNonBundleAssets(versionDir, plan.Assets); err != nil {
			return err
		}
		if err := fixExecutableBits(versionDir); err != nil {
			return err
		}
		return SetCurrent(l, plan.Tag)
	} else if !os.IsNotExist(err) {
		return apierr.Wrap(apierr.CodeIOPathFailed, "", err)
	}

	stagingDir := l.StagingDir(plan.Tag)
	if err := os.RemoveAll(stagingDir); err != nil {
		return apierr.Wrap(apierr.CodeIORemove, "failed to clear leftover staging dir", err)
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return apierr.Wrap(apierr.CodeIOMkdir, "", err)
	}

	bundle, ok := findBundle(plan.Assets)
	if !ok {
		return apierr.New(apierr.CodeInstallPlanInvalid, "install plan has no bundle asset")
	}
	if err := extractZip(bundle.LocalPath, stagingDir); err != nil {
		return err
	}
	if err := overlayNonBundleAssets(stagingDir, plan.Assets); err != nil {
		return err
	}
	if err := fixExecutableBits(stagingDir); err != nil {
		return err
	}

	if err := os.Rename(stagingDir, versionDir); err != nil {
		if os.IsExist(err) {
			// Another install won the race; discard our staging copy.
			_ = os.RemoveAll(stagingDir)
		} else if _, statErr := os.Stat(versionDir); statErr == nil {
			_ = os.RemoveAll(stagingDir)
		} else {
			return apierr.Wrap(apierr.CodeIORename, "failed to promote staging to version dir", err)
		}
	}

	return SetCurrent(l, plan.Tag)
}

func findBundle(assets []CachedAsset) (CachedAsset, bool) {
	for _, a := range assets {
		if a.Kind == "bundle" {
			return a, true
		}
	}
	return CachedAsset{}, false
}

func overlayNonBundleAssets(destRoot string, assets []CachedAsset) error {
	for _, a := range assets {
		if a.Kind == "bundle" {
			continue
		}
		rel := layout.AssetRelPath(a.Kind, a.Filename)
		dest := filepath.Join(destRoot, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return apierr.Wrap(apierr.CodeIOMkdir, "", err)
		}
		if err := copyFile(a.LocalPath, dest); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return apierr.Wrap(apierr.CodeIORead, "", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return apierr.Wrap(apierr.CodeIOWrite, "", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return apierr.Wrap(apierr.CodeIOCopy, "", err)
	}
	return nil
}

// SetCurrent repoints current at versions/<tag>, which must already exist.
func SetCurrent(l *layout.Layout, tag string) error {
	versionDir := l.VersionDir(tag)
	if _, err := os.Stat(versionDir); err != nil {
		return apierr.New(apierr.CodeInstallMissingVersion, "cannot point current at a version that does not exist: "+tag)
	}

	link := l.CurrentLink()
	if err := removeCurrentPointer(link); err != nil {
		return err
	}
	if err := createCurrentPointer(versionDir, link); err != nil {
		return err
	}
	return nil
}

func removeCurrentPointer(link string) error {
	if runtime.GOOS == "windows" {
		if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
			return apierr.Wrap(apierr.CodeCurrentLinkFailed, "failed to remove existing current junction", err)
		}
		return nil
	}
	if err := os.Remove(link); err == nil || os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(link); err != nil && !os.IsNotExist(err) {
		return apierr.Wrap(apierr.CodeCurrentLinkFailed, "failed to remove existing current pointer", err)
	}
	return nil
}

func extractZip(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return apierr.Wrap(apierr.CodeZipInvalid, "", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := extractEntry(f, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(f *zip.File, destDir string) error {
	cleanName := filepath.Clean(f.Name)
	destPath := filepath.Join(destDir, cleanName)

	rel, err := filepath.Rel(destDir, destPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return apierr.New(apierr.CodeZipInvalid, "zip entry escapes staging directory: "+f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(destPath, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return apierr.Wrap(apierr.CodeIOMkdir, "", err)
	}

	rc, err := f.Open()
	if err != nil {
		return apierr.Wrap(apierr.CodeZipInvalid, "", err)
	}
	defer rc.Close()

	mode := f.Mode()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return apierr.Wrap(apierr.CodeIOWrite, "", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return apierr.Wrap(apierr.CodeIOCopy, "", err)
	}
	return nil
}
