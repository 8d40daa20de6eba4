package stt

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ulikunitz/xz"

	. "github.com/roelfdiedericks/voicerelay/internal/logging"
)

// maxEntrySize caps a single extracted file to stop decompression bombs.
const maxEntrySize = 4 << 30

// defaultArchiveRoot names the extracted root when the archive has no entries.
const defaultArchiveRoot = "model"

// extractArchive extracts archivePath into destDir and returns the name of
// the archive's top-level directory (taken from its first entry). The format
// is detected from content, not from the file name.
func extractArchive(archivePath, destDir string) (string, error) {
	mtype, err := mimetype.DetectFile(archivePath)
	if err != nil {
		return "", fmt.Errorf("detect archive type: %w", err)
	}
	L_debug("stt: extracting model archive", "path", archivePath, "type", mtype.String())

	switch {
	case isKind(mtype, "application/zip"):
		return extractZip(archivePath, destDir)
	case isKind(mtype, "application/gzip"):
		return extractTarStream(archivePath, destDir, func(r io.Reader) (io.Reader, error) {
			return gzip.NewReader(r)
		})
	case isKind(mtype, "application/x-bzip2"):
		return extractTarStream(archivePath, destDir, func(r io.Reader) (io.Reader, error) {
			return bzip2.NewReader(r), nil
		})
	case isKind(mtype, "application/x-xz"):
		return extractTarStream(archivePath, destDir, func(r io.Reader) (io.Reader, error) {
			return xz.NewReader(r)
		})
	case isKind(mtype, "application/x-tar"):
		return extractTarStream(archivePath, destDir, func(r io.Reader) (io.Reader, error) {
			return r, nil
		})
	default:
		return "", fmt.Errorf("%w: detected %s (expected zip or tar)", ErrUnsupportedArchive, mtype.String())
	}
}

// isKind matches mime or any of its parents (a jar is still a zip).
func isKind(mtype *mimetype.MIME, mime string) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is(mime) {
			return true
		}
	}
	return false
}

// topLevel returns the first path component of an archive entry name.
func topLevel(name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	root := strings.SplitN(name, "/", 2)[0]
	if root == "" || root == "." {
		return defaultArchiveRoot
	}
	return root
}

// safeJoin joins an entry name onto destDir, rejecting path traversal.
func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)
	if target == filepath.Clean(destDir) {
		return target, nil
	}
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid archive path: %s", name)
	}
	return target, nil
}

func extractZip(archivePath, destDir string) (string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	root := defaultArchiveRoot
	if len(zr.File) > 0 {
		root = topLevel(zr.File[0].Name)
	}

	for _, f := range zr.File {
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return "", err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0750); err != nil {
				return "", err
			}
			continue
		}

		if err := extractZipFile(f, target); err != nil {
			return "", err
		}
	}

	return root, nil
}

func extractZipFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	return writeFile(target, rc, f.Mode().Perm())
}

func extractTarStream(archivePath, destDir string, decompress func(io.Reader) (io.Reader, error)) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r, err := decompress(f)
	if err != nil {
		return "", fmt.Errorf("failed to create decompressor: %w", err)
	}
	if closer, ok := r.(io.Closer); ok {
		defer closer.Close()
	}

	tr := tar.NewReader(r)
	root := ""

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("tar read error: %w", err)
		}
		if header.Typeflag == tar.TypeXGlobalHeader {
			continue
		}
		if root == "" {
			root = topLevel(header.Name)
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return "", err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0750); err != nil {
				return "", err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
				return "", err
			}
			if err := writeFile(target, tr, os.FileMode(header.Mode).Perm()); err != nil {
				return "", err
			}
		default:
			L_trace("stt: skipping tar entry", "name", header.Name, "type", header.Typeflag)
		}
	}

	if root == "" {
		root = defaultArchiveRoot
	}
	return root, nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0640
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, io.LimitReader(r, maxEntrySize)); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
