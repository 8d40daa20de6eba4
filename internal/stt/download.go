package stt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/roelfdiedericks/voicerelay/internal/logging"
	"github.com/roelfdiedericks/voicerelay/internal/paths"
)

// DownloadTimeout bounds a whole model download.
const DownloadTimeout = 30 * time.Minute

// Provisioner makes sure a model directory exists before first use.
type Provisioner struct {
	Client *http.Client
}

// NewProvisioner returns a provisioner with a download client.
func NewProvisioner() *Provisioner {
	return &Provisioner{Client: &http.Client{Timeout: DownloadTimeout}}
}

// IsModelReady reports whether dir exists and has at least one entry.
// Contents are not validated any further.
func IsModelReady(dir string) bool {
	return paths.DirHasEntries(dir)
}

// EnsureModel returns targetDir once it holds a model, downloading and
// extracting sourceURL into it when it is missing or empty. If expectedSHA256
// is set, the archive must match it (case-insensitive) before anything is
// extracted.
func (p *Provisioner) EnsureModel(ctx context.Context, targetDir, sourceURL, expectedSHA256 string) (string, error) {
	if IsModelReady(targetDir) {
		L_debug("stt: model already present", "dir", targetDir)
		return targetDir, nil
	}
	if sourceURL == "" {
		return "", fmt.Errorf("%w: %s (no download URL configured)", ErrModelNotReady, targetDir)
	}

	parentDir := filepath.Dir(targetDir)
	if err := paths.EnsureDir(parentDir); err != nil {
		return "", err
	}

	archivePath, digest, err := p.download(ctx, sourceURL, parentDir)
	if archivePath != "" {
		defer func() {
			if rmErr := os.Remove(archivePath); rmErr != nil && !os.IsNotExist(rmErr) {
				L_debug("stt: could not remove model archive", "path", archivePath, "error", rmErr)
			}
		}()
	}
	if err != nil {
		return "", err
	}

	if expectedSHA256 != "" && !strings.EqualFold(strings.TrimSpace(expectedSHA256), digest) {
		return "", fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expectedSHA256, digest)
	}

	root, err := extractArchive(archivePath, parentDir)
	if err != nil {
		return "", err
	}

	extractedRoot := filepath.Join(parentDir, root)
	if !paths.SameFile(extractedRoot, targetDir) {
		if _, statErr := os.Stat(targetDir); statErr == nil {
			// Another process provisioned the target first; keep theirs.
			L_info("stt: model directory appeared during extraction, keeping existing", "dir", targetDir)
		} else if err := os.Rename(extractedRoot, targetDir); err != nil {
			return "", fmt.Errorf("move model into place: %w", err)
		}
	}

	if !IsModelReady(targetDir) {
		return "", fmt.Errorf("%w: %s", ErrModelNotReady, targetDir)
	}

	L_info("stt: model ready", "dir", targetDir, "sha256", digest)
	return targetDir, nil
}

// download streams url into a temp file in dir while hashing it.
// The temp path is returned even on failure so the caller can clean up.
func (p *Provisioner) download(ctx context.Context, url, dir string) (string, string, error) {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: DownloadTimeout}
	}

	L_info("stt: downloading model", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	tempFile, err := os.CreateTemp(dir, ".model-*.download")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	hasher := sha256.New()
	progress := &progressWriter{total: resp.ContentLength, lastLog: time.Now()}
	written, err := io.Copy(io.MultiWriter(tempFile, hasher, progress), resp.Body)
	closeErr := tempFile.Close()
	if err != nil {
		return tempPath, "", fmt.Errorf("read response: %w", err)
	}
	if closeErr != nil {
		return tempPath, "", fmt.Errorf("write file: %w", closeErr)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	L_info("stt: download complete", "bytes", written, "sha256", digest)
	return tempPath, digest, nil
}

// progressWriter logs download progress every couple of seconds.
type progressWriter struct {
	total      int64
	downloaded int64
	lastLog    time.Time
}

func (w *progressWriter) Write(b []byte) (int, error) {
	w.downloaded += int64(len(b))
	if time.Since(w.lastLog) > 2*time.Second {
		downloadedMB := w.downloaded / (1024 * 1024)
		if w.total > 0 {
			percent := int(float64(w.downloaded) / float64(w.total) * 100)
			L_info("stt: downloading", "progress", fmt.Sprintf("%d%%", percent), "downloaded", fmt.Sprintf("%d/%d MB", downloadedMB, w.total/(1024*1024)))
		} else {
			L_info("stt: downloading", "downloaded", fmt.Sprintf("%d MB", downloadedMB))
		}
		w.lastLog = time.Now()
	}
	return len(b), nil
}
