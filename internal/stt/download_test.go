package stt

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ulikunitz/xz"
)

var modelFiles = map[string]string{
	"am/final.mdl":    "acoustic-model",
	"conf/model.conf": "--sample-frequency=16000",
	"README":          "test model",
}

func makeZip(t *testing.T, root string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if _, err := zw.Create(root + "/"); err != nil {
		t.Fatalf("zip dir: %v", err)
	}
	for name, content := range files {
		w, err := zw.Create(root + "/" + name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func writeTar(t *testing.T, w io.Writer, root string, files map[string]string) {
	t.Helper()
	tw := tar.NewWriter(w)
	if err := tw.WriteHeader(&tar.Header{Name: root + "/", Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
		t.Fatalf("tar dir: %v", err)
	}
	for name, content := range files {
		hdr := &tar.Header{Name: root + "/" + name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
}

func makeTarGz(t *testing.T, root string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	writeTar(t, gz, root, files)
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func makeTarXz(t *testing.T, root string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz writer: %v", err)
	}
	writeTar(t, xw, root, files)
	if err := xw.Close(); err != nil {
		t.Fatalf("xz close: %v", err)
	}
	return buf.Bytes()
}

func sha(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// serveArchive serves body and counts requests.
func serveArchive(t *testing.T, status int, body []byte) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".download") {
			t.Errorf("temporary archive left behind: %s", e.Name())
		}
	}
}

func TestEnsureModelDownloadsOnce(t *testing.T) {
	archive := makeZip(t, "vosk-model-small-ru-0.22", modelFiles)
	srv, hits := serveArchive(t, http.StatusOK, archive)

	parent := filepath.Join(t.TempDir(), "models")
	target := filepath.Join(parent, "ru")
	p := &Provisioner{Client: srv.Client()}

	got, err := p.EnsureModel(context.Background(), target, srv.URL+"/model.zip", sha(archive))
	if err != nil {
		t.Fatalf("EnsureModel failed: %v", err)
	}
	if got != target {
		t.Errorf("expected %s, got %s", target, got)
	}
	data, err := os.ReadFile(filepath.Join(target, "conf", "model.conf"))
	if err != nil || string(data) != "--sample-frequency=16000" {
		t.Fatalf("model file not extracted into target: %v %q", err, data)
	}
	if _, err := os.Stat(filepath.Join(parent, "vosk-model-small-ru-0.22")); !os.IsNotExist(err) {
		t.Errorf("extracted root should have been renamed into place")
	}
	assertNoTempFiles(t, parent)

	if _, err := p.EnsureModel(context.Background(), target, srv.URL+"/model.zip", sha(archive)); err != nil {
		t.Fatalf("second EnsureModel failed: %v", err)
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Errorf("expected exactly one download, got %d", n)
	}
}

func TestEnsureModelChecksumMismatch(t *testing.T) {
	archive := makeZip(t, "model-root", modelFiles)
	srv, _ := serveArchive(t, http.StatusOK, archive)

	parent := t.TempDir()
	target := filepath.Join(parent, "model-root")
	p := &Provisioner{Client: srv.Client()}

	_, err := p.EnsureModel(context.Background(), target, srv.URL, strings.Repeat("0", 64))
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Errorf("target directory must not exist after checksum mismatch")
	}
	assertNoTempFiles(t, parent)
}

func TestEnsureModelChecksumCaseInsensitive(t *testing.T) {
	archive := makeTarGz(t, "whisper-base", map[string]string{"ggml-base.bin": "weights"})
	srv, _ := serveArchive(t, http.StatusOK, archive)

	target := filepath.Join(t.TempDir(), "whisper-base")
	p := &Provisioner{Client: srv.Client()}

	if _, err := p.EnsureModel(context.Background(), target, srv.URL, strings.ToUpper(sha(archive))); err != nil {
		t.Fatalf("EnsureModel failed: %v", err)
	}
	if !IsModelReady(target) {
		t.Fatal("model should be ready")
	}
	if _, err := os.Stat(filepath.Join(target, "ggml-base.bin")); err != nil {
		t.Errorf("expected extracted weights: %v", err)
	}
}

func TestEnsureModelTarXz(t *testing.T) {
	archive := makeTarXz(t, "vosk-model-ru", modelFiles)
	srv, _ := serveArchive(t, http.StatusOK, archive)

	target := filepath.Join(t.TempDir(), "ru")
	p := &Provisioner{Client: srv.Client()}

	if _, err := p.EnsureModel(context.Background(), target, srv.URL+"/model.tar.xz", sha(archive)); err != nil {
		t.Fatalf("EnsureModel failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(target, "am", "final.mdl"))
	if err != nil || string(data) != "acoustic-model" {
		t.Errorf("model file not extracted from tar.xz: %v %q", err, data)
	}
}

func TestEnsureModelSkipsNetworkWhenPresent(t *testing.T) {
	srv, hits := serveArchive(t, http.StatusOK, nil)

	target := filepath.Join(t.TempDir(), "model")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(target, "anything"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &Provisioner{Client: srv.Client()}
	got, err := p.EnsureModel(context.Background(), target, srv.URL, "")
	if err != nil || got != target {
		t.Fatalf("expected fast path, got %q %v", got, err)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Errorf("populated model must not trigger a download")
	}
}

func TestEnsureModelUnsupportedArchive(t *testing.T) {
	srv, _ := serveArchive(t, http.StatusOK, []byte("just some plain text, not an archive"))

	parent := t.TempDir()
	target := filepath.Join(parent, "model")
	p := &Provisioner{Client: srv.Client()}

	_, err := p.EnsureModel(context.Background(), target, srv.URL+"/model.zip", "")
	if !errors.Is(err, ErrUnsupportedArchive) {
		t.Fatalf("expected ErrUnsupportedArchive, got %v", err)
	}
	assertNoTempFiles(t, parent)
}

func TestEnsureModelHTTPError(t *testing.T) {
	srv, _ := serveArchive(t, http.StatusNotFound, []byte("nope"))

	p := &Provisioner{Client: srv.Client()}
	_, err := p.EnsureModel(context.Background(), filepath.Join(t.TempDir(), "m"), srv.URL, "")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected HTTP 404 error, got %v", err)
	}
}

func TestEnsureModelKeepsConcurrentTarget(t *testing.T) {
	// The target exists (but is empty) by the time extraction finishes, as if
	// another instance created it. The rename is skipped and the postcondition fails.
	archive := makeZip(t, "other-root", modelFiles)
	srv, _ := serveArchive(t, http.StatusOK, archive)

	parent := t.TempDir()
	target := filepath.Join(parent, "model")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatal(err)
	}

	p := &Provisioner{Client: srv.Client()}
	_, err := p.EnsureModel(context.Background(), target, srv.URL, "")
	if !errors.Is(err, ErrModelNotReady) {
		t.Fatalf("expected ErrModelNotReady, got %v", err)
	}
	if !IsModelReady(filepath.Join(parent, "other-root")) {
		t.Errorf("extracted root should remain where it was extracted")
	}
}

func TestEnsureModelNoURL(t *testing.T) {
	p := NewProvisioner()
	_, err := p.EnsureModel(context.Background(), filepath.Join(t.TempDir(), "missing"), "", "")
	if !errors.Is(err, ErrModelNotReady) {
		t.Fatalf("expected ErrModelNotReady, got %v", err)
	}
}

func TestExtractArchiveRejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../escape.txt")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = w.Write([]byte("evil"))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.zip")
	if err := os.WriteFile(archivePath, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(dir, "dest")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := extractArchive(archivePath, dest); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); !os.IsNotExist(err) {
		t.Errorf("file escaped the destination directory")
	}
}

func TestTopLevel(t *testing.T) {
	tests := map[string]string{
		"vosk-model/am/final.mdl": "vosk-model",
		"./vosk-model/":           "vosk-model",
		"single-file.bin":         "single-file.bin",
		"":                        "model",
	}
	for in, want := range tests {
		if got := topLevel(in); got != want {
			t.Errorf("topLevel(%q) = %q, want %q", in, got, want)
		}
	}
}
