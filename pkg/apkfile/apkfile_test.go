// ABOUTME: Tests for local APK file helpers
// ABOUTME: Covers streaming digests, kind detection and atomic unpacking

package apkfile

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func zipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("creating zip entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("writing zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

func gzipBytes(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(content)); err != nil {
		t.Fatalf("writing gzip: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("closing gzip: %v", err)
	}
	return buf.Bytes()
}

func TestSHA256(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "empty",
			content: "",
			want:    "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:    "hello world",
			content: "hello world",
			want:    "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeFile(t, t.TempDir(), "sample.apk", []byte(tt.content))
			got, err := SHA256(path)
			if err != nil {
				t.Fatalf("SHA256() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("SHA256() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSHA256_LargeFile(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("0123456789abcdef"), 3*bufferSize/16+7)
	path := writeFile(t, t.TempDir(), "big.apk", content)

	fromFile, err := SHA256(path)
	if err != nil {
		t.Fatalf("SHA256() error = %v", err)
	}
	fromReader, n, err := SHA256Reader(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("SHA256Reader() error = %v", err)
	}
	if fromFile != fromReader {
		t.Errorf("SHA256() = %q, SHA256Reader() = %q", fromFile, fromReader)
	}
	if n != int64(len(content)) {
		t.Errorf("SHA256Reader() n = %d, want %d", n, len(content))
	}
}

func TestSHA256_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := SHA256(filepath.Join(t.TempDir(), "absent.apk"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("SHA256() error = %v, want not-exist", err)
	}
}

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want Kind
	}{
		{name: "raw bytes", data: []byte("not an archive"), want: KindRaw},
		{name: "tiny file", data: []byte("P"), want: KindRaw},
		{name: "empty file", data: nil, want: KindRaw},
		{name: "gzip", data: nil, want: KindGzip},
		{name: "apk", data: nil, want: KindAPK},
		{name: "single-entry zip", data: nil, want: KindZipContainer},
		{name: "multi-entry zip", data: nil, want: KindRaw},
		{name: "truncated zip", data: []byte("PK\x03\x04garbage"), want: KindRaw},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := tt.data
			switch tt.name {
			case "gzip":
				data = gzipBytes(t, "payload")
			case "apk":
				data = zipBytes(t, map[string]string{"AndroidManifest.xml": "m", "classes.dex": "d", "res/a.png": "p"})
			case "single-entry zip":
				data = zipBytes(t, map[string]string{"sample.bin": "payload"})
			case "multi-entry zip":
				data = zipBytes(t, map[string]string{"a.bin": "a", "b.bin": "b"})
			}

			path := writeFile(t, t.TempDir(), "input", data)
			got, err := Detect(path)
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsAPK(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	apk := writeFile(t, dir, "app.apk", zipBytes(t, map[string]string{"classes.dex": "dex"}))
	other := writeFile(t, dir, "other.bin", []byte("plain"))

	if ok, err := IsAPK(apk); err != nil || !ok {
		t.Errorf("IsAPK(apk) = %v, %v; want true", ok, err)
	}
	if ok, err := IsAPK(other); err != nil || ok {
		t.Errorf("IsAPK(other) = %v, %v; want false", ok, err)
	}
}

func TestUnpack(t *testing.T) {
	t.Parallel()

	apkData := zipBytes(t, map[string]string{"AndroidManifest.xml": "manifest", "classes.dex": "dex"})

	tests := []struct {
		name     string
		data     []byte
		want     []byte
		wantKind Kind
	}{
		{
			name:     "raw copied verbatim",
			data:     []byte("opaque sample bytes"),
			want:     []byte("opaque sample bytes"),
			wantKind: KindRaw,
		},
		{
			name:     "apk copied verbatim",
			data:     apkData,
			want:     apkData,
			wantKind: KindAPK,
		},
		{
			name:     "gzip decompressed",
			data:     gzipBytes(t, strings.Repeat("inner apk bytes ", 1000)),
			want:     []byte(strings.Repeat("inner apk bytes ", 1000)),
			wantKind: KindGzip,
		},
		{
			name:     "zip container extracted",
			data:     zipBytes(t, map[string]string{"inner.apk": "the real sample"}),
			want:     []byte("the real sample"),
			wantKind: KindZipContainer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			src := writeFile(t, dir, "src", tt.data)
			dst := filepath.Join(dir, "dst")

			kind, err := Unpack(src, dst)
			if err != nil {
				t.Fatalf("Unpack() error = %v", err)
			}
			if kind != tt.wantKind {
				t.Errorf("Unpack() kind = %v, want %v", kind, tt.wantKind)
			}

			got, err := os.ReadFile(dst)
			if err != nil {
				t.Fatalf("reading dst: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("dst content = %q, want %q", truncate(got), truncate(tt.want))
			}
		})
	}
}

func TestUnpack_CorruptGzipLeavesNoFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	data := gzipBytes(t, strings.Repeat("x", 4096))
	src := writeFile(t, dir, "src.gz", data[:len(data)/2])
	dst := filepath.Join(dir, "dst")

	if _, err := Unpack(src, dst); err == nil {
		t.Fatal("Unpack() should fail on a truncated gzip stream")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "src.gz" {
			t.Errorf("unexpected leftover file %q", e.Name())
		}
	}
}

func TestUnpack_MissingSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := Unpack(filepath.Join(dir, "absent"), filepath.Join(dir, "dst")); err == nil {
		t.Error("Unpack() should fail for a missing source")
	}
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	for kind, want := range map[Kind]string{
		KindRaw:          "raw",
		KindAPK:          "apk",
		KindGzip:         "gzip",
		KindZipContainer: "zip",
	} {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}

func truncate(b []byte) string {
	if len(b) > 40 {
		return string(b[:40]) + "..."
	}
	return string(b)
}
