// ABOUTME: Local APK file helpers: streaming SHA-256 and byte-preserving unpacking
// ABOUTME: Handles plain APKs, gzip-wrapped samples and single-entry zip containers

package apkfile

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// bufferSize is the read size used when digesting and copying.
const bufferSize = 64 << 10

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zipMagic  = []byte("PK\x03\x04")
)

// apkMarkers are top-level entries that only an APK carries.
var apkMarkers = map[string]struct{}{
	"AndroidManifest.xml": {},
	"classes.dex":         {},
}

// SHA256 returns the lowercase hex SHA-256 of the file at path.
// The file is read incrementally, never loaded whole.
func SHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	digest, _, err := SHA256Reader(f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return digest, nil
}

// SHA256Reader digests r and returns the lowercase hex SHA-256 and the byte count.
func SHA256Reader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.CopyBuffer(h, r, make([]byte, bufferSize))
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Kind classifies a source file for Unpack.
type Kind int

const (
	// KindRaw is copied verbatim.
	KindRaw Kind = iota
	// KindAPK is an Android package, copied verbatim.
	KindAPK
	// KindGzip is decompressed.
	KindGzip
	// KindZipContainer is a non-APK zip holding exactly one file, which is extracted.
	KindZipContainer
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindAPK:
		return "apk"
	case KindGzip:
		return "gzip"
	case KindZipContainer:
		return "zip"
	default:
		return "raw"
	}
}

// Detect classifies the file at path.
func Detect(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindRaw, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	kind, _, err := detect(f)
	return kind, err
}

// IsAPK reports whether the file at path is an Android package.
func IsAPK(path string) (bool, error) {
	kind, err := Detect(path)
	return kind == KindAPK, err
}

// detect inspects f and, for zip containers, returns the single entry to extract.
func detect(f *os.File) (Kind, *zip.File, error) {
	magic := make([]byte, 4)
	n, err := io.ReadFull(f, magic)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return KindRaw, nil, fmt.Errorf("reading header: %w", err)
	}
	magic = magic[:n]

	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		return KindGzip, nil, nil
	case bytes.HasPrefix(magic, zipMagic):
		return detectZip(f)
	default:
		return KindRaw, nil, nil
	}
}

func detectZip(f *os.File) (Kind, *zip.File, error) {
	info, err := f.Stat()
	if err != nil {
		return KindRaw, nil, fmt.Errorf("stat: %w", err)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		// Truncated or odd archives are treated as opaque bytes.
		return KindRaw, nil, nil
	}

	var regular []*zip.File
	for _, entry := range zr.File {
		if _, ok := apkMarkers[entry.Name]; ok {
			return KindAPK, nil, nil
		}
		if entry.Mode().IsRegular() {
			regular = append(regular, entry)
		}
	}

	if len(regular) == 1 {
		return KindZipContainer, regular[0], nil
	}
	return KindRaw, nil, nil
}

// Unpack writes the logical content of src to dst.
//
// Gzip-wrapped samples are decompressed, a non-APK zip holding a single
// file is extracted, and everything else (APKs included) is copied byte
// for byte. dst is replaced atomically; no partial file survives an error.
func Unpack(src, dst string) (Kind, error) {
	f, err := os.Open(src)
	if err != nil {
		return KindRaw, fmt.Errorf("opening %s: %w", src, err)
	}
	defer f.Close()

	kind, entry, err := detect(f)
	if err != nil {
		return kind, fmt.Errorf("inspecting %s: %w", src, err)
	}

	var content io.Reader
	switch kind {
	case KindGzip:
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return kind, fmt.Errorf("rewinding %s: %w", src, err)
		}
		gz, err := gzip.NewReader(bufio.NewReaderSize(f, bufferSize))
		if err != nil {
			return kind, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gz.Close()
		content = gz

	case KindZipContainer:
		rc, err := entry.Open()
		if err != nil {
			return kind, fmt.Errorf("opening zip entry %s: %w", entry.Name, err)
		}
		defer rc.Close()
		content = rc

	default:
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return kind, fmt.Errorf("rewinding %s: %w", src, err)
		}
		content = f
	}

	if err := writeAtomic(dst, content); err != nil {
		return kind, err
	}
	return kind, nil
}

// writeAtomic copies r into a temporary sibling of dst, then renames it.
func writeAtomic(dst string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".unpack-*.part")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.CopyBuffer(tmp, r, make([]byte, bufferSize)); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("moving into %s: %w", dst, err)
	}
	return nil
}
