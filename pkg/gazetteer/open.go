package gazetteer

import (
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Source is a gazetteer dump on disk. Each Open starts a fresh pass from the
// first line.
type Source struct {
	Path string
}

// Open returns a stream over the dump. Archives are decompressed on the fly:
// .zip (the first non-readme .txt entry), .gz and .bz2. Anything else is read
// as plain text.
func (s Source) Open() (io.ReadCloser, error) {
	return Open(s.Path)
}

// Fingerprint identifies the dump by path, size and modification time.
func (s Source) Fingerprint() (string, error) {
	fi, err := os.Stat(s.Path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", s.Path, err)
	}
	abs, err := filepath.Abs(s.Path)
	if err != nil {
		abs = s.Path
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", abs, fi.Size(), fi.ModTime().UnixNano())))
	return hex.EncodeToString(h[:8]), nil
}

// Open opens path as described on Source.Open.
func Open(path string) (io.ReadCloser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return openZip(path)
	case ".gz":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open gazetteer: %w", err)
		}
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open gzip %s: %w", path, err)
		}
		return &multiCloser{Reader: gz, closers: []io.Closer{gz, f}}, nil
	case ".bz2":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open gazetteer: %w", err)
		}
		return &multiCloser{Reader: bzip2.NewReader(f), closers: []io.Closer{f}}, nil
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open gazetteer: %w", err)
		}
		return f, nil
	}
}

func openZip(path string) (io.ReadCloser, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip %s: %w", path, err)
	}
	entry := pickEntry(zr.File)
	if entry == nil {
		zr.Close()
		return nil, fmt.Errorf("open zip %s: no gazetteer entry", path)
	}
	rc, err := entry.Open()
	if err != nil {
		zr.Close()
		return nil, fmt.Errorf("open zip entry %s: %w", entry.Name, err)
	}
	return &multiCloser{Reader: rc, closers: []io.Closer{rc, zr}}, nil
}

// pickEntry chooses the dump inside a GeoNames archive, which ships a
// readme.txt next to the data file.
func pickEntry(files []*zip.File) *zip.File {
	var fallback *zip.File
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		base := strings.ToLower(filepath.Base(f.Name))
		if strings.HasPrefix(base, "readme") {
			continue
		}
		if strings.HasSuffix(base, ".txt") || strings.HasSuffix(base, ".tsv") {
			return f
		}
		if fallback == nil {
			fallback = f
		}
	}
	return fallback
}

type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
