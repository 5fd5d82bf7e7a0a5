package gazetteer

import (
	"archive/zip"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

const sample = "745042\tİstanbul\tIstanbul\t\t41.01\t28.95\tA\tADM1\tTR\t\t34\t\t\t\t15000000\t\t39\tEurope/Istanbul\t2024-01-01\n"

func countPlaces(t *testing.T, path string) int {
	t.Helper()
	rc, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	defer rc.Close()
	r := NewReader(rc, Options{})
	n := 0
	for r.Next() {
		n++
	}
	if err := r.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	return n
}

func TestOpen_Plain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TR.txt")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	if n := countPlaces(t, path); n != 1 {
		t.Errorf("got %d places, want 1", n)
	}
}

func TestOpen_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TR.txt.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	io.WriteString(gz, sample)
	gz.Close()
	f.Close()

	if n := countPlaces(t, path); n != 1 {
		t.Errorf("got %d places, want 1", n)
	}
}

func TestOpen_ZipSkipsReadme(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TR.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, _ := zw.Create("readme.txt")
	io.WriteString(w, "not a gazetteer\n")
	w, _ = zw.Create("TR.txt")
	io.WriteString(w, sample+sample)
	zw.Close()
	f.Close()

	if n := countPlaces(t, path); n != 2 {
		t.Errorf("got %d places, want 2", n)
	}
}

func TestOpen_Missing(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "absent.zip")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSourceFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TR.txt")
	os.WriteFile(path, []byte(sample), 0o644)
	src := Source{Path: path}

	a, err := src.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	b, _ := src.Fingerprint()
	if a != b || len(a) != 16 {
		t.Errorf("fingerprints %q, %q", a, b)
	}

	os.WriteFile(path, []byte(sample+sample), 0o644)
	c, _ := src.Fingerprint()
	if c == a {
		t.Error("fingerprint unchanged after rewrite")
	}
}
