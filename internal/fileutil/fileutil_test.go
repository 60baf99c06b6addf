package fileutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestHashFileIsStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.jpg")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	first, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("digest changed between runs: %+v vs %+v", first, second)
	}
	const want = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if first.SHA256 != want || first.Bytes != 11 {
		t.Fatalf("unexpected digest %+v", first)
	}
}

func TestHashFileDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "a.bin")
	tampered := filepath.Join(dir, "b.bin")
	content := bytes.Repeat([]byte{0xAB}, HashChunkSize*3+17)
	if err := os.WriteFile(original, content, 0o644); err != nil {
		t.Fatal(err)
	}
	content[HashChunkSize*2] ^= 0xFF
	if err := os.WriteFile(tampered, content, 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := HashFile(original)
	if err != nil {
		t.Fatal(err)
	}
	b, err := HashFile(tampered)
	if err != nil {
		t.Fatal(err)
	}
	if a.SHA256 == b.SHA256 {
		t.Fatal("expected tampered copy to hash differently")
	}
	if a.Bytes != int64(len(content)) {
		t.Fatalf("size = %d, want %d", a.Bytes, len(content))
	}
}

func TestHashFile_MissingSource(t *testing.T) {
	if _, err := HashFile(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "cameras.json")

	if err := WriteFileAtomic(path, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "two" {
		t.Fatalf("content = %q", got)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %o", info.Mode().Perm())
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone")
	if err := RemoveIfExists(path); err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := RemoveIfExists(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file still present: %v", err)
	}
}
