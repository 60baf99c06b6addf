package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()
	if err := writePattern(path, size, 0x42); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// writePattern writes size bytes of fill to path, creating parent
// directories. It is shared by WriteFile and the fake backend, which has no
// testing.TB to report through.
func writePattern(path string, size int64, fill byte) error {
	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = fill
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			f.Close()
			return err
		}
		remaining -= toWrite
	}
	return f.Close()
}
