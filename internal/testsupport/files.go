package testsupport

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
)

// id3Header is an empty ID3v2.4 tag, enough for tools that sniff the first
// bytes of an .mp3 to accept the file.
var id3Header = []byte{'I', 'D', '3', 4, 0, 0, 0, 0, 0, 0}

// WriteFile creates path (and its parent directories) holding size bytes.
// Files with an .mp3 extension start with an ID3 header; the rest is a
// position-dependent pattern so files of different sizes never hash alike.
// A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()
	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	w := bufio.NewWriterSize(f, 32*1024)

	var written int64
	if filepath.Ext(path) == ".mp3" {
		n := min(int64(len(id3Header)), size)
		if _, err := w.Write(id3Header[:n]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		written = n
	}
	for ; written < size; written++ {
		if err := w.WriteByte(byte(written % 251)); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}
