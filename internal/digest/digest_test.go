package digest

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// sha256("hello\n")
const helloSHA = "5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03"

func TestSumMatchesKnownValue(t *testing.T) {
	got := Sum([]byte("hello\n")).Hex()
	if got != helloSHA {
		t.Fatalf("Sum = %s, want %s", got, helloSHA)
	}
}

func TestFromReaderLargeInput(t *testing.T) {
	// More than one buffer worth of data.
	data := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	got, err := FromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("FromReader returned error: %v", err)
	}
	if got != Sum(data) {
		t.Errorf("FromReader = %s, want %s", got, Sum(data))
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	if err := os.WriteFile(path, []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := File(path)
	if err != nil {
		t.Fatalf("File returned error: %v", err)
	}
	if got.Hex() != helloSHA {
		t.Errorf("File = %s, want %s", got, helloSHA)
	}

	if _, err := File(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist for missing file, got %v", err)
	}
}

func TestParseHex(t *testing.T) {
	d, err := ParseHex(strings.ToUpper(helloSHA))
	if err != nil {
		t.Fatalf("ParseHex returned error: %v", err)
	}
	if d.Hex() != helloSHA {
		t.Errorf("round trip = %s, want %s", d.Hex(), helloSHA)
	}

	for _, bad := range []string{"", "abc", strings.Repeat("zz", Size)} {
		if _, err := ParseHex(bad); err == nil {
			t.Errorf("ParseHex(%q) expected error", bad)
		}
	}
}

func TestWriterRejectsWritesAfterFinish(t *testing.T) {
	w := NewWriter()
	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatal(err)
	}
	if w.Len() != 6 {
		t.Errorf("Len = %d, want 6", w.Len())
	}
	if got := w.Finish().Hex(); got != helloSHA {
		t.Errorf("Finish = %s, want %s", got, helloSHA)
	}
	if _, err := w.Write([]byte("more")); !errors.Is(err, ErrFinished) {
		t.Errorf("expected ErrFinished, got %v", err)
	}
}
