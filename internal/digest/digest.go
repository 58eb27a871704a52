// Package digest computes the SHA-256 values used for cache fingerprints
// and for verifying fetched artifacts.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Size is the length of a digest in bytes.
const Size = sha256.Size

// bufferSize is the fixed read size used when draining streams.
const bufferSize = 4096

// ErrFinished is returned when writing to a Writer whose digest was already taken.
var ErrFinished = errors.New("digest already finished")

// Digest is a SHA-256 value.
type Digest [Size]byte

// Hex returns the lowercase hex encoding of d.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}

// IsZero reports whether d is the zero value.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseHex decodes a 64 character hex string into a Digest.
func ParseHex(s string) (Digest, error) {
	var d Digest
	s = strings.TrimSpace(s)
	if len(s) != hex.EncodedLen(Size) {
		return d, fmt.Errorf("invalid sha256 length %d: expected %d hex digits", len(s), hex.EncodedLen(Size))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("invalid sha256 %q: %w", s, err)
	}
	return d, nil
}

// Sum returns the digest of b.
func Sum(b []byte) Digest {
	return Digest(sha256.Sum256(b))
}

// FromReader drains r with fixed-size reads and returns the digest of
// everything it produced.
func FromReader(r io.Reader) (Digest, error) {
	w := NewWriter()
	buf := make([]byte, bufferSize)
	if _, err := io.CopyBuffer(w, r, buf); err != nil {
		return Digest{}, err
	}
	return w.Finish(), nil
}

// File returns the digest of the file at path.
func File(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()

	d, err := FromReader(f)
	if err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return d, nil
}

// Writer accumulates a digest over the bytes written to it. The value is
// only available once, through Finish, after all input has been written.
type Writer struct {
	h        hash.Hash
	n        int64
	finished bool
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{h: sha256.New()}
}

// Write adds p to the running digest.
func (w *Writer) Write(p []byte) (int, error) {
	if w.finished {
		return 0, ErrFinished
	}
	n, _ := w.h.Write(p)
	w.n += int64(n)
	return n, nil
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int64 {
	return w.n
}

// Finish closes the writer and returns the digest.
func (w *Writer) Finish() Digest {
	w.finished = true
	var d Digest
	copy(d[:], w.h.Sum(nil))
	return d
}
