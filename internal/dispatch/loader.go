package dispatch

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ClassFile returns the archive entry name of a class: "a.b.MainKt" is
// "a/b/MainKt.class".
func ClassFile(className string) string {
	return strings.ReplaceAll(className, ".", "/") + ".class"
}

// VerifyArtifact opens the archive at path and reads every entry to the
// end, which makes the zip reader check each CRC. A truncated or
// overwritten artifact fails here instead of inside the runtime. The entry
// point class must be present.
func VerifyArtifact(path, entryPoint string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer zr.Close()

	name := ClassFile(entryPoint)
	found := false
	for _, f := range zr.File {
		if f.Name == name {
			found = true
		}
		if f.FileInfo().IsDir() {
			continue
		}
		if err := readEntry(f); err != nil {
			return err
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	return nil
}

func readEntry(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("reading %s: %w", f.Name, err)
	}
	return nil
}
