package cache

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// ParseSize parses a human-readable size such as "500MB" or "2GiB" into
// bytes. SI suffixes are powers of 1000, IEC suffixes powers of 1024, and a
// plain number is bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("size too large: %s", s)
	}
	return int64(n), nil
}
