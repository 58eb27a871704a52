package download

import "fmt"

// HTTPError represents an HTTP error response.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s (%s)", e.StatusCode, e.Status, e.URL)
}

// IntegrityError reports downloaded content whose SHA-256 does not match the
// manifest. The content is never installed.
type IntegrityError struct {
	URL      string
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.URL, e.Expected, e.Actual)
}
