// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch is the sentinel wrapped by FetchError.
	ErrFetch = errors.New("fetch failed")
	// ErrInvalidURL is returned when a URL cannot be parsed or resolved.
	ErrInvalidURL = errors.New("invalid url")
	// ErrMalformedDataURL is returned for data URLs without a comma separator
	// or with an undecodable body.
	ErrMalformedDataURL = errors.New("malformed data url")
)

// FetchError reports a response whose status was outside [200,300).
// Status 0 means the request never produced a response; Body then holds
// the transport error text.
type FetchError struct {
	URL    string
	Status int
	Body   []byte
}

// Error implements the error interface for FetchError.
func (e *FetchError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("fetch %s failed: %s", e.URL, e.Body)
	}
	return fmt.Sprintf("fetch %s failed (%d): %s", e.URL, e.Status, e.Body)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *FetchError) Unwrap() error {
	return ErrFetch
}
