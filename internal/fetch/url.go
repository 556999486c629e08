// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Resolve normalizes raw against base. Absolute URLs are returned as is;
// relative references resolve against base. Without a base, a relative
// reference is taken as a local path and turned into a file URL.
func Resolve(raw string, base *url.URL) (*url.URL, error) {
	if isDataURL(raw) {
		return &url.URL{Scheme: "data", Opaque: raw[len("data:"):]}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidURL, raw, err)
	}
	if u.IsAbs() {
		return u, nil
	}
	if base != nil {
		return base.ResolveReference(u), nil
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidURL, raw, err)
	}
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}, nil
}

func isDataURL(raw string) bool {
	return len(raw) >= 5 && strings.EqualFold(raw[:5], "data:")
}

// decodeDataURL decodes data:[<mediatype>][;base64],<data>.
func decodeDataURL(raw string) ([]byte, error) {
	rest := raw[len("data:"):]
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing ','", ErrMalformedDataURL)
	}

	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		out, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			// Unpadded bodies are common in hand-written URLs.
			var rawErr error
			if out, rawErr = base64.RawStdEncoding.DecodeString(data); rawErr != nil {
				return nil, fmt.Errorf("%w: %w", ErrMalformedDataURL, err)
			}
		}
		return out, nil
	}

	// A body that is not valid percent-encoding is taken verbatim.
	out, err := url.PathUnescape(data)
	if err != nil {
		return []byte(data), nil
	}
	return []byte(out), nil
}

func readFile(u *url.URL) ([]byte, error) {
	path := filepath.FromSlash(u.Path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	return data, nil
}
