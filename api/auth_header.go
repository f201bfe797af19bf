package api

import (
	"bytes"
	"errors"
	"strings"
	"unsafe"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerScheme = "Bearer "

// bearerToken extracts the raw JWT from an Authorization header value. The
// returned bytes alias the header string, skipping a copy on every board
// request, and must be treated as read-only.
func bearerToken(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errMissingAuthorization
	}
	if len(trimmed) <= len(bearerScheme) || !strings.HasPrefix(trimmed, bearerScheme) {
		return nil, errBadAuthorization
	}
	token := readOnlyBytes(trimmed[len(bearerScheme):])
	// A JWT has exactly two dots; anything else never reaches the parser.
	if bytes.Count(token, []byte{'.'}) != 2 {
		return nil, errBadAuthorization
	}
	return token, nil
}

func readOnlyBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func readOnlyString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
