package apiclient

import (
	"net/http"
	"strings"
	"time"

	"github.com/fivetwenty-io/apiclient/internal/constants"
)

// cacheKeyReplacer escapes characters that are unsafe in cache key namespaces.
var cacheKeyReplacer = strings.NewReplacer(
	"{", "_LBRACE_",
	"}", "_RBRACE_",
	"(", "_LPAREN_",
	")", "_RPAREN_",
	"/", "_FSLASH_",
	"\\", "_BSLASH_",
	"@", "_AT_",
	":", "_COLON_",
)

// CacheKey returns the fingerprint of req: "METHOD|URL|BODY" with unsafe
// characters replaced by literal tokens.
func CacheKey(req *Request) string {
	return cacheKeyReplacer.Replace(req.Method() + "|" + req.URL() + "|" + req.Body())
}

// ResolveExpiry returns the expiry to store resp under. A non-zero expiresAt
// is returned unchanged. Otherwise the Expires header is used; ok is false
// when the header is absent, meaning the response must not be cached.
func ResolveExpiry(resp *Response, expiresAt time.Time) (time.Time, bool, error) {
	if !expiresAt.IsZero() {
		return expiresAt, true, nil
	}

	values := resp.headers.Values(constants.HeaderExpires)
	if len(values) == 0 {
		return time.Time{}, false, nil
	}

	parsed, err := http.ParseTime(values[0])
	if err != nil {
		return time.Time{}, false, invalidExpires(values[0], err)
	}

	return parsed, true, nil
}
