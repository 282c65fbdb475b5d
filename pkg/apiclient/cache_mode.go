package apiclient

import (
	"fmt"
	"strings"
)

// CacheMode is a bit set controlling which requests are read from and
// written to the Cache.
type CacheMode int

const (
	// CacheModeNone caches nothing.
	CacheModeNone CacheMode = 0

	// CacheModeGet reads and writes GET responses.
	CacheModeGet CacheMode = 1

	// CacheModeToken reads and writes token responses.
	CacheModeToken CacheMode = 2

	// CacheModeAll combines CacheModeGet and CacheModeToken.
	CacheModeAll = CacheModeGet | CacheModeToken

	// CacheModeRefresh bypasses cache reads for GET requests but still writes
	// their responses.
	CacheModeRefresh CacheMode = 4
)

var cacheModeNames = map[CacheMode]string{
	CacheModeNone:    "none",
	CacheModeGet:     "get",
	CacheModeToken:   "token",
	CacheModeAll:     "all",
	CacheModeRefresh: "refresh",
}

// Valid reports whether m is one of the recognised modes.
func (m CacheMode) Valid() bool {
	_, ok := cacheModeNames[m]

	return ok
}

// Has reports whether every bit of flag is set in m.
func (m CacheMode) Has(flag CacheMode) bool {
	return flag != 0 && m&flag == flag
}

// String returns the lower case name of the mode.
func (m CacheMode) String() string {
	if name, ok := cacheModeNames[m]; ok {
		return name
	}

	return fmt.Sprintf("CacheMode(%d)", int(m))
}

// ParseCacheMode converts a mode name into a CacheMode.
func ParseCacheMode(name string) (CacheMode, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return CacheModeNone, nil
	}

	for mode, modeName := range cacheModeNames {
		if modeName == normalized {
			return mode, nil
		}
	}

	return CacheModeNone, invalidArgument("cache mode", fmt.Sprintf("%q is not one of none, get, token, all, refresh", name))
}
