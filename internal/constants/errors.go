package constants

import "errors"

// Command line errors.
var (
	ErrInvalidFilter       = errors.New("invalid filter, expected key=value")
	ErrInvalidHeader       = errors.New("invalid header, expected Name: value")
	ErrInvalidData         = errors.New("request data must be a JSON object or array")
	ErrUnsupportedOutput   = errors.New("unsupported output format")
	ErrConfigAlreadyExists = errors.New("configuration file already exists, use --force to overwrite")
	ErrNotATerminal        = errors.New("standard input is not a terminal")
	ErrCacheNotPurgeable   = errors.New("configured cache type cannot be purged")
	ErrRequestFailed       = errors.New("request failed")
)
