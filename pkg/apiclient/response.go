package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/tidwall/gjson"
)

var emptyBody = []byte("{}")

// Response is an immutable inbound HTTP response whose body is a JSON document.
type Response struct {
	httpCode int
	headers  http.Header
	body     []byte
}

// NewResponse creates a Response. httpCode must be within 100 and 600
// inclusive. A blank body becomes an empty JSON object; any other body must
// be valid JSON.
func NewResponse(httpCode int, headers http.Header, body []byte) (*Response, error) {
	if httpCode < constants.MinHTTPStatus || httpCode > constants.MaxHTTPStatus {
		return nil, fmt.Errorf("%w: httpCode must be >= %d and <= %d, got %d",
			ErrInvalidArgument, constants.MinHTTPStatus, constants.MaxHTTPStatus, httpCode)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		trimmed = emptyBody
	} else if !gjson.ValidBytes(trimmed) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, ErrInvalidResponseBody)
	}

	return &Response{
		httpCode: httpCode,
		headers:  cloneHeader(headers),
		body:     bytes.Clone(trimmed),
	}, nil
}

// HTTPCode returns the status code.
func (r *Response) HTTPCode() int {
	return r.httpCode
}

// Headers returns a copy of the response headers.
func (r *Response) Headers() http.Header {
	return cloneHeader(r.headers)
}

// Header returns the first value of the named header.
func (r *Response) Header(key string) string {
	return r.headers.Get(key)
}

// Body returns a copy of the JSON body.
func (r *Response) Body() json.RawMessage {
	return bytes.Clone(r.body)
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	err := json.Unmarshal(r.body, v)
	if err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}

	return nil
}

// Get returns the value at path using gjson path syntax.
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.body, path)
}

// Equal reports whether both responses carry the same code, headers and an
// equivalent body.
func (r *Response) Equal(other *Response) bool {
	if r == nil || other == nil {
		return r == other
	}

	if r.httpCode != other.httpCode {
		return false
	}

	if len(r.headers) != len(other.headers) || !reflect.DeepEqual(r.headers, other.headers) {
		return false
	}

	var left, right any

	if json.Unmarshal(r.body, &left) != nil || json.Unmarshal(other.body, &right) != nil {
		return bytes.Equal(r.body, other.body)
	}

	return reflect.DeepEqual(left, right)
}
