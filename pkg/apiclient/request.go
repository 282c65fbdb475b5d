package apiclient

import (
	"net/http"
	"strings"
)

// Request is an immutable outbound HTTP request.
type Request struct {
	url     string
	method  string
	body    string
	headers http.Header
}

// NewRequest creates a Request. url and method must not be blank; an empty
// body means the request carries no body.
func NewRequest(url, method, body string, headers http.Header) (*Request, error) {
	if isBlank(url) {
		return nil, invalidArgument("url", "must be a non-blank string")
	}

	if isBlank(method) {
		return nil, invalidArgument("method", "must be a non-blank string")
	}

	return &Request{
		url:     url,
		method:  method,
		body:    body,
		headers: cloneHeader(headers),
	}, nil
}

// URL returns the absolute request URL.
func (r *Request) URL() string {
	return r.url
}

// Method returns the HTTP method.
func (r *Request) Method() string {
	return r.method
}

// Body returns the request body, empty when there is none.
func (r *Request) Body() string {
	return r.body
}

// Headers returns a copy of the request headers.
func (r *Request) Headers() http.Header {
	return cloneHeader(r.headers)
}

// Header returns the first value of the named header.
func (r *Request) Header(key string) string {
	return r.headers.Get(key)
}

// WithHeader returns a copy of the request with key set to value.
func (r *Request) WithHeader(key, value string) *Request {
	headers := cloneHeader(r.headers)
	headers.Set(key, value)

	return &Request{
		url:     r.url,
		method:  r.method,
		body:    r.body,
		headers: headers,
	}
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return make(http.Header)
	}

	return h.Clone()
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
