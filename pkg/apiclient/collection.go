package apiclient

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/tidwall/gjson"
)

// Indexer searches a resource. *Client satisfies it.
type Indexer interface {
	Index(ctx context.Context, resource string, filters url.Values) (*Response, error)
}

// Collection iterates over every element of a paginated index response,
// fetching pages lazily with an increasing offset filter. Index responses must
// look like {"pagination": {"limit": N, "total": M}, "result": [...]}.
//
//	for coll.Next(ctx) {
//		fmt.Println(coll.Key(), coll.Item().Get("name"))
//	}
//	if err := coll.Err(); err != nil { ... }
type Collection struct {
	indexer  Indexer
	resource string
	filters  url.Values

	loaded   bool
	limit    int
	offset   int
	total    int
	position int
	result   []gjson.Result
	err      error
}

// NewCollection creates a Collection over resource. filters are copied.
func NewCollection(indexer Indexer, resource string, filters url.Values) (*Collection, error) {
	if indexer == nil {
		return nil, invalidArgument("indexer", "is required")
	}

	err := requireNonBlank("resource", resource)
	if err != nil {
		return nil, err
	}

	coll := &Collection{
		indexer:  indexer,
		resource: resource,
		filters:  cloneValues(filters),
	}
	coll.Rewind()

	return coll, nil
}

// Rewind resets the collection so the next call to Next fetches the first
// page again.
func (c *Collection) Rewind() {
	c.loaded = false
	c.limit = 0
	c.offset = 0
	c.total = 0
	c.position = -1
	c.result = nil
	c.err = nil
}

// Next advances to the next element. It returns false when the collection is
// exhausted or a page could not be fetched; check Err to tell them apart.
func (c *Collection) Next(ctx context.Context) bool {
	if c.err != nil || (c.loaded && !c.valid()) {
		return false
	}

	c.position++

	if !c.loaded || c.position >= c.limit {
		if c.loaded {
			c.offset += c.limit
		}

		c.err = c.fetch(ctx)
		if c.err != nil {
			return false
		}

		c.position = 0
	}

	return c.valid()
}

// Item returns the current element.
func (c *Collection) Item() gjson.Result {
	if c.position < 0 || c.position >= len(c.result) {
		return gjson.Result{}
	}

	return c.result[c.position]
}

// Key returns the absolute index of the current element.
func (c *Collection) Key() int {
	return c.offset + c.position
}

// Count returns the total number of elements reported by the API, fetching
// the first page if needed.
func (c *Collection) Count(ctx context.Context) (int, error) {
	err := c.ensureLoaded(ctx)
	if err != nil {
		return 0, err
	}

	return c.total, nil
}

// First returns the first element of the collection.
func (c *Collection) First(ctx context.Context) (gjson.Result, error) {
	err := c.ensureLoaded(ctx)
	if err != nil {
		return gjson.Result{}, err
	}

	if len(c.result) == 0 || c.total == 0 {
		return gjson.Result{}, ErrNoElements
	}

	return c.result[0], nil
}

// Err returns the error that stopped iteration, if any.
func (c *Collection) Err() error {
	return c.err
}

// Column yields the value at path for every element, starting from the
// beginning of the collection.
func (c *Collection) Column(ctx context.Context, path string) iter.Seq[gjson.Result] {
	return func(yield func(gjson.Result) bool) {
		c.Rewind()

		for c.Next(ctx) {
			if !yield(c.Item().Get(path)) {
				return
			}
		}
	}
}

// Select yields every element reduced to the given keys. Keys missing from an
// element map to nil.
func (c *Collection) Select(ctx context.Context, keys ...string) iter.Seq[map[string]any] {
	return func(yield func(map[string]any) bool) {
		c.Rewind()

		for c.Next(ctx) {
			item := c.Item()
			selected := make(map[string]any, len(keys))

			for _, key := range keys {
				selected[key] = nil

				if value := item.Get(key); value.Exists() {
					selected[key] = value.Value()
				}
			}

			if !yield(selected) {
				return
			}
		}
	}
}

func (c *Collection) valid() bool {
	return c.position < len(c.result) && c.offset+c.position < c.total
}

func (c *Collection) ensureLoaded(ctx context.Context) error {
	if c.err != nil || c.loaded {
		return c.err
	}

	c.err = c.fetch(ctx)
	if c.err != nil {
		return c.err
	}

	c.position = -1

	return nil
}

func (c *Collection) fetch(ctx context.Context) error {
	c.filters.Set("offset", strconv.Itoa(c.offset))

	resp, err := c.indexer.Index(ctx, c.resource, c.filters)
	if err != nil {
		return err
	}

	if resp.HTTPCode() != constants.HTTPStatusOK {
		return fmt.Errorf("%w, instead received %d", ErrUnexpectedStatus, resp.HTTPCode())
	}

	c.loaded = true
	c.limit = int(resp.Get("pagination.limit").Int())
	c.total = int(resp.Get("pagination.total").Int())
	c.result = resp.Get("result").Array()

	if c.limit <= 0 {
		c.limit = len(c.result)
	}

	return nil
}

func cloneValues(values url.Values) url.Values {
	cloned := make(url.Values, len(values))
	for key, value := range values {
		cloned[key] = append([]string(nil), value...)
	}

	return cloned
}
