package mock

import (
	"context"
	"sync"

	"github.com/bakkerme/ghsearch-feed/internal/core"
	"github.com/bakkerme/ghsearch-feed/internal/sources/codesearch"
)

// Client serves canned pages by page number. ErrsByPage entries are consumed
// in order, one per call, before the page itself is returned.
type Client struct {
	Pages      map[int]*codesearch.Page
	ErrsByPage map[int][]error

	mu       sync.Mutex
	requests []core.PageRequest
}

func (c *Client) SearchPage(ctx context.Context, req core.PageRequest) (*codesearch.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)

	if errs := c.ErrsByPage[req.Page]; len(errs) > 0 {
		err := errs[0]
		c.ErrsByPage[req.Page] = errs[1:]
		return nil, err
	}
	if page, ok := c.Pages[req.Page]; ok && page != nil {
		copied := *page
		copied.Results = append([]core.SearchResult(nil), page.Results...)
		return &copied, nil
	}
	return &codesearch.Page{}, nil
}

// Requests returns the page requests seen so far.
func (c *Client) Requests() []core.PageRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.PageRequest, len(c.requests))
	copy(out, c.requests)
	return out
}
