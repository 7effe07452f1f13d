package core

import "context"

// RecordPager yields query results one page at a time
type RecordPager interface {
	// Next fetches the next page. done reports that no page follows this one.
	Next(ctx context.Context) (records []*Record, done bool, err error)
}

// storePager follows continuation tokens of an EntityStore query
type storePager struct {
	store    EntityStore
	req      QueryRequest
	finished bool
}

// NewStorePager returns a pager over store.Query that resumes from each page's continuation
func NewStorePager(store EntityStore, req QueryRequest) RecordPager {
	return &storePager{store: store, req: req}
}

func (p *storePager) Next(ctx context.Context) ([]*Record, bool, error) {
	if p.finished {
		return nil, true, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	page, err := p.store.Query(ctx, p.req)
	if err != nil {
		return nil, false, err
	}

	p.req.Continuation = page.Continuation
	p.finished = page.Continuation == ""
	return page.Records, p.finished, nil
}

// SlicePager serves records that are already in memory as a single page
type SlicePager struct {
	Records []*Record
	served  bool
}

// Next implements RecordPager
func (p *SlicePager) Next(ctx context.Context) ([]*Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if p.served {
		return nil, true, nil
	}
	p.served = true
	return p.Records, true, nil
}

// PagerFunc adapts a function to RecordPager
type PagerFunc func(ctx context.Context) ([]*Record, bool, error)

// Next implements RecordPager
func (f PagerFunc) Next(ctx context.Context) ([]*Record, bool, error) {
	return f(ctx)
}
