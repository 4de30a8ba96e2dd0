package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// MaxLimit bounds server work per request. Larger caller limits are
	// clamped, not rejected.
	MaxLimit = 1000

	defaultRetryBackoff = 50 * time.Millisecond
)

// Pagination is the envelope metadata. Pages is ceil(records/limit), with
// pages = 0 when records = 0 (pinned convention, tested).
type Pagination struct {
	Current int   `json:"current"`
	Limit   int   `json:"limit"`
	Records int64 `json:"records"`
	Pages   int64 `json:"pages"`
}

// Page is the stable `{pagination, data}` response shape for every resource.
type Page struct {
	Pagination Pagination        `json:"pagination"`
	Data       []json.RawMessage `json:"data"`
}

// Executor runs a validated predicate set against the backing store. Count
// and Fetch see the same set; implementations map driver failures onto
// ErrStoreTimeout / ErrStoreUnavailable. The pair runs without a shared
// snapshot, so records may be marginally stale relative to data under
// concurrent writes — accepted and documented, not a correctness bug.
type Executor interface {
	Count(ctx context.Context, schema Schema, set PredicateSet) (int64, error)
	Fetch(ctx context.Context, schema Schema, set PredicateSet, sort Sort, limit, offset int) ([]json.RawMessage, error)
}

// Engine validates, scopes, and executes paginated searches.
type Engine struct {
	exec    Executor
	backoff time.Duration
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine)

// WithRetryBackoff overrides the pause before the single read retry.
func WithRetryBackoff(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d >= 0 {
			e.backoff = d
		}
	}
}

// NewEngine constructs an Engine over the given executor.
func NewEngine(exec Executor, opts ...EngineOption) *Engine {
	e := &Engine{exec: exec, backoff: defaultRetryBackoff}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search runs the full pipeline: build predicates, enforce scope, count, and
// fetch one page. A page past the end of the result set returns empty data,
// not an error; callers use that to detect end-of-results.
func (e *Engine) Search(ctx context.Context, schema Schema, scope Scope, req FilterRequest) (Page, error) {
	set, err := Build(schema, req)
	if err != nil {
		return Page{}, err
	}
	set = ApplyScope(set, scope)

	page, limit, err := resolveBounds(schema, req)
	if err != nil {
		return Page{}, err
	}
	sort := resolveSort(schema, req.Sort)

	var records int64
	err = e.withRetry(ctx, func() error {
		var cerr error
		records, cerr = e.exec.Count(ctx, schema, set)
		return cerr
	})
	if err != nil {
		return Page{}, err
	}

	result := Page{
		Pagination: Pagination{Current: page, Limit: limit, Records: records},
		Data:       []json.RawMessage{},
	}
	if records == 0 {
		return result, nil
	}
	result.Pagination.Pages = (records + int64(limit) - 1) / int64(limit)

	offset := (page - 1) * limit
	if int64(offset) >= records {
		return result, nil
	}

	err = e.withRetry(ctx, func() error {
		rows, ferr := e.exec.Fetch(ctx, schema, set, sort, limit, offset)
		if ferr != nil {
			return ferr
		}
		result.Data = rows
		return nil
	})
	if err != nil {
		return Page{}, err
	}
	if result.Data == nil {
		result.Data = []json.RawMessage{}
	}
	return result, nil
}

// resolveBounds applies defaults and bounds: absent page means 1, absent
// limit means the schema default; explicit non-positive values are rejected,
// an over-large limit clamps to MaxLimit.
func resolveBounds(schema Schema, req FilterRequest) (page, limit int, err error) {
	page = 1
	if req.Page != nil {
		if *req.Page < 1 {
			return 0, 0, fmt.Errorf("%w: page must be >= 1", ErrInvalidPagination)
		}
		page = *req.Page
	}
	limit = schema.DefaultLimit
	if req.Limit != nil {
		if *req.Limit < 1 {
			return 0, 0, fmt.Errorf("%w: limit must be >= 1", ErrInvalidPagination)
		}
		limit = *req.Limit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit, nil
}

// resolveSort falls back to the schema default for an absent, unknown, or
// non-sortable sort field, keeping ordering stable across pages.
func resolveSort(schema Schema, req *SortRequest) Sort {
	if req == nil {
		return schema.DefaultSort
	}
	field, ok := schema.Fields[req.Field]
	if !ok || !field.Sortable {
		return schema.DefaultSort
	}
	switch strings.ToLower(strings.TrimSpace(req.Direction)) {
	case "asc":
		return Sort{Field: req.Field}
	case "desc", "":
		return Sort{Field: req.Field, Descending: true}
	default:
		return schema.DefaultSort
	}
}

// withRetry retries an idempotent read exactly once after a short backoff
// when the store reports a timeout. Mutating operations never come through
// here.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if !errors.Is(err, ErrStoreTimeout) {
		return err
	}
	select {
	case <-ctx.Done():
		return err
	case <-time.After(e.backoff):
	}
	return fn()
}
