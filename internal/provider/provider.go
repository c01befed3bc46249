// Package provider implements the matching strategies behind one interface.
//
// Local scores candidates lexically in-process. Embedding ranks candidates by
// vector similarity from a remote provider and blends that with a lexical
// re-rank of a shortlist. Dispatcher picks the strategy for a request's
// method; new strategies only need to implement Matcher.
package provider

import (
	"context"
	"fmt"

	"boqmatch/internal/boq"
	"boqmatch/internal/matching"
	"boqmatch/internal/services"
)

// Request is the uniform input of every strategy.
type Request struct {
	RowNumber      int
	Description    string
	Unit           string
	Method         boq.Method
	Catalog        *boq.Catalog
	ContextHeaders []string
	SheetName      string
}

// RequestForItem builds a Request from a parsed line item.
func RequestForItem(item boq.LineItem, method boq.Method, catalog *boq.Catalog) Request {
	return Request{
		RowNumber:      item.RowNumber,
		Description:    item.Description,
		Unit:           item.Unit,
		Method:         method,
		Catalog:        catalog,
		ContextHeaders: item.ContextHeaders,
		SheetName:      item.SheetName,
	}
}

// Item returns the line item described by the request.
func (r Request) Item() boq.LineItem {
	return boq.LineItem{
		RowNumber:      r.RowNumber,
		Description:    r.Description,
		Unit:           r.Unit,
		ContextHeaders: r.ContextHeaders,
		SheetName:      r.SheetName,
	}
}

// Matcher matches one item.
type Matcher interface {
	MatchItem(ctx context.Context, req Request) (boq.MatchResult, error)
}

// Ranker is implemented by strategies that can list their top candidates.
type Ranker interface {
	TopMatches(ctx context.Context, req Request, k int) ([]boq.MatchResult, error)
}

// Local is the in-process lexical strategy.
type Local struct {
	selector *matching.Selector
}

// NewLocal returns the lexical strategy.
func NewLocal(selector *matching.Selector) *Local {
	return &Local{selector: selector}
}

// MatchItem selects the best candidate from req.Catalog.
func (l *Local) MatchItem(_ context.Context, req Request) (boq.MatchResult, error) {
	result, err := l.selector.SelectBest(req.Item(), req.Catalog)
	if err != nil {
		return boq.MatchResult{}, err
	}
	result.Method = boq.MethodLocal
	return result, nil
}

// TopMatches lists the best k lexical candidates.
func (l *Local) TopMatches(_ context.Context, req Request, k int) ([]boq.MatchResult, error) {
	return l.selector.TopMatches(req.Item(), req.Catalog, k)
}

// CatalogSource loads the active catalog when a request does not carry one.
type CatalogSource func(ctx context.Context) (*boq.Catalog, error)

// Dispatcher routes requests to the strategy registered for their method.
type Dispatcher struct {
	matchers map[boq.Method]Matcher
	source   CatalogSource
}

// NewDispatcher returns a dispatcher with the local strategy registered.
// source may be nil when every request carries its catalog.
func NewDispatcher(local *Local, source CatalogSource) *Dispatcher {
	d := &Dispatcher{
		matchers: make(map[boq.Method]Matcher),
		source:   source,
	}
	if local != nil {
		d.matchers[boq.MethodLocal] = local
	}
	return d
}

// Register installs m for method, replacing any previous strategy.
func (d *Dispatcher) Register(method boq.Method, m Matcher) {
	d.matchers[method] = m
}

// Supports reports whether a strategy is registered for method.
func (d *Dispatcher) Supports(method boq.Method) bool {
	_, ok := d.matchers[method]
	return ok
}

// MatchItem dispatches req to its strategy.
func (d *Dispatcher) MatchItem(ctx context.Context, req Request) (boq.MatchResult, error) {
	m, req, err := d.prepare(ctx, req)
	if err != nil {
		return boq.MatchResult{}, err
	}
	return m.MatchItem(ctx, req)
}

// TopMatches dispatches a top-k request. Strategies that cannot rank fall back
// to the local strategy.
func (d *Dispatcher) TopMatches(ctx context.Context, req Request, k int) ([]boq.MatchResult, error) {
	m, req, err := d.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if ranker, ok := m.(Ranker); ok {
		return ranker.TopMatches(ctx, req, k)
	}
	if local, ok := d.matchers[boq.MethodLocal].(Ranker); ok {
		return local.TopMatches(ctx, req, k)
	}
	return nil, services.Wrap(services.ErrConfiguration, "provider", "top matches", fmt.Sprintf("method %q cannot rank candidates", req.Method), nil)
}

func (d *Dispatcher) prepare(ctx context.Context, req Request) (Matcher, Request, error) {
	if req.Method == "" {
		req.Method = boq.MethodLocal
	}
	m, ok := d.matchers[req.Method]
	if !ok {
		return nil, req, services.NewValidationError("method", fmt.Sprintf("no strategy configured for %q", req.Method))
	}
	if req.Catalog == nil && d.source != nil {
		catalog, err := d.source(ctx)
		if err != nil {
			return nil, req, err
		}
		req.Catalog = catalog
	}
	return m, req, nil
}
