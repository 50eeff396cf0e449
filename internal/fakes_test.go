package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/lychee-technology/resource"
)

type fetchCall struct {
	identity resource.Identity
	op       resource.OperationID
	ids      []resource.AttributeID
}

type fakeGetter struct {
	mu     sync.Mutex
	values map[resource.AttributeID]any
	err    error
	calls  []fetchCall
}

func (g *fakeGetter) Fetch(_ context.Context, id resource.Identity, op resource.OperationID, ids []resource.AttributeID) (map[resource.AttributeID]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, fetchCall{identity: id, op: op, ids: append([]resource.AttributeID(nil), ids...)})
	if g.err != nil {
		return nil, g.err
	}
	out := make(map[resource.AttributeID]any)
	for _, id := range ids {
		if v, ok := g.values[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

type applyCall struct {
	op     resource.OperationID
	values []resource.PhysicalValue
}

type fakeSetter struct {
	mu     sync.Mutex
	failOn map[resource.OperationID]error
	calls  []applyCall
}

func (s *fakeSetter) Apply(_ context.Context, _ resource.Identity, op resource.OperationID, values []resource.PhysicalValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, applyCall{op: op, values: append([]resource.PhysicalValue(nil), values...)})
	return s.failOn[op]
}

type fakeConnector struct {
	level resource.Level
	err   error
	calls int
}

func (c *fakeConnector) Connect(context.Context, resource.Identity) (resource.Level, error) {
	c.calls++
	return c.level, c.err
}

// fakeSource serves fixed pages. A page entry with a non-nil error fails
// that FetchNext call.
type fakeSource struct {
	mu      sync.Mutex
	pages   [][]resource.Record
	pageErr map[int]error
	openErr error
	queries []resource.Query
	closed  []resource.ListHandle
	// block, when set, is received from before every FetchNext returns.
	block chan struct{}
}

type fakeCursor struct {
	id   int
	next int
}

func (f *fakeSource) OpenQuery(_ context.Context, q resource.Query) (resource.ListHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &fakeCursor{id: len(f.queries)}, nil
}

func (f *fakeSource) FetchNext(ctx context.Context, h resource.ListHandle) ([]resource.Record, bool, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := h.(*fakeCursor)
	if !ok {
		return nil, false, fmt.Errorf("bad handle %T", h)
	}
	if err := f.pageErr[c.next]; err != nil {
		return nil, false, err
	}
	if c.next >= len(f.pages) {
		return nil, true, nil
	}
	page := f.pages[c.next]
	c.next++
	return page, c.next >= len(f.pages), nil
}

func (f *fakeSource) Close(_ context.Context, h resource.ListHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, h)
	return nil
}

func (f *fakeSource) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closed)
}
