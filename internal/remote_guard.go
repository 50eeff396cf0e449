package internal

import (
	"context"
	"errors"
	"time"

	"github.com/lychee-technology/resource"
	"go.uber.org/zap"
)

var errCircuitOpen = errors.New("circuit breaker open")

// Guard short-circuits calls to a collaborator whose recent calls keep
// failing. A nil Guard lets every call through.
type Guard struct {
	name    string
	breaker *CircuitBreaker
}

// NewGuard creates a guard named after the collaborator it protects.
func NewGuard(name string, threshold int, window, openDuration time.Duration) *Guard {
	return &Guard{name: name, breaker: NewCircuitBreaker(threshold, window, openDuration)}
}

// NewGuardFromConfig returns nil when the breaker is disabled.
func NewGuardFromConfig(name string, cfg resource.RemoteConfig) *Guard {
	if !cfg.BreakerEnabled {
		return nil
	}
	return NewGuard(name, cfg.BreakerThreshold, cfg.BreakerWindow, cfg.BreakerOpenDuration)
}

func (g *Guard) Open() bool {
	return g != nil && g.breaker.IsOpen()
}

func (g *Guard) do(ctx context.Context, op resource.OperationID, fn func() error) error {
	if g == nil {
		return fn()
	}
	if g.breaker.IsOpen() {
		return resource.NewRemoteCallError(resource.ErrCodeCircuitOpen, op, errCircuitOpen).
			WithDetail("collaborator", g.name)
	}
	err := fn()
	switch {
	case err == nil:
		g.breaker.RecordSuccess()
	case ctx.Err() != nil:
		// cancellation says nothing about the collaborator
	default:
		g.breaker.RecordFailure()
		if g.breaker.IsOpen() {
			zap.S().Warnw("circuit breaker opened", "collaborator", g.name, "error", err)
		}
	}
	return err
}

type guardedGetter struct {
	next  resource.AttributeGetter
	guard *Guard
}

// GuardGetter wraps an attribute getter with guard.
func GuardGetter(next resource.AttributeGetter, guard *Guard) resource.AttributeGetter {
	if guard == nil || next == nil {
		return next
	}
	return &guardedGetter{next: next, guard: guard}
}

func (g *guardedGetter) Fetch(ctx context.Context, id resource.Identity, op resource.OperationID, ids []resource.AttributeID) (map[resource.AttributeID]any, error) {
	var out map[resource.AttributeID]any
	err := g.guard.do(ctx, op, func() error {
		var err error
		out, err = g.next.Fetch(ctx, id, op, ids)
		return err
	})
	return out, err
}

type guardedSetter struct {
	next  resource.AttributeSetter
	guard *Guard
}

// GuardSetter wraps an attribute setter with guard.
func GuardSetter(next resource.AttributeSetter, guard *Guard) resource.AttributeSetter {
	if guard == nil || next == nil {
		return next
	}
	return &guardedSetter{next: next, guard: guard}
}

func (s *guardedSetter) Apply(ctx context.Context, id resource.Identity, op resource.OperationID, values []resource.PhysicalValue) error {
	return s.guard.do(ctx, op, func() error {
		return s.next.Apply(ctx, id, op, values)
	})
}

type guardedSource struct {
	next  resource.ListSource
	guard *Guard
}

// GuardSource wraps a list source with guard. Close always reaches the
// source so handles are released while the breaker is open.
func GuardSource(next resource.ListSource, guard *Guard) resource.ListSource {
	if guard == nil || next == nil {
		return next
	}
	return &guardedSource{next: next, guard: guard}
}

func (s *guardedSource) OpenQuery(ctx context.Context, q resource.Query) (resource.ListHandle, error) {
	var h resource.ListHandle
	err := s.guard.do(ctx, "", func() error {
		var err error
		h, err = s.next.OpenQuery(ctx, q)
		return err
	})
	return h, err
}

func (s *guardedSource) FetchNext(ctx context.Context, h resource.ListHandle) ([]resource.Record, bool, error) {
	var (
		records   []resource.Record
		exhausted bool
	)
	err := s.guard.do(ctx, "", func() error {
		var err error
		records, exhausted, err = s.next.FetchNext(ctx, h)
		return err
	})
	return records, exhausted, err
}

func (s *guardedSource) Close(ctx context.Context, h resource.ListHandle) error {
	return s.next.Close(ctx, h)
}

type guardedConnector struct {
	next  resource.Connector
	guard *Guard
}

// GuardConnector wraps a connector with guard.
func GuardConnector(next resource.Connector, guard *Guard) resource.Connector {
	if guard == nil || next == nil {
		return next
	}
	return &guardedConnector{next: next, guard: guard}
}

func (c *guardedConnector) Connect(ctx context.Context, id resource.Identity) (resource.Level, error) {
	var level resource.Level
	err := c.guard.do(ctx, "", func() error {
		var err error
		level, err = c.next.Connect(ctx, id)
		return err
	})
	return level, err
}
