package internal

import (
	"context"
	"sync"
	"time"
)

// Telemetry hooks for remote collaborator calls. The default emitter is a
// no-op; service wiring may register a metrics-backed emitter or a test stub.

type telemetryEmitter func(ctx context.Context, name string, labels map[string]string, value any)

var (
	teleMu   sync.Mutex
	teleImpl telemetryEmitter = func(ctx context.Context, name string, labels map[string]string, value any) {}
)

// RegisterTelemetryEmitter registers a custom emitter. Nil restores the no-op.
func RegisterTelemetryEmitter(fn telemetryEmitter) {
	teleMu.Lock()
	defer teleMu.Unlock()
	if fn == nil {
		teleImpl = func(ctx context.Context, name string, labels map[string]string, value any) {}
		return
	}
	teleImpl = fn
}

func emitter() telemetryEmitter {
	teleMu.Lock()
	defer teleMu.Unlock()
	return teleImpl
}

// EmitLatency records the latency of a remote call in milliseconds.
// name: "resource_remote_latency_ms" with labels {"op": "<fetch|apply|open|page|close|connect>", "kind": "<kind>"}
func EmitLatency(ctx context.Context, op, kind string, d time.Duration) {
	emitter()(ctx, "resource_remote_latency_ms", map[string]string{"op": op, "kind": kind}, d.Milliseconds())
}

// EmitRowCount records the number of records a list page delivered.
// name: "resource_list_rows" with label {"kind": "<kind>"}
func EmitRowCount(ctx context.Context, kind string, rows int64) {
	emitter()(ctx, "resource_list_rows", map[string]string{"kind": kind}, rows)
}

// EmitRemoteError counts failed remote calls.
// name: "resource_remote_errors" with labels {"op": "<op>", "kind": "<kind>"}
func EmitRemoteError(ctx context.Context, op, kind string) {
	emitter()(ctx, "resource_remote_errors", map[string]string{"op": op, "kind": kind}, int64(1))
}
