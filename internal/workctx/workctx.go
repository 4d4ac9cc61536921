// ============================================================================
// Context Carrier - Ambient Work Item Propagation
// ============================================================================
//
// Package: internal/workctx
// File: workctx.go
// Purpose: Carries the current Work Item across suspension points into
//   arbitrarily nested user code, without parameter threading and without
//   cross-contamination between concurrently executing Work Items.
//
// Why context.Context:
//   It is passed explicitly into every handler invocation and is safe to
//   read from any code reachable from that call, on any goroutine, because
//   the value lives in the context chain rather than OS-thread-local
//   storage. A handler that threads the same ctx through spawned goroutines
//   keeps seeing the same Work Item; one that builds context.Background()
//   deliberately opts out, the same way it opts out of cancellation. No
//   third-party async-local library is needed here.
package workctx

import (
	"context"

	"github.com/unmeshed-io/worker-sdk-go/pkg/types"
)

type contextKey struct{}

var workItemKey = contextKey{}

// WithWorkItem returns a copy of ctx carrying item as the current Work Item.
// The Dispatcher calls this immediately before invoking a handler (§4.2 step
// 2) and the returned context is what gets passed to the handler.
func WithWorkItem(ctx context.Context, item *types.WorkItem) context.Context {
	return context.WithValue(ctx, workItemKey, item)
}

// Current returns the Work Item installed by the nearest enclosing
// WithWorkItem call reachable from ctx, or nil if none.
func Current(ctx context.Context) *types.WorkItem {
	item, _ := ctx.Value(workItemKey).(*types.WorkItem)
	return item
}
