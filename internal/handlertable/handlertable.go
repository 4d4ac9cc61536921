// ============================================================================
// Handler Table - Registered Handler Registry
// ============================================================================
//
// Package: internal/handlertable
// File: handlertable.go
// Purpose: In-memory registry of Handlers keyed by (namespace, name),
//   populated before startup and read-only afterward.
//
// Lifecycle:
//   1. Register() - add handlers, one at a time, before Start.
//   2. Freeze() - called once by Client.Start; any further Register call
//      returns ErrAlreadyStarted.
//   3. Lookup() / All() - read-only access for the rest of the pipeline.
package handlertable

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/unmeshed-io/worker-sdk-go/internal/permit"
	"github.com/unmeshed-io/worker-sdk-go/pkg/types"
)

// ErrUnknownHandler is returned when a WorkItem's (namespace, name) does not
// resolve to a registered Handler (§4.2 step 1, §7).
var ErrUnknownHandler = errors.New("handlertable: no handler registered for key")

// ErrAlreadyStarted is returned by Register once the table has been frozen
// by Freeze, since handlers are immutable after registration (§3).
var ErrAlreadyStarted = errors.New("handlertable: table already frozen, cannot register")

// ErrInvalidMaxInProgress is returned when a Handler declares a non-positive
// concurrency budget.
var ErrInvalidMaxInProgress = errors.New("handlertable: max-in-progress must be >= 1")

// InvokeFunc is the user-supplied handler invocation. It receives the
// WorkItem and returns an arbitrary value per §4.2 step 5 (a StepResult, a
// map, or any JSON-compatible scalar/list/object) or an error.
type InvokeFunc func(ctx context.Context, item *types.WorkItem) (interface{}, error)

// Handler is one entry in the Handler Table.
type Handler struct {
	Key            types.HandlerKey
	Invoke         InvokeFunc
	MaxInProgress  int
	Domain         types.SchedulingDomain
	Permits        *permit.Pool
}

// Table is the in-memory Handler registry. Writes are only valid before
// Freeze(); reads (Lookup, All) are safe for concurrent use at any time.
type Table struct {
	mu       sync.RWMutex
	handlers map[types.HandlerKey]*Handler
	frozen   bool
}

// New creates an empty Handler Table.
func New() *Table {
	return &Table{handlers: make(map[types.HandlerKey]*Handler)}
}

// Register adds a Handler to the table. It is an error to register after
// Freeze, to register a duplicate (namespace, name), or to declare a
// max-in-progress below 1.
func (t *Table) Register(key types.HandlerKey, fn InvokeFunc, maxInProgress int, domain types.SchedulingDomain) error {
	if maxInProgress < 1 {
		return fmt.Errorf("%w: got %d for %s", ErrInvalidMaxInProgress, maxInProgress, key)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return ErrAlreadyStarted
	}
	if _, exists := t.handlers[key]; exists {
		return fmt.Errorf("handlertable: duplicate handler %s", key)
	}
	t.handlers[key] = &Handler{
		Key:           key,
		Invoke:        fn,
		MaxInProgress: maxInProgress,
		Domain:        domain,
		Permits:       permit.NewPool(maxInProgress),
	}
	return nil
}

// Freeze marks the table read-only. Startup calls this once registration is
// complete; subsequent Register calls fail.
func (t *Table) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = true
}

// Lookup resolves a (namespace, name) pair to its Handler.
func (t *Table) Lookup(key types.HandlerKey) (*Handler, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, key)
	}
	return h, nil
}

// All returns every registered Handler, in no particular order. Used by the
// Registration Coordinator to announce the table and by the Polling
// Controller to iterate permit pools each iteration.
func (t *Table) All() []*Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		out = append(out, h)
	}
	return out
}
