// ============================================================================
// Registration Coordinator - Startup Handshake
// ============================================================================
//
// Package: internal/registration
// File: registration.go
// Purpose: On startup, announce the frozen Handler Table to the engine, with
//   bounded retry so a transiently unreachable engine doesn't fail the host
//   on its very first attempt.
//
// Backoff Schedule:
//   1s, 3s, 5s, ... stepping by 2s, capped at 10s, up to 10 attempts total.
//   Gives up and returns an error once the cap is reached without success.
package registration

import (
	"context"
	"fmt"
	"time"

	"github.com/unmeshed-io/worker-sdk-go/internal/engineclient"
	"github.com/unmeshed-io/worker-sdk-go/internal/handlertable"
	"github.com/unmeshed-io/worker-sdk-go/internal/logging"
)

const (
	maxAttempts  = 10
	backoffStep  = 2 * time.Second
	backoffFirst = 1 * time.Second
	backoffCap   = 10 * time.Second
)

// backoffDelay implements §4.5's "1s, 3s, 5s, ... capped at 10s" schedule:
// attempt is 1-based.
func backoffDelay(attempt int) time.Duration {
	d := backoffFirst + time.Duration(attempt-1)*backoffStep
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// Coordinator announces the Handler Table and retries on failure.
type Coordinator struct {
	client engineclient.EngineClient
	table  *handlertable.Table
	log    *logging.Component
	sleep  func(time.Duration)
}

// New builds a Coordinator. sleep defaults to time.Sleep; tests override it
// to avoid real delays.
func New(client engineclient.EngineClient, table *handlertable.Table, log *logging.Component) *Coordinator {
	return &Coordinator{client: client, table: table, log: log, sleep: time.Sleep}
}

// Register announces every Handler in the table, retrying up to 10 times
// with the bounded linear-plus-ceiling backoff of §4.5. A final failure is
// fatal and propagated to the caller (§7).
func (c *Coordinator) Register(ctx context.Context) error {
	descriptors := make([]engineclient.HandlerDescriptor, 0, 8)
	for _, h := range c.table.All() {
		descriptors = append(descriptors, engineclient.HandlerDescriptor{Namespace: h.Key.Namespace, Name: h.Key.Name})
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = c.client.Register(ctx, descriptors)
		if lastErr == nil {
			return nil
		}
		if c.log != nil {
			c.log.Printf("registration attempt %d/%d failed: %v", attempt, maxAttempts, lastErr)
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.sleep(backoffDelay(attempt))
	}
	return fmt.Errorf("registration: giving up after %d attempts: %w", maxAttempts, lastErr)
}
