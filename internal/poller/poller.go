// ============================================================================
// Polling Controller - Credit-Based Work Acquisition
// ============================================================================
//
// Package: internal/poller
// File: poller.go
// Purpose: Each iteration, computes how many permits are free per Handler,
//   non-blockingly borrows them, asks the engine for that much work, matches
//   the returned items back to the permits borrowed on their behalf, and
//   hands them to the Dispatcher.
//
// Cadence:
//   Normally a 100ms (10Hz) tick. A poll transport failure drops the
//   cadence to a 1s (1Hz) backoff tick until a poll recovers, so a down
//   engine is not hammered at the normal rate.
//
// Recovery Heartbeat:
//   The first failure after a healthy run is logged; subsequent failures
//   are suppressed until a poll succeeds with at least one item. A clean
//   poll that simply has no work queued does not count as recovery.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/unmeshed-io/worker-sdk-go/internal/engineclient"
	"github.com/unmeshed-io/worker-sdk-go/internal/handlertable"
	"github.com/unmeshed-io/worker-sdk-go/internal/logging"
	"github.com/unmeshed-io/worker-sdk-go/internal/observability"
	"github.com/unmeshed-io/worker-sdk-go/internal/permit"
	"github.com/unmeshed-io/worker-sdk-go/pkg/types"
)

const (
	pollInterval        = 100 * time.Millisecond
	pollBackoffInterval = 1 * time.Second
	maxRequestSize      = 5000
)

// Dispatcher is what the Poller hands matched (handler, item, token) triples
// to. internal/dispatcher.Dispatcher implements this.
type Dispatcher interface {
	Dispatch(ctx context.Context, handler *handlertable.Handler, item *types.WorkItem, token *permit.Token)
}

// Poller drives the poll loop at a 100ms cadence, backing off to 1s while
// poll attempts are failing (§4.1).
type Poller struct {
	client     engineclient.EngineClient
	table      *handlertable.Table
	dispatcher Dispatcher
	batchSize  int
	metrics    *observability.Collector
	log        *logging.Component
	errs       *pollErrorLogger
}

// New builds a Poller. batchSize is the configured work-request-batch-size,
// further capped per-iteration at each Handler's available permits and at
// the hard ceiling of 5000 (§4.1 step 1).
func New(client engineclient.EngineClient, table *handlertable.Table, dispatcher Dispatcher, batchSize int, metrics *observability.Collector, log *logging.Component) *Poller {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Poller{
		client:     client,
		table:      table,
		dispatcher: dispatcher,
		batchSize:  batchSize,
		metrics:    metrics,
		log:        log,
		errs:       &pollErrorLogger{log: log, name: "poll"},
	}
}

// LastPollStatus reports the error recorded by the most recent failed poll
// and when it was recorded, for the periodic status line (§4.3, §12). Only a
// poll that returns at least one item resets it to nil (with its own time);
// a successful poll that returns no items leaves both values unchanged.
func (p *Poller) LastPollStatus() (error, time.Time) {
	return p.errs.snapshot()
}

// Run executes the poll loop until ctx is cancelled. The cadence drops from
// the normal 10Hz to a 1Hz backoff while the engine is failing to poll (§4.1,
// §7: "poll transport failure ... with a 1 s backoff"), and returns to 10Hz
// once a poll returns at least one item; a successful poll with no items
// keeps the 1Hz cadence.
func (p *Poller) Run(ctx context.Context) {
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.pollOnce(ctx)
			timer.Reset(p.nextInterval())
		}
	}
}

// nextInterval returns the backoff cadence while the last poll attempt is
// failing, the normal cadence otherwise.
func (p *Poller) nextInterval() time.Duration {
	if p.errs.isFailing() {
		return pollBackoffInterval
	}
	return pollInterval
}

// pollOnce runs a single iteration of §4.1 steps 1-4.
func (p *Poller) pollOnce(ctx context.Context) {
	handlers := p.table.All()
	if len(handlers) == 0 {
		return
	}

	requests := make([]engineclient.PollRequest, 0, len(handlers))
	tokensByKey := make(map[types.HandlerKey][]*permit.Token, len(handlers))
	handlerByKey := make(map[types.HandlerKey]*handlertable.Handler, len(handlers))

	for _, h := range handlers {
		size := requestSize(h.Permits.Available(), p.batchSize)
		if size <= 0 {
			continue
		}
		tokens := h.Permits.TryAcquireUpTo(size)
		if len(tokens) == 0 {
			continue
		}
		tokensByKey[h.Key] = tokens
		handlerByKey[h.Key] = h
		requests = append(requests, engineclient.PollRequest{
			Namespace: h.Key.Namespace,
			Name:      h.Key.Name,
			Size:      len(tokens),
		})
	}

	if len(requests) == 0 {
		return
	}

	items, err := p.client.Poll(ctx, requests)
	if err != nil {
		p.errs.reportError(err)
		releaseAll(tokensByKey)
		return
	}
	// §4.1's recovery heartbeat is precise: only a poll that returns at
	// least one item clears the failing/suppressed state. A clean poll
	// with zero items (the engine is reachable but simply has no work)
	// leaves any existing failure suppression in place.
	if len(items) > 0 {
		p.errs.reportSuccess()
	}

	for _, item := range items {
		p.metrics.RecordPolled(item.Key().String(), 1)
		key := item.Key()
		tokens := tokensByKey[key]
		if len(tokens) == 0 {
			// The engine returned an item for a queue we didn't request
			// (or over-returned beyond what we asked for); dispatch it
			// without a permit rather than drop real work.
			p.dispatcher.Dispatch(ctx, handlerByKey[key], item, nil)
			continue
		}
		token := tokens[0]
		tokensByKey[key] = tokens[1:]
		p.dispatcher.Dispatch(ctx, handlerByKey[key], item, token)
	}

	// Any permits borrowed but not matched to a returned item (the engine
	// had less work than we asked for) go back to the pool immediately
	// (§4.1 step 4: "release permits that were not used").
	releaseAll(tokensByKey)

	for _, h := range handlers {
		p.metrics.SetPermitGauges(h.Key.String(), h.Permits.Available(), h.Permits.InUse())
	}
}

// requestSize implements §4.1 step 1's "min(available, configured size,
// 5000)" rule.
func requestSize(available, configured int) int {
	size := available
	if configured < size {
		size = configured
	}
	if maxRequestSize < size {
		size = maxRequestSize
	}
	return size
}

func releaseAll(tokensByKey map[types.HandlerKey][]*permit.Token) {
	for _, tokens := range tokensByKey {
		for _, t := range tokens {
			t.Release()
		}
	}
}

// pollErrorLogger implements the "recovery heartbeat" behavior of §4.1/§7: log
// once on entering a failing state and once on recovering, rather than once
// per failed iteration, so a down engine doesn't flood the log at 10Hz.
type pollErrorLogger struct {
	mu      sync.Mutex
	failing bool
	lastErr error
	lastAt  time.Time
	log     *logging.Component
	name    string
}

func (e *pollErrorLogger) reportError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = err
	e.lastAt = time.Now()
	if !e.failing {
		e.failing = true
		if e.log != nil {
			e.log.Printf("%s: entering failure state: %v", e.name, err)
		}
	}
}

func (e *pollErrorLogger) reportSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = nil
	e.lastAt = time.Now()
	if e.failing {
		e.failing = false
		if e.log != nil {
			e.log.Printf("%s: recovered", e.name)
		}
	}
}

func (e *pollErrorLogger) snapshot() (error, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr, e.lastAt
}

func (e *pollErrorLogger) isFailing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failing
}
