// ============================================================================
// Response Submitter - Batched Result Delivery
// ============================================================================
//
// Package: internal/submitter
// File: submitter.go
// Purpose: Batches Work Responses, submits them in bulk, retries transient
//   failures, discards permanently-failed items, and releases the
//   Dispatcher's handoff permit only on a terminal outcome.
//
// Queue Design:
//   A mutex-guarded slice, not a buffered channel pair: a retried tracker
//   must re-join the tail of the same queue it came from, which a plain
//   channel can't do without a second shuffling goroutine. A slice behind
//   one mutex is the direct fit for "single-owner critical section guarding
//   batch assembly."
//
// Retry Classification:
//   Case-insensitive substring match of the bulk-submit failure body against
//   a configured keyword list. Matched => permanent, drop and count; no
//   match => transient, requeue at the tail and retry up to max-submit-
//   attempts.
package submitter

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/unmeshed-io/worker-sdk-go/internal/engineclient"
	"github.com/unmeshed-io/worker-sdk-go/internal/logging"
	"github.com/unmeshed-io/worker-sdk-go/internal/observability"
	"github.com/unmeshed-io/worker-sdk-go/internal/permit"
	"github.com/unmeshed-io/worker-sdk-go/pkg/types"
)

const drainInterval = 100 * time.Millisecond

// tracker is the Submission Tracker of §3: a Work Response paired with the
// permit it owns until a terminal outcome, plus retry bookkeeping.
type tracker struct {
	response types.WorkResponse
	token    *permit.Token
	attempts int
}

// Submitter drains a FIFO queue of trackers in batches.
type Submitter struct {
	client            engineclient.EngineClient
	batchSize         int
	maxAttempts       int
	permanentKeywords []string
	metrics           *observability.Collector
	log               *logging.Component

	mu    sync.Mutex
	queue []*tracker
}

// New builds a Submitter. permanentKeywords matches §4.3's configured set of
// case-insensitive substrings that classify a bulk-submit failure as
// permanent rather than transient.
func New(client engineclient.EngineClient, batchSize, maxAttempts int, permanentKeywords []string, metrics *observability.Collector, log *logging.Component) *Submitter {
	if batchSize < 1 {
		batchSize = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Submitter{
		client:            client,
		batchSize:         batchSize,
		maxAttempts:       maxAttempts,
		permanentKeywords: permanentKeywords,
		metrics:           metrics,
		log:               log,
	}
}

// Enqueue appends one completed Work Response to the tail of the queue. The
// Dispatcher calls this exactly once per dispatched Work Item; token is nil
// for responses whose Work Item arrived without a permit (the Polling
// Controller dispatches items for unrequested queues, or beyond the size it
// asked for, without one) and for callers outside the poll/dispatch loop.
func (s *Submitter) Enqueue(response types.WorkResponse, token *permit.Token) {
	s.mu.Lock()
	s.queue = append(s.queue, &tracker{response: response, token: token})
	depth := len(s.queue)
	s.mu.Unlock()
	s.metrics.SetQueueDepth(depth)
}

// QueueDepth reports the current number of trackers awaiting submission,
// exposed for the periodic status line (§4.3 "Backpressure").
func (s *Submitter) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Run drains the queue every 100ms until ctx is cancelled (§4.3 loop step
// 1). This is a simple pacing mechanism, not a fairness guarantee.
func (s *Submitter) Run(ctx context.Context) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drainOnce(ctx)
		}
	}
}

// drainOnce takes up to batchSize trackers in FIFO order and submits them as
// one bulk request (§4.3 steps 2-5).
func (s *Submitter) drainOnce(ctx context.Context) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	n := s.batchSize
	if n > len(s.queue) {
		n = len(s.queue)
	}
	batch := s.queue[:n]
	s.queue = s.queue[n:]
	s.mu.Unlock()
	s.metrics.SetQueueDepth(s.QueueDepth())

	responses := make([]types.WorkResponse, len(batch))
	for i, t := range batch {
		responses[i] = t.response
	}

	result, err := s.client.SubmitBulk(ctx, responses)
	if err != nil {
		if s.log != nil {
			s.log.Printf("bulk submit transport error: %v", err)
		}
		s.retryOrDrop(batch, "")
		return
	}
	if result.Accepted {
		for _, t := range batch {
			releaseToken(t)
		}
		s.metrics.RecordSubmitted(len(batch))
		return
	}
	s.retryOrDrop(batch, result.Body)
}

// retryOrDrop classifies a failed batch attempt (§4.3 step 5). The
// classification is applied uniformly across the whole batch: the engine's
// bulk response carries no per-item status, so every tracker in the batch
// is either all retried or all retired together, by design (§4.3, §9).
func (s *Submitter) retryOrDrop(batch []*tracker, body string) {
	permanent := s.isPermanentError(body)
	var requeue []*tracker
	dropped := 0
	for _, t := range batch {
		t.attempts++
		if permanent || t.attempts >= s.maxAttempts {
			if s.log != nil {
				s.log.Printf("dropping response for step execution %d after %d attempt(s) (permanent=%v)",
					t.response.StepExecutionID, t.attempts, permanent)
			}
			releaseToken(t)
			dropped++
			continue
		}
		requeue = append(requeue, t)
	}
	if dropped > 0 {
		s.metrics.RecordDropped(dropped)
	}
	if len(requeue) > 0 {
		s.mu.Lock()
		s.queue = append(s.queue, requeue...)
		depth := len(s.queue)
		s.mu.Unlock()
		s.metrics.SetQueueDepth(depth)
		s.metrics.RecordRetried(len(requeue))
	}
}

// isPermanentError reports whether body contains any configured
// case-insensitive permanent-error keyword substring (§4.3).
func (s *Submitter) isPermanentError(body string) bool {
	if body == "" {
		return false
	}
	lower := strings.ToLower(body)
	for _, kw := range s.permanentKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func releaseToken(t *tracker) {
	if t.token != nil {
		t.token.Release()
	}
}
