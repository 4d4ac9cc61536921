// ============================================================================
// Worker SDK Client - System Core Coordinator
// ============================================================================
//
// Package: client (root)
// File: client.go
// Purpose: Importable core of the SDK: wires the Handler Table, the engine
//   transport, and the Polling Controller / Dispatcher / Response Submitter
//   / Registration Coordinator into one managed lifecycle a host process
//   starts and stops.
//
// Lifecycle:
//   1. New(cfg) - build every component, Handler Table starts empty.
//   2. RegisterHandler(...) - called any number of times before Start.
//   3. Start(ctx) - freeze the table, register with the engine (bounded
//      retry), then launch the poll/submit/status-log loops in the
//      background if enable-batch-processing is set.
//   4. Status() - point-in-time snapshot of permit accounting and
//      submission backlog, for the periodic status line.
//   5. Stop() - cancel the background loops and wait for them to exit.
package client

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unmeshed-io/worker-sdk-go/internal/config"
	"github.com/unmeshed-io/worker-sdk-go/internal/dispatcher"
	"github.com/unmeshed-io/worker-sdk-go/internal/engineclient"
	"github.com/unmeshed-io/worker-sdk-go/internal/handlertable"
	"github.com/unmeshed-io/worker-sdk-go/internal/logging"
	"github.com/unmeshed-io/worker-sdk-go/internal/observability"
	"github.com/unmeshed-io/worker-sdk-go/internal/poller"
	"github.com/unmeshed-io/worker-sdk-go/internal/registration"
	"github.com/unmeshed-io/worker-sdk-go/internal/submitter"
	"github.com/unmeshed-io/worker-sdk-go/pkg/types"
)

// Config is re-exported so callers only need to import this one package for
// the common path.
type Config = config.Config

// InvokeFunc is the signature every registered Handler implements.
type InvokeFunc = handlertable.InvokeFunc

// Client is the SDK's managed runtime: one Handler Table, one engine
// connection, one Polling Controller / Dispatcher / Response Submitter /
// Registration Coordinator (§2).
type Client struct {
	cfg      config.Config
	table    *handlertable.Table
	engine   engineclient.EngineClient
	metrics  *observability.Collector
	registry *prometheus.Registry
	log      *logging.Component

	registrar    *registration.Coordinator
	dispatcher   *dispatcher.Dispatcher
	submitter    *submitter.Submitter
	poller       *poller.Poller
	statusLogger *observability.StatusLogger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes a Client beyond what Config carries.
type Option func(*options)

type options struct {
	logger   logging.Logger
	registry *prometheus.Registry
}

// WithLogger installs a logging.Logger every component's log lines are
// written through (prefixed per component, §10.1). Defaults to stderr.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry installs a custom Prometheus registry, useful for tests that
// want to avoid colliding with the global default registry. Defaults to a
// fresh private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New builds a Client from cfg. The Handler Table starts empty; callers
// register handlers with RegisterHandler before calling Start.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{registry: prometheus.NewRegistry()}
	for _, opt := range opts {
		opt(o)
	}

	metrics := observability.NewCollector(o.registry)
	table := handlertable.New()
	engine := engineclient.New(cfg.ClientID, cfg.AuthToken, cfg.BaseURL, cfg.Port, cfg.ConnectionTimeout())

	log := logging.New("client", o.logger)
	submit := submitter.New(engine, cfg.ResponseSubmitBatchSize, cfg.MaxSubmitAttempts, permanentKeywords(cfg), metrics, logging.New("submit", o.logger))
	dispatch := dispatcher.New(table, submit, cfg.FixedThreadPoolSize, cfg.StepTimeout(), metrics, logging.New("dispatch", o.logger))
	poll := poller.New(engine, table, dispatch, cfg.WorkRequestBatchSize, metrics, logging.New("poll", o.logger))
	registrar := registration.New(engine, table, logging.New("register", o.logger))

	c := &Client{
		cfg:        cfg,
		table:      table,
		engine:     engine,
		metrics:    metrics,
		registry:   o.registry,
		log:        log,
		registrar:  registrar,
		dispatcher: dispatch,
		submitter:  submit,
		poller:     poll,
	}

	var statusLog *logging.Component
	if o.logger != nil {
		statusLog = logging.New("status", o.logger)
	}
	c.statusLogger = observability.NewStatusLogger(statusLog, func() string { return c.Status().String() })

	return c, nil
}

func permanentKeywords(cfg config.Config) []string {
	if len(cfg.PermanentErrorKeywords) > 0 {
		return cfg.PermanentErrorKeywords
	}
	return config.DefaultPermanentErrorKeywords
}

// RegisterHandler adds a Handler to the table (§2.1, §3). It must be called
// before Start; registering after Start returns handlertable.ErrAlreadyStarted.
func (c *Client) RegisterHandler(namespace, name string, fn InvokeFunc, maxInProgress int, domain types.SchedulingDomain) error {
	return c.table.Register(types.HandlerKey{Namespace: namespace, Name: name}, fn, maxInProgress, domain)
}

// Start freezes the Handler Table, registers it with the engine (bounded
// retry, §4.5), and launches the Polling Controller and Response Submitter
// loops. It blocks only long enough to complete initial registration; the
// loops themselves run in background goroutines until Stop is called.
//
// If EnableBatchProcessing is false, Start performs registration only and
// never launches the poll/submit loops — the engine connection is live but
// this host never pulls or returns work, matching §6's
// enable-batch-processing flag semantics.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("client: already started")
	}
	c.running = true
	c.mu.Unlock()

	c.table.Freeze()

	if delay := c.cfg.InitialDelay(); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := c.registrar.Register(ctx); err != nil {
		return fmt.Errorf("client: start: %w", err)
	}

	if !c.cfg.EnableBatchProcessing {
		if c.log != nil {
			c.log.Printf("enable_batch_processing is false, registered but not polling or submitting")
		}
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.poller.Run(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.submitter.Run(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.statusLogger.Run(runCtx)
	}()

	return nil
}

// Stop cancels the poll/submit loops and waits for them to exit. Safe to
// call on a Client that was never started or already stopped.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// HandlerStatus is one Handler's live permit accounting, part of Status.
type HandlerStatus struct {
	MaxInProgress    int
	PermitsInUse     int
	PermitsAvailable int
	Domain           types.SchedulingDomain
}

// Status is a snapshot of the Client's live state, the "periodic status
// line" referenced by §4.3.
type Status struct {
	PerHandler           map[string]HandlerStatus
	SubmissionQueueDepth int
	LastPollError        error
	LastPollAt           time.Time
}

// Status returns a point-in-time snapshot of permit accounting and
// submission backlog across every registered Handler.
func (c *Client) Status() Status {
	perHandler := make(map[string]HandlerStatus)
	for _, h := range c.table.All() {
		perHandler[h.Key.String()] = HandlerStatus{
			MaxInProgress:    h.MaxInProgress,
			PermitsInUse:     h.Permits.InUse(),
			PermitsAvailable: h.Permits.Available(),
			Domain:           h.Domain,
		}
	}
	lastErr, lastAt := c.poller.LastPollStatus()
	return Status{
		PerHandler:           perHandler,
		SubmissionQueueDepth: c.submitter.QueueDepth(),
		LastPollError:        lastErr,
		LastPollAt:           lastAt,
	}
}

// String renders the status snapshot as a single human-readable line, the
// "periodic status line" §4.3 describes and internal/observability.StatusLogger
// logs every 30s (§12).
func (s Status) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "queue_depth=%d", s.SubmissionQueueDepth)
	if s.LastPollError != nil {
		fmt.Fprintf(&b, " last_poll_error=%q@%s", s.LastPollError.Error(), s.LastPollAt.Format(time.RFC3339))
	} else {
		b.WriteString(" last_poll_error=none")
	}
	names := make([]string, 0, len(s.PerHandler))
	for name := range s.PerHandler {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h := s.PerHandler[name]
		fmt.Fprintf(&b, " %s{in_use=%d,available=%d,max=%d}", name, h.PermitsInUse, h.PermitsAvailable, h.MaxInProgress)
	}
	return b.String()
}

// MetricsHandler returns an http.Handler serving this Client's Prometheus
// metrics in the exposition format, for mounting at "/metrics".
func (c *Client) MetricsHandler() http.Handler {
	return observability.Handler(c.registry)
}
