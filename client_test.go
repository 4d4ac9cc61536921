package client

// ============================================================================
// Client End-to-End Test Suite
// ============================================================================
//
// Package: client
// File: client_test.go
// Purpose: End-to-end poll/dispatch/submit functionality against a fake
//   engine, plus config validation and status-accounting checks.
// ============================================================================

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unmeshed-io/worker-sdk-go/pkg/types"
)

// newFakeEngine starts a minimal stand-in for the Unmeshed engine: it accepts
// registration, returns one work item the first time it is polled for the
// "echo" handler, and always accepts submitted results.
func newFakeEngine(t *testing.T) *httptest.Server {
	t.Helper()
	var polled atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "register"):
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(r.URL.Path, "poll"):
			if polled.CompareAndSwap(false, true) {
				items := []map[string]interface{}{{
					"stepId": 1, "processId": 1, "stepExecutionId": 99, "runCount": 1,
					"stepNamespace": "samples", "stepName": "echo", "polled": true,
					"inputParam": map[string]interface{}{"msg": "hi"},
				}}
				body, _ := json.Marshal(items)
				w.Header().Set("Content-Type", "application/json")
				w.Write(body)
				return
			}
			w.Write([]byte("[]"))
		case strings.HasSuffix(r.URL.Path, "bulkResults"):
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientEndToEndPollDispatchSubmit(t *testing.T) {
	srv := newFakeEngine(t)

	cfg := Config{
		ClientID:                 "client-1",
		AuthToken:                "secret",
		BaseURL:                  srv.URL,
		ConnectionTimeoutSeconds: 5,
		StepTimeoutMillis:        5000,
		WorkRequestBatchSize:     10,
		ResponseSubmitBatchSize:  10,
		FixedThreadPoolSize:      1,
		MaxSubmitAttempts:        3,
		EnableBatchProcessing:    true,
	}

	c, err := New(cfg, WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)

	handled := make(chan *types.WorkItem, 1)
	require.NoError(t, c.RegisterHandler("samples", "echo", func(ctx context.Context, item *types.WorkItem) (interface{}, error) {
		handled <- item
		return map[string]interface{}{"echo": item.InputParam}, nil
	}, 5, types.DomainIO))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	select {
	case item := <-handled:
		assert.Equal(t, int64(99), item.StepExecutionID)
	case <-time.After(3 * time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestClientRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestStatusStringIncludesQueueDepthAndHandlers(t *testing.T) {
	s := Status{
		SubmissionQueueDepth: 2,
		PerHandler: map[string]HandlerStatus{
			"ns/echo": {MaxInProgress: 5, PermitsInUse: 1, PermitsAvailable: 4},
		},
	}
	line := s.String()
	assert.Contains(t, line, "queue_depth=2")
	assert.Contains(t, line, "last_poll_error=none")
	assert.Contains(t, line, "ns/echo{in_use=1,available=4,max=5}")
}

func TestClientWithoutLoggerSkipsStatusLogging(t *testing.T) {
	cfg := Config{
		ClientID:                "client-1",
		AuthToken:               "secret",
		BaseURL:                 "https://engine.example.com",
		FixedThreadPoolSize:     1,
		MaxSubmitAttempts:       1,
		ResponseSubmitBatchSize: 1,
		WorkRequestBatchSize:    1,
	}
	c, err := New(cfg, WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)

	// No logger attached: Run must return immediately rather than block on
	// a 30s ticker nobody is watching.
	done := make(chan struct{})
	go func() {
		c.statusLogger.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("status logger without an attached logger should be a no-op")
	}
}

func TestClientStatusReflectsPermitAccounting(t *testing.T) {
	cfg := Config{
		ClientID:                "client-1",
		AuthToken:               "secret",
		BaseURL:                 "https://engine.example.com",
		FixedThreadPoolSize:     1,
		MaxSubmitAttempts:       1,
		ResponseSubmitBatchSize: 1,
		WorkRequestBatchSize:    1,
	}
	c, err := New(cfg, WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, c.RegisterHandler("ns", "echo", func(ctx context.Context, item *types.WorkItem) (interface{}, error) {
		return nil, nil
	}, 3, types.DomainIO))

	status := c.Status()
	hs, ok := status.PerHandler["ns/echo"]
	require.True(t, ok)
	assert.Equal(t, 3, hs.MaxInProgress)
	assert.Equal(t, 3, hs.PermitsAvailable)
	assert.Equal(t, 0, hs.PermitsInUse)
}
