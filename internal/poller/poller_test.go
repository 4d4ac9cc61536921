package poller

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unmeshed-io/worker-sdk-go/internal/engineclient"
	"github.com/unmeshed-io/worker-sdk-go/internal/handlertable"
	"github.com/unmeshed-io/worker-sdk-go/internal/logging"
	"github.com/unmeshed-io/worker-sdk-go/internal/permit"
	"github.com/unmeshed-io/worker-sdk-go/pkg/types"
)

type stubLogger struct {
	printf func(format string, args ...interface{})
}

func (s *stubLogger) Printf(format string, args ...interface{}) {
	s.printf(format, args...)
}

type fakeEngine struct {
	mu       sync.Mutex
	lastReqs []engineclient.PollRequest
	items    []*types.WorkItem
	err      error
}

func (f *fakeEngine) Register(ctx context.Context, handlers []engineclient.HandlerDescriptor) error {
	return nil
}

func (f *fakeEngine) Poll(ctx context.Context, requests []engineclient.PollRequest) ([]*types.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReqs = requests
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func (f *fakeEngine) SubmitBulk(ctx context.Context, responses []types.WorkResponse) (engineclient.SubmitResult, error) {
	return engineclient.SubmitResult{Accepted: true}, nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	seen []*types.WorkItem
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, handler *handlertable.Handler, item *types.WorkItem, token *permit.Token) {
	d.mu.Lock()
	d.seen = append(d.seen, item)
	d.mu.Unlock()
	if token != nil {
		token.Release()
	}
}

func noop(ctx context.Context, item *types.WorkItem) (interface{}, error) { return nil, nil }

func TestPollOnceSizesRequestToAvailablePermits(t *testing.T) {
	table := handlertable.New()
	require.NoError(t, table.Register(types.HandlerKey{Namespace: "ns", Name: "echo"}, noop, 3, types.DomainIO))

	engine := &fakeEngine{}
	disp := &recordingDispatcher{}
	p := New(engine, table, disp, 100, nil, nil)

	p.pollOnce(context.Background())

	require.Len(t, engine.lastReqs, 1)
	assert.Equal(t, 3, engine.lastReqs[0].Size)
}

func TestPollOnceDispatchesMatchedItemsAndReleasesUnusedPermits(t *testing.T) {
	table := handlertable.New()
	require.NoError(t, table.Register(types.HandlerKey{Namespace: "ns", Name: "echo"}, noop, 5, types.DomainIO))
	h, err := table.Lookup(types.HandlerKey{Namespace: "ns", Name: "echo"})
	require.NoError(t, err)

	engine := &fakeEngine{items: []*types.WorkItem{
		{StepExecutionID: 1, StepNamespace: "ns", StepName: "echo"},
		{StepExecutionID: 2, StepNamespace: "ns", StepName: "echo"},
	}}
	disp := &recordingDispatcher{}
	p := New(engine, table, disp, 100, nil, nil)

	p.pollOnce(context.Background())

	assert.Len(t, disp.seen, 2)
	// 5 permits requested, 3 released back by pollOnce, and the 2 that
	// travelled with the dispatched items released by the fake dispatcher.
	assert.Equal(t, 5, h.Permits.Available())
}

func TestPollOnceSkipsHandlersWithNoAvailablePermits(t *testing.T) {
	table := handlertable.New()
	require.NoError(t, table.Register(types.HandlerKey{Namespace: "ns", Name: "busy"}, noop, 1, types.DomainIO))
	h, err := table.Lookup(types.HandlerKey{Namespace: "ns", Name: "busy"})
	require.NoError(t, err)
	tokens := h.Permits.TryAcquireUpTo(1)
	require.Len(t, tokens, 1)

	engine := &fakeEngine{}
	disp := &recordingDispatcher{}
	p := New(engine, table, disp, 100, nil, nil)

	p.pollOnce(context.Background())
	assert.Nil(t, engine.lastReqs, "no permits available, so no poll request should be issued")
}

func TestPollOnceReleasesAllTokensOnPollError(t *testing.T) {
	table := handlertable.New()
	require.NoError(t, table.Register(types.HandlerKey{Namespace: "ns", Name: "echo"}, noop, 4, types.DomainIO))
	h, err := table.Lookup(types.HandlerKey{Namespace: "ns", Name: "echo"})
	require.NoError(t, err)

	engine := &fakeEngine{err: errors.New("engine down")}
	disp := &recordingDispatcher{}
	p := New(engine, table, disp, 100, nil, nil)

	p.pollOnce(context.Background())

	assert.Equal(t, 4, h.Permits.Available())
	assert.Empty(t, disp.seen)
}

func TestRequestSizeCaps(t *testing.T) {
	assert.Equal(t, 10, requestSize(10, 100))
	assert.Equal(t, 50, requestSize(100, 50))
	assert.Equal(t, maxRequestSize, requestSize(10000, 10000))
}

func TestPollOnceZeroItemSuccessDoesNotClearFailure(t *testing.T) {
	table := handlertable.New()
	require.NoError(t, table.Register(types.HandlerKey{Namespace: "ns", Name: "echo"}, noop, 4, types.DomainIO))

	engine := &fakeEngine{err: errors.New("engine down")}
	disp := &recordingDispatcher{}
	p := New(engine, table, disp, 100, nil, nil)

	p.pollOnce(context.Background())
	assert.True(t, p.errs.isFailing(), "a failed poll must enter the failing state")

	// Engine recovers reachability but has no work queued yet: a poll
	// that succeeds with zero items must not clear suppression (§4.1).
	engine.mu.Lock()
	engine.err = nil
	engine.items = nil
	engine.mu.Unlock()

	p.pollOnce(context.Background())
	assert.True(t, p.errs.isFailing(), "a zero-item success must not clear the failing state")

	engine.mu.Lock()
	engine.items = []*types.WorkItem{{StepExecutionID: 1, StepNamespace: "ns", StepName: "echo"}}
	engine.mu.Unlock()

	p.pollOnce(context.Background())
	assert.False(t, p.errs.isFailing(), "a poll returning at least one item clears the failing state")
}

func TestNextIntervalBacksOffWhileFailing(t *testing.T) {
	table := handlertable.New()
	engine := &fakeEngine{}
	disp := &recordingDispatcher{}
	p := New(engine, table, disp, 100, nil, nil)

	assert.Equal(t, pollInterval, p.nextInterval())

	p.errs.reportError(errors.New("down"))
	assert.Equal(t, pollBackoffInterval, p.nextInterval())

	p.errs.reportSuccess()
	assert.Equal(t, pollInterval, p.nextInterval())
}

func TestPollErrorLoggerOnlyLogsOnTransitions(t *testing.T) {
	var logs []string
	logger := &stubLogger{printf: func(format string, args ...interface{}) {
		logs = append(logs, format)
	}}

	e := &pollErrorLogger{log: logging.New("poll-test", logger)}
	e.reportError(errors.New("down"))
	e.reportError(errors.New("still down"))
	assert.Len(t, logs, 1, "repeated failures should not re-log")

	e.reportSuccess()
	e.reportSuccess()
	assert.Len(t, logs, 2, "recovery should log exactly once")
}
