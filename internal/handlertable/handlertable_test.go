package handlertable

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unmeshed-io/worker-sdk-go/pkg/types"
)

func noop(ctx context.Context, item *types.WorkItem) (interface{}, error) {
	return nil, nil
}

func TestRegisterAndLookup(t *testing.T) {
	table := New()
	key := types.HandlerKey{Namespace: "ns", Name: "echo"}

	require.NoError(t, table.Register(key, noop, 5, types.DomainIO))

	h, err := table.Lookup(key)
	require.NoError(t, err)
	assert.Equal(t, key, h.Key)
	assert.Equal(t, 5, h.MaxInProgress)
	assert.Equal(t, 5, h.Permits.Capacity())
}

func TestLookupUnknownHandler(t *testing.T) {
	table := New()
	_, err := table.Lookup(types.HandlerKey{Namespace: "ns", Name: "missing"})
	assert.True(t, errors.Is(err, ErrUnknownHandler))
}

func TestRegisterRejectsInvalidMaxInProgress(t *testing.T) {
	table := New()
	err := table.Register(types.HandlerKey{Namespace: "ns", Name: "bad"}, noop, 0, types.DomainIO)
	assert.True(t, errors.Is(err, ErrInvalidMaxInProgress))
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	table := New()
	key := types.HandlerKey{Namespace: "ns", Name: "dup"}
	require.NoError(t, table.Register(key, noop, 1, types.DomainIO))
	err := table.Register(key, noop, 1, types.DomainIO)
	assert.Error(t, err)
}

func TestFreezeRejectsFurtherRegistration(t *testing.T) {
	table := New()
	table.Freeze()
	err := table.Register(types.HandlerKey{Namespace: "ns", Name: "late"}, noop, 1, types.DomainIO)
	assert.True(t, errors.Is(err, ErrAlreadyStarted))
}

func TestAllReturnsEveryHandler(t *testing.T) {
	table := New()
	require.NoError(t, table.Register(types.HandlerKey{Namespace: "ns", Name: "a"}, noop, 1, types.DomainIO))
	require.NoError(t, table.Register(types.HandlerKey{Namespace: "ns", Name: "b"}, noop, 1, types.DomainCPU))
	assert.Len(t, table.All(), 2)
}
