package workctx

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unmeshed-io/worker-sdk-go/pkg/types"
)

func TestCurrentWithNoWorkItemIsNil(t *testing.T) {
	assert.Nil(t, Current(context.Background()))
}

func TestWithWorkItemRoundTrips(t *testing.T) {
	item := &types.WorkItem{StepExecutionID: 42, StepName: "echo"}
	ctx := WithWorkItem(context.Background(), item)
	assert.Same(t, item, Current(ctx))
}

func TestNestedCallsSeeTheSameWorkItem(t *testing.T) {
	item := &types.WorkItem{StepExecutionID: 7}
	ctx := WithWorkItem(context.Background(), item)

	var nested func(ctx context.Context, depth int)
	var observed *types.WorkItem
	nested = func(ctx context.Context, depth int) {
		if depth == 0 {
			observed = Current(ctx)
			return
		}
		nested(ctx, depth-1)
	}
	nested(ctx, 5)
	assert.Same(t, item, observed)
}

// TestConcurrentExecutionsDoNotContaminate runs 20 concurrent "executions",
// each installing its own Work Item and reading it back through a nested
// call chain, and asserts every one still observes its own item and never
// another goroutine's.
func TestConcurrentExecutionsDoNotContaminate(t *testing.T) {
	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := &types.WorkItem{StepExecutionID: int64(i), StepName: fmt.Sprintf("step-%d", i)}
			ctx := WithWorkItem(context.Background(), item)
			results[i] = readThroughLayers(ctx, 3)
		}(i)
	}
	wg.Wait()

	for i, name := range results {
		assert.Equal(t, fmt.Sprintf("step-%d", i), name)
	}
}

func readThroughLayers(ctx context.Context, depth int) string {
	if depth == 0 {
		return Current(ctx).StepName
	}
	return readThroughLayers(ctx, depth-1)
}
