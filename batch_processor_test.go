package beacon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/beaconhq/beacon-go/internal/testutils"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]int
}

func (r *batchRecorder) send(items []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch := make([]int, len(items))
	copy(batch, items)
	r.batches = append(r.batches, batch)
}

func (r *batchRecorder) Batches() [][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches
}

func TestBatchProcessorTimerStartsOnFirstItem(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	recorder := &batchRecorder{}
	processor := newBatchProcessor("test", 10, time.Minute, clk, recorder.send)
	processor.Start()
	defer processor.Shutdown()

	clk.Step(2 * time.Minute)
	assert.Empty(t, recorder.Batches())

	require.True(t, processor.Send(42))
	require.Eventually(t, clk.HasWaiters, testutils.WaitTimeout(), testutils.Tick)

	clk.Step(time.Minute)
	assert.Eventually(t, func() bool {
		return len(recorder.Batches()) == 1
	}, testutils.WaitTimeout(), testutils.Tick)
	assert.Equal(t, [][]int{{42}}, recorder.Batches())
}

func TestBatchProcessorSendsFullBatch(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	recorder := &batchRecorder{}
	processor := newBatchProcessor("test", 3, time.Hour, clk, recorder.send)
	processor.Start()
	defer processor.Shutdown()

	for i := 1; i <= 3; i++ {
		require.True(t, processor.Send(i))
	}

	assert.Eventually(t, func() bool {
		return len(recorder.Batches()) == 1
	}, testutils.WaitTimeout(), testutils.Tick)
	assert.Equal(t, [][]int{{1, 2, 3}}, recorder.Batches())
}

func TestBatchProcessorFlush(t *testing.T) {
	recorder := &batchRecorder{}
	processor := newBatchProcessor("test", 100, time.Hour, nil, recorder.send)
	processor.Start()
	defer processor.Shutdown()

	processor.Send(1)
	processor.Send(2)

	ctx, cancel := context.WithTimeout(context.Background(), testutils.WaitTimeout())
	defer cancel()
	assert.True(t, processor.Flush(ctx))
	assert.Equal(t, [][]int{{1, 2}}, recorder.Batches())

	assert.True(t, processor.Flush(ctx), "flushing an empty batch sends nothing")
	assert.Len(t, recorder.Batches(), 1)
}

func TestBatchProcessorShutdownDrains(t *testing.T) {
	recorder := &batchRecorder{}
	processor := newBatchProcessor("test", 100, time.Hour, nil, recorder.send)
	processor.Start()

	processor.Send(7)
	processor.Shutdown()
	assert.Equal(t, [][]int{{7}}, recorder.Batches())

	processor.Shutdown()
	assert.True(t, processor.Flush(context.Background()), "flush after shutdown is a no-op")
}

func TestBatchProcessorSendDropsWhenFull(t *testing.T) {
	entered := make(chan struct{}, 10)
	gate := make(chan struct{})
	processor := newBatchProcessor("test", 2, time.Hour, nil, func([]int) {
		entered <- struct{}{}
		<-gate
	})
	var dropped []int
	processor.onDropped = func(item int) { dropped = append(dropped, item) }
	processor.Start()

	require.True(t, processor.Send(1))
	require.True(t, processor.Send(2))
	select {
	case <-entered:
	case <-time.After(testutils.WaitTimeout()):
		t.Fatal("full batch was not sent")
	}

	assert.True(t, processor.Send(3))
	assert.True(t, processor.Send(4))
	assert.False(t, processor.Send(5))
	assert.Equal(t, []int{5}, dropped)

	close(gate)
	processor.Shutdown()
}

func TestBatchProcessorRefusesWhenStopped(t *testing.T) {
	var dropped int
	recorder := &batchRecorder{}
	processor := newBatchProcessor("test", 10, time.Hour, nil, recorder.send)
	processor.onDropped = func(int) { dropped++ }

	assert.False(t, processor.Send(1), "not started")

	processor.Start()
	require.True(t, processor.Send(2))
	processor.Shutdown()

	assert.False(t, processor.Send(3))
	assert.Equal(t, [][]int{{2}}, recorder.Batches())
	assert.Zero(t, dropped)
}

func TestBatchProcessorRestartAfterShutdown(t *testing.T) {
	recorder := &batchRecorder{}
	processor := newBatchProcessor("test", 100, time.Hour, nil, recorder.send)
	processor.Start()
	processor.Shutdown()

	processor.Start()
	defer processor.Shutdown()
	processor.Send(5)
	assert.True(t, processor.Flush(context.Background()))
	assert.Equal(t, [][]int{{5}}, recorder.Batches())
}
