package beacon

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon-go/internal/clientreport"
	"github.com/beaconhq/beacon-go/internal/protocol"
	"github.com/beaconhq/beacon-go/internal/testutils"
)

type testItem string

func (i testItem) PayloadID() string {
	return string(i)
}

func items(values ...string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = testItem(v)
	}
	return out
}

func newTestWorker(backend Backend, options WorkerOptions) *Worker {
	if options.ThrottleInterval == 0 {
		options.ThrottleInterval = time.Microsecond
	}
	if options.Reporter == nil {
		options.Reporter = clientreport.NewAggregator()
	}
	return NewWorker(FeatureNotices, backend, options)
}

// gatedBackend blocks the delivery of the item named gate until release is
// called.
func gatedBackend(gate string) (*MockBackend, func()) {
	ch := make(chan struct{})
	var once sync.Once
	backend := &MockBackend{
		Respond: func(_ context.Context, _ Feature, payload interface{}) *Response {
			if payload == testItem(gate) {
				<-ch
			}
			return StatusResponse(http.StatusCreated)
		},
	}
	return backend, func() { once.Do(func() { close(ch) }) }
}

func waitForCalls(t *testing.T, backend *MockBackend, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(backend.Calls()) >= n
	}, testutils.WaitTimeout(), testutils.Tick)
}

func TestWorkerDeliversInOrder(t *testing.T) {
	backend := &MockBackend{}
	w := newTestWorker(backend, WorkerOptions{})
	defer w.Kill()

	want := make([]interface{}, 0, 10)
	for _, v := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		require.True(t, w.Push(testItem(v)))
		want = append(want, testItem(v))
	}

	require.True(t, w.Flush(testutils.WaitTimeout()))
	assert.Equal(t, want, backend.Payloads(FeatureNotices))
	assert.Equal(t, int64(10), w.Stats().Delivered)
}

func TestWorkerDropsWhenQueueFull(t *testing.T) {
	backend, release := gatedBackend("warmup")
	defer release()

	reporter := clientreport.NewAggregator()
	w := newTestWorker(backend, WorkerOptions{QueueSize: 2, Reporter: reporter})
	defer w.Kill()

	require.True(t, w.Push(testItem("warmup")))
	waitForCalls(t, backend, 1)

	assert.True(t, w.Push(testItem("a")))
	assert.True(t, w.Push(testItem("b")))
	assert.False(t, w.Push(testItem("c")))

	release()
	require.True(t, w.Flush(testutils.WaitTimeout()))

	assert.Equal(t, items("warmup", "a", "b"), backend.Payloads(FeatureNotices))
	assert.Equal(t, int64(1), w.Stats().Dropped)

	report := reporter.TakeReport()
	require.NotNil(t, report)
	assert.Equal(t, int64(1), report.Total(clientreport.ReasonQueueOverflow))
}

func TestWorkerFlush(t *testing.T) {
	t.Run("idle worker", func(t *testing.T) {
		w := newTestWorker(&MockBackend{}, WorkerOptions{})
		assert.True(t, w.Flush(0))
		assert.Equal(t, StateStopped, w.State())
	})

	t.Run("waits for queued items", func(t *testing.T) {
		var delivered atomic.Int32
		backend := &MockBackend{
			Respond: func(context.Context, Feature, interface{}) *Response {
				time.Sleep(5 * time.Millisecond)
				delivered.Add(1)
				return StatusResponse(http.StatusOK)
			},
		}
		w := newTestWorker(backend, WorkerOptions{})
		defer w.Kill()

		for i := 0; i < 3; i++ {
			w.Push(testItem("x"))
		}
		require.True(t, w.Flush(testutils.WaitTimeout()))
		assert.Equal(t, int32(3), delivered.Load())
	})

	t.Run("times out", func(t *testing.T) {
		backend, release := gatedBackend("slow")
		defer release()
		w := newTestWorker(backend, WorkerOptions{})
		defer w.Kill()

		w.Push(testItem("slow"))
		assert.False(t, w.Flush(10*time.Millisecond))
	})

	t.Run("released by kill", func(t *testing.T) {
		backend, release := gatedBackend("slow")
		defer release()
		w := newTestWorker(backend, WorkerOptions{})

		w.Push(testItem("slow"))
		waitForCalls(t, backend, 1)

		result := make(chan bool)
		go func() {
			result <- w.FlushWithContext(context.Background())
		}()
		require.Eventually(t, func() bool { return w.queue.Len() == 1 }, testutils.WaitTimeout(), testutils.Tick)

		w.Kill()
		select {
		case <-result:
		case <-time.After(testutils.WaitTimeout()):
			t.Fatal("flush did not return after kill")
		}
	})
}

func TestWorkerThrottleBackoff(t *testing.T) {
	clk := testutils.NewRecordingClock(time.Now())
	codes := []int{429, 429, 429, 201, 201}
	var mu sync.Mutex
	backend := &MockBackend{
		Respond: func(context.Context, Feature, interface{}) *Response {
			mu.Lock()
			defer mu.Unlock()
			code := codes[0]
			codes = codes[1:]
			return StatusResponse(code)
		},
	}

	var throttled, unthrottled atomic.Int32
	w := newTestWorker(backend, WorkerOptions{
		ThrottleInterval: 10 * time.Millisecond,
		Clock:            clk,
		OnThrottle: func(factor float64) {
			assert.Equal(t, 1.25, factor)
			throttled.Add(1)
		},
		OnUnthrottle: func() { unthrottled.Add(1) },
	})
	defer w.Kill()

	for _, v := range []string{"1", "2", "3", "4", "5"} {
		require.True(t, w.Push(testItem(v)))
	}
	require.True(t, w.Flush(testutils.WaitTimeout()))

	want := []time.Duration{
		12500 * time.Microsecond,
		15625 * time.Microsecond,
		19531250 * time.Nanosecond,
		15625 * time.Microsecond,
		12500 * time.Microsecond,
	}
	assert.Equal(t, want, clk.Waits())
	assert.Equal(t, int32(3), throttled.Load())
	assert.Equal(t, int32(2), unthrottled.Load())
	assert.Equal(t, 1.25, w.Stats().Multiplier)
	assert.Equal(t, 12500*time.Microsecond, w.ThrottleInterval())
}

func TestWorkerSuspendsOnPaymentRequired(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clk := testutils.NewRecordingClock(start)
	gate := make(chan struct{})
	backend := &MockBackend{
		Respond: func(_ context.Context, _ Feature, payload interface{}) *Response {
			if payload == testItem("a") {
				<-gate
				return protocol.NewResponse(http.StatusPaymentRequired, []byte(`{"error":"Payment required"}`))
			}
			return StatusResponse(http.StatusCreated)
		},
	}

	logger, hook := test.NewNullLogger()
	reporter := clientreport.NewAggregator()
	w := newTestWorker(backend, WorkerOptions{Clock: clk, Logger: logger, Reporter: reporter})
	defer w.Kill()

	require.True(t, w.Push(testItem("a")))
	waitForCalls(t, backend, 1)
	require.True(t, w.Push(testItem("b")))
	close(gate)

	require.Eventually(t, func() bool {
		return w.State() == StateSuspended && w.queue.IsEmpty() && hook.LastEntry() != nil
	}, testutils.WaitTimeout(), testutils.Tick)

	stats := w.Stats()
	assert.GreaterOrEqual(t, stats.SuspendedUntil.Sub(start), time.Hour)
	assert.False(t, w.Push(testItem("c")), "suspended workers refuse items")
	assert.False(t, w.Start())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Contains(t, entry.Message, "Payment required")
	assert.Equal(t, FeatureNotices, entry.Data["feature"])

	clk.Step(time.Hour + time.Minute)
	assert.Equal(t, StateStopped, w.State())
	require.True(t, w.Push(testItem("d")))
	require.True(t, w.Flush(testutils.WaitTimeout()))

	assert.Equal(t, items("a", "d"), backend.Payloads(FeatureNotices))

	report := reporter.TakeReport()
	require.NotNil(t, report)
	assert.Equal(t, int64(2), report.Total(clientreport.ReasonSuspended))
	assert.Equal(t, int64(1), report.Total(clientreport.ReasonSendError))
}

func TestWorkerForbiddenSuspends(t *testing.T) {
	backend := &MockBackend{
		Respond: func(context.Context, Feature, interface{}) *Response {
			return StatusResponse(http.StatusForbidden)
		},
	}
	w := newTestWorker(backend, WorkerOptions{SuspendCooldown: time.Minute})
	defer w.Kill()

	w.Push(testItem("a"))
	require.Eventually(t, func() bool {
		return w.State() == StateSuspended
	}, testutils.WaitTimeout(), testutils.Tick)

	w.Reset()
	assert.Equal(t, StateStopped, w.State())
	assert.True(t, w.Push(testItem("b")), "reset clears the suspension")
}

func TestWorkerResponseLogging(t *testing.T) {
	tests := []struct {
		name     string
		response *Response
		level    logrus.Level
		message  string
		reason   clientreport.DiscardReason
	}{
		{
			name:     "payload too large",
			response: StatusResponse(http.StatusRequestEntityTooLarge),
			level:    logrus.WarnLevel,
			message:  "Payload too large",
			reason:   clientreport.ReasonSendError,
		},
		{
			name:     "unexpected status",
			response: protocol.NewResponse(http.StatusInternalServerError, []byte(`{"error":"boom"}`)),
			level:    logrus.WarnLevel,
			message:  "Unexpected response (500): boom",
			reason:   clientreport.ReasonSendError,
		},
		{
			name:     "stubbed",
			response: protocol.StubbedResponse(),
			level:    logrus.DebugLevel,
			message:  "no backend is configured",
		},
		{
			name:     "success",
			response: StatusResponse(http.StatusAccepted),
			level:    logrus.DebugLevel,
			message:  "Success (202)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			logger.SetLevel(logrus.DebugLevel)
			reporter := clientreport.NewAggregator()
			backend := &MockBackend{
				Respond: func(context.Context, Feature, interface{}) *Response { return tt.response },
			}
			w := newTestWorker(backend, WorkerOptions{Logger: logger, Reporter: reporter})
			defer w.Kill()

			w.Push(testItem("x"))
			require.True(t, w.Flush(testutils.WaitTimeout()))

			entry := hook.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, tt.level, entry.Level)
			assert.Contains(t, entry.Message, tt.message)
			assert.Equal(t, 1.0, w.Stats().Multiplier)

			report := reporter.TakeReport()
			if tt.reason == "" {
				assert.Nil(t, report)
			} else {
				require.NotNil(t, report)
				assert.Equal(t, int64(1), report.Total(tt.reason))
			}
		})
	}
}

func TestWorkerTransportErrorKeepsThrottle(t *testing.T) {
	reporter := clientreport.NewAggregator()
	backend := &MockBackend{
		Respond: func(context.Context, Feature, interface{}) *Response {
			return protocol.ErrorResponse(context.DeadlineExceeded)
		},
	}
	w := newTestWorker(backend, WorkerOptions{Reporter: reporter})
	defer w.Kill()

	w.Push(testItem("x"))
	w.Push(testItem("y"))
	require.True(t, w.Flush(testutils.WaitTimeout()))

	stats := w.Stats()
	assert.Equal(t, 1.0, stats.Multiplier)
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(2), reporter.TakeReport().Total(clientreport.ReasonNetworkError))
}

func TestWorkerShutdownDrains(t *testing.T) {
	backend := &MockBackend{}
	w := newTestWorker(backend, WorkerOptions{})

	for _, v := range []string{"1", "2", "3", "4", "5"} {
		require.True(t, w.Push(testItem(v)))
	}
	assert.True(t, w.Shutdown(testutils.WaitTimeout()))
	assert.Equal(t, items("1", "2", "3", "4", "5"), backend.Payloads(FeatureNotices))
	assert.Equal(t, StateStopped, w.State())

	assert.False(t, w.Push(testItem("late")))
	assert.True(t, w.Shutdown(time.Millisecond), "second shutdown is a no-op")
}

func TestWorkerShutdownTimeoutKills(t *testing.T) {
	backend := &MockBackend{
		Respond: func(ctx context.Context, _ Feature, _ interface{}) *Response {
			<-ctx.Done()
			return protocol.ErrorResponse(ctx.Err())
		},
	}
	reporter := clientreport.NewAggregator()
	w := newTestWorker(backend, WorkerOptions{Reporter: reporter})

	w.Push(testItem("stuck"))
	w.Push(testItem("queued"))
	waitForCalls(t, backend, 1)

	assert.False(t, w.Shutdown(20*time.Millisecond))
	require.Eventually(t, func() bool {
		return w.State() == StateStopped
	}, testutils.WaitTimeout(), testutils.Tick)

	assert.Len(t, backend.Calls(), 1)
	assert.Equal(t, int64(1), reporter.TakeReport().Total(clientreport.ReasonKilled))
}

func TestWorkerKill(t *testing.T) {
	backend := &MockBackend{
		Respond: func(ctx context.Context, _ Feature, payload interface{}) *Response {
			if payload == testItem("a") {
				<-ctx.Done()
				return protocol.ErrorResponse(ctx.Err())
			}
			return StatusResponse(http.StatusCreated)
		},
	}
	w := newTestWorker(backend, WorkerOptions{})

	w.Push(testItem("a"))
	waitForCalls(t, backend, 1)
	w.Push(testItem("b"))

	assert.True(t, w.Kill())
	assert.Equal(t, StateStopped, w.State())
	assert.Zero(t, w.Stats().QueueSize)

	require.True(t, w.Push(testItem("c")), "killed workers restart on push")
	require.True(t, w.Flush(testutils.WaitTimeout()))
	assert.Equal(t, items("a", "c"), backend.Payloads(FeatureNotices))
	assert.True(t, w.Kill())
}

func TestWorkerSurvivesPanickingBackend(t *testing.T) {
	logger, hook := test.NewNullLogger()
	backend := &MockBackend{
		Respond: func(_ context.Context, _ Feature, payload interface{}) *Response {
			if payload == testItem("boom") {
				panic("backend exploded")
			}
			return StatusResponse(http.StatusCreated)
		},
	}
	w := newTestWorker(backend, WorkerOptions{
		Logger: logger,
		Clock:  testutils.NewRecordingClock(time.Now()),
	})
	defer w.Kill()

	w.Push(testItem("boom"))
	w.Push(testItem("ok"))
	require.True(t, w.Flush(testutils.WaitTimeout()))

	assert.Equal(t, items("boom", "ok"), backend.Payloads(FeatureNotices))
	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Delivered)
	assert.Equal(t, StateRunning, stats.State)

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			logged = true
			assert.Contains(t, e.Message, "backend exploded")
		}
	}
	assert.True(t, logged)
}

func TestWorkerResetAfterShutdown(t *testing.T) {
	backend := &MockBackend{}
	w := newTestWorker(backend, WorkerOptions{})

	w.Push(testItem("a"))
	require.True(t, w.Shutdown(testutils.WaitTimeout()))
	require.False(t, w.Push(testItem("b")))

	w.Reset()
	require.True(t, w.Push(testItem("c")))
	require.True(t, w.Flush(testutils.WaitTimeout()))
	assert.Equal(t, items("a", "c"), backend.Payloads(FeatureNotices))
	w.Kill()
}

func TestWorkerIgnoresResponseOfKilledRun(t *testing.T) {
	gate := make(chan struct{})
	backend := &MockBackend{
		Respond: func(_ context.Context, _ Feature, payload interface{}) *Response {
			if payload == testItem("a") {
				<-gate
				return StatusResponse(http.StatusPaymentRequired)
			}
			return StatusResponse(http.StatusCreated)
		},
	}
	w := newTestWorker(backend, WorkerOptions{})
	defer w.Kill()

	require.True(t, w.Push(testItem("a")))
	waitForCalls(t, backend, 1)

	w.Reset()
	require.True(t, w.Push(testItem("b")))
	require.True(t, w.Flush(testutils.WaitTimeout()))

	close(gate)
	assert.Never(t, func() bool {
		return w.State() == StateSuspended
	}, 50*time.Millisecond, testutils.Tick)

	require.True(t, w.Push(testItem("c")))
	require.True(t, w.Flush(testutils.WaitTimeout()))
	assert.Equal(t, items("a", "b", "c"), backend.Payloads(FeatureNotices))

	stats := w.Stats()
	assert.Zero(t, stats.Failed)
	assert.Equal(t, int64(2), stats.Delivered)
}

func TestWorkerFlushWithoutTimeoutWaits(t *testing.T) {
	backend, release := gatedBackend("slow")
	defer release()
	w := newTestWorker(backend, WorkerOptions{})
	defer w.Kill()

	require.True(t, w.Push(testItem("slow")))
	waitForCalls(t, backend, 1)

	result := make(chan bool, 1)
	go func() { result <- w.Flush(0) }()

	select {
	case <-result:
		t.Fatal("flush returned before delivery finished")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case ok := <-result:
		assert.True(t, ok)
	case <-time.After(testutils.WaitTimeout()):
		t.Fatal("flush did not return after delivery")
	}
}

func TestWorkerNilBackend(t *testing.T) {
	w := NewWorker(FeatureEvents, nil, WorkerOptions{ThrottleInterval: time.Microsecond})
	defer w.Kill()

	require.True(t, w.Push(testItem("a")))
	require.True(t, w.Flush(testutils.WaitTimeout()))
	assert.Zero(t, w.Stats().Delivered)
}

func TestWorkerStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	assert.Equal(t, "unknown", WorkerState(42).String())
}
