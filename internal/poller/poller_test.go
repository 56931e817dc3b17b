package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/maauso/videogen-lro/internal/observability"
	"github.com/maauso/videogen-lro/internal/operation"
	"github.com/maauso/videogen-lro/internal/scheduler"
)

// scriptedCheck replays a fixed sequence of check results; the last entry repeats.
type scriptedCheck struct {
	script []result
	delay  time.Duration

	calls     atomic.Int32
	inFlight  atomic.Int32
	reentrant atomic.Bool

	mu      sync.Mutex
	handles []operation.Handle
	called  chan int
}

type result struct {
	status operation.Status
	err    error
}

func newScript(results ...result) *scriptedCheck {
	return &scriptedCheck{script: results, called: make(chan int, 64)}
}

func pending() result                 { return result{status: operation.Pending()} }
func succeeded(locator string) result { return result{status: operation.Succeeded(locator)} }
func failed(code int, msg string) result {
	return result{status: operation.Failed(operation.ErrorDetail{Code: code, Message: msg})}
}
func failure(err error) result { return result{err: err} }

func (s *scriptedCheck) check(ctx context.Context, h operation.Handle) (operation.Status, error) {
	if s.inFlight.Add(1) > 1 {
		s.reentrant.Store(true)
	}
	defer s.inFlight.Add(-1)

	n := int(s.calls.Add(1))
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	select {
	case s.called <- n:
	default:
	}

	r := s.script[min(n, len(s.script))-1]
	return r.status, r.err
}

// forEachStrategy runs fn once per strategy with a fresh scheduler.
func forEachStrategy(t *testing.T, fn func(t *testing.T, p Poller)) {
	t.Helper()
	for _, strategy := range Strategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			sched := scheduler.New(4)
			t.Cleanup(func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = sched.Shutdown(ctx)
			})
			p, err := New(strategy, sched)
			require.NoError(t, err)
			require.Equal(t, strategy, p.Strategy())
			fn(t, p)
		})
	}
}

func TestPoll_SucceedsAfterPendingChecks(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, p Poller) {
		script := newScript(pending(), pending(), succeeded("https://x/v"))
		cfg := Config{Interval: 10 * time.Millisecond, MaxWait: 2 * time.Second}

		start := time.Now()
		res, err := p.Poll(context.Background(), "op-1", script.check, cfg)
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.Equal(t, operation.Handle("op-1"), res.Handle)
		assert.Equal(t, "https://x/v", res.Locator)
		assert.Equal(t, 3, res.Checks)
		assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)

		// No check may follow the success, even one that was already scheduled.
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(3), script.calls.Load())

		script.mu.Lock()
		defer script.mu.Unlock()
		for _, h := range script.handles {
			assert.Equal(t, operation.Handle("op-1"), h)
		}
	})
}

func TestPoll_CarriesAdvisories(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, p Poller) {
		script := newScript(result{status: operation.Succeeded("u", "1 sample filtered")})

		res, err := p.Poll(context.Background(), "op-1", script.check, Config{Interval: 5 * time.Millisecond, MaxWait: time.Second})

		require.NoError(t, err)
		assert.Equal(t, []string{"1 sample filtered"}, res.Advisories)
	})
}

func TestPoll_OperationFailed(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, p Poller) {
		script := newScript(failed(400, "bad prompt"))

		_, err := p.Poll(context.Background(), "op-1", script.check, Config{Interval: 10 * time.Millisecond, MaxWait: time.Second})

		var failedErr *operation.FailedError
		require.ErrorAs(t, err, &failedErr)
		assert.Equal(t, operation.Handle("op-1"), failedErr.Handle)
		assert.Equal(t, 400, failedErr.Detail.Code)
		assert.Equal(t, "bad prompt", failedErr.Detail.Message)
		assert.Contains(t, err.Error(), "op-1")

		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, int32(1), script.calls.Load())
	})
}

func TestPoll_TimesOut(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, p Poller) {
		script := newScript(pending())

		start := time.Now()
		_, err := p.Poll(context.Background(), "op-1", script.check, Config{Interval: 10 * time.Millisecond, MaxWait: 50 * time.Millisecond})
		elapsed := time.Since(start)

		require.ErrorIs(t, err, operation.ErrTimeout)
		assert.Equal(t, operation.KindTimeout, operation.KindOf(err))
		assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)

		// Pending checks are dropped with the loop.
		settled := script.calls.Load()
		time.Sleep(40 * time.Millisecond)
		assert.LessOrEqual(t, script.calls.Load(), settled+1)
	})
}

func TestPoll_TimeoutWindow(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, p Poller) {
		const interval = 20 * time.Millisecond
		script := newScript(pending())
		script.delay = 2 * time.Millisecond

		start := time.Now()
		_, err := p.Poll(context.Background(), "op-1", script.check, Config{Interval: interval, MaxWait: 3 * interval})
		elapsed := time.Since(start)

		require.ErrorIs(t, err, operation.ErrTimeout)
		assert.GreaterOrEqual(t, elapsed, 2*interval)
		// 3×interval plus one check, with slack for a loaded machine.
		assert.LessOrEqual(t, elapsed, 3*interval+script.delay+100*time.Millisecond)
	})
}

func TestPoll_ProtocolViolation(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, p Poller) {
		var calls atomic.Int32
		check := func(ctx context.Context, h operation.Handle) (operation.Status, error) {
			calls.Add(1)
			return operation.Normalize(operation.RawStatus{Done: true})
		}

		_, err := p.Poll(context.Background(), "op-1", check, Config{Interval: 10 * time.Millisecond, MaxWait: time.Second})

		require.ErrorIs(t, err, operation.ErrProtocolViolation)
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestPoll_CheckErrorIsFatal(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, p Poller) {
		transportErr := &operation.TransportError{Op: "status", StatusCode: 503, Body: "unavailable"}
		script := newScript(pending(), failure(transportErr), pending())

		_, err := p.Poll(context.Background(), "op-1", script.check, Config{Interval: 5 * time.Millisecond, MaxWait: time.Second})

		var got *operation.TransportError
		require.ErrorAs(t, err, &got)
		assert.Equal(t, 503, got.StatusCode)

		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, int32(2), script.calls.Load(), "no retry after a transport error")
	})
}

func TestPoll_CancelAfterFirstPending(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, p Poller) {
		script := newScript(pending())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			<-script.called
			cancel()
		}()

		_, err := p.Poll(ctx, "op-1", script.check, Config{Interval: 80 * time.Millisecond, MaxWait: 5 * time.Second})

		require.ErrorIs(t, err, operation.ErrCancelled)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, operation.KindCancelled, operation.KindOf(err))

		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, int32(1), script.calls.Load(), "checks continued after cancellation")
	})
}

func TestPoll_CancelMidPollStopsChecks(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, p Poller) {
		script := newScript(pending())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			for n := range script.called {
				if n == 3 {
					cancel()
					return
				}
			}
		}()

		_, err := p.Poll(ctx, "op-1", script.check, Config{Interval: 5 * time.Millisecond, MaxWait: 5 * time.Second})
		require.ErrorIs(t, err, operation.ErrCancelled)

		// The count may move by at most one in-flight check, then stays put.
		settled := script.calls.Load()
		time.Sleep(5 * time.Millisecond)
		stable := script.calls.Load()
		assert.LessOrEqual(t, stable, settled+1)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, stable, script.calls.Load())
	})
}

func TestPoll_RemovesQueuedChecksFromScheduler(t *testing.T) {
	for _, strategy := range []Strategy{StrategyReschedule, StrategyFixedRate} {
		t.Run(strategy.String()+"/success", func(t *testing.T) {
			sched := scheduler.New(2)
			t.Cleanup(func() { _ = sched.Shutdown(context.Background()) })
			p, err := New(strategy, sched)
			require.NoError(t, err)

			script := newScript(pending(), succeeded("https://x/v"))
			_, err = p.Poll(context.Background(), "op-1", script.check, Config{Interval: 10 * time.Millisecond, MaxWait: time.Second})
			require.NoError(t, err)
			assert.Equal(t, 0, sched.Pending(), "a check is still queued after success")
		})

		t.Run(strategy.String()+"/cancel", func(t *testing.T) {
			sched := scheduler.New(2)
			t.Cleanup(func() { _ = sched.Shutdown(context.Background()) })
			p, err := New(strategy, sched)
			require.NoError(t, err)

			script := newScript(pending())
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var queued atomic.Bool
			go func() {
				<-script.called
				for range 500 {
					if sched.Pending() > 0 {
						queued.Store(true)
						break
					}
					time.Sleep(time.Millisecond)
				}
				cancel()
			}()

			_, err = p.Poll(ctx, "op-1", script.check, Config{Interval: time.Hour, MaxWait: 2 * time.Hour})
			require.ErrorIs(t, err, operation.ErrCancelled)
			assert.True(t, queued.Load(), "the next check was never queued")
			assert.Equal(t, 0, sched.Pending(), "the queued check was not removed on cancel")
			assert.Equal(t, int32(1), script.calls.Load())
		})
	}
}

func TestPoll_NoConcurrentChecksForOneOperation(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, p Poller) {
		// Each check outlasts the interval.
		script := newScript(pending(), pending(), pending(), pending(), succeeded("u"))
		script.delay = 25 * time.Millisecond

		_, err := p.Poll(context.Background(), "op-1", script.check, Config{Interval: 10 * time.Millisecond, MaxWait: 5 * time.Second})

		require.NoError(t, err)
		assert.False(t, script.reentrant.Load(), "status checks overlapped")
		assert.Equal(t, int32(5), script.calls.Load())
	})
}

func TestPoll_ConcurrentOperationsAreIndependent(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, p Poller) {
		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)

		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				script := newScript(pending(), succeeded("u"))
				if i%2 == 1 {
					script = newScript(failed(500, "internal"))
				}
				_, err := p.Poll(context.Background(), operation.Handle("op"), script.check, Config{Interval: 5 * time.Millisecond, MaxWait: 2 * time.Second})
				if i%2 == 0 && err != nil {
					errs <- err
				}
				if i%2 == 1 && !errors.Is(err, operation.ErrFailed) {
					errs <- errors.New("expected failure outcome")
				}
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Error(err)
		}
	})
}

func TestPoll_EquivalentOutcomesAcrossStrategies(t *testing.T) {
	scripts := []struct {
		name string
		make func() *scriptedCheck
		want operation.Kind
	}{
		{"success", func() *scriptedCheck { return newScript(pending(), succeeded("u")) }, operation.KindSuccess},
		{"failure", func() *scriptedCheck { return newScript(pending(), failed(400, "bad")) }, operation.KindFailed},
		{"timeout", func() *scriptedCheck { return newScript(pending()) }, operation.KindTimeout},
		{"protocol", func() *scriptedCheck { return newScript(failure(operation.ErrProtocolViolation)) }, operation.KindProtocolViolation},
		{"decode", func() *scriptedCheck {
			return newScript(failure(&operation.DecodeError{Op: "status", Err: errors.New("eof")}))
		}, operation.KindDecode},
	}

	for _, sc := range scripts {
		t.Run(sc.name, func(t *testing.T) {
			forEachStrategy(t, func(t *testing.T, p Poller) {
				_, err := p.Poll(context.Background(), "op-1", sc.make().check, Config{Interval: 5 * time.Millisecond, MaxWait: 60 * time.Millisecond})
				assert.Equal(t, sc.want, operation.KindOf(err))
			})
		})
	}
}

func TestPoll_AlreadyCancelledContext(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, p Poller) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := p.Poll(ctx, "op-1", newScript(pending()).check, Config{Interval: 5 * time.Millisecond, MaxWait: time.Second})
		assert.ErrorIs(t, err, operation.ErrCancelled)
	})
}

func TestPoll_InvalidArguments(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, p Poller) {
		script := newScript(pending())

		_, err := p.Poll(context.Background(), "op-1", script.check, Config{Interval: 0, MaxWait: time.Second})
		assert.ErrorIs(t, err, ErrInvalidConfig)

		_, err = p.Poll(context.Background(), "op-1", script.check, Config{Interval: time.Millisecond})
		assert.ErrorIs(t, err, ErrInvalidConfig)

		_, err = p.Poll(context.Background(), "op-1", nil, Config{Interval: time.Millisecond, MaxWait: time.Second})
		assert.ErrorIs(t, err, ErrNilCheck)

		assert.Equal(t, int32(0), script.calls.Load())
	})
}

func TestPoll_SchedulerShutdownEndsPoll(t *testing.T) {
	for _, strategy := range Strategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			sched := scheduler.New(2)
			p, err := New(strategy, sched)
			require.NoError(t, err)

			script := newScript(pending())
			shutdownErr := make(chan error, 1)
			go func() {
				<-script.called
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				shutdownErr <- sched.Shutdown(ctx)
			}()

			start := time.Now()
			_, err = p.Poll(context.Background(), "op-1", script.check, Config{Interval: 20 * time.Millisecond, MaxWait: 5 * time.Second})
			assert.ErrorIs(t, err, scheduler.ErrClosed)
			assert.Less(t, time.Since(start), time.Second, "poll outlived scheduler shutdown")

			// Shutdown drains the poll loop without forcing it, and no check runs afterwards.
			require.NoError(t, <-shutdownErr)
			settled := script.calls.Load()
			time.Sleep(60 * time.Millisecond)
			assert.Equal(t, settled, script.calls.Load())
		})
	}
}

func TestPoll_RecordsChecksAndOutcomePerStrategy(t *testing.T) {
	for _, strategy := range Strategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			reader := sdkmetric.NewManualReader()
			provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
			t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

			sched := scheduler.New(2)
			t.Cleanup(func() { _ = sched.Shutdown(context.Background()) })
			p, err := New(strategy, sched, WithMetrics(observability.NewMetrics(provider)))
			require.NoError(t, err)

			script := newScript(pending(), pending(), succeeded("https://x/v"))
			_, err = p.Poll(context.Background(), "op-1", script.check, Config{Interval: 5 * time.Millisecond, MaxWait: time.Second})
			require.NoError(t, err)

			var rm metricdata.ResourceMetrics
			require.NoError(t, reader.Collect(context.Background(), &rm))
			points := observability.Points(rm)

			byStrategy := map[string]string{observability.AttrStrategy: strategy.String()}
			checks, ok := observability.Find(points, "videogen.poll.checks", byStrategy)
			require.True(t, ok, "no check counter for %s", strategy)
			assert.Equal(t, float64(3), checks.Value)

			outcome, ok := observability.Find(points, "videogen.poll.outcomes", map[string]string{
				observability.AttrStrategy: strategy.String(),
				observability.AttrOutcome:  string(operation.KindSuccess),
			})
			require.True(t, ok, "no outcome counter for %s", strategy)
			assert.Equal(t, float64(1), outcome.Value)
		})
	}
}

func TestNew(t *testing.T) {
	sched := scheduler.New(1)
	defer func() { _ = sched.Shutdown(context.Background()) }()

	_, err := New("busy-wait", sched)
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	for _, s := range Strategies() {
		_, err := New(s, nil)
		assert.ErrorIs(t, err, ErrSchedulerRequired, s)
	}

	p, err := New(StrategyStream, sched)
	require.NoError(t, err)
	assert.Equal(t, StrategyStream, p.Strategy())

	all, err := NewAll(sched)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"reschedule", StrategyReschedule, false},
		{"FIXED_RATE", StrategyFixedRate, false},
		{" fixed-rate ", StrategyFixedRate, false},
		{"blocking", StrategyBlocking, false},
		{"Stream", StrategyStream, false},
		{"busy-wait", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownStrategy)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
