package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	"github.com/kryptonit/mes-backend/internal/observability"
)

func TestWorkerRunsTasksUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	var ok, failing, panicking atomic.Int32
	w := NewWorker(testutil.Logger(t), observability.Init(true),
		Task{Name: "ok", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			ok.Add(1)
			return nil
		}},
		Task{Name: "failing", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			failing.Add(1)
			return errors.New("boom")
		}},
		Task{Name: "panicking", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			panicking.Add(1)
			panic("kaboom")
		}},
		Task{Name: "disabled", Interval: 0, Run: func(context.Context) error {
			t.Error("disabled task must not run")
			return nil
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for ok.Load() < 3 || failing.Load() < 2 || panicking.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("tasks did not run: ok=%d failing=%d panicking=%d", ok.Load(), failing.Load(), panicking.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	w.Wait()
}

func TestWaitWithoutTasksReturns(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := NewWorker(testutil.Logger(t), nil)
	w.Start(context.Background())
	w.Wait()
}
