package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kryptonit/mes-backend/internal/observability"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

// Task is a named unit of periodic work.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Worker struct {
	log     *logger.Logger
	metrics *observability.Metrics
	tasks   []Task
	wg      sync.WaitGroup
}

func NewWorker(baseLog *logger.Logger, metrics *observability.Metrics, tasks ...Task) *Worker {
	return &Worker{
		log:     baseLog.With("component", "JobWorker"),
		metrics: metrics,
		tasks:   tasks,
	}
}

// Start launches one loop per task. Tasks with a non-positive interval are skipped.
func (w *Worker) Start(ctx context.Context) {
	for _, t := range w.tasks {
		if t.Run == nil || t.Interval <= 0 {
			w.log.Warn("Skipping job task", "task", t.Name, "interval", t.Interval.String())
			continue
		}
		w.log.Info("Starting job task", "task", t.Name, "interval", t.Interval.String())
		w.wg.Add(1)
		go w.runLoop(ctx, t)
	}
}

// Wait blocks until every task loop has stopped.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) runLoop(ctx context.Context, t Task) {
	defer w.wg.Done()
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Job task stopped", "task", t.Name)
			return
		case <-ticker.C:
			w.runOnce(ctx, t)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context, t Task) {
	start := time.Now()
	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			w.log.Error("Job task panic", "task", t.Name, "panic", fmt.Sprint(r))
		}
		w.metrics.ObserveJob(t.Name, status, time.Since(start))
	}()

	if err := t.Run(ctx); err != nil {
		status = "error"
		if ctx.Err() != nil {
			return
		}
		w.log.Warn("Job task failed", "task", t.Name, "error", err)
		return
	}
	w.log.Debug("Job task done", "task", t.Name, "duration_ms", time.Since(start).Milliseconds())
}
