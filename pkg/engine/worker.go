package engine

import (
	"context"
	"errors"
	"time"

	"github.com/adhocore/gronx"

	"github.com/hollowaylabs/agentkeep/pkg/logger"
	"github.com/hollowaylabs/agentkeep/pkg/memory"
	"github.com/hollowaylabs/agentkeep/pkg/store"
)

// Worker drains the durable task queue and fires the heartbeat. It is a
// single goroutine with one explicit loop: a task is claimed, processed
// fully and deleted before the next one is looked at, so a crash can only
// ever leave a task pending, never half-removed.
type Worker struct {
	engine *Engine

	heartbeatEnabled  bool
	heartbeatSchedule string
	gron              *gronx.Gronx

	// tick bounds how long the worker sleeps between wake-ups.
	tick time.Duration
}

func NewWorker(e *Engine, heartbeatSchedule string, heartbeatEnabled bool) *Worker {
	return &Worker{
		engine:            e,
		heartbeatEnabled:  heartbeatEnabled,
		heartbeatSchedule: heartbeatSchedule,
		gron:              gronx.New(),
		tick:              30 * time.Second,
	}
}

// Run blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	logger.InfoCF("worker", "drain worker started", map[string]interface{}{
		"heartbeat": w.heartbeatEnabled,
		"schedule":  w.heartbeatSchedule,
	})
	timer := time.NewTicker(w.tick)
	defer timer.Stop()

	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.InfoCF("worker", "drain worker stopped", nil)
			return
		case <-w.engine.wake:
			w.drain(ctx)
		case now := <-timer.C:
			if w.heartbeatDue(now) {
				w.heartbeat(ctx)
			}
			w.drain(ctx)
		}
	}
}

func (w *Worker) heartbeatDue(now time.Time) bool {
	if !w.heartbeatEnabled {
		return false
	}
	due, err := w.gron.IsDue(w.heartbeatSchedule, now)
	if err != nil {
		logger.WarnCF("worker", "heartbeat schedule check failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	return due
}

// heartbeat queues a compression when messages accumulated without the
// ingest path tripping the interval, e.g. after a restart.
func (w *Worker) heartbeat(ctx context.Context) {
	if err := w.engine.queueCompressionIfDue(ctx, "heartbeat"); err != nil {
		logger.WarnCF("worker", "heartbeat check failed", map[string]interface{}{"error": err.Error()})
	}
}

// drain processes queued tasks oldest first until the queue is empty.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		task, ok, err := w.engine.tasks.Oldest(ctx)
		if err != nil {
			logger.ErrorCF("worker", "task claim failed", map[string]interface{}{"error": err.Error()})
			return
		}
		if !ok {
			return
		}
		if retained := w.process(ctx, task); retained {
			return
		}
		if err := w.engine.tasks.Remove(ctx, task.ID); err != nil {
			logger.ErrorCF("worker", "task removal failed", map[string]interface{}{
				"id":    task.ID,
				"error": err.Error(),
			})
			return
		}
	}
}

// process runs one task. It returns true when the task should stay queued
// for a later attempt.
func (w *Worker) process(ctx context.Context, task store.Task) bool {
	switch task.Kind {
	case TaskCompress:
		err := w.engine.runCompression(ctx)
		switch {
		case err == nil, errors.Is(err, memory.ErrStaleWatermark):
			// Stale means another pass already covered the window.
			return false
		case errors.Is(err, memory.ErrCompressionInFlight):
			return true
		default:
			logger.WarnCF("worker", "compression failed", map[string]interface{}{
				"id":    task.ID,
				"error": err.Error(),
			})
			return false
		}
	default:
		logger.WarnCF("worker", "dropping task of unknown kind", map[string]interface{}{
			"id":   task.ID,
			"kind": task.Kind,
		})
		return false
	}
}
