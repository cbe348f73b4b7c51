package worker

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"shareplate/automation"
)

// QueueWorker drains the delivery queue on a fixed interval. It holds no
// state of its own; several replicas can run the same schedule safely
// because the processor's claim step is atomic.
type QueueWorker struct {
	Processor  *automation.Processor
	Interval   time.Duration
	BatchLimit int
	StaleAfter time.Duration
	Logger     *logrus.Logger
}

func NewQueueWorker(processor *automation.Processor, interval time.Duration, batchLimit int, staleAfter time.Duration, logger *logrus.Logger) *QueueWorker {
	return &QueueWorker{
		Processor:  processor,
		Interval:   interval,
		BatchLimit: batchLimit,
		StaleAfter: staleAfter,
		Logger:     logger,
	}
}

func (qw *QueueWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	qw.Logger.Info("queue worker started")

	// Items left in processing by a crashed run go back to pending once.
	if _, err := qw.Processor.RequeueStale(qw.StaleAfter); err != nil {
		qw.Logger.WithError(err).Error("stale item requeue failed")
	}

	ticker := time.NewTicker(qw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			qw.Logger.Info("queue worker shutting down...")
			return
		case <-ticker.C:
			qw.runOnce(ctx)
		}
	}
}

func (qw *QueueWorker) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			qw.Logger.WithField("panic", r).Error("queue worker pass panicked")
			sentry.CurrentHub().Recover(r)
		}
	}()

	result, err := qw.Processor.Process(ctx, qw.BatchLimit)
	if err != nil {
		qw.Logger.WithError(err).Error("queue pass failed")
		return
	}
	if result.Processed > 0 || result.Failed > 0 {
		qw.Logger.WithFields(logrus.Fields{
			"processed": result.Processed,
			"failed":    result.Failed,
		}).Info("queue pass finished")
	}
}
