// Package worker consumes the run queue and drives each queued run to a
// terminal state. Delivery failures are retried with an attempt counter
// and end up on a dead letter stream; a reclaimer recovers messages left
// pending by crashed workers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"consilium.app/panel/common/logger"
	"consilium.app/panel/internal/queue"
	"consilium.app/panel/internal/service"
	"consilium.app/panel/internal/store"
)

type Config struct {
	MaxAttempts int
}

type Worker struct {
	consumer Consumer
	executor RunExecutor
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, executor RunExecutor, cfg Config) *Worker {
	return &Worker{
		consumer:  consumer,
		executor:  executor,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "message processing failed",
				"error", err,
				"message_id", msg.ID,
				"run_id", msg.RunID)
			w.handleFailedMessage(ctx, msg, err)
		}
	}

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"message_id", msg.ID,
				"run_id", msg.RunID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage drives one queued run to a terminal state. Exported so
// it can be reused by the reclaimer.
//
// A nil return means the message must not be redelivered: the run
// finished, or its failure is durably recorded, or the run is gone.
// A returned error is an infrastructure fault worth another delivery.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	span := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_run")
	defer span.End()

	ctx = logger.WithLogFields(span.Context(), logger.LogFields{
		RunID:     logger.Ptr(msg.RunID),
		MessageID: logger.Ptr(msg.ID),
		Component: "panel.worker",
	})

	slog.InfoContext(ctx, "processing run message", "attempt", msg.Attempt)

	start := time.Now()
	rec, err := w.executor.ExecuteQueued(ctx, msg.RunID)
	switch {
	case err == nil:
		slog.InfoContext(ctx, "run executed",
			"status", rec.Status,
			"duration_ms", time.Since(start).Milliseconds())
	case errors.Is(err, service.ErrRunFailed):
		// Durably recorded; redelivery cannot improve the outcome.
		slog.WarnContext(ctx, "run failure recorded", "error", err)
	case errors.Is(err, store.ErrNotFound):
		slog.WarnContext(ctx, "dropping message for unknown run", "error", err)
	default:
		span.RecordError(err)
		return fmt.Errorf("executing run %d: %w", msg.RunID, err)
	}

	if ackErr := w.consumer.Ack(ctx, msg); ackErr != nil {
		// The reclaimer will redeliver; finished runs short-circuit there.
		slog.WarnContext(ctx, "failed to ACK message", "error", ackErr)
	}

	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"message_id", msg.ID,
			"run_id", msg.RunID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
			return
		}
		reason := fmt.Sprintf("abandoned after %d delivery attempts: %v", msg.Attempt, err)
		if markErr := w.executor.MarkFailed(ctx, msg.RunID, reason); markErr != nil {
			slog.ErrorContext(ctx, "failed to mark abandoned run failed", "error", markErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"message_id", msg.ID,
		"run_id", msg.RunID,
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
