package worker

import (
	"context"

	"consilium.app/panel/internal/model"
	"consilium.app/panel/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// RunExecutor is the slice of the run service the worker drives.
type RunExecutor interface {
	ExecuteQueued(ctx context.Context, runID int64) (*model.RunRecord, error)
	MarkFailed(ctx context.Context, runID int64, reason string) error
}
