package queue

type TaskType string

const (
	// TaskTypeRunExecute asks a worker to deliberate a pending run.
	TaskTypeRunExecute TaskType = "run_execute"
)
