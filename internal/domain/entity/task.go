package entity

// TaskKind enumerates the auxiliary side-effects the task runner dispatches.
type TaskKind string

const (
	TaskDeliverReply  TaskKind = "deliver-reply"
	TaskRecordThought TaskKind = "record-thought"
)

// TaskPriority controls whether a task is appended (normal) or prepended
// (high) to the runner's queue.
type TaskPriority string

const (
	PriorityNormal TaskPriority = "normal"
	PriorityHigh   TaskPriority = "high"
)

// Task is a unit of work enqueued into the task runner (C6).
type Task struct {
	ID          string
	Kind        TaskKind
	Payload     any
	Attempts    int
	MaxAttempts int
}

// DeliverReplyPayload is the payload carried by a TaskDeliverReply task.
type DeliverReplyPayload struct {
	OriginatingEvent any
	Content          string
	Mention          string
}

// RecordThoughtPayload is the payload carried by a TaskRecordThought task.
type RecordThoughtPayload struct {
	ConversationID string
	Content        string
}
