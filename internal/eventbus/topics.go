package eventbus

// Event types exchanged on the bus.
const (
	// TypeRequest carries an inbound Request (Telegram, Redis, ...).
	TypeRequest = "agent.request"
	// TypeResponse carries a Response to a previous Request.
	TypeResponse = "agent.response"
	// TypeResult carries a Result produced by a scheduled task.
	TypeResult = "agent.result"

	TypeTaskStarted  = "task.started"
	TypeTaskFinished = "task.finished"
	TypeTaskFailed   = "task.failed"
	TypeTaskSkipped  = "task.skipped"

	// PrefixTask matches every task lifecycle event.
	PrefixTask = "task."
)

// Origin identifies where a Request came from so the Response can be routed back.
type Origin struct {
	Channel  string `json:"channel"` // "telegram", "redis", ...
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	UserID   int64  `json:"user_id,omitempty"`
	// ReplyTo is a transport-specific return address (e.g. a Redis channel).
	ReplyTo string `json:"reply_to,omitempty"`
}

// Request is an inbound command for the agent.
type Request struct {
	ID      string   `json:"id"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Origin  Origin   `json:"origin"`
}

// Response answers a Request.
type Response struct {
	RequestID string `json:"request_id"`
	Command   string `json:"command"`
	Text      string `json:"text"`
	Error     string `json:"error,omitempty"`
	Origin    Origin `json:"origin"`
	Data      any    `json:"data,omitempty"`
}

// Result is an opaque payload published by a task body after a successful run.
type Result struct {
	Agent string `json:"agent"`
	Task  string `json:"task"`
	RunID string `json:"run_id"`
	Data  any    `json:"data"`
}
