// Package a2a implements the Agent-to-Agent (A2A) protocol surface used by
// the weave execution core: tasks, messages, parts, artifacts, and the
// HTTP+JSON client used for delegation between agents.
package a2a

import (
	"strings"
	"time"
)

// ============================================================================
// TASK - Unit of Work
// ============================================================================

// Task is the unit of work exchanged between agents.
type Task struct {
	ID        string         `json:"id"`
	ContextID string         `json:"contextId,omitempty"`
	Status    TaskStatus     `json:"status"`
	Input     *Message       `json:"input,omitempty"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskStatus carries the task state plus an optional terminal message.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// TaskState enumerates task lifecycle states.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input_required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCanceled      TaskState = "canceled"
)

// ============================================================================
// MESSAGE & PARTS
// ============================================================================

// Message is a single conversational exchange carried inside a task.
type Message struct {
	MessageID string         `json:"messageId"`
	ContextID string         `json:"contextId,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	Role      MessageRole    `json:"role"`
	Parts     []Part         `json:"parts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MessageRole identifies the sender of a message.
type MessageRole string

const (
	MessageRoleUser  MessageRole = "user"
	MessageRoleAgent MessageRole = "agent"
)

// Part is a tagged union of message content: plain text or structured data.
type Part struct {
	Kind PartKind       `json:"kind"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// PartKind discriminates part variants.
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindData PartKind = "data"
)

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// DataPart builds a data part.
func DataPart(data map[string]any) Part {
	return Part{Kind: PartKindData, Data: data}
}

// ============================================================================
// ARTIFACT
// ============================================================================

// Artifact is a structured output attached to a task.
type Artifact struct {
	ArtifactID  string         `json:"artifactId"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ============================================================================
// METADATA KEYS
// Conversation-scoping and delegation bookkeeping travel in message and task
// metadata under these keys.
// ============================================================================

const (
	MetaConversationID  = "conversationId"
	MetaThreadID        = "threadId"
	MetaStreamRequestID = "streamRequestId"
	MetaIsDelegation    = "isDelegation"
	MetaDelegationID    = "delegationId"
	MetaFromAgentID     = "fromAgentId"
)

// MetaString reads a string value out of a metadata map.
func MetaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

// MetaBool reads a boolean value out of a metadata map.
func MetaBool(meta map[string]any, key string) bool {
	if meta == nil {
		return false
	}
	v, _ := meta[key].(bool)
	return v
}

// ============================================================================
// STREAMING
// ============================================================================

// StreamEvent is a single server-sent event emitted while a task runs.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	TaskID    string          `json:"taskId"`
	Part      *Part           `json:"part,omitempty"`
	Status    *TaskStatus     `json:"status,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// StreamEventType enumerates streaming event kinds.
type StreamEventType string

const (
	StreamEventTypePart   StreamEventType = "part"
	StreamEventTypeStatus StreamEventType = "status"
)

// ============================================================================
// HELPERS
// ============================================================================

// NewUserMessage builds a user-role message with a single text part.
func NewUserMessage(messageID, text string) *Message {
	return &Message{
		MessageID: messageID,
		Role:      MessageRoleUser,
		Parts:     []Part{TextPart(text)},
	}
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Kind == PartKindText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// InputText returns the concatenated text of the task's input message.
func (t *Task) InputText() string {
	if t == nil || t.Input == nil {
		return ""
	}
	return t.Input.Text()
}

// Terminal reports whether the task has reached a final state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	}
	return false
}
