package models

import "time"

// QuestionStatus is the lifecycle status of an agent question.
type QuestionStatus string

const (
	QuestionPending   QuestionStatus = "pending"
	QuestionAnswered  QuestionStatus = "answered"
	QuestionTimeout   QuestionStatus = "timeout"
	QuestionCancelled QuestionStatus = "cancelled"
)

// QuestionOption is one selectable answer.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Question is a single structured prompt posed by an agent.
type Question struct {
	Header      string           `json:"header"`
	Prompt      string           `json:"prompt"`
	Options     []QuestionOption `json:"options,omitempty"`
	MultiSelect bool             `json:"multi_select"`
}

// AgentQuestion is a batch of questions raised from one agent tool call.
// It occupies the single-flight slot while pending.
type AgentQuestion struct {
	ID          string         `json:"id"`
	Owner       ItemRef        `json:"owner"`
	ToolCallID  string         `json:"tool_call_id"`
	Questions   []Question     `json:"questions"`
	Status      QuestionStatus `json:"status"`
	RequestedAt time.Time      `json:"requested_at"`
	TimeoutAt   *time.Time     `json:"timeout_at,omitempty"`
	AnsweredAt  *time.Time     `json:"answered_at,omitempty"`
	// Answers maps question header to the submitted answer.
	Answers map[string]string `json:"answers,omitempty"`
}
