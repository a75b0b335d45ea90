package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is expected.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// PipelineRun is one execution of a pipeline started by a trigger.
// Duration is in seconds.
type PipelineRun struct {
	ID        int64     `json:"id"`
	Status    RunStatus `json:"status"`
	TriggerID string    `json:"trigger_id"`
	StartTime time.Time `json:"start_time"`
	Duration  float64   `json:"duration"`
}

// RunResult is returned when a run is requested.
type RunResult struct {
	RunID int64 `json:"run_id"`
}

// LogLevel is the severity of a task log line.
type LogLevel string

const (
	LevelDebug   LogLevel = "DEBUG"
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

// LogEntry is a log line emitted by a task during a run.
type LogEntry struct {
	ID         int64     `json:"id"`
	Task       string    `json:"task"`
	Level      LogLevel  `json:"level"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	ExcInfo    string    `json:"exc_info,omitempty"`
	LoggerName string    `json:"loggerName"`
}

// Message is the push envelope delivered by the scheduler. Data is decoded
// according to Type by the consumer.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewMessage encodes data into an envelope of the given type.
func NewMessage(msgType string, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s message: %w", msgType, err)
	}
	return Message{Type: msgType, Data: raw}, nil
}

// Message types understood by the console.
const (
	MessageRun      = "run"
	MessagePipeline = "pipeline"
	MessageLog      = "log"
)

// RunEvent is the data of a "run" message.
type RunEvent struct {
	PipelineID string    `json:"pipeline_id"`
	TriggerID  string    `json:"trigger_id"`
	RunID      int64     `json:"run_id"`
	Status     RunStatus `json:"status"`
}

// PipelineEvent is the data of a "pipeline" message.
type PipelineEvent struct {
	PipelineID string `json:"pipeline_id"`
}

// LogEvent is the data of a "log" message.
type LogEvent struct {
	PipelineID string `json:"pipeline_id"`
	RunID      int64  `json:"run_id"`
	LogEntry
}
