package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ManualTriggerID identifies on-demand runs. The backend never issues it; every
// consumer must use this constant.
const ManualTriggerID = "manual"

// TriggerKind tags the two Trigger variants.
type TriggerKind int

const (
	KindScheduled TriggerKind = iota
	KindManual
)

func (k TriggerKind) String() string {
	switch k {
	case KindScheduled:
		return "scheduled"
	case KindManual:
		return "manual"
	default:
		return fmt.Sprintf("TriggerKind(%d)", int(k))
	}
}

// Trigger is implemented only by ScheduledTrigger and ManualTrigger.
// Callers switch on the concrete type (or Kind) to handle both.
type Trigger interface {
	TriggerID() string
	TriggerName() string
	TriggerDescription() string
	TriggerParams() Params
	Kind() TriggerKind

	sealed()
}

// ScheduledTrigger is a backend-defined trigger with a schedule expression.
type ScheduledTrigger struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	Schedule     string     `json:"aps_trigger,omitempty"`
	NextFireTime *time.Time `json:"next_fire_time,omitempty"`
	Paused       bool       `json:"paused,omitempty"`
	Params       Params     `json:"params,omitempty"`
}

func (t ScheduledTrigger) TriggerID() string          { return t.ID }
func (t ScheduledTrigger) TriggerName() string        { return t.Name }
func (t ScheduledTrigger) TriggerDescription() string { return t.Description }
func (t ScheduledTrigger) TriggerParams() Params      { return t.Params }
func (t ScheduledTrigger) Kind() TriggerKind          { return KindScheduled }
func (ScheduledTrigger) sealed()                      {}

// ManualTrigger is the client-side sentinel for on-demand runs.
type ManualTrigger struct{}

// Manual is the single ManualTrigger value.
var Manual = ManualTrigger{}

func (ManualTrigger) TriggerID() string   { return ManualTriggerID }
func (ManualTrigger) TriggerName() string { return "Manual" }
func (ManualTrigger) TriggerDescription() string {
	return "Run the pipeline on demand"
}
func (ManualTrigger) TriggerParams() Params { return nil }
func (ManualTrigger) Kind() TriggerKind     { return KindManual }
func (ManualTrigger) sealed()               {}

// IsManual reports whether id is the manual sentinel.
func IsManual(id string) bool {
	return id == ManualTriggerID
}

// Params is an opaque JSON payload attached to a trigger or a run request.
// It is passed through byte-for-byte.
type Params json.RawMessage

// MarshalJSON keeps the payload unmodified.
func (p Params) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return []byte(p), nil
}

// UnmarshalJSON copies the raw payload.
func (p *Params) UnmarshalJSON(data []byte) error {
	if p == nil {
		return fmt.Errorf("model.Params: UnmarshalJSON on nil pointer")
	}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}
	*p = append((*p)[0:0], data...)
	return nil
}

// Empty reports whether no payload is present.
func (p Params) Empty() bool {
	trimmed := bytes.TrimSpace(p)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Fields decodes the top-level keys of an object payload. An empty payload
// yields an empty map; a non-object payload is an error.
func (p Params) Fields() (map[string]json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if p.Empty() {
		return fields, nil
	}
	if err := json.Unmarshal(p, &fields); err != nil {
		return nil, fmt.Errorf("params must be a JSON object: %w", err)
	}
	return fields, nil
}
