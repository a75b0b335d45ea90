// Package model defines the entities the console reads from the scheduler API.
//
// Values in this package are immutable snapshots of backend state. A re-fetch
// produces a new value; nothing here is mutated after decoding.
package model

// Task is a single step of a pipeline.
type Task struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Pipeline is the backend's description of a pipeline, its tasks and its
// scheduled triggers. Tasks and Triggers keep backend order.
type Pipeline struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Tasks       []Task             `json:"tasks"`
	Triggers    []ScheduledTrigger `json:"triggers"`
}

// EmptyPipeline is the placeholder shape used while the first fetch is pending.
func EmptyPipeline() Pipeline {
	return Pipeline{Tasks: []Task{}, Triggers: []ScheduledTrigger{}}
}

// FindTrigger returns the scheduled trigger with the given id.
func (p Pipeline) FindTrigger(id string) (ScheduledTrigger, bool) {
	for _, t := range p.Triggers {
		if t.ID == id {
			return t, true
		}
	}
	return ScheduledTrigger{}, false
}

// LookupTrigger resolves id against the manual sentinel first and then the
// pipeline's trigger list.
func LookupTrigger(p Pipeline, id string) (Trigger, bool) {
	if IsManual(id) {
		return Manual, true
	}
	if t, ok := p.FindTrigger(id); ok {
		return t, true
	}
	return nil, false
}
