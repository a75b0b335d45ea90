// Package resolve decides what a trigger screen can show from the two cache
// states it depends on: the pipeline and the trigger's run list.
package resolve

import (
	"fmt"

	"github.com/mattjoyce/pipewatch/internal/model"
	"github.com/mattjoyce/pipewatch/internal/query"
)

// Phase is the resolution outcome. Phases are mutually exclusive.
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseError
	PhaseNotFound
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseError:
		return "error"
	case PhaseNotFound:
		return "not_found"
	case PhaseReady:
		return "ready"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// DataConsistencyError means the backend answered but the entities do not
// reference each other, e.g. a trigger id missing from its pipeline.
type DataConsistencyError struct {
	PipelineID string
	TriggerID  string
}

func (e *DataConsistencyError) Error() string {
	return fmt.Sprintf("trigger %q is not defined on pipeline %q", e.TriggerID, e.PipelineID)
}

// Resolution is the resolved screen state. Trigger, Pipeline and Runs are set
// only in PhaseReady. Err is set in PhaseError (the fetch error) and
// PhaseNotFound (a *DataConsistencyError).
type Resolution struct {
	Phase      Phase
	PipelineID string
	TriggerID  string

	Trigger  model.Trigger
	Pipeline model.Pipeline
	Runs     []model.PipelineRun

	Err error
}

// Resolve derives the screen state. Loading wins over Error so a screen with
// one fetch still pending never flashes an error from the other; Error wins
// over everything else so nothing is rendered from a partial result.
func Resolve(pipeline query.Result[model.Pipeline], runs query.Result[[]model.PipelineRun], pipelineID, triggerID string) Resolution {
	r := Resolution{PipelineID: pipelineID, TriggerID: triggerID}

	switch {
	case pipeline.IsLoading() || runs.IsLoading():
		r.Phase = PhaseLoading
		return r
	case pipeline.IsError():
		r.Phase = PhaseError
		r.Err = pipeline.Err
		return r
	case runs.IsError():
		r.Phase = PhaseError
		r.Err = runs.Err
		return r
	}

	if !pipeline.IsSuccess() || !runs.IsSuccess() {
		// A disabled key (no identifiers yet) cannot name a trigger.
		r.Phase = PhaseNotFound
		r.Err = &DataConsistencyError{PipelineID: pipelineID, TriggerID: triggerID}
		return r
	}

	trigger, ok := model.LookupTrigger(pipeline.Data, triggerID)
	if !ok {
		r.Phase = PhaseNotFound
		r.Err = &DataConsistencyError{PipelineID: pipelineID, TriggerID: triggerID}
		return r
	}

	r.Phase = PhaseReady
	r.Trigger = trigger
	r.Pipeline = pipeline.Data
	r.Runs = runs.Data
	if r.Runs == nil {
		r.Runs = []model.PipelineRun{}
	}
	return r
}
