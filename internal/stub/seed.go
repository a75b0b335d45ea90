package stub

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/pipewatch/internal/model"
)

// Seed is the YAML document the stub starts from.
//
//	pipelines:
//	  - id: etl
//	    name: Nightly ETL
//	    tasks: [{id: extract, name: Extract}]
//	    triggers:
//	      - id: nightly
//	        name: Nightly
//	        schedule: "cron[hour='2']"
//	        params: {region: eu}
//	        required_params: [region]
//	runs:
//	  - pipeline_id: etl
//	    trigger_id: nightly
//	    status: completed
//	    start_time: 2026-01-02T02:00:00Z
//	    duration: 95s
type Seed struct {
	Pipelines []SeedPipeline `yaml:"pipelines"`
	Runs      []SeedRun      `yaml:"runs"`
}

type SeedPipeline struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Tasks       []SeedTask    `yaml:"tasks"`
	Triggers    []SeedTrigger `yaml:"triggers"`
}

type SeedTask struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type SeedTrigger struct {
	ID             string         `yaml:"id"`
	Name           string         `yaml:"name"`
	Description    string         `yaml:"description"`
	Schedule       string         `yaml:"schedule"`
	NextFireTime   *time.Time     `yaml:"next_fire_time"`
	Paused         bool           `yaml:"paused"`
	Params         map[string]any `yaml:"params"`
	RequiredParams []string       `yaml:"required_params"`
}

type SeedRun struct {
	PipelineID string        `yaml:"pipeline_id"`
	TriggerID  string        `yaml:"trigger_id"`
	Status     string        `yaml:"status"`
	StartTime  time.Time     `yaml:"start_time"`
	Duration   time.Duration `yaml:"duration"`
	Logs       []SeedLog     `yaml:"logs"`
}

type SeedLog struct {
	Task    string `yaml:"task"`
	Level   string `yaml:"level"`
	Message string `yaml:"message"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed %s: %w", path, err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return seed, nil
}

// DefaultSeed is used when no seed file is given: one pipeline with a
// scheduled trigger and a short history.
func DefaultSeed(now time.Time) Seed {
	day := 24 * time.Hour
	base := now.UTC().Truncate(day).Add(2 * time.Hour)
	next := base.Add(day)
	seed := Seed{
		Pipelines: []SeedPipeline{{
			ID:          "etl",
			Name:        "Nightly ETL",
			Description: "Extract, transform and load the warehouse",
			Tasks: []SeedTask{
				{ID: "extract", Name: "Extract"},
				{ID: "transform", Name: "Transform"},
				{ID: "load", Name: "Load"},
			},
			Triggers: []SeedTrigger{{
				ID:             "nightly",
				Name:           "Nightly",
				Description:    "Every night at 02:00 UTC",
				Schedule:       "cron[hour='2', minute='0']",
				NextFireTime:   &next,
				Params:         map[string]any{"region": "eu"},
				RequiredParams: []string{"region"},
			}},
		}},
	}
	statuses := []string{"completed", "completed", "failed", "completed", "cancelled", "completed"}
	for i, st := range statuses {
		seed.Runs = append(seed.Runs, SeedRun{
			PipelineID: "etl",
			TriggerID:  "nightly",
			Status:     st,
			StartTime:  base.Add(-time.Duration(len(statuses)-i) * day),
			Duration:   time.Duration(60+i*15) * time.Second,
			Logs: []SeedLog{
				{Task: "extract", Level: "info", Message: "extracted rows"},
			},
		})
	}
	return seed
}

func (sp SeedPipeline) toModel() (model.Pipeline, map[string][]string, error) {
	if sp.ID == "" {
		return model.Pipeline{}, nil, fmt.Errorf("seed: pipeline without id")
	}
	p := model.Pipeline{
		ID:          sp.ID,
		Name:        sp.Name,
		Description: sp.Description,
		Tasks:       make([]model.Task, 0, len(sp.Tasks)),
		Triggers:    make([]model.ScheduledTrigger, 0, len(sp.Triggers)),
	}
	for _, t := range sp.Tasks {
		p.Tasks = append(p.Tasks, model.Task{ID: t.ID, Name: t.Name, Description: t.Description})
	}

	required := make(map[string][]string)
	for _, st := range sp.Triggers {
		if st.ID == "" || model.IsManual(st.ID) {
			return model.Pipeline{}, nil, fmt.Errorf("seed: pipeline %q: invalid trigger id %q", sp.ID, st.ID)
		}
		trig := model.ScheduledTrigger{
			ID:           st.ID,
			Name:         st.Name,
			Description:  st.Description,
			Schedule:     st.Schedule,
			NextFireTime: st.NextFireTime,
			Paused:       st.Paused,
		}
		if len(st.Params) > 0 {
			raw, err := json.Marshal(st.Params)
			if err != nil {
				return model.Pipeline{}, nil, fmt.Errorf("seed: trigger %q params: %w", st.ID, err)
			}
			trig.Params = model.Params(raw)
		}
		p.Triggers = append(p.Triggers, trig)
		if len(st.RequiredParams) > 0 {
			required[st.ID] = st.RequiredParams
		}
	}
	return p, required, nil
}
