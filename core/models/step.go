package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepState is the lifecycle state of a single step
type StepState string

const (
	StepPending     StepState = "PENDING"
	StepRunning     StepState = "RUNNING"
	StepCompleted   StepState = "COMPLETED"
	StepCancelled   StepState = "CANCELLED"
	StepFailed      StepState = "FAILED"
	StepInterrupted StepState = "INTERRUPTED"
)

type stepJSON struct {
	ID              string `json:"Id"`
	Name            string `json:"Name"`
	ActionOnFailure string `json:"ActionOnFailure"`
	Config          struct {
		Jar        string            `json:"Jar"`
		Args       []string          `json:"Args"`
		MainClass  string            `json:"MainClass"`
		Properties map[string]string `json:"Properties"`
	} `json:"Config"`
	Status statusJSON `json:"Status"`
}

// StepStatus describes one step of a running job flow
type StepStatus struct {
	StepID                   string
	Name                     string
	State                    StepState
	ActionOnFailure          string
	Jar                      string
	Args                     []string
	MainClass                string
	Properties               map[string]string
	StateChangeReason        string
	StateChangeReasonMessage string
	CreatedAt                time.Time
	StartedAt                time.Time
	EndedAt                  time.Time
}

func (s *stepJSON) toStatus() StepStatus {
	return StepStatus{
		StepID:                   s.ID,
		Name:                     s.Name,
		State:                    StepState(s.Status.State),
		ActionOnFailure:          s.ActionOnFailure,
		Jar:                      s.Config.Jar,
		Args:                     s.Config.Args,
		MainClass:                s.Config.MainClass,
		Properties:               s.Config.Properties,
		StateChangeReason:        s.Status.StateChangeReason.Code,
		StateChangeReasonMessage: s.Status.StateChangeReason.Message,
		CreatedAt:                s.Status.Timeline.CreationDateTime.Time,
		StartedAt:                s.Status.Timeline.StartDateTime.Time,
		EndedAt:                  s.Status.Timeline.EndDateTime.Time,
	}
}

// ParseStepList decodes a ListSteps page and its continuation marker
func ParseStepList(body []byte) ([]StepStatus, string, error) {
	var resp struct {
		Steps  []stepJSON `json:"Steps"`
		Marker string     `json:"Marker"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("failed to parse step list: %w", err)
	}
	steps := make([]StepStatus, 0, len(resp.Steps))
	for i := range resp.Steps {
		steps = append(steps, resp.Steps[i].toStatus())
	}
	return steps, resp.Marker, nil
}

// ParseStep decodes a DescribeStep response body
func ParseStep(body []byte) (*StepStatus, error) {
	var resp struct {
		Step *stepJSON `json:"Step"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse step description: %w", err)
	}
	if resp.Step == nil {
		return nil, fmt.Errorf("step description missing from response")
	}
	status := resp.Step.toStatus()
	return &status, nil
}
