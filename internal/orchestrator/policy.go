package orchestrator

import (
	"github.com/rcliao/agriplan/internal/condense"
	"github.com/rcliao/agriplan/internal/model"
)

// StagePolicy is the per-stage configuration.
type StagePolicy struct {
	// Required variants must be present or the stage fails before any
	// model call.
	Required    []model.Variant
	Temperature float64
	HorizonDays int
	MaxTokens   int
	// Reason sends the stage's text call to Policy.ReasonModel.
	Reason bool
}

type Policy struct {
	Stages  map[model.Stage]StagePolicy
	Summary condense.Options
	// SendImage routes Part3 to the vision backend when a photo is present.
	SendImage bool
	// ReasonModel names the reasoning model, e.g. deepseek-reasoner.
	ReasonModel string
}

// DefaultPolicy requires weather, crop and goal for the planning stages
// and nothing for Q&A.
func DefaultPolicy() Policy {
	planning := []model.Variant{model.Environmental, model.Crop, model.Goal}
	return Policy{
		Stages: map[model.Stage]StagePolicy{
			model.Part1: {Required: planning, Temperature: 0.4, HorizonDays: 7},
			model.Part2: {Required: planning, Temperature: 0.4, HorizonDays: 30},
			model.Part3: {Temperature: 0.5, HorizonDays: 7},
		},
		Summary:     condense.DefaultOptions(),
		SendImage:   true,
		ReasonModel: "deepseek-reasoner",
	}
}

func (p Policy) stage(st model.Stage) StagePolicy {
	if sp, ok := p.Stages[st]; ok {
		return sp
	}
	return DefaultPolicy().Stages[st]
}
