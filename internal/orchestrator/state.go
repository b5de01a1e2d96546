package orchestrator

import "github.com/rcliao/agriplan/internal/model"

// State is the orchestrator's position in the stage sequence.
type State int

const (
	Idle State = iota
	Part1Running
	Part1Done
	Part2Running
	Part2Done
	Part3Running
	Complete
	Failed
)

var stateNames = [...]string{
	Idle:         "idle",
	Part1Running: "part1_running",
	Part1Done:    "part1_done",
	Part2Running: "part2_running",
	Part2Done:    "part2_done",
	Part3Running: "part3_running",
	Complete:     "complete",
	Failed:       "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func runningState(st model.Stage) State {
	switch st {
	case model.Part1:
		return Part1Running
	case model.Part2:
		return Part2Running
	}
	return Part3Running
}

// doneState is the state after a successful stage. Q&A has no terminal
// state and stays in Part3Running.
func doneState(st model.Stage) State {
	switch st {
	case model.Part1:
		return Part1Done
	case model.Part2:
		return Part2Done
	}
	return Part3Running
}

// upstream lists the stages whose entries a stage reads.
func upstream(st model.Stage) []model.Stage {
	switch st {
	case model.Part2:
		return []model.Stage{model.Part1}
	case model.Part3:
		return []model.Stage{model.Part1, model.Part2}
	}
	return nil
}
