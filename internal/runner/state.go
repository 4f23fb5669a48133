package runner

import (
	"time"

	"wasmkey/internal/errs"
)

// State is a Driver run's position in the lifecycle.
type State int

const (
	Idle State = iota
	Fetched
	Instantiated
	PluginInstalled
	TokenReady
	Failed
)

var stateNames = [...]string{
	Idle:            "idle",
	Fetched:         "fetched",
	Instantiated:    "instantiated",
	PluginInstalled: "plugin_installed",
	TokenReady:      "token_ready",
	Failed:          "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Transition is reported to Options.Observe after every step.
type Transition struct {
	RunID   string
	From    State
	To      State
	Step    errs.Step
	Elapsed time.Duration
	Err     error
}
