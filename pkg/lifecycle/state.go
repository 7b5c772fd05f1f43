package lifecycle

import (
	"errors"
	"time"
)

type State int

const (
	StateUninitialized State = iota
	StateAwaitingConfig
	StateInitializing
	StateReady
	StateActive
	StateCompleting
	StateCompleted
	StateErrored
)

var stateNames = map[State]string{
	StateUninitialized:  "uninitialized",
	StateAwaitingConfig: "awaiting_config",
	StateInitializing:   "initializing",
	StateReady:          "ready",
	StateActive:         "active",
	StateCompleting:     "completing",
	StateCompleted:      "completed",
	StateErrored:        "errored",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether s is Completed or Errored.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateErrored
}

// Transition is delivered to subscribers after every state change.
type Transition struct {
	From State
	To   State
	At   time.Time
	Err  error
}

var (
	ErrNotReady         = errors.New("content view is not ready")
	ErrAlreadyCompleted = errors.New("content view already completed")
	ErrInitTimeout      = errors.New("initialization timed out")
)
