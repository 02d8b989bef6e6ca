// Package pipeline threads a question through translation, the safety gate,
// execution and summarization as an explicit state machine.
package pipeline

import (
	"errors"
	"fmt"
)

type State string

const (
	StateReceived     State = "received"
	StateTranslating  State = "translating"
	StateValidating   State = "validating"
	StateExecuting    State = "executing"
	StateInterpreting State = "interpreting"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// ErrIllegalTransition is a programming error: the orchestrator tried to move
// between two states the table does not connect.
var ErrIllegalTransition = errors.New("illegal pipeline transition")

// Executing is reachable only from Validating, which advances there only
// with an accepted verdict.
var transitions = map[State][]State{
	StateReceived:     {StateTranslating, StateFailed},
	StateTranslating:  {StateValidating, StateFailed},
	StateValidating:   {StateExecuting, StateFailed},
	StateExecuting:    {StateInterpreting, StateFailed},
	StateInterpreting: {StateCompleted, StateFailed},
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Transition checks from -> to against the table.
func Transition(from, to State) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}
