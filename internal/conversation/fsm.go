package conversation

import (
	"fmt"

	"github.com/xiaot623/lectern/internal/domain"
)

// transitions is the fixed turn state table. Failed is reachable from every
// non-terminal state and is added by allowed.
var transitions = map[domain.TurnState][]domain.TurnState{
	domain.TurnStateQueryUnderstanding: {domain.TurnStateContextRetrieval, domain.TurnStateAnswerGeneration},
	domain.TurnStateContextRetrieval:   {domain.TurnStateAnswerGeneration},
	domain.TurnStateAnswerGeneration:   {domain.TurnStateCitation},
	domain.TurnStateCitation:           {domain.TurnStateDone},
}

func allowed(from, to domain.TurnState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == domain.TurnStateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// machine tracks the state of one turn.
type machine struct {
	state domain.TurnState
}

func newMachine() *machine {
	return &machine{state: domain.TurnStateQueryUnderstanding}
}

// advance moves to the next state or reports an illegal transition.
func (m *machine) advance(to domain.TurnState) (domain.TurnState, error) {
	from := m.state
	if !allowed(from, to) {
		return from, fmt.Errorf("invalid turn transition %s -> %s", from, to)
	}
	m.state = to
	return from, nil
}
