package pipeline

import (
	"errors"

	"github.com/orlandos-nl/cyphertextkit/model"
)

// ErrInvalidTransition is returned by Transition for any (from, to) pair
// not present in the delivery state table.
var ErrInvalidTransition = errors.New("pipeline: invalid delivery state transition")

// TransitionOutcome reports whether a delivery-state transition changed
// anything.
type TransitionOutcome int

const (
	// Success: the transition is legal and the state advanced.
	TransitionSuccess TransitionOutcome = iota
	// NotModified: the transition is legal but state == state.
	TransitionNotModified
)

// transitionTable encodes the exact from→to delivery state matrix. A
// missing entry means "error": the transition is invalid and state does
// not change.
var transitionTable = map[model.DeliveryState]map[model.DeliveryState]TransitionOutcome{
	model.DeliveryNone: {
		model.DeliveryNone:        TransitionNotModified,
		model.DeliveryReceived:    TransitionSuccess,
		model.DeliveryRead:        TransitionSuccess,
		model.DeliveryRevoked:     TransitionSuccess,
	},
	model.DeliveryUndelivered: {
		model.DeliveryUndelivered: TransitionNotModified,
		model.DeliveryReceived:    TransitionSuccess,
		model.DeliveryRead:        TransitionSuccess,
		model.DeliveryRevoked:     TransitionSuccess,
	},
	model.DeliveryReceived: {
		model.DeliveryReceived: TransitionNotModified,
		model.DeliveryRead:     TransitionSuccess,
		model.DeliveryRevoked:  TransitionSuccess,
	},
	model.DeliveryRead: {
		model.DeliveryRead:    TransitionNotModified,
		model.DeliveryRevoked: TransitionSuccess,
	},
	model.DeliveryRevoked: {
		model.DeliveryRevoked: TransitionNotModified,
	},
}

// Transition evaluates whether moving from `from` to `to` is legal per the
// delivery state machine. Invalid transitions report ErrInvalidTransition
// and leave the caller's state unchanged; the caller must not apply `to`
// in that case.
func Transition(from, to model.DeliveryState) (TransitionOutcome, error) {
	row, ok := transitionTable[from]
	if !ok {
		return 0, ErrInvalidTransition
	}
	outcome, ok := row[to]
	if !ok {
		return 0, ErrInvalidTransition
	}
	return outcome, nil
}
