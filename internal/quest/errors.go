package quest

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid quest transition")
	ErrUnknownQuest      = errors.New("unknown quest")
	ErrMalformedRegistry = errors.New("malformed quest registry")
	ErrStoreClosed       = errors.New("progress store closed")
	ErrInvalidPayload    = errors.New("invalid completion payload")
)

// TransitionError reports an operation the quest state machine does not
// allow from the quest's current status.
type TransitionError struct {
	QuestID string
	Op      string
	From    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s quest %q from status %s", ErrInvalidTransition, e.Op, e.QuestID, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func unknownQuest(id string) error {
	return fmt.Errorf("%w: %q", ErrUnknownQuest, id)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedRegistry, fmt.Sprintf(format, args...))
}
