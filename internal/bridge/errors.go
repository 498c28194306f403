package bridge

import (
	"errors"
	"fmt"
)

// ErrTimeout indicates a call's deadline elapsed before a response arrived.
// A late response for the same id is silently discarded.
var ErrTimeout = errors.New("call timed out")

// ErrClosed indicates the channel's transport has shut down.
var ErrClosed = errors.New("channel closed")

// RemoteError is a response from the privileged surface with ok=false.
type RemoteError struct {
	Action  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error on %s: %s", e.Action, e.Message)
}
