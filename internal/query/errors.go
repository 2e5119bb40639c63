package query

import "github.com/pkg/errors"

var (
	ErrInProgress = errors.New("a query is already in progress")
	ErrNoResponse = errors.New("no response")
)

// RconError is a refusal from the remote console.
type RconError struct {
	Reason string
}

func (e *RconError) Error() string {
	return "rcon refused: " + e.Reason
}
