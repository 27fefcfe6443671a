package scraper

import "errors"

// Sentinel errors returned by Wait.
var (
	// ErrNotStarted means there is no job instance to wait for.
	ErrNotStarted = errors.New("no job started")

	// ErrAbandoned means the job was left running server-side by Close.
	ErrAbandoned = errors.New("job abandoned")
)

// msgConnectionLost is shown when stream reconnects are exhausted.
const msgConnectionLost = "Lost connection to the server. Your job may still be processing, please try again later."

// ValidationError reports unusable user input. It never reaches the network.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// JobFailedError is a failure declared by the remote service, either through
// the status endpoint or a stream error event.
type JobFailedError struct {
	Message string
}

func (e *JobFailedError) Error() string { return e.Message }
