package agent

import "errors"

var (
	// ErrAlreadyRunning is returned when a snapshot or backup run is requested
	// while one is already in progress. No state is changed.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNoActiveSession is returned by operations that need an inserted card.
	ErrNoActiveSession = errors.New("no active session")

	// ErrSnapshotNotFound is returned when a session has no persisted snapshot.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrInvalidPayload is returned when an outbound payload fails validation
	// at the queue boundary.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrLocked is returned when another agent process holds the state directory.
	ErrLocked = errors.New("state directory is locked by another process")
)
