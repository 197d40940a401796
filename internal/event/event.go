// Package event defines the typed lifecycle notifications the engines emit
// and a small bus that fans them out to bounded subscriber channels.
package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	SessionStarted Type = iota + 1
	SessionResumed
	SessionEnded
	SessionOverlap
	SessionDiscarded
	SessionBindingUpdated
	SessionRemoteAttached
	SnapshotStarted
	SnapshotProgress
	SnapshotComplete
	SnapshotError
	FileAdded
	FileRenamed
	FileCopied
	BackupStarted
	BackupProgress
	BackupFileError
	BackupPaused
	BackupResumed
	BackupStopped
	BackupComplete
	BackupError
	QueueDrained
	QueueItemDropped
)

var typeNames = [...]string{
	SessionStarted:        "SessionStarted",
	SessionResumed:        "SessionResumed",
	SessionEnded:          "SessionEnded",
	SessionOverlap:        "SessionOverlap",
	SessionDiscarded:      "SessionDiscarded",
	SessionBindingUpdated: "SessionBindingUpdated",
	SessionRemoteAttached: "SessionRemoteAttached",
	SnapshotStarted:       "SnapshotStarted",
	SnapshotProgress:      "SnapshotProgress",
	SnapshotComplete:      "SnapshotComplete",
	SnapshotError:         "SnapshotError",
	FileAdded:             "FileAdded",
	FileRenamed:           "FileRenamed",
	FileCopied:            "FileCopied",
	BackupStarted:         "BackupStarted",
	BackupProgress:        "BackupProgress",
	BackupFileError:       "BackupFileError",
	BackupPaused:          "BackupPaused",
	BackupResumed:         "BackupResumed",
	BackupStopped:         "BackupStopped",
	BackupComplete:        "BackupComplete",
	BackupError:           "BackupError",
	QueueDrained:          "QueueDrained",
	QueueItemDropped:      "QueueItemDropped",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event is a single notification. Which fields are set depends on Type.
type Event struct {
	Type      Type
	Timestamp time.Time
	SessionID string
	CardID    string
	Path      string // relative or absolute path of the file concerned
	OldPath   string // FileRenamed only
	Size      int64
	Count     int   // files processed so far
	Total     int   // total files
	Failed    int   // files that failed so far
	Bytes     int64 // bytes processed so far
	Remaining int   // QueueDrained only
	Reason    string
	Err       error
}

// Publisher receives events. Implementations must not block the caller.
type Publisher interface {
	Publish(e Event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
