// Package progress defines the event structures emitted by download workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageTaskStart  Stage = "TASK_START"
	StageTaskUpload Stage = "TASK_UPLOAD"
	StageTaskDone   Stage = "TASK_DONE"
	StageTaskSkip   Stage = "TASK_SKIP"
	StageTaskError  Stage = "TASK_ERROR"
	StageItemStart  Stage = "ITEM_START"
	StageItemDone   Stage = "ITEM_DONE"
)

// Outcome is a coarse grouping of how an item or task ended.
type Outcome string

// Supported outcomes tracked for completions.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Event captures a single milestone of download progress.
type Event struct {
	// TaskID uniquely identifies a task using the 16-byte UUID form.
	TaskID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or item milestone occurred.
	Stage Stage
	// Platform scopes item events to a source platform label.
	Platform string
	// Locator is the optional media locator; it should not contain credentials.
	Locator string
	// Bytes carries the stored artifact size delta.
	Bytes int64
	// Items increments by one for each finished collection entry.
	Items int64
	// Outcome groups how the item or task ended.
	Outcome Outcome
	// Dur captures execution latency for items and task completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TaskID == [16]byte{} {
		return errors.New("task id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageTaskStart, StageTaskUpload, StageTaskDone, StageTaskSkip, StageTaskError:
	case StageItemStart:
		if e.Platform == "" {
			return errors.New("item start requires platform")
		}
	case StageItemDone:
		if e.Platform == "" {
			return errors.New("item done requires platform")
		}
		if e.Outcome == "" {
			return errors.New("item done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// TaskUUID converts the binary task ID to uuid.UUID for repositories.
func (e Event) TaskUUID() uuid.UUID {
	return uuid.UUID(e.TaskID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// TaskIDBytes parses the string form of a task ID into the Event form.
// Unparseable IDs yield the zero array, which Validate rejects.
func TaskIDBytes(id string) [16]byte {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return [16]byte{}
	}
	return UUIDToBytes(parsed)
}
