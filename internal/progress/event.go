// Package progress defines the event structures emitted by the crawl controller.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageSessionStart Stage = "SESSION_START"
	StageSessionDone  Stage = "SESSION_DONE"
	StageSessionStop  Stage = "SESSION_STOPPED"
	StageFetchStart   Stage = "CHAPTER_FETCH_START"
	StageUploadStart  Stage = "CHAPTER_UPLOAD_START"
	StageChapterDone  Stage = "CHAPTER_DONE"
)

// Outcome is the terminal result of a chapter attempt.
type Outcome string

// Chapter outcomes tracked for CHAPTER_DONE events.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Event captures a single milestone of controller progress.
type Event struct {
	// SessionID identifies the archive session run.
	SessionID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or chapter milestone occurred.
	Stage Stage
	// Novel is the novel title the session is archiving.
	Novel string
	// Seq is the chapter sequence number for chapter-scoped stages.
	Seq int
	// Chapter is the chapter title for chapter-scoped stages.
	Chapter string
	// Outcome is set on CHAPTER_DONE.
	Outcome Outcome
	// Bytes carries the uploaded content size for completed chapters.
	Bytes int64
	// Progress is the session completion fraction after this event.
	Progress float64
	// Dur captures execution latency for chapter completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSessionStart, StageSessionDone, StageSessionStop:
	case StageFetchStart, StageUploadStart:
		if e.Seq <= 0 {
			return errors.New("chapter stage requires seq")
		}
	case StageChapterDone:
		if e.Seq <= 0 {
			return errors.New("chapter done requires seq")
		}
		if e.Outcome != OutcomeSuccess && e.Outcome != OutcomeError {
			return fmt.Errorf("unknown outcome %q", e.Outcome)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Progress < 0 || e.Progress > 1 {
		return errors.New("progress must be within [0,1]")
	}
	return nil
}
