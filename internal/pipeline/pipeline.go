// Package pipeline defines the stages of a call run and the progress events
// emitted while it executes.
package pipeline

import (
	"sync"
	"time"

	"voice-qa-go/internal/logger"
)

type Stage string

const (
	// StageValidate covers request checks made before any remote call.
	StageValidate   Stage = "validate"
	StageSplit      Stage = "split"
	StageTranscribe Stage = "transcribe"
	StageAnalyze    Stage = "analyze"
	StageGrade      Stage = "grade"
	StageSave       Stage = "save"
	// StageDone marks the end of a run, successful or not.
	StageDone Stage = "done"
)

type State string

const (
	StateStarted   State = "started"
	StateCompleted State = "completed"
	StateSkipped   State = "skipped"
	StateFailed    State = "failed"
)

type Event struct {
	RunID   string    `json:"run_id"`
	Stage   Stage     `json:"stage"`
	State   State     `json:"state"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier receives progress events. Implementations must not block the run.
type Notifier interface {
	Notify(Event)
}

type Nop struct{}

func (Nop) Notify(Event) {}

// Multi fans an event out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(e Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(e)
		}
	}
}

// Logging writes each event to the log at debug level.
type Logging struct {
	Log *logger.Logger
}

func (l Logging) Notify(e Event) {
	if l.Log == nil {
		return
	}
	l.Log.WithField("run_id", e.RunID).
		WithField("stage", e.Stage).
		WithField("state", e.State).
		WithField("message", e.Message).
		Debug("pipeline progress")
}

// Recorder keeps every event it sees. Useful for the CLI summary and tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
