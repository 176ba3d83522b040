// Package processor runs one recording through the QA pipeline:
// split, transcribe, analyze, optionally grade, then save.
package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voice-qa-go/internal/actionable"
	"voice-qa-go/internal/analysis"
	"voice-qa-go/internal/events"
	"voice-qa-go/internal/logger"
	"voice-qa-go/internal/metrics"
	"voice-qa-go/internal/pipeline"
	"voice-qa-go/internal/transcription"
	"voice-qa-go/internal/types"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

type Splitter interface {
	Split(ctx context.Context, path, outputDir string) ([]types.AudioSegment, error)
}

type Transcriber interface {
	Run(ctx context.Context, segments []types.AudioSegment, speakers int, outputDir string) (transcription.Result, error)
}

type Analyzer interface {
	AnalyzeFile(ctx context.Context, conversationFile, outputDir string) (analysis.Result, error)
}

type Grader interface {
	Grade(ctx context.Context, transcript string, criteria []string, outputDir string) (types.GradingResult, error)
}

// CallStore is the part of store.Store the pipeline writes through.
type CallStore interface {
	HasCall(ctx context.Context, filename string) (bool, error)
	SaveCall(ctx context.Context, rec types.CallRecord) (int64, error)
}

type Archiver interface {
	ArchiveRun(ctx context.Context, callID int64, files []string) ([]string, error)
}

type Publisher interface {
	PublishCallProcessed(ctx context.Context, ev events.CallProcessedEvent) error
}

// Request describes one recording to process. Empty Criteria skips grading.
type Request struct {
	Filename  string
	AudioPath string
	Criteria  []string
	Speakers  int
}

// Outcome is the tagged result of a run: Status is success or failed, and
// on failure Error and Stage say what went wrong where.
type Outcome struct {
	Status         string                 `json:"status"`
	Error          string                 `json:"error,omitempty"`
	ErrorKind      string                 `json:"error_kind,omitempty"`
	Stage          pipeline.Stage         `json:"stage,omitempty"`
	RunID          string                 `json:"run_id"`
	CallID         int64                  `json:"call_id,omitempty"`
	RunDir         string                 `json:"run_dir"`
	Transcript     string                 `json:"transcript,omitempty"`
	// SpeakerSeconds is talk time per speaker label.
	SpeakerSeconds map[string]float64     `json:"speaker_seconds,omitempty"`
	Analysis       string                 `json:"analysis,omitempty"`
	Grades         *types.GradingResult   `json:"grades,omitempty"`
	ActionCard     *actionable.ActionCard `json:"action_card,omitempty"`
	Artifacts      []string               `json:"artifacts,omitempty"`
	DurationMs     int64                  `json:"duration_ms"`
}

type Processor struct {
	Splitter    Splitter
	Transcriber Transcriber
	Analyzer    Analyzer
	Grader      Grader
	Store       CallStore
	// Archive and Events are optional side outputs; failures are logged only.
	Archive   Archiver
	Events    Publisher
	Notifier  pipeline.Notifier
	OutputDir string

	Now     func() time.Time
	Metrics *metrics.Metrics
	log     *logger.Logger
}

func New(outputDir string) *Processor {
	return &Processor{
		OutputDir: outputDir,
		Notifier:  pipeline.Nop{},
		Now:       time.Now,
		Metrics:   metrics.DefaultMetrics,
		log:       logger.New().WithComponent("processor"),
	}
}

// ProcessCall runs every stage in order. The first failing stage ends the
// run and nothing is saved. The returned error is the same failure carried
// in the Outcome.
func (p *Processor) ProcessCall(ctx context.Context, req Request) (Outcome, error) {
	p.defaults()
	start := p.Now()
	runID := uuid.New().String()
	out := Outcome{RunID: runID, RunDir: filepath.Join(p.OutputDir, runID)}
	log := p.log.WithField("run_id", runID).WithField("file", req.Filename)
	p.Metrics.RecordPipelineStart()

	fail := func(stage pipeline.Stage, err error) (Outcome, error) {
		out.Status = StatusFailed
		out.Stage = stage
		out.Error = err.Error()
		out.ErrorKind = types.Kind(err)
		out.DurationMs = time.Since(start).Milliseconds()
		p.notify(runID, pipeline.StageDone, pipeline.StateFailed, out.Error)
		p.Metrics.RecordPipelineEnd(StatusFailed, time.Since(start).Seconds())
		log.WithField("stage", stage).WithField("error_kind", out.ErrorKind).WithField("error", out.Error).Error("pipeline failed")
		return out, err
	}

	if err := p.validate(ctx, &req); err != nil {
		return fail(pipeline.StageValidate, err)
	}
	if err := os.MkdirAll(out.RunDir, 0o755); err != nil {
		return fail(pipeline.StageValidate, fmt.Errorf("create run dir: %w", err))
	}
	log.WithField("run_dir", out.RunDir).Info("pipeline started")

	var segments []types.AudioSegment
	err := p.stage(runID, pipeline.StageSplit, func() (err error) {
		segments, err = p.Splitter.Split(ctx, req.AudioPath, filepath.Join(out.RunDir, "segments"))
		return err
	})
	if err != nil {
		return fail(pipeline.StageSplit, err)
	}

	var tr transcription.Result
	err = p.stage(runID, pipeline.StageTranscribe, func() (err error) {
		tr, err = p.Transcriber.Run(ctx, segments, req.Speakers, out.RunDir)
		return err
	})
	if err != nil {
		return fail(pipeline.StageTranscribe, err)
	}
	out.Transcript = tr.Transcript.Text()
	out.SpeakerSeconds = tr.Transcript.SpeakerTotals()
	out.Artifacts = append(out.Artifacts, tr.ConversationFile, tr.TimingFile)

	var an analysis.Result
	err = p.stage(runID, pipeline.StageAnalyze, func() (err error) {
		an, err = p.Analyzer.AnalyzeFile(ctx, tr.ConversationFile, out.RunDir)
		return err
	})
	if err != nil {
		return fail(pipeline.StageAnalyze, err)
	}
	out.Analysis = an.Text
	out.Artifacts = append(out.Artifacts, an.AnalysisFile)

	if len(req.Criteria) > 0 {
		var res types.GradingResult
		err = p.stage(runID, pipeline.StageGrade, func() (err error) {
			res, err = p.Grader.Grade(ctx, out.Transcript, req.Criteria, out.RunDir)
			return err
		})
		if err != nil {
			return fail(pipeline.StageGrade, err)
		}
		out.Grades = &res
		card := actionable.Generate(res)
		out.ActionCard = &card
		out.Artifacts = append(out.Artifacts, res.GradingFile)
		p.Metrics.RecordScore(res.OverallScore)
	} else {
		p.notify(runID, pipeline.StageGrade, pipeline.StateSkipped, "no scorecard provided")
	}

	err = p.stage(runID, pipeline.StageSave, func() (err error) {
		out.CallID, err = p.Store.SaveCall(ctx, types.CallRecord{
			Filename:   req.Filename,
			UploadTime: start,
			Transcript: out.Transcript,
			Analysis:   out.Analysis,
			Grades:     out.Grades,
		})
		return err
	})
	if err != nil {
		return fail(pipeline.StageSave, err)
	}

	out.Status = StatusSuccess
	out.DurationMs = time.Since(start).Milliseconds()
	p.sideOutputs(ctx, log, out, req)
	p.notify(runID, pipeline.StageDone, pipeline.StateCompleted, fmt.Sprintf("call #%d saved", out.CallID))
	p.Metrics.RecordPipelineEnd(StatusSuccess, time.Since(start).Seconds())
	log.WithField("call_id", out.CallID).WithField("duration_ms", out.DurationMs).Info("pipeline complete")
	return out, nil
}

func (p *Processor) defaults() {
	if p.Notifier == nil {
		p.Notifier = pipeline.Nop{}
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Metrics == nil {
		p.Metrics = metrics.DefaultMetrics
	}
	if p.log == nil {
		p.log = logger.New().WithComponent("processor")
	}
}

// validate rejects unusable requests before any remote call.
func (p *Processor) validate(ctx context.Context, req *Request) error {
	if req.AudioPath == "" {
		return fmt.Errorf("no audio file given: %w", types.ErrPrecondition)
	}
	if _, err := os.Stat(req.AudioPath); err != nil {
		return fmt.Errorf("audio file unreadable: %v: %w", err, types.ErrPrecondition)
	}
	if strings.TrimSpace(req.Filename) == "" {
		req.Filename = filepath.Base(req.AudioPath)
	}
	exists, err := p.Store.HasCall(ctx, req.Filename)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("call %q already processed: %w", req.Filename, types.ErrDuplicate)
	}
	return nil
}

func (p *Processor) stage(runID string, stage pipeline.Stage, fn func() error) error {
	p.notify(runID, stage, pipeline.StateStarted, "")
	t0 := time.Now()
	err := fn()
	p.Metrics.RecordStage(string(stage), types.Kind(err), time.Since(t0).Seconds())
	if err != nil {
		p.notify(runID, stage, pipeline.StateFailed, err.Error())
		return err
	}
	p.notify(runID, stage, pipeline.StateCompleted, "")
	return nil
}

func (p *Processor) notify(runID string, stage pipeline.Stage, state pipeline.State, msg string) {
	p.Notifier.Notify(pipeline.Event{RunID: runID, Stage: stage, State: state, Message: msg, At: p.Now()})
}

// sideOutputs archives artifacts and publishes the processed event. The call
// is already saved, so failures here do not change the outcome.
func (p *Processor) sideOutputs(ctx context.Context, log *logrus.Entry, out Outcome, req Request) {
	if p.Archive != nil {
		files := append([]string{req.AudioPath}, out.Artifacts...)
		if _, err := p.Archive.ArchiveRun(ctx, out.CallID, files); err != nil {
			log.WithField("error", err.Error()).Warn("archive failed")
		}
	}
	if p.Events != nil {
		ev := events.CallProcessedEvent{
			CallID:     out.CallID,
			Filename:   req.Filename,
			Graded:     out.Grades != nil,
			DurationMs: out.DurationMs,
			Timestamp:  p.Now().UTC(),
		}
		if out.Grades != nil {
			ev.OverallScore = out.Grades.OverallScore
		}
		if err := p.Events.PublishCallProcessed(ctx, ev); err != nil {
			log.WithField("error", err.Error()).Warn("event publish failed")
		}
	}
}
