// Package app wires configuration into the long-lived clients shared by the
// HTTP server and the CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"voice-qa-go/internal/analysis"
	"voice-qa-go/internal/archive"
	"voice-qa-go/internal/audio"
	"voice-qa-go/internal/config"
	"voice-qa-go/internal/events"
	"voice-qa-go/internal/grading"
	"voice-qa-go/internal/llm"
	"voice-qa-go/internal/logger"
	"voice-qa-go/internal/processor"
	"voice-qa-go/internal/store"
	"voice-qa-go/internal/transcription"
	"voice-qa-go/internal/types"
)

type Application struct {
	Cfg       *config.Config
	Store     *store.SQLStore
	Analyzer  *analysis.Analyzer
	Publisher *events.Publisher
	Processor *processor.Processor

	closers []func() error
	log     *logger.Logger
}

// NewProvider builds the configured speech-to-text provider.
func NewProvider(ctx context.Context, cfg config.STTConfig) (transcription.Provider, func() error, error) {
	switch cfg.Provider {
	case "", "sarvam":
		p := transcription.NewSarvamProvider(transcription.SarvamOptions{
			BaseURL:      cfg.BaseURL,
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			PollInterval: cfg.PollInterval,
			PollTimeout:  cfg.PollTimeout,
			HTTPTimeout:  cfg.HTTPTimeout,
		})
		return p, func() error { return nil }, nil
	case "google":
		p, err := transcription.NewGoogleProvider(ctx, cfg.LanguageCode, cfg.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown STT_PROVIDER %q: %w", cfg.Provider, types.ErrPrecondition)
	}
}

// SplitThreshold returns the segment length to use with the named provider.
// Google takes inline audio only, so its segments are capped.
func SplitThreshold(provider string, configured time.Duration) time.Duration {
	if configured <= 0 {
		configured = audio.DefaultMaxDuration
	}
	if provider == "google" && configured > transcription.GoogleMaxSegmentDuration {
		return transcription.GoogleMaxSegmentDuration
	}
	return configured
}

// New opens the store and builds every pipeline collaborator once.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	a := &Application{Cfg: cfg, log: logger.New().WithComponent("application")}

	st, err := store.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	provider, closeProvider, err := NewProvider(ctx, cfg.STT)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeProvider)

	arch, err := archive.New(ctx, cfg.Archive)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Publisher = events.New(&events.Config{
		Enabled:   cfg.Kafka.Enabled,
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.TopicCalls,
		Principal: cfg.Kafka.Principal,
	})
	a.closers = append(a.closers, a.Publisher.Close)

	chat := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.HTTPTimeout)
	a.Analyzer = analysis.NewAnalyzer(chat)

	ff := audio.NewFFmpeg(cfg.Splitter.FFmpegPath, cfg.Splitter.FFprobePath)
	p := processor.New(cfg.OutputDir)
	p.Splitter = audio.NewSplitter(SplitThreshold(provider.Name(), cfg.Splitter.MaxDuration), ff, ff)
	p.Transcriber = transcription.NewTranscriber(provider, cfg.STT.Speakers)
	p.Analyzer = a.Analyzer
	p.Grader = grading.NewGrader(chat)
	p.Store = st
	p.Archive = arch
	p.Events = a.Publisher
	a.Processor = p

	a.log.WithField("stt_provider", provider.Name()).
		WithField("llm_model", cfg.LLM.Model).
		WithField("db_driver", cfg.DB.Driver).
		WithField("archive", arch.Enabled()).
		WithField("kafka", a.Publisher.Enabled()).
		Info("application wired")
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *Application) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
