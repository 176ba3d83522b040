// Command process runs one recording through the QA pipeline and prints
// the outcome as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"voice-qa-go/internal/app"
	"voice-qa-go/internal/config"
	"voice-qa-go/internal/logger"
	"voice-qa-go/internal/pipeline"
	"voice-qa-go/internal/processor"
	"voice-qa-go/internal/scorecard"
)

func main() {
	_ = godotenv.Load()

	audioPath := flag.String("audio", "", "path to the call recording (required)")
	scorecardPath := flag.String("scorecard", "", "optional scorecard .csv or .xlsx; grading is skipped without one")
	speakers := flag.Int("speakers", 0, "expected number of speakers (default STT_NUM_SPEAKERS)")
	outDir := flag.String("out", "", "output directory (default OUTPUT_DIR)")
	flag.Parse()

	if *audioPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	log := logger.New()
	cfg := config.Load()
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}

	var criteria []string
	if *scorecardPath != "" {
		f, err := os.Open(*scorecardPath)
		if err != nil {
			log.WithError(err).Fatal("cannot open scorecard")
		}
		items, err := scorecard.Load(*scorecardPath, f)
		f.Close()
		if err != nil {
			log.WithError(err).Fatal("invalid scorecard")
		}
		criteria = scorecard.Criteria(items)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to start application")
	}
	defer application.Close()
	application.Processor.Notifier = pipeline.Logging{Log: log.WithComponent("progress")}

	out, runErr := application.Processor.ProcessCall(ctx, processor.Request{
		AudioPath: *audioPath,
		Criteria:  criteria,
		Speakers:  *speakers,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if runErr != nil {
		application.Close()
		os.Exit(1)
	}
}
