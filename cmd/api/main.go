package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"voice-qa-go/internal/app"
	"voice-qa-go/internal/config"
	"voice-qa-go/internal/logger"
	"voice-qa-go/internal/pipeline"
	"voice-qa-go/internal/web"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "voice-qa-go").Info("starting service")

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to start application")
	}
	defer application.Close()

	hub := web.NewHub()
	go hub.Run(ctx)
	application.Processor.Notifier = pipeline.Multi{hub, pipeline.Logging{Log: log.WithComponent("progress")}}

	srv := web.NewServer(application.Processor, application.Store, application.Analyzer, hub, web.Options{
		OutputDir:      cfg.OutputDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Speakers:       cfg.STT.Speakers,
	})

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("addr", addr).Info("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server terminated")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
}
