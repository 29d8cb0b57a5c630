package main

import (
	"context"
	"errors"
	"fmt"
	"imgmerge/internal/adapters/converter"
	"imgmerge/internal/adapters/file"
	"imgmerge/internal/adapters/handler"
	"imgmerge/internal/config"
	"imgmerge/internal/core/port"
	"imgmerge/internal/core/service"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

func main() {
	log.Info().Msg("starting image merger...")

	log.Info().Msg("reading config...")
	cfg, err := config.Load(viper.GetViper(), ".")
	if err != nil {
		log.Fatal().Err(err).Msg("could not load config")
	}

	zerolog.SetGlobalLevel(cfg.Log.Level)
	zerolog.DefaultContextLogger = &log.Logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	uploads, err := file.NewStore(cfg.Storage.UploadDir, "upload_")
	if err != nil {
		log.Panic().Err(err).Msg("failed initializing upload store")
	}

	outputs, err := file.NewStore(cfg.Storage.OutputDir, "merged_")
	if err != nil {
		log.Panic().Err(err).Msg("failed initializing output store")
	}

	imagingConverter, err := converter.NewImagingConverter(cfg.Merge.JPEGQuality, cfg.Merge.MaxInputPixels)
	if err != nil {
		log.Panic().Err(err).Msg("failed initializing image converter")
	}

	mergeService := service.NewMergeService(imagingConverter, outputs, cfg.Merge.Background)

	janitor := service.NewJanitor(cfg.Cleanup.MaxAge, cfg.Cleanup.Interval, map[string]port.Sweeper{
		"uploads": uploads,
		"outputs": outputs,
	})
	go janitor.Run(ctx)

	h := handler.NewHTTP(mergeService, uploads, outputs,
		file.NewFetcher(cfg.Fetch.Timeout, cfg.Fetch.MaxBytes),
		janitor,
		handler.Config{
			PublicURL:      cfg.Server.PublicURL,
			DefaultHeight:  cfg.Merge.DefaultHeight,
			MinHeight:      cfg.Merge.MinHeight,
			MaxHeight:      cfg.Merge.MaxHeight,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			DefaultMaxAge:  cfg.Cleanup.MaxAge,
		})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.NewRouter(h),
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().
		Str("addr", srv.Addr).
		Str("uploads", uploads.Root()).
		Str("outputs", outputs.Root()).
		Msg("server listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	<-stopped
	log.Info().Msg("server stopped")
}
