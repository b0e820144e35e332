package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vidgrab/vidgrab/internal/engine"
	"github.com/vidgrab/vidgrab/internal/manifest"
	"github.com/vidgrab/vidgrab/internal/muxer"
	"github.com/vidgrab/vidgrab/internal/platform/config"
	"github.com/vidgrab/vidgrab/internal/platform/files"
	"github.com/vidgrab/vidgrab/internal/platform/logger"
	"github.com/vidgrab/vidgrab/internal/platform/metrics"
	"github.com/vidgrab/vidgrab/internal/segment"
	"github.com/vidgrab/vidgrab/internal/server"
	"github.com/vidgrab/vidgrab/internal/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "3456")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	ffmpegPath := config.GetEnv("FFMPEG_PATH", "ffmpeg")
	ffprobePath := config.GetEnv("FFPROBE_PATH", "ffprobe")
	videoBatch := config.GetEnvInt("VIDEO_BATCH_SIZE", segment.DefaultVideoBatchSize)
	audioBatch := config.GetEnvInt("AUDIO_BATCH_SIZE", segment.DefaultAudioBatchSize)
	fetchTimeout := config.GetEnvInt("FETCH_TIMEOUT_SECONDS", int(manifest.DefaultFetchTimeout/time.Second))

	log := logger.New(logLevel, logFormat)

	store := files.NewStore(config.GetEnv("SETTINGS_PATH", ""))
	defaultDir := config.GetEnv("DOWNLOAD_DIR", files.DefaultDownloadDir())
	downloadDir := func() string { return store.DownloadDir(defaultDir) }

	fetcher := manifest.NewFetcher(&http.Client{})
	fetcher.Timeout = time.Duration(fetchTimeout) * time.Second
	fetcher.Retry = manifest.RetryConfig{MaxRetries: 2}

	mux := muxer.New(ffmpegPath, ffprobePath)
	if !mux.Available() {
		log.Warn("ffmpeg not found, downloads will fail at mux stage",
			"ffmpeg_path", ffmpegPath)
	}

	met := metrics.New()
	registry := session.NewRegistry()
	broadcast := session.NewBroadcaster()

	eng := &engine.Engine{
		Fetcher:        fetcher,
		Muxer:          mux,
		Registry:       registry,
		Broadcast:      broadcast,
		Metrics:        met,
		Log:            log,
		VideoBatchSize: videoBatch,
		AudioBatchSize: audioBatch,
		TempRoot:       os.TempDir(),
		DownloadDir:    downloadDir,
	}

	srv := &server.Server{
		Engine:      eng,
		Registry:    registry,
		Broadcast:   broadcast,
		Muxer:       mux,
		Store:       store,
		Metrics:     met,
		Log:         log,
		DownloadDir: downloadDir,
	}

	addr := ":" + port
	httpSrv := &http.Server{Addr: addr, Handler: srv.Router()}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"download_dir", downloadDir(),
		"video_batch_size", videoBatch,
		"audio_batch_size", audioBatch,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
