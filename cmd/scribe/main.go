package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe/internal/api"
	"github.com/snarg/scribe/internal/artifact"
	"github.com/snarg/scribe/internal/audio"
	"github.com/snarg/scribe/internal/config"
	"github.com/snarg/scribe/internal/fetch"
	"github.com/snarg/scribe/internal/notify"
	"github.com/snarg/scribe/internal/pipeline"
	"github.com/snarg/scribe/internal/recognize"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "http listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace|debug|info|warn|error)")
	flag.StringVar(&overrides.OutputDir, "output-dir", "", "artifact output directory")
	flag.StringVar(&overrides.WhisperURL, "whisper-url", "", "whisper endpoint url")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("scribe starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// External tool availability (probed once; jobs needing a missing
	// tool fail per-request, the process stays up)
	ffmpegOK := audio.CheckFFmpeg(cfg.FFmpegPath)
	if !ffmpegOK {
		log.Warn().Str("path", cfg.FFmpegPath).Msg("ffmpeg not found in PATH; uploads that need decoding will fail")
	}
	ytdlpOK := fetch.CheckYTDLP(cfg.YTDLPPath)
	if !ytdlpOK {
		log.Warn().Str("path", cfg.YTDLPPath).Msg("yt-dlp not found in PATH; youtube jobs will fail")
	}

	// Optional S3 artifact mirror
	var mirror *artifact.Mirror
	if cfg.S3Enabled() {
		mirror, err = artifact.NewMirror(artifact.MirrorConfig{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize s3 mirror")
		}
		mirror.Start()
		defer mirror.Stop()
	}

	// Artifact store
	store, err := artifact.NewStore(cfg.OutputDir, mirror, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create artifact store")
	}

	// Optional MQTT completion events
	var notifier pipeline.Notifier
	var mqttStatus api.MQTTStatus
	if cfg.MQTTEnabled() {
		pub, err := notify.Connect(notify.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topic:     cfg.MQTTTopic,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer pub.Close()
		notifier = pub
		mqttStatus = pub
	}

	// Recognition engine behind the single-slot gate
	engine := recognize.NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, cfg.WhisperTimeout)
	if cfg.Language != "" {
		engine.SetDefaults(recognize.WhisperOpts{Language: cfg.Language})
	}

	pl := pipeline.New(pipeline.Options{
		Normalizer: audio.NewNormalizer(cfg.FFmpegPath, log),
		Fetcher:    fetch.NewFetcher(cfg.YTDLPPath, log),
		Engine:     engine,
		Gate:       pipeline.NewGate(),
		Store:      store,
		Notifier:   notifier,
		Log:        log.With().Str("component", "pipeline").Logger(),
	})

	// HTTP server
	httpLog := log.With().Str("component", "http").Logger()
	jobs := api.NewJobsHandler(pl, cfg.MaxUploadBytes, httpLog)
	artifacts := api.NewArtifactsHandler(store, httpLog)
	health := api.NewHealthHandler(store, engine, mqttStatus, ffmpegOK, ytdlpOK, version, startTime)
	srv := api.NewServer(cfg, jobs, artifacts, health, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("scribe stopped")
}
