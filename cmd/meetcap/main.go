package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/meetcaplabs/meetcap/internal/audio"
	"github.com/meetcaplabs/meetcap/internal/config"
	"github.com/meetcaplabs/meetcap/internal/correct"
	"github.com/meetcaplabs/meetcap/internal/logging"
	"github.com/meetcaplabs/meetcap/internal/observe"
	"github.com/meetcaplabs/meetcap/internal/session"
	"github.com/meetcaplabs/meetcap/internal/stt"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "meetcap:", err)
		os.Exit(1)
	}

	log := logging.NewWithLevel(cfg.LogLevel)
	log.Info().Str("version", version).Str("mode", cfg.Mode).Msg("Starting meetcap")

	ctx := context.Background()

	shutdownMetrics, err := observe.InitProvider(ctx, "meetcap", version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize metrics")
	}
	defer shutdownMetrics(context.Background())

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	backend, err := audio.NewPortAudio()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio")
	}
	defer audio.Terminate()

	engine, err := stt.New(stt.Config{
		Model:    cfg.Whisper.Model,
		Language: cfg.Whisper.Language,
		Threads:  cfg.Whisper.Threads,
	}, config.ModelsPath(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load transcription model")
	}
	defer engine.Close()

	refiner := buildRefiner(cfg, log)

	sess := session.New(backend, engine, refiner, session.Config{
		Mode:           session.Mode(cfg.Mode),
		ChunkDuration:  time.Duration(cfg.Audio.ChunkSeconds) * time.Second,
		CanonicalRate:  cfg.Audio.SampleRate,
		Language:       cfg.Whisper.Language,
		MicDevice:      cfg.Audio.MicDevice,
		LoopbackDevice: cfg.Audio.LoopbackDevice,
	}, log)

	if err := sess.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start capture session")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range sess.Results() {
			if len(r.Text) < cfg.MinChars {
				continue
			}
			fmt.Printf("[%s] %s\n", r.Time.Format("15:04:05"), r.Text)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	if err := sess.Stop(); err != nil {
		log.Error().Err(err).Msg("Session stop failed")
	}
	<-done
}

// buildRefiner wires the correction pass, or returns nil when correction is
// disabled or unconfigured so transcripts pass through unchanged.
func buildRefiner(cfg *config.Config, log zerolog.Logger) *correct.Refiner {
	if !cfg.Correction.Enabled {
		log.Info().Msg("Correction disabled by config")
		return nil
	}
	if cfg.Correction.APIKey == "" {
		log.Warn().Msg("No correction API key in environment, transcripts pass through uncorrected")
		return nil
	}

	completer, err := correct.NewOpenAI(correct.OpenAIConfig{
		APIKey:  cfg.Correction.APIKey,
		Model:   cfg.Correction.Model,
		BaseURL: cfg.Correction.BaseURL,
		Timeout: time.Duration(cfg.Correction.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Correction client unavailable, transcripts pass through uncorrected")
		return nil
	}

	return correct.New(completer, log,
		correct.WithNoSpeechThreshold(cfg.Correction.NoSpeech),
		correct.WithConfidenceThreshold(cfg.Correction.Confidence),
		correct.WithRequestTimeout(time.Duration(cfg.Correction.TimeoutSeconds)*time.Second),
	)
}
