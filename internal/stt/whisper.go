package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog"
)

// Config configures the whisper.cpp engine.
type Config struct {
	Model    string // "base", "base.en", "small", ...
	Language string // "auto", "en", ...
	Threads  int    // 0 = auto-detect
}

// whisperEngine implements Engine on the whisper.cpp Go bindings. The
// model is loaded once and shared; each Transcribe call runs on a fresh
// whisper context because contexts are not safe for concurrent use.
type whisperEngine struct {
	mu      sync.Mutex
	model   whisper.Model
	threads int
	log     zerolog.Logger
}

// New loads (downloading first if missing) the configured whisper model
// from modelsDir and returns an Engine backed by it.
func New(cfg Config, modelsDir string, log zerolog.Logger) (Engine, error) {
	modelPath := filepath.Join(modelsDir, "ggml-"+cfg.Model+".bin")

	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		if err := downloadModel(cfg.Model, modelPath, log); err != nil {
			return nil, fmt.Errorf("failed to download model: %w", err)
		}
	}

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	return &whisperEngine{
		model:   model,
		threads: cfg.Threads,
		log:     log,
	}, nil
}

func (e *whisperEngine) Transcribe(ctx context.Context, samples []float32, language string) ([]Segment, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Contexts are cheap relative to inference; serialize anyway since the
	// dispatcher is the only caller.
	e.mu.Lock()
	defer e.mu.Unlock()

	wctx, err := e.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if e.threads > 0 {
		wctx.SetThreads(uint(e.threads))
	}
	if language != "" && language != "auto" {
		if err := wctx.SetLanguage(language); err != nil {
			e.log.Warn().Str("language", language).Err(err).Msg("Failed to set language, using default")
		}
	}
	wctx.SetTranslate(false)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var segments []Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segments = append(segments, scoreSegment(text, seg.Tokens))
	}
	return segments, nil
}

func (e *whisperEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		err := e.model.Close()
		e.model = nil
		return err
	}
	return nil
}

// scoreSegment derives the contract's confidence fields from whisper token
// probabilities. The bindings expose per-token P but not the model's
// no-speech probability, so the speech-presence complement is estimated as
// 1 - mean(P), saturating to 1 for bracketed noise annotations like
// "[BLANK_AUDIO]" or "(music)".
func scoreSegment(text string, tokens []whisper.Token) Segment {
	var sumLog, sumP float64
	n := 0
	for _, tok := range tokens {
		p := float64(tok.P)
		if p <= 0 {
			continue
		}
		sumLog += math.Log(p)
		sumP += p
		n++
	}

	seg := Segment{Text: text}
	if n > 0 {
		seg.AvgLogProb = sumLog / float64(n)
		seg.NoSpeechProb = 1 - sumP/float64(n)
	}
	if isNoiseAnnotation(text) {
		seg.NoSpeechProb = 1
	}
	return seg
}

// isNoiseAnnotation reports whether text is a whisper non-speech marker.
func isNoiseAnnotation(text string) bool {
	if len(text) < 2 {
		return false
	}
	first, last := text[0], text[len(text)-1]
	return (first == '[' && last == ']') || (first == '(' && last == ')')
}
