package bootstrap

import (
	"errors"
	"fmt"

	"speakdrill/internal/audio"
	"speakdrill/internal/auth"
	"speakdrill/internal/config"
	"speakdrill/internal/outbox"
	"speakdrill/internal/pkg/logger"
	"speakdrill/internal/ports"
	"speakdrill/internal/providers/deepgram"
	"speakdrill/internal/providers/gemini"
	"speakdrill/internal/remote"
	"speakdrill/internal/rules"
	"speakdrill/internal/store"
	"speakdrill/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Store      *store.Store
	Controller *usecase.RecordingController
	Auth       *auth.Session
	Config     config.Config
	Logger     logger.Logger

	closers []func() error
}

// Close releases the outbox database and flushes logs.
func (s Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build wires all backend dependencies for the current runtime.
func Build(events ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	log := logger.New(logger.Options{
		FilePath:   cfg.Log.FilePath,
		Production: cfg.Log.Production,
		Console:    cfg.Log.Console,
	})
	services := Services{Config: cfg, Logger: log}
	services.closers = append(services.closers, func() error {
		_ = log.Sync()
		return nil
	})

	fail := func(err error) (Services, error) {
		_ = services.Close()
		return Services{}, err
	}

	rulesEngine, err := rules.Load(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return fail(err)
	}

	session := auth.NewSession(nil)
	if cfg.Auth.Token != "" {
		if _, err := session.SignIn(cfg.Auth.Token); err != nil {
			log.Warn("bootstrap", "configured token rejected", map[string]interface{}{"error": err.Error()})
		}
	}
	services.Auth = session

	client, err := remote.NewClient(remote.Config{BaseURL: cfg.Remote.BaseURL, Timeout: cfg.Remote.Timeout}, session)
	if err != nil {
		return fail(fmt.Errorf("configure topic service: %w", err))
	}

	pending, err := outbox.Open(cfg.Storage.OutboxPath)
	if err != nil {
		return fail(fmt.Errorf("open outbox: %w", err))
	}
	services.closers = append(services.closers, pending.Close)

	topics := store.New(client, store.WithOutbox(pending), store.WithLogger(log))
	services.Store = topics

	services.Controller = usecase.NewRecordingController(
		usecase.Dependencies{
			Audio: audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
			Transcriber: deepgram.NewTranscriber(deepgram.Config{
				APIKey:          cfg.Deepgram.APIKey,
				APIBaseURL:      cfg.Deepgram.APIBaseURL,
				Model:           cfg.Deepgram.Model,
				Language:        cfg.Deepgram.Language,
				SmartFormat:     cfg.Deepgram.SmartFormat,
				ChunkSize:       cfg.Session.ChunkSize,
				FinalizeTimeout: cfg.Session.FinalizeTimeout,
			}),
			Analyzer: gemini.NewAnalyzer(gemini.Config{
				APIKey:  cfg.Gemini.APIKey,
				Model:   cfg.Gemini.Model,
				BaseURL: cfg.Gemini.BaseURL,
			}),
			Rules:    rulesEngine,
			Sessions: topics,
			Topics:   topics,
			Events:   events,
			Logger:   log,
		},
		usecase.Config{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
				OutputDir:   cfg.Audio.RecordingsDir,
			},
			AnalysisTimeout: cfg.Session.AnalysisTimeout,
		},
	)

	log.Info("bootstrap", "services ready", map[string]interface{}{
		"config_file": cfg.File,
		"remote":      cfg.Remote.BaseURL,
		"outbox":      cfg.Storage.OutboxPath,
		"rules":       rulesEngine.Len(),
	})
	return services, nil
}
