package provider

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/MikeSquared-Agency/tally/internal/extractor"
	"github.com/MikeSquared-Agency/tally/internal/roster"
)

// Adapter gives every backend the same four operations. An adapter holds
// at most one configuration; Configure must not run concurrently with
// ParseMessages on the same adapter.
type Adapter struct {
	backend *Backend
	http    *http.Client
	logger  *zap.Logger

	cfg       Config
	transport Transport
}

// NewAdapter returns an unconfigured adapter for b. A nil http client means
// each transport uses its own default.
func NewAdapter(b *Backend, hc *http.Client, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		backend: b,
		http:    hc,
		logger:  logger.With(zap.String("provider", b.ID)),
	}
}

func (a *Adapter) ID() string { return a.backend.ID }

func (a *Adapter) Info() BackendInfo { return a.backend.Info() }

// Config returns the active configuration and whether there is one.
func (a *Adapter) Config() (Config, bool) {
	return a.cfg, a.transport != nil
}

// ValidateConfig reports whether cfg names this backend and carries a key
// and a model.
func (a *Adapter) ValidateConfig(cfg Config) bool {
	return cfg.Provider == a.backend.ID && cfg.APIKey != "" && cfg.Model != ""
}

// TestConnection sends a tiny completion with cfg. It never fails; the
// outcome is reported in the result.
func (a *Adapter) TestConnection(ctx context.Context, cfg Config) ConnectionResult {
	if !a.ValidateConfig(cfg) {
		return ConnectionResult{Error: "Invalid configuration"}
	}

	start := time.Now()
	_, err := a.backend.NewTransport(cfg, a.http).Complete(ctx, CompletionRequest{
		User:        probeMessage,
		MaxTokens:   probeMaxTokens,
		Temperature: extractionTemperature,
	})
	if err != nil {
		msg := connectionMessage(a.backend, err)
		a.logger.Warn("connection test failed",
			zap.String("model", cfg.Model),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return ConnectionResult{Error: msg}
	}

	a.logger.Info("connection test ok",
		zap.String("model", cfg.Model),
		zap.Duration("duration", time.Since(start)))
	return ConnectionResult{Success: true}
}

// Configure validates cfg and builds the transport used by ParseMessages.
func (a *Adapter) Configure(cfg Config) error {
	if !a.ValidateConfig(cfg) {
		return configError(a.backend.ID, "Invalid "+a.backend.Name+" configuration")
	}
	a.cfg = cfg
	a.transport = a.backend.NewTransport(cfg, a.http)
	return nil
}

// ParseMessages asks the model to extract activity reports from text and
// reconciles them against participants.
func (a *Adapter) ParseMessages(ctx context.Context, text string, participants []roster.Participant, language string) (*extractor.Result, error) {
	if a.transport == nil {
		return nil, configError(a.backend.ID, a.backend.Name+" not configured")
	}

	prompts := extractor.BuildPrompts(text, participants, language)
	start := time.Now()
	log := a.logger.With(
		zap.String("model", a.cfg.Model),
		zap.Int("text_len", len(text)),
		zap.Int("roster_size", len(participants)),
	)

	raw, err := a.transport.Complete(ctx, CompletionRequest{
		System:      prompts.System,
		User:        prompts.User,
		MaxTokens:   extractionMaxTokens,
		Temperature: extractionTemperature,
	})
	if err != nil {
		pe := classify(a.backend, err)
		log.Warn("completion failed",
			zap.String("kind", string(pe.Kind)),
			zap.Int("status", pe.StatusCode),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, pe
	}

	answer, err := extractor.ParseAnswer(raw)
	if err != nil {
		log.Warn("unusable completion",
			zap.Int("response_len", len(raw)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, classify(a.backend, err)
	}

	res := extractor.Reconcile(answer, participants)
	log.Info("messages parsed",
		zap.Int("reports", len(res.Records)),
		zap.Int("new_participants", len(res.NewParticipants)),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}
