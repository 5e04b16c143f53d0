package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/MikeSquared-Agency/tally/internal/extractor"
	"github.com/MikeSquared-Agency/tally/internal/hermes"
	"github.com/MikeSquared-Agency/tally/internal/observability"
	"github.com/MikeSquared-Agency/tally/internal/provider"
	"github.com/MikeSquared-Agency/tally/internal/roster"
)

const handlerTimeout = 3 * time.Minute

// Processor holds the active provider adapter and runs the ingest pipeline:
// roster load, extraction, persistence, then notification.
type Processor struct {
	registry *provider.Registry
	roster   roster.Store
	activity roster.ActivityStore
	events   hermes.Publisher
	logger   *zap.Logger

	mu      sync.RWMutex
	adapter *provider.Adapter
}

func New(reg *provider.Registry, rs roster.Store, as roster.ActivityStore, events hermes.Publisher, logger *zap.Logger) *Processor {
	if events == nil {
		events = hermes.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		registry: reg,
		roster:   rs,
		activity: as,
		events:   events,
		logger:   logger,
	}
}

// Configure replaces the active adapter. On failure the previous adapter
// stays active.
func (p *Processor) Configure(cfg provider.Config) error {
	a, err := p.registry.CreateService(cfg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.adapter = a
	p.mu.Unlock()

	p.logger.Info("provider configured", zap.String("provider", cfg.Provider), zap.String("model", cfg.Model))
	return nil
}

// Active returns the active provider config, if any.
func (p *Processor) Active() (provider.Config, bool) {
	a := p.current()
	if a == nil {
		return provider.Config{}, false
	}
	return a.Config()
}

func (p *Processor) current() *provider.Adapter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.adapter
}

// ParseMessages runs one extraction with the active adapter. Provider
// errors are returned unchanged.
func (p *Processor) ParseMessages(ctx context.Context, text string, participants []roster.Participant, language string) (*extractor.Result, error) {
	a := p.current()
	if a == nil {
		return nil, &provider.Error{Kind: provider.KindConfiguration, Message: "AI provider not configured"}
	}
	return a.ParseMessages(ctx, text, participants, language)
}

// TestConnection probes cfg with a fresh adapter; no prior Configure is
// needed.
func TestConnection(ctx context.Context, reg *provider.Registry, cfg provider.Config) provider.ConnectionResult {
	a, err := reg.GetProvider(cfg.Provider)
	if err != nil {
		return provider.ConnectionResult{Error: err.Error()}
	}
	return a.TestConnection(ctx, cfg)
}

// Ingest extracts reports from text and stores them. New participants are
// written before any activity record; nothing is rolled back if a later
// write fails.
func (p *Processor) Ingest(ctx context.Context, text, language string) (*extractor.Result, error) {
	start := time.Now()
	cfg, _ := p.Active()

	res, err := p.ingest(ctx, text, language)
	if err != nil {
		outcome := "storage"
		var pe *provider.Error
		if errors.As(err, &pe) {
			outcome = string(pe.Kind)
		}
		observability.RecordExtraction(cfg.Provider, outcome, time.Since(start))
		return nil, err
	}

	observability.RecordExtraction(cfg.Provider, observability.OutcomeOK, time.Since(start))
	observability.RecordStored(len(res.NewParticipants), len(res.Records))

	minted := make([]uuid.UUID, len(res.NewParticipants))
	for i, np := range res.NewParticipants {
		minted[i] = np.ID
	}
	evt := hermes.ExtractionCompleted{
		Provider:        cfg.Provider,
		Model:           cfg.Model,
		NewParticipants: minted,
		Records:         len(res.Records),
		DurationMS:      time.Since(start).Milliseconds(),
		CompletedAt:     time.Now().UTC(),
	}
	if err := p.events.Publish(hermes.SubjectExtractionCompleted, evt); err != nil {
		p.logger.Warn("publish completion failed", zap.Error(err))
	}

	p.logger.Info("ingest complete",
		zap.String("provider", cfg.Provider),
		zap.Int("new_participants", len(res.NewParticipants)),
		zap.Int("records", len(res.Records)),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (p *Processor) ingest(ctx context.Context, text, language string) (*extractor.Result, error) {
	participants, err := p.roster.LoadAll(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load roster")
	}

	res, err := p.ParseMessages(ctx, text, participants, language)
	if err != nil {
		return nil, err
	}

	if err := p.roster.Upsert(ctx, res.NewParticipants); err != nil {
		return nil, eris.Wrap(err, "ingest: save new participants")
	}
	for _, rec := range res.Records {
		if err := p.activity.UpsertByParticipant(ctx, rec); err != nil {
			return nil, eris.Wrapf(err, "ingest: save record for %s", rec.ParticipantID)
		}
	}
	return res, nil
}

// HandleMessagesSubmitted is the NATS handler for tally.messages.submitted.
func (p *Processor) HandleMessagesSubmitted(subject string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var msg hermes.MessagesSubmitted
	if err := json.Unmarshal(data, &msg); err != nil {
		p.logger.Error("failed to parse submission", zap.String("subject", subject), zap.Error(err))
		return
	}

	p.logger.Info("processing submission", zap.Int("text_len", len(msg.Text)), zap.String("language", msg.Language))

	if _, err := p.Ingest(ctx, msg.Text, msg.Language); err != nil {
		cfg, _ := p.Active()
		p.logger.Error("ingest failed", zap.String("kind", string(provider.KindOf(err))), zap.Error(err))

		failed := hermes.ExtractionFailed{
			Provider: cfg.Provider,
			Kind:     string(provider.KindOf(err)),
			Error:    err.Error(),
			FailedAt: time.Now().UTC(),
		}
		if perr := p.events.Publish(hermes.SubjectExtractionFailed, failed); perr != nil {
			p.logger.Warn("publish failure event failed", zap.Error(perr))
		}
	}
}
