package batch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"portraitstudio/internal/domain"
	"portraitstudio/internal/portrait"
)

// Normalizer prepares the uploaded photo once per batch.
type Normalizer interface {
	Normalize(ctx context.Context, buf domain.ImageBuffer) (domain.ImageBuffer, error)
}

// Synthesizer renders one style.
type Synthesizer interface {
	Synthesize(ctx context.Context, img domain.ImageBuffer, style domain.StyleVariant) (portrait.Outcome, error)
}

// Uploader persists a rendered artifact and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, artifactID string) (string, error)
}

// Recorder stores artifact provenance.
type Recorder interface {
	Record(ctx context.Context, meta domain.ArtifactMetadata) (bool, error)
}

// Progress is reported before each style is rendered. Index is 1-based.
type Progress struct {
	Index int
	Total int
	Style domain.StyleVariant
}

// Request describes one batch.
type Request struct {
	Image      domain.ImageBuffer
	Styles     []domain.StyleVariant
	OnProgress func(Progress)
}

// Orchestrator ties normalizer, synthesizer, storage and registry together.
type Orchestrator struct {
	normalizer  Normalizer
	synthesizer Synthesizer
	uploader    Uploader
	recorder    Recorder
	pacer       Pacer
	logger      zerolog.Logger
	now         func() time.Time
	newID       func() string
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Normalizer  Normalizer
	Synthesizer Synthesizer
	Uploader    Uploader
	Recorder    Recorder
	Pacer       Pacer
	Logger      *zerolog.Logger
}

// NewOrchestrator wires deps.
func NewOrchestrator(deps Deps) *Orchestrator {
	o := &Orchestrator{
		normalizer:  deps.Normalizer,
		synthesizer: deps.Synthesizer,
		uploader:    deps.Uploader,
		recorder:    deps.Recorder,
		pacer:       deps.Pacer,
		logger:      zerolog.New(io.Discard),
		now:         time.Now,
		newID:       domain.NewSessionID,
	}
	if deps.Logger != nil {
		o.logger = *deps.Logger
	}
	return o
}

// Generate renders every requested style, in order, and returns the session
// with one result per style. Any upload or registry failure aborts the run.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*domain.Session, error) {
	styles := req.Styles
	if len(styles) == 0 {
		return nil, domain.Errorf(domain.KindInvalidRequest, "at least one style is required")
	}
	seen := make(map[domain.StyleVariant]struct{}, len(styles))
	for _, s := range styles {
		if !s.Known() {
			return nil, domain.Errorf(domain.KindInvalidRequest, "unknown style %q", s)
		}
		if _, dup := seen[s]; dup {
			return nil, domain.Errorf(domain.KindInvalidRequest, "style %q requested twice", s)
		}
		seen[s] = struct{}{}
	}

	normalized, err := o.normalizer.Normalize(ctx, req.Image)
	if err != nil {
		return nil, err
	}

	session := &domain.Session{
		ID:        o.newID(),
		Results:   make([]domain.GenerationResult, 0, len(styles)),
		CreatedAt: o.now().UTC(),
	}
	log := o.logger.With().Str("session_id", session.ID).Logger()
	log.Info().Int("styles", len(styles)).Msg("batch: started")

	err = o.pacer.Run(ctx, len(styles), func(ctx context.Context, i int) error {
		style := styles[i]
		o.report(log, req.OnProgress, Progress{Index: i + 1, Total: len(styles), Style: style})

		result, err := o.renderOne(ctx, session.ID, normalized, req.Image, style)
		if err != nil {
			return err
		}
		session.Results = append(session.Results, result)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Int("completed", len(session.Results)).Msg("batch: aborted")
		return nil, err
	}
	log.Info().Int("completed", len(session.Results)).Msg("batch: finished")
	return session, nil
}

func (o *Orchestrator) renderOne(ctx context.Context, sessionID string, img, original domain.ImageBuffer, style domain.StyleVariant) (domain.GenerationResult, error) {
	outcome, err := o.synthesizer.Synthesize(ctx, img, style)
	if err != nil {
		return domain.GenerationResult{}, err
	}
	artifactID := domain.ArtifactID(sessionID, style)
	url, err := o.uploader.Upload(ctx, outcome.Data, artifactID)
	if err != nil {
		return domain.GenerationResult{}, err
	}
	_, err = o.recorder.Record(ctx, domain.ArtifactMetadata{
		ArtifactID:       artifactID,
		Style:            style,
		URL:              url,
		OriginalFilename: original.Filename,
		OriginalMIMEType: original.MIMEType,
		SessionID:        sessionID,
		CreatedAt:        o.now().UTC(),
	})
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("batch: record %s: %w", artifactID, err)
	}
	o.logger.Debug().
		Str("artifact_id", artifactID).
		Str("branch", string(outcome.Branch)).
		Msg("batch: style rendered")
	return domain.GenerationResult{ArtifactID: artifactID, Style: style, URL: url}, nil
}

func (o *Orchestrator) report(log zerolog.Logger, fn func(Progress), p Progress) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Int("index", p.Index).Msg("batch: progress observer panicked")
		}
	}()
	fn(p)
}
