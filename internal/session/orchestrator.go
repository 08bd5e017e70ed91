// Package session ties the masking and restoration engines to the mapping
// store and exposes the three caller-facing operations.
package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/metrics"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/store"
)

// EventSink receives audit events. Events never carry original values.
type EventSink interface {
	PublishMasked(sessionID string, findings []privacy.Finding)
	PublishRestored(sessionID string, restored, unresolved int)
	PublishCleared(sessionID string, all bool)
}

// ProcessResult holds every stage of a process call plus the session's
// mappings afterwards.
type ProcessResult struct {
	SanitizedText string          `json:"sanitized_text"`
	ProcessedText string          `json:"processed_text"`
	RestoredText  string          `json:"restored_text"`
	Mappings      []store.Mapping `json:"mappings"`
}

// Orchestrator is safe for concurrent use; per-session state lives in the
// store only.
type Orchestrator struct {
	masker    *privacy.Masker
	restorer  *privacy.Restorer
	store     store.Store
	processor Processor
	events    EventSink
	logger    *logger.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProcessor sets the step run between sanitize and restore.
func WithProcessor(p Processor) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.processor = p
		}
	}
}

// WithEvents publishes audit events to sink.
func WithEvents(sink EventSink) Option {
	return func(o *Orchestrator) { o.events = sink }
}

// New creates an orchestrator over the given engines and store.
func New(masker *privacy.Masker, restorer *privacy.Restorer, st store.Store, log *logger.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		masker:    masker,
		restorer:  restorer,
		store:     st,
		processor: IdentityProcessor{},
		logger:    log.WithComponent("session"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Sanitize masks text and replaces the session's mappings.
func (o *Orchestrator) Sanitize(ctx context.Context, text, sessionID string) (string, error) {
	res, err := o.masker.Sanitize(ctx, text, sessionID)
	if err != nil {
		return "", err
	}
	if o.events != nil && len(res.Findings) > 0 {
		o.events.PublishMasked(sessionID, res.Findings)
	}
	return res.MaskedText, nil
}

// Restore substitutes the session's masked tokens with their originals.
func (o *Orchestrator) Restore(ctx context.Context, text, sessionID string) (string, error) {
	res, err := o.restorer.Restore(ctx, text, sessionID)
	if err != nil {
		return "", err
	}
	if o.events != nil {
		o.events.PublishRestored(sessionID, res.Restored, res.Unresolved)
	}
	if res.Unresolved > 0 {
		o.logger.WithSession(sessionID).Debug("Masked tokens left unresolved", zap.Int("count", res.Unresolved))
	}
	return res.Text, nil
}

// Process runs sanitize, the configured processor and restore in sequence.
func (o *Orchestrator) Process(ctx context.Context, text, sessionID string) (*ProcessResult, error) {
	defer metrics.ObserveSince("process", time.Now())

	sanitized, err := o.Sanitize(ctx, text, sessionID)
	if err != nil {
		return nil, err
	}

	processed, err := o.processor.Process(ctx, sanitized)
	if err != nil {
		return nil, fmt.Errorf("failed to process sanitized text: %w", err)
	}

	restored, err := o.Restore(ctx, processed, sessionID)
	if err != nil {
		return nil, err
	}

	mappings, err := o.Mappings(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &ProcessResult{
		SanitizedText: sanitized,
		ProcessedText: processed,
		RestoredText:  restored,
		Mappings:      mappings,
	}, nil
}

// Mappings lists the session's mappings oldest first.
func (o *Orchestrator) Mappings(ctx context.Context, sessionID string) ([]store.Mapping, error) {
	mappings, err := o.store.List(ctx, sessionID)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	return mappings, nil
}

// Clear deletes the mappings of one session.
func (o *Orchestrator) Clear(ctx context.Context, sessionID string) error {
	if err := o.store.Clear(ctx, sessionID); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("clear").Inc()
		return fmt.Errorf("failed to clear session: %w", err)
	}
	o.logger.WithSession(sessionID).Info("Session cleared")
	if o.events != nil {
		o.events.PublishCleared(sessionID, false)
	}
	return nil
}

// Purge deletes every mapping of every session.
func (o *Orchestrator) Purge(ctx context.Context) error {
	if err := o.store.Purge(ctx); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("purge").Inc()
		return fmt.Errorf("failed to purge mappings: %w", err)
	}
	o.logger.Info("All mappings purged")
	if o.events != nil {
		o.events.PublishCleared("", true)
	}
	return nil
}

// Ping checks the mapping store.
func (o *Orchestrator) Ping(ctx context.Context) error {
	return o.store.Ping(ctx)
}
