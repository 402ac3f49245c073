package board

import (
	"context"
	"errors"
	"fmt"

	"github.com/funilcrm/backend/internal/leads"
	"go.uber.org/zap"
)

var (
	errMissingStore   = errors.New("store is required")
	errMissingMutator = errors.New("mutator is required")
	errMissingFetcher = errors.New("fetcher is required")
	noOpLogger        = zap.NewNop()
)

// ServiceError wraps a failure with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opEngineNew = "board.engine.new"
	opDropEnd   = "board.drop_end"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Mutator applies a move batch to the remote store. Implementations commit
// the batch atomically where the store supports it; per-row updates remain
// independently idempotent either way.
type Mutator interface {
	ApplyMoves(ctx context.Context, updates []leads.LeadUpdate) error
}

// Fetcher re-reads the remote store, the coarse recovery path after a
// same-pipeline reorder fails mid-batch.
type Fetcher interface {
	ListLeads(ctx context.Context, filter leads.LeadFilter) ([]leads.Lead, error)
}

// MoveEvent carries the before/after identifiers of a completed move for
// the webhook and tracking sinks.
type MoveEvent struct {
	Lead             leads.Lead
	SubOriginID      string
	FromPipelineID   string
	ToPipelineID     string
	FromPipelineName string
	ToPipelineName   string
}

// Notifier is the webhook/automation trigger sink. Failures never affect
// the move's success.
type Notifier interface {
	NotifyLeadMoved(ctx context.Context, event MoveEvent) error
}

// Tracker is the analytics sink recording pipeline transitions.
type Tracker interface {
	RecordMove(ctx context.Context, event MoveEvent) error
}

// Alerter surfaces non-blocking user-visible failure notifications.
type Alerter interface {
	Alert(message string)
}

// Publisher fans a lead change out to the realtime feed so other open
// views observe the move.
type Publisher interface {
	PublishLeadChange(subOriginID string, changeType ChangeType, leadIDs []string)
}

// ViewInvalidator drops another partition's cached board view. An automation
// transfer mutates a partition this engine does not mirror; the destination
// view must re-fetch before its next drop resolves against it.
type ViewInvalidator interface {
	Invalidate(subOriginID string)
}

// EngineConfig bundles the collaborators of a board engine.
type EngineConfig struct {
	Store       *Store
	Mutator     Mutator
	Fetcher     Fetcher
	Rules       RuleTable
	Pipelines   []leads.Pipeline
	SubOriginID string
	Notifier    Notifier
	Tracker     Tracker
	Alerter     Alerter
	Publisher   Publisher
	Views       ViewInvalidator
	Logger      *zap.Logger
}

// Engine resolves completed drag gestures against the store, writes the
// outcome through to the remote store, and reconciles or rolls back the
// optimistic local state. It is the only component that mutates the store
// outside of the initial fetch and the realtime feed.
type Engine struct {
	store       *Store
	resolver    *Resolver
	mutator     Mutator
	fetcher     Fetcher
	pipelines   map[string]leads.Pipeline
	subOriginID string
	notifier    Notifier
	tracker     Tracker
	alerter     Alerter
	publisher   Publisher
	views       ViewInvalidator
	logger      *zap.Logger

	// drops is the single-slot in-flight guard: a gesture completing while
	// a previous batch persists queues behind it instead of racing it.
	drops chan struct{}
}

// NewEngine validates configuration and constructs the engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opEngineNew, "missing_store", errMissingStore)
	}
	if cfg.Mutator == nil {
		return nil, newServiceError(opEngineNew, "missing_mutator", errMissingMutator)
	}
	if cfg.Fetcher == nil {
		return nil, newServiceError(opEngineNew, "missing_fetcher", errMissingFetcher)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	pipelines := make(map[string]leads.Pipeline, len(cfg.Pipelines))
	for _, pipeline := range cfg.Pipelines {
		pipelines[pipeline.PipelineID] = pipeline
	}

	drops := make(chan struct{}, 1)
	drops <- struct{}{}

	return &Engine{
		store:       cfg.Store,
		resolver:    NewResolver(cfg.Store, cfg.Rules),
		mutator:     cfg.Mutator,
		fetcher:     cfg.Fetcher,
		pipelines:   pipelines,
		subOriginID: cfg.SubOriginID,
		notifier:    cfg.Notifier,
		tracker:     cfg.Tracker,
		alerter:     cfg.Alerter,
		publisher:   cfg.Publisher,
		views:       cfg.Views,
		logger:      logger,
		drops:       drops,
	}, nil
}

// Store exposes the engine's lead mirror.
func (e *Engine) Store() *Store {
	return e.store
}

// DropEnd resolves a completed drag gesture and persists its outcome.
// Resolution failures (no destination, unknown indices, self-drops) are
// silent no-ops. Persistence failures roll the optimistic state back, raise
// one user-visible alert, and return the wrapped error.
func (e *Engine) DropEnd(ctx context.Context, leadID string, indicator DropIndicator) (Resolution, error) {
	select {
	case <-e.drops:
	case <-ctx.Done():
		return Resolution{Kind: ResolutionNone, LeadID: leadID}, ctx.Err()
	}
	defer func() { e.drops <- struct{}{} }()

	dragged, ok := e.store.Get(leadID)
	if !ok {
		return Resolution{Kind: ResolutionNone, LeadID: leadID}, nil
	}

	resolution := e.resolver.Resolve(dragged, indicator)
	switch resolution.Kind {
	case ResolutionReorder:
		return resolution, e.persistReorder(ctx, dragged, resolution)
	case ResolutionTransfer:
		return resolution, e.persistTransfer(ctx, dragged, resolution)
	case ResolutionAutomation:
		return resolution, e.persistAutomation(ctx, dragged, resolution)
	default:
		return resolution, nil
	}
}

func (e *Engine) persistReorder(ctx context.Context, dragged leads.Lead, resolution Resolution) error {
	if err := e.store.BeginOperation(updateIDs(resolution.Updates)...); err != nil {
		return newServiceError(opDropEnd, "store_busy", err)
	}
	e.applyOptimistic(resolution.Updates)
	e.store.MarkReconciling()

	if err := e.mutator.ApplyMoves(ctx, resolution.Updates); err != nil {
		e.logger.Error("reorder persistence failed",
			zap.String("lead_id", dragged.LeadID),
			zap.String("pipeline_id", resolution.ToPipelineID),
			zap.Error(err))
		e.alert("Failed to save the new lead order.")
		// Partial reordering has no clean single-field undo; recover by
		// re-fetching the whole view.
		e.refetch(ctx)
		return newServiceError(opDropEnd, "persist_failed", err)
	}

	e.store.CompleteOperation()
	e.emitMoveSideEffects(ctx, dragged, resolution)
	e.publish(ChangeUpdate, updateIDs(resolution.Updates))
	return nil
}

func (e *Engine) persistTransfer(ctx context.Context, dragged leads.Lead, resolution Resolution) error {
	if err := e.store.BeginOperation(updateIDs(resolution.Updates)...); err != nil {
		return newServiceError(opDropEnd, "store_busy", err)
	}
	e.applyOptimistic(resolution.Updates)
	e.store.MarkReconciling()

	if err := e.mutator.ApplyMoves(ctx, resolution.Updates); err != nil {
		e.logger.Error("transfer persistence failed",
			zap.String("lead_id", dragged.LeadID),
			zap.String("from_pipeline_id", resolution.FromPipelineID),
			zap.String("to_pipeline_id", resolution.ToPipelineID),
			zap.Error(err))
		e.alert("Failed to move the lead.")
		if current, ok := e.store.Get(dragged.LeadID); ok {
			current.PipelineID = dragged.PipelineID
			e.store.ApplyLocal(current)
		}
		e.store.AbortOperation()
		return newServiceError(opDropEnd, "persist_failed", err)
	}

	e.store.CompleteOperation()
	e.emitMoveSideEffects(ctx, dragged, resolution)
	e.publish(ChangeUpdate, updateIDs(resolution.Updates))
	return nil
}

func (e *Engine) persistAutomation(ctx context.Context, dragged leads.Lead, resolution Resolution) error {
	if err := e.store.BeginOperation(dragged.LeadID); err != nil {
		return newServiceError(opDropEnd, "store_busy", err)
	}
	removed, removedOK := e.store.RemoveLocal(dragged.LeadID)
	e.store.MarkReconciling()

	if err := e.mutator.ApplyMoves(ctx, resolution.Updates); err != nil {
		e.logger.Error("automation transfer failed",
			zap.String("lead_id", dragged.LeadID),
			zap.String("to_sub_origin_id", resolution.ToSubOriginID),
			zap.String("to_pipeline_id", resolution.ToPipelineID),
			zap.Error(err))
		e.alert("Failed to transfer the lead.")
		// A remote delete may have emptied the slot before the operation
		// held it; reinserting a zero value would plant a phantom lead.
		if removedOK {
			e.store.ApplyLocal(removed)
		}
		e.store.AbortOperation()
		return newServiceError(opDropEnd, "persist_failed", err)
	}

	e.store.CompleteOperation()
	e.publish(ChangeDelete, []string{dragged.LeadID})
	if resolution.ToSubOriginID != e.subOriginID {
		if e.views != nil {
			e.views.Invalidate(resolution.ToSubOriginID)
		}
		if e.publisher != nil {
			e.publisher.PublishLeadChange(resolution.ToSubOriginID, ChangeInsert, []string{dragged.LeadID})
		}
	}
	return nil
}

// applyOptimistic patches the mirror before any network round-trip so the
// view reflects the new order immediately.
func (e *Engine) applyOptimistic(updates []leads.LeadUpdate) {
	patched := make([]leads.Lead, 0, len(updates))
	for _, update := range updates {
		lead, ok := e.store.Get(update.LeadID)
		if !ok {
			continue
		}
		lead.Ordem = update.Ordem
		if update.PipelineID != nil {
			lead.PipelineID = *update.PipelineID
		}
		if update.SubOriginID != nil {
			lead.SubOriginID = *update.SubOriginID
		}
		patched = append(patched, lead)
	}
	e.store.ApplyLocal(patched...)
}

func (e *Engine) refetch(ctx context.Context) {
	list, err := e.fetcher.ListLeads(ctx, leads.LeadFilter{SubOriginID: e.subOriginID})
	if err != nil {
		e.logger.Error("view refetch failed", zap.String("sub_origin_id", e.subOriginID), zap.Error(err))
		e.store.AbortOperation()
		return
	}
	e.store.Replace(list)
}

// emitMoveSideEffects fires the webhook and tracking sinks. Their failures
// are logged and never roll back the move.
func (e *Engine) emitMoveSideEffects(ctx context.Context, dragged leads.Lead, resolution Resolution) {
	event := MoveEvent{
		Lead:             dragged,
		SubOriginID:      dragged.SubOriginID,
		FromPipelineID:   resolution.FromPipelineID,
		ToPipelineID:     resolution.ToPipelineID,
		FromPipelineName: e.pipelineName(resolution.FromPipelineID),
		ToPipelineName:   e.pipelineName(resolution.ToPipelineID),
	}

	if e.notifier != nil {
		if err := e.notifier.NotifyLeadMoved(ctx, event); err != nil {
			e.logger.Warn("lead moved webhook failed", zap.String("lead_id", dragged.LeadID), zap.Error(err))
		}
	}
	if e.tracker != nil {
		if err := e.tracker.RecordMove(ctx, event); err != nil {
			e.logger.Warn("lead move tracking failed", zap.String("lead_id", dragged.LeadID), zap.Error(err))
		}
	}
}

func (e *Engine) publish(changeType ChangeType, leadIDs []string) {
	if e.publisher == nil {
		return
	}
	e.publisher.PublishLeadChange(e.subOriginID, changeType, leadIDs)
}

func (e *Engine) alert(message string) {
	if e.alerter != nil {
		e.alerter.Alert(message)
	}
}

func (e *Engine) pipelineName(pipelineID string) string {
	if pipeline, ok := e.pipelines[pipelineID]; ok {
		return pipeline.Name
	}
	return ""
}

func updateIDs(updates []leads.LeadUpdate) []string {
	ids := make([]string, 0, len(updates))
	for _, update := range updates {
		ids = append(ids, update.LeadID)
	}
	return ids
}
