package board

import (
	"context"
	"sync"
	"time"

	"github.com/funilcrm/backend/internal/leads"
	"go.uber.org/zap"
)

// Backend is the slice of the lead persistence service the board consumes.
type Backend interface {
	ListLeads(ctx context.Context, filter leads.LeadFilter) ([]leads.Lead, error)
	ApplyMoves(ctx context.Context, updates []leads.LeadUpdate) error
	ListPipelines(ctx context.Context, subOriginID string) ([]leads.Pipeline, error)
	ListActiveAutomationRules(ctx context.Context) ([]leads.AutomationRule, error)
}

// ManagerConfig bundles the collaborators shared by all board views.
type ManagerConfig struct {
	Backend      Backend
	Notifier     Notifier
	Tracker      Tracker
	Alerter      Alerter
	Publisher    Publisher
	Logger       *zap.Logger
	Clock        func() time.Time
	SettleWindow time.Duration
}

// View is one sub-origin's live board: its lead mirror, its engine, and the
// pipeline reference data sessions resolve targets against.
type View struct {
	SubOriginID string
	Store       *Store
	Engine      *Engine
	Pipelines   []leads.Pipeline
}

// NewSession starts a drag session tracker over this view.
func (v *View) NewSession() *Session {
	return NewSession(v.Store, v.Pipelines)
}

// Manager lazily materializes one View per sub-origin and keeps each mirror
// live by routing realtime feed events into it.
type Manager struct {
	mu     sync.Mutex
	views  map[string]*View
	config ManagerConfig
}

// NewManager validates configuration and constructs the registry.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Backend == nil {
		return nil, newServiceError("board.manager.new", "missing_backend", errMissingFetcher)
	}
	if cfg.Logger == nil {
		cfg.Logger = noOpLogger
	}
	return &Manager{
		views:  make(map[string]*View),
		config: cfg,
	}, nil
}

// View returns the board view for a sub-origin, fetching leads, pipelines,
// and automation rules on first access.
func (m *Manager) View(ctx context.Context, subOriginID string) (*View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if view, ok := m.views[subOriginID]; ok {
		return view, nil
	}

	list, err := m.config.Backend.ListLeads(ctx, leads.LeadFilter{SubOriginID: subOriginID})
	if err != nil {
		return nil, err
	}
	pipelines, err := m.config.Backend.ListPipelines(ctx, subOriginID)
	if err != nil {
		return nil, err
	}
	rules, err := m.config.Backend.ListActiveAutomationRules(ctx)
	if err != nil {
		return nil, err
	}

	store := NewStore(StoreConfig{Clock: m.config.Clock, SettleWindow: m.config.SettleWindow})
	store.Replace(list)

	engine, err := NewEngine(EngineConfig{
		Store:       store,
		Mutator:     m.config.Backend,
		Fetcher:     m.config.Backend,
		Rules:       NewRuleTable(rules),
		Pipelines:   pipelines,
		SubOriginID: subOriginID,
		Notifier:    m.config.Notifier,
		Tracker:     m.config.Tracker,
		Alerter:     m.config.Alerter,
		Publisher:   m.config.Publisher,
		Views:       m,
		Logger:      m.config.Logger,
	})
	if err != nil {
		return nil, err
	}

	view := &View{
		SubOriginID: subOriginID,
		Store:       store,
		Engine:      engine,
		Pipelines:   pipelines,
	}
	m.views[subOriginID] = view
	return view, nil
}

// Invalidate drops a cached view so the next access re-fetches it.
func (m *Manager) Invalidate(subOriginID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.views, subOriginID)
}

// HandleRemoteEvent folds a realtime change into the matching view's store,
// if the view is materialized. Suppressed echoes report false.
func (m *Manager) HandleRemoteEvent(subOriginID string, event ChangeEvent) bool {
	m.mu.Lock()
	view, ok := m.views[subOriginID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return view.Store.ApplyRemoteEvent(event)
}
