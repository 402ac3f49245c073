package board

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/funilcrm/backend/internal/leads"
)

const defaultSettleWindow = 400 * time.Millisecond

// ErrOperationInFlight indicates a second board operation tried to diverge
// the store while one was still reconciling.
var ErrOperationInFlight = errors.New("board: operation already in flight")

// SyncState tracks how the in-memory mirror relates to the remote store.
type SyncState int

const (
	// StateSynced means the mirror matches the last known remote state.
	StateSynced SyncState = iota
	// StateDiverged means an optimistic local mutation is in progress.
	StateDiverged
	// StateReconciling means the mutation has been handed to the remote store.
	StateReconciling
)

// String renders the state for logs.
func (s SyncState) String() string {
	switch s {
	case StateSynced:
		return "synced"
	case StateDiverged:
		return "diverged"
	case StateReconciling:
		return "reconciling"
	default:
		return "unknown"
	}
}

// ChangeType enumerates realtime feed event kinds.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent is one entry of the realtime lead change feed.
type ChangeEvent struct {
	Type ChangeType
	Lead leads.Lead
}

// StoreConfig bundles the tunables of a board store.
type StoreConfig struct {
	Clock        func() time.Time
	SettleWindow time.Duration
}

// Store is the in-memory mirror of the leads visible in one board view.
// It is the single owner of that state: the engine mutates it through the
// operation lifecycle below, and the realtime feed through ApplyRemoteEvent.
type Store struct {
	mu           sync.RWMutex
	clock        func() time.Time
	settleWindow time.Duration
	state        SyncState
	items        map[string]leads.Lead
	pending      map[string]struct{}
	settleUntil  map[string]time.Time
}

// NewStore constructs an empty store in the Synced state.
func NewStore(cfg StoreConfig) *Store {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	window := cfg.SettleWindow
	if window <= 0 {
		window = defaultSettleWindow
	}
	return &Store{
		clock:        clock,
		settleWindow: window,
		state:        StateSynced,
		items:        make(map[string]leads.Lead),
		pending:      make(map[string]struct{}),
		settleUntil:  make(map[string]time.Time),
	}
}

// Replace swaps the full mirror for a fresh remote fetch and resets the
// store to Synced. Used on initial load and as the coarse recovery path.
func (s *Store) Replace(list []leads.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]leads.Lead, len(list))
	for _, lead := range list {
		s.items[lead.LeadID] = lead
	}
	s.state = StateSynced
	s.pending = make(map[string]struct{})
	s.settleUntil = make(map[string]time.Time)
}

// Get returns the lead with the given id.
func (s *Store) Get(id string) (leads.Lead, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.items[id]
	return lead, ok
}

// Len returns the number of leads in the mirror.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Snapshot returns a copy of every lead in the mirror, ordered by id.
func (s *Store) Snapshot() []leads.Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]leads.Lead, 0, len(s.items))
	for _, lead := range s.items {
		list = append(list, lead)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].LeadID < list[j].LeadID })
	return list
}

// PipelineLeads returns the sorted lead list of one pipeline.
func (s *Store) PipelineLeads(pipelineID string) []leads.Lead {
	s.mu.RLock()
	list := make([]leads.Lead, 0)
	for _, lead := range s.items {
		if lead.PipelineID == pipelineID {
			list = append(list, lead)
		}
	}
	s.mu.RUnlock()
	return SortPipelineLeads(list)
}

// SortPipelineLeads orders one pipeline's leads: by ordem ascending as soon
// as any lead carries a non-zero ordem, otherwise by creation time descending
// (newest first, the order untouched pipelines present).
func SortPipelineLeads(list []leads.Lead) []leads.Lead {
	sorted := make([]leads.Lead, len(list))
	copy(sorted, list)

	manual := false
	for _, lead := range sorted {
		if lead.Ordem != 0 {
			manual = true
			break
		}
	}

	if manual {
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ordem < sorted[j].Ordem })
	} else {
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAtSeconds > sorted[j].CreatedAtSeconds })
	}
	return sorted
}

// State reports the current sync state.
func (s *Store) State() SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// BeginOperation transitions Synced -> Diverged and records the leads the
// operation is about to touch.
func (s *Store) BeginOperation(leadIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSynced {
		return ErrOperationInFlight
	}
	s.state = StateDiverged
	s.pending = make(map[string]struct{}, len(leadIDs))
	for _, id := range leadIDs {
		s.pending[id] = struct{}{}
	}
	return nil
}

// ApplyLocal overwrites mirror entries with optimistic values. Only legal
// while an operation holds the store diverged.
func (s *Store) ApplyLocal(updated ...leads.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSynced {
		return
	}
	for _, lead := range updated {
		s.items[lead.LeadID] = lead
	}
}

// RemoveLocal optimistically removes a lead from the mirror, returning the
// prior value so a failed transfer can reinsert it.
func (s *Store) RemoveLocal(id string) (leads.Lead, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSynced {
		return leads.Lead{}, false
	}
	lead, ok := s.items[id]
	if ok {
		delete(s.items, id)
	}
	return lead, ok
}

// MarkReconciling transitions Diverged -> Reconciling once the batch has
// been handed to the remote store.
func (s *Store) MarkReconciling() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDiverged {
		s.state = StateReconciling
	}
}

// CompleteOperation returns to Synced and opens the settle window for every
// pending lead, so a stale server echo cannot revert the optimistic state.
func (s *Store) CompleteOperation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	until := s.clock().Add(s.settleWindow)
	for id := range s.pending {
		s.settleUntil[id] = until
	}
	s.pending = make(map[string]struct{})
	s.state = StateSynced
}

// AbortOperation returns to Synced without opening a settle window; the
// caller has already rolled back or replaced the mirror.
func (s *Store) AbortOperation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]struct{})
	s.state = StateSynced
}

// ApplyRemoteEvent folds a realtime feed event into the mirror. It reports
// false when the event was suppressed: either the lead belongs to an
// operation still in flight, or its settle window has not elapsed.
func (s *Store) ApplyRemoteEvent(event ChangeEvent) bool {
	id := event.Lead.LeadID
	if id == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSynced {
		if _, held := s.pending[id]; held {
			return false
		}
	}
	if until, ok := s.settleUntil[id]; ok {
		if s.clock().Before(until) {
			return false
		}
		delete(s.settleUntil, id)
	}

	switch event.Type {
	case ChangeDelete:
		delete(s.items, id)
	case ChangeInsert, ChangeUpdate:
		s.items[id] = event.Lead
	default:
		return false
	}
	return true
}
