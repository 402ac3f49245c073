package board

import (
	"testing"
	"time"

	"github.com/funilcrm/backend/internal/leads"
)

func TestSortPipelineLeadsUsesOrdemWhenSet(t *testing.T) {
	sorted := SortPipelineLeads([]leads.Lead{
		makeLead("B", "novo", 2, 500),
		makeLead("A", "novo", 1, 100),
	})
	if sorted[0].LeadID != "A" || sorted[1].LeadID != "B" {
		t.Fatalf("expected ordem ascending, got %s then %s", sorted[0].LeadID, sorted[1].LeadID)
	}
}

func TestSortPipelineLeadsFallsBackToNewestFirst(t *testing.T) {
	sorted := SortPipelineLeads([]leads.Lead{
		makeLead("old", "novo", 0, 100),
		makeLead("new", "novo", 0, 900),
		makeLead("mid", "novo", 0, 500),
	})
	if sorted[0].LeadID != "new" || sorted[1].LeadID != "mid" || sorted[2].LeadID != "old" {
		t.Fatalf("expected newest first without manual ordem, got %s/%s/%s",
			sorted[0].LeadID, sorted[1].LeadID, sorted[2].LeadID)
	}
}

func TestStoreOperationLifecycle(t *testing.T) {
	store := NewStore(StoreConfig{})
	store.Replace([]leads.Lead{makeLead("A", "novo", 0, 100)})

	if store.State() != StateSynced {
		t.Fatalf("fresh store must be synced, got %s", store.State())
	}
	if err := store.BeginOperation("A"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.State() != StateDiverged {
		t.Fatalf("expected diverged, got %s", store.State())
	}
	if err := store.BeginOperation("A"); err == nil {
		t.Fatal("expected second operation to be rejected")
	}

	store.MarkReconciling()
	if store.State() != StateReconciling {
		t.Fatalf("expected reconciling, got %s", store.State())
	}

	store.CompleteOperation()
	if store.State() != StateSynced {
		t.Fatalf("expected synced after completion, got %s", store.State())
	}
}

func TestStoreSuppressesEventsForPendingLeads(t *testing.T) {
	store := NewStore(StoreConfig{})
	store.Replace([]leads.Lead{
		makeLead("A", "novo", 0, 100),
		makeLead("B", "novo", 1, 90),
	})
	if err := store.BeginOperation("A"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	optimistic := makeLead("A", "quente", 0, 100)
	store.ApplyLocal(optimistic)

	// A stale echo for the pending lead must not clobber optimistic state.
	stale := makeLead("A", "novo", 0, 100)
	if store.ApplyRemoteEvent(ChangeEvent{Type: ChangeUpdate, Lead: stale}) {
		t.Fatal("expected event for pending lead to be suppressed")
	}
	current, _ := store.Get("A")
	if current.PipelineID != "quente" {
		t.Fatalf("optimistic state clobbered: %+v", current)
	}

	// Events for unrelated leads still apply mid-operation.
	other := makeLead("B", "quente", 5, 90)
	if !store.ApplyRemoteEvent(ChangeEvent{Type: ChangeUpdate, Lead: other}) {
		t.Fatal("expected event for unrelated lead to apply")
	}
}

func TestStoreSettleWindowSuppressesEchoes(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }
	store := NewStore(StoreConfig{Clock: clock, SettleWindow: 400 * time.Millisecond})
	store.Replace([]leads.Lead{makeLead("A", "novo", 0, 100)})

	if err := store.BeginOperation("A"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.ApplyLocal(makeLead("A", "quente", 0, 100))
	store.MarkReconciling()
	store.CompleteOperation()

	stale := makeLead("A", "novo", 0, 100)
	if store.ApplyRemoteEvent(ChangeEvent{Type: ChangeUpdate, Lead: stale}) {
		t.Fatal("expected echo within the settle window to be suppressed")
	}
	current, _ := store.Get("A")
	if current.PipelineID != "quente" {
		t.Fatalf("settle window failed to protect optimistic state: %+v", current)
	}

	// After the window elapses the feed becomes authoritative again.
	now = now.Add(time.Second)
	if !store.ApplyRemoteEvent(ChangeEvent{Type: ChangeUpdate, Lead: stale}) {
		t.Fatal("expected event after the settle window to apply")
	}
}

func TestStoreAppliesRemoteInsertAndDelete(t *testing.T) {
	store := NewStore(StoreConfig{})
	store.Replace(nil)

	inserted := makeLead("A", "novo", 0, 100)
	if !store.ApplyRemoteEvent(ChangeEvent{Type: ChangeInsert, Lead: inserted}) {
		t.Fatal("expected insert to apply")
	}
	if store.Len() != 1 {
		t.Fatalf("unexpected store size: %d", store.Len())
	}

	if !store.ApplyRemoteEvent(ChangeEvent{Type: ChangeDelete, Lead: inserted}) {
		t.Fatal("expected delete to apply")
	}
	if _, ok := store.Get("A"); ok {
		t.Fatal("expected lead to be deleted")
	}
}

func TestStoreAbortSkipsSettleWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	store := NewStore(StoreConfig{Clock: func() time.Time { return now }, SettleWindow: time.Minute})
	store.Replace([]leads.Lead{makeLead("A", "novo", 0, 100)})

	if err := store.BeginOperation("A"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.AbortOperation()

	update := makeLead("A", "quente", 3, 100)
	if !store.ApplyRemoteEvent(ChangeEvent{Type: ChangeUpdate, Lead: update}) {
		t.Fatal("expected event after abort to apply immediately")
	}
}
