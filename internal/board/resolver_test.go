package board

import (
	"testing"

	"github.com/funilcrm/backend/internal/leads"
)

func makeLead(id, pipelineID string, ordem int, createdAt int64) leads.Lead {
	return leads.Lead{
		LeadID:           id,
		SubOriginID:      "origin-1",
		PipelineID:       pipelineID,
		Name:             "Lead " + id,
		Ordem:            ordem,
		CreatedAtSeconds: createdAt,
		UpdatedAtSeconds: createdAt,
	}
}

func newTestStore(list ...leads.Lead) *Store {
	store := NewStore(StoreConfig{})
	store.Replace(list)
	return store
}

// applyUpdates folds resolver output into a lead set the way the remote
// store would, so tests can assert on the final board state.
func applyUpdates(store *Store, updates []leads.LeadUpdate) map[string]leads.Lead {
	result := make(map[string]leads.Lead)
	for _, lead := range store.Snapshot() {
		result[lead.LeadID] = lead
	}
	for _, update := range updates {
		lead := result[update.LeadID]
		lead.Ordem = update.Ordem
		if update.PipelineID != nil {
			lead.PipelineID = *update.PipelineID
		}
		if update.SubOriginID != nil {
			lead.SubOriginID = *update.SubOriginID
		}
		result[lead.LeadID] = lead
	}
	return result
}

func pipelineOrder(state map[string]leads.Lead, pipelineID string) []string {
	list := make([]leads.Lead, 0)
	for _, lead := range state {
		if lead.PipelineID == pipelineID {
			list = append(list, lead)
		}
	}
	sorted := SortPipelineLeads(list)
	ids := make([]string, 0, len(sorted))
	for _, lead := range sorted {
		ids = append(ids, lead.LeadID)
	}
	return ids
}

func assertDenseOrdem(t *testing.T, state map[string]leads.Lead, pipelineID string) {
	t.Helper()
	seen := make(map[int]bool)
	count := 0
	for _, lead := range state {
		if lead.PipelineID != pipelineID {
			continue
		}
		count++
		if seen[lead.Ordem] {
			t.Fatalf("duplicate ordem %d in pipeline %s", lead.Ordem, pipelineID)
		}
		seen[lead.Ordem] = true
	}
	for position := 0; position < count; position++ {
		if !seen[position] {
			t.Fatalf("pipeline %s missing ordem %d (count %d)", pipelineID, position, count)
		}
	}
}

func TestResolveSamePipelineDropOntoCard(t *testing.T) {
	// Pipeline "novo" holds [A(0), B(1), C(2)]; dragging C onto A yields
	// [C(0), A(1), B(2)].
	store := newTestStore(
		makeLead("A", "novo", 0, 100),
		makeLead("B", "novo", 1, 90),
		makeLead("C", "novo", 2, 80),
	)
	resolver := NewResolver(store, NewRuleTable(nil))

	dragged, _ := store.Get("C")
	resolution := resolver.Resolve(dragged, DropIndicator{
		PipelineID:   "novo",
		Position:     PositionTop,
		TargetLeadID: "A",
	})

	if resolution.Kind != ResolutionReorder {
		t.Fatalf("unexpected resolution kind: %s", resolution.Kind)
	}
	state := applyUpdates(store, resolution.Updates)
	order := pipelineOrder(state, "novo")
	expected := []string{"C", "A", "B"}
	for index, id := range expected {
		if order[index] != id {
			t.Fatalf("unexpected order %v, expected %v", order, expected)
		}
	}
	if state["C"].Ordem != 0 || state["A"].Ordem != 1 || state["B"].Ordem != 2 {
		t.Fatalf("unexpected ordem assignment: C=%d A=%d B=%d", state["C"].Ordem, state["A"].Ordem, state["B"].Ordem)
	}
	assertDenseOrdem(t, state, "novo")
}

func TestResolveSamePipelineBackgroundBottom(t *testing.T) {
	store := newTestStore(
		makeLead("A", "novo", 0, 100),
		makeLead("B", "novo", 1, 90),
		makeLead("C", "novo", 2, 80),
	)
	resolver := NewResolver(store, NewRuleTable(nil))

	dragged, _ := store.Get("A")
	resolution := resolver.Resolve(dragged, DropIndicator{PipelineID: "novo", Position: PositionBottom})

	if resolution.Kind != ResolutionReorder {
		t.Fatalf("unexpected resolution kind: %s", resolution.Kind)
	}
	state := applyUpdates(store, resolution.Updates)
	order := pipelineOrder(state, "novo")
	if order[0] != "B" || order[1] != "C" || order[2] != "A" {
		t.Fatalf("unexpected order: %v", order)
	}
	assertDenseOrdem(t, state, "novo")
}

func TestResolveSamePipelineBackgroundTopNoOpAtIndexZero(t *testing.T) {
	store := newTestStore(
		makeLead("A", "novo", 0, 100),
		makeLead("B", "novo", 1, 90),
	)
	resolver := NewResolver(store, NewRuleTable(nil))

	dragged, _ := store.Get("A")
	resolution := resolver.Resolve(dragged, DropIndicator{PipelineID: "novo", Position: PositionTop})

	if resolution.Kind != ResolutionNone {
		t.Fatalf("expected no-op, got %s", resolution.Kind)
	}
	if len(resolution.Updates) != 0 {
		t.Fatalf("no-op must not produce updates, got %d", len(resolution.Updates))
	}
}

func TestResolveDropOntoSelfIsNoOp(t *testing.T) {
	store := newTestStore(
		makeLead("A", "novo", 0, 100),
		makeLead("B", "novo", 1, 90),
	)
	resolver := NewResolver(store, NewRuleTable(nil))

	dragged, _ := store.Get("B")
	resolution := resolver.Resolve(dragged, DropIndicator{
		PipelineID:   "novo",
		Position:     PositionTop,
		TargetLeadID: "B",
	})

	if resolution.Kind != ResolutionNone || len(resolution.Updates) != 0 {
		t.Fatalf("dropping a lead onto itself must be a no-op, got %s with %d updates",
			resolution.Kind, len(resolution.Updates))
	}
}

func TestResolveWithoutDestinationIsNoOp(t *testing.T) {
	store := newTestStore(makeLead("A", "novo", 0, 100))
	resolver := NewResolver(store, NewRuleTable(nil))

	dragged, _ := store.Get("A")
	resolution := resolver.Resolve(dragged, DropIndicator{})

	if resolution.Kind != ResolutionNone {
		t.Fatalf("expected no-op without destination, got %s", resolution.Kind)
	}
}

func TestResolveCrossPipelineToEmptyColumn(t *testing.T) {
	// Dragging A out of "novo" into the empty "fechado" leaves "novo" as
	// [B(0), C(1)] and "fechado" as [A(0)].
	store := newTestStore(
		makeLead("A", "novo", 0, 100),
		makeLead("B", "novo", 1, 90),
		makeLead("C", "novo", 2, 80),
	)
	resolver := NewResolver(store, NewRuleTable(nil))

	dragged, _ := store.Get("A")
	resolution := resolver.Resolve(dragged, DropIndicator{PipelineID: "fechado", Position: PositionTop})

	if resolution.Kind != ResolutionTransfer {
		t.Fatalf("unexpected resolution kind: %s", resolution.Kind)
	}
	state := applyUpdates(store, resolution.Updates)
	if state["A"].PipelineID != "fechado" || state["A"].Ordem != 0 {
		t.Fatalf("unexpected dragged lead state: %+v", state["A"])
	}
	novo := pipelineOrder(state, "novo")
	if len(novo) != 2 || novo[0] != "B" || novo[1] != "C" {
		t.Fatalf("unexpected source order: %v", novo)
	}
	if state["B"].Ordem != 0 || state["C"].Ordem != 1 {
		t.Fatalf("source pipeline not re-sequenced: B=%d C=%d", state["B"].Ordem, state["C"].Ordem)
	}
	assertDenseOrdem(t, state, "novo")
	assertDenseOrdem(t, state, "fechado")
}

func TestResolveCrossPipelineInsertsBelowTarget(t *testing.T) {
	store := newTestStore(
		makeLead("A", "novo", 0, 100),
		makeLead("X", "quente", 0, 100),
		makeLead("Y", "quente", 1, 90),
		makeLead("Z", "quente", 2, 80),
	)
	resolver := NewResolver(store, NewRuleTable(nil))

	dragged, _ := store.Get("A")
	resolution := resolver.Resolve(dragged, DropIndicator{
		PipelineID:   "quente",
		Position:     PositionBottom,
		TargetLeadID: "X",
	})

	state := applyUpdates(store, resolution.Updates)
	order := pipelineOrder(state, "quente")
	expected := []string{"X", "A", "Y", "Z"}
	for index, id := range expected {
		if order[index] != id {
			t.Fatalf("unexpected order %v, expected %v", order, expected)
		}
	}
	assertDenseOrdem(t, state, "quente")
}

func TestResolveCrossPipelineConservesLeadCount(t *testing.T) {
	store := newTestStore(
		makeLead("A", "novo", 0, 100),
		makeLead("B", "novo", 1, 90),
		makeLead("X", "quente", 0, 100),
	)
	resolver := NewResolver(store, NewRuleTable(nil))

	before := store.Len()
	dragged, _ := store.Get("B")
	resolution := resolver.Resolve(dragged, DropIndicator{
		PipelineID:   "quente",
		Position:     PositionTop,
		TargetLeadID: "X",
	})

	state := applyUpdates(store, resolution.Updates)
	if len(state) != before {
		t.Fatalf("lead count changed: before %d, after %d", before, len(state))
	}
	if len(pipelineOrder(state, "novo"))+len(pipelineOrder(state, "quente")) != before {
		t.Fatal("leads lost across pipelines")
	}
}

func TestResolveRoundTripRestoresOrder(t *testing.T) {
	store := newTestStore(
		makeLead("A", "novo", 0, 100),
		makeLead("B", "novo", 1, 90),
		makeLead("C", "novo", 2, 80),
		makeLead("D", "novo", 3, 70),
	)
	resolver := NewResolver(store, NewRuleTable(nil))

	dragged, _ := store.Get("A")
	first := resolver.Resolve(dragged, DropIndicator{
		PipelineID:   "novo",
		TargetLeadID: "C",
	})
	state := applyUpdates(store, first.Updates)
	store.Replace(stateValues(state))

	dragged, _ = store.Get("A")
	second := resolver.Resolve(dragged, DropIndicator{
		PipelineID:   "novo",
		TargetLeadID: "B",
	})
	state = applyUpdates(store, second.Updates)

	order := pipelineOrder(state, "novo")
	expected := []string{"A", "B", "C", "D"}
	for index, id := range expected {
		if order[index] != id {
			t.Fatalf("round trip did not restore order: %v", order)
		}
	}
}

func TestResequenceIsIdempotent(t *testing.T) {
	list := []leads.Lead{
		makeLead("A", "novo", 0, 100),
		makeLead("B", "novo", 1, 90),
		makeLead("C", "novo", 2, 80),
	}
	first := resequence(list, nil, nil)
	for _, update := range first {
		for index := range list {
			if list[index].LeadID == update.LeadID {
				list[index].Ordem = update.Ordem
			}
		}
	}
	second := resequence(list, nil, nil)
	if len(first) != len(second) {
		t.Fatalf("update count changed: %d vs %d", len(first), len(second))
	}
	for index := range first {
		if first[index].LeadID != second[index].LeadID || first[index].Ordem != second[index].Ordem {
			t.Fatalf("re-sequencing is not idempotent at %d: %+v vs %+v", index, first[index], second[index])
		}
	}
}

func TestResolveAutomationOverridesDropPosition(t *testing.T) {
	// An active rule on the destination wins regardless of where inside
	// the column the lead is dropped.
	rules := NewRuleTable([]leads.AutomationRule{{
		RuleID:            "rule-1",
		SourcePipelineID:  "qualificado",
		TargetSubOriginID: "origin-x",
		TargetPipelineID:  "pos-venda",
		IsActive:          true,
	}})
	store := newTestStore(
		makeLead("L", "novo", 0, 100),
		makeLead("Q", "qualificado", 0, 100),
	)
	resolver := NewResolver(store, rules)

	for _, indicator := range []DropIndicator{
		{PipelineID: "qualificado", Position: PositionTop},
		{PipelineID: "qualificado", Position: PositionBottom},
		{PipelineID: "qualificado", Position: PositionBottom, TargetLeadID: "Q"},
	} {
		dragged, _ := store.Get("L")
		resolution := resolver.Resolve(dragged, indicator)
		if resolution.Kind != ResolutionAutomation {
			t.Fatalf("expected automation for %+v, got %s", indicator, resolution.Kind)
		}
		if len(resolution.Updates) != 1 {
			t.Fatalf("automation must touch only the dragged lead, got %d updates", len(resolution.Updates))
		}
		update := resolution.Updates[0]
		if update.Ordem != 0 || update.PipelineID == nil || *update.PipelineID != "pos-venda" ||
			update.SubOriginID == nil || *update.SubOriginID != "origin-x" {
			t.Fatalf("unexpected automation update: %+v", update)
		}
	}
}

func stateValues(state map[string]leads.Lead) []leads.Lead {
	list := make([]leads.Lead, 0, len(state))
	for _, lead := range state {
		list = append(list, lead)
	}
	return list
}
