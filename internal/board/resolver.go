package board

import "github.com/funilcrm/backend/internal/leads"

// ResolutionKind classifies the outcome of a completed drag gesture.
type ResolutionKind int

const (
	// ResolutionNone means the gesture resolves to no state change.
	ResolutionNone ResolutionKind = iota
	// ResolutionReorder moves the lead within its own pipeline.
	ResolutionReorder
	// ResolutionTransfer moves the lead into another pipeline.
	ResolutionTransfer
	// ResolutionAutomation redirects the move through an automation rule.
	ResolutionAutomation
)

// String renders the kind for logs and responses.
func (k ResolutionKind) String() string {
	switch k {
	case ResolutionReorder:
		return "reorder"
	case ResolutionTransfer:
		return "transfer"
	case ResolutionAutomation:
		return "automation"
	default:
		return "none"
	}
}

// Resolution is the computed effect of a drop: which leads change, to which
// ordem values, and whether the dragged lead leaves its pipeline or view.
type Resolution struct {
	Kind           ResolutionKind
	LeadID         string
	FromPipelineID string
	ToPipelineID   string
	ToSubOriginID  string
	Updates        []leads.LeadUpdate
}

// Resolver computes new ordem assignments from a drop indicator and the
// store's current per-pipeline lead lists.
type Resolver struct {
	store *Store
	rules RuleTable
}

// NewResolver constructs a resolver over the given store and rule table.
func NewResolver(store *Store, rules RuleTable) *Resolver {
	return &Resolver{store: store, rules: rules}
}

// Resolve evaluates the five mutually exclusive drop cases. Gestures that
// resolve to nothing (no destination, unknown indices, dropping a lead onto
// itself) yield ResolutionNone with no updates.
func (r *Resolver) Resolve(dragged leads.Lead, indicator DropIndicator) Resolution {
	if indicator.PipelineID == "" {
		return Resolution{Kind: ResolutionNone, LeadID: dragged.LeadID}
	}

	if dragged.PipelineID == indicator.PipelineID {
		return r.resolveSamePipeline(dragged, indicator)
	}
	return r.resolveCrossPipeline(dragged, indicator)
}

func (r *Resolver) resolveSamePipeline(dragged leads.Lead, indicator DropIndicator) Resolution {
	resolution := Resolution{
		Kind:           ResolutionReorder,
		LeadID:         dragged.LeadID,
		FromPipelineID: dragged.PipelineID,
		ToPipelineID:   dragged.PipelineID,
	}

	list := r.store.PipelineLeads(dragged.PipelineID)
	oldIndex := indexOf(list, dragged.LeadID)

	var newIndex int
	if indicator.TargetLeadID != "" {
		newIndex = indexOf(list, indicator.TargetLeadID)
		if oldIndex < 0 || newIndex < 0 || oldIndex == newIndex {
			resolution.Kind = ResolutionNone
			return resolution
		}
	} else {
		newIndex = 0
		if indicator.Position == PositionBottom {
			newIndex = len(list) - 1
		}
		if oldIndex < 0 || oldIndex == newIndex {
			resolution.Kind = ResolutionNone
			return resolution
		}
	}

	reordered := moveElement(list, oldIndex, newIndex)
	resolution.Updates = resequence(reordered, nil, nil)
	return resolution
}

func (r *Resolver) resolveCrossPipeline(dragged leads.Lead, indicator DropIndicator) Resolution {
	if subOriginID, pipelineID, ok := r.rules.Target(indicator.PipelineID); ok {
		target := pipelineID
		origin := subOriginID
		return Resolution{
			Kind:           ResolutionAutomation,
			LeadID:         dragged.LeadID,
			FromPipelineID: dragged.PipelineID,
			ToPipelineID:   target,
			ToSubOriginID:  origin,
			Updates: []leads.LeadUpdate{{
				LeadID:      dragged.LeadID,
				Ordem:       0,
				PipelineID:  &target,
				SubOriginID: &origin,
			}},
		}
	}

	destination := indicator.PipelineID
	targetList := excludeLead(r.store.PipelineLeads(destination), dragged.LeadID)

	insertIndex := 0
	if indicator.TargetLeadID != "" {
		if index := indexOf(targetList, indicator.TargetLeadID); index >= 0 {
			insertIndex = index
			if indicator.Position == PositionBottom {
				insertIndex = index + 1
			}
		}
	}

	updates := make([]leads.LeadUpdate, 0, len(targetList)+1)
	// Make room: every target lead at or after the insertion point shifts
	// down one slot, keeping the pipeline's ordem dense.
	for position, lead := range targetList {
		if position < insertIndex {
			continue
		}
		updates = append(updates, leads.LeadUpdate{LeadID: lead.LeadID, Ordem: position + 1})
	}
	updates = append(updates, leads.LeadUpdate{
		LeadID:     dragged.LeadID,
		Ordem:      insertIndex,
		PipelineID: &destination,
	})

	// The vacated source pipeline is re-sequenced densely as well.
	if dragged.PipelineID != "" {
		sourceList := excludeLead(r.store.PipelineLeads(dragged.PipelineID), dragged.LeadID)
		updates = append(updates, resequence(sourceList, nil, nil)...)
	}

	return Resolution{
		Kind:           ResolutionTransfer,
		LeadID:         dragged.LeadID,
		FromPipelineID: dragged.PipelineID,
		ToPipelineID:   destination,
		Updates:        updates,
	}
}

// resequence assigns ordem = list position for every lead, the idempotent
// "recompute full order" step. Pipeline and sub-origin overrides apply to
// every produced update when non-nil.
func resequence(list []leads.Lead, pipelineID, subOriginID *string) []leads.LeadUpdate {
	updates := make([]leads.LeadUpdate, 0, len(list))
	for position, lead := range list {
		updates = append(updates, leads.LeadUpdate{
			LeadID:      lead.LeadID,
			Ordem:       position,
			PipelineID:  pipelineID,
			SubOriginID: subOriginID,
		})
	}
	return updates
}

func indexOf(list []leads.Lead, leadID string) int {
	for index, lead := range list {
		if lead.LeadID == leadID {
			return index
		}
	}
	return -1
}

// moveElement removes the element at from and reinserts it at to.
func moveElement(list []leads.Lead, from, to int) []leads.Lead {
	result := make([]leads.Lead, 0, len(list))
	result = append(result, list[:from]...)
	result = append(result, list[from+1:]...)

	moved := list[from]
	result = append(result[:to], append([]leads.Lead{moved}, result[to:]...)...)
	return result
}

func excludeLead(list []leads.Lead, leadID string) []leads.Lead {
	result := make([]leads.Lead, 0, len(list))
	for _, lead := range list {
		if lead.LeadID == leadID {
			continue
		}
		result = append(result, lead)
	}
	return result
}
