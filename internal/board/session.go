package board

import (
	"strings"

	"github.com/funilcrm/backend/internal/leads"
)

// topZoneSuffix marks the invisible insertion strip rendered above a
// pipeline's first card; its element id is "{pipelineID}-top-zone".
const topZoneSuffix = "-top-zone"

// DropPosition is the insertion edge of a drop indicator.
type DropPosition string

const (
	PositionTop    DropPosition = "top"
	PositionBottom DropPosition = "bottom"
)

// DropIndicator describes where a drag gesture would currently land.
// TargetLeadID is empty for column-background and top-zone drops.
type DropIndicator struct {
	PipelineID   string       `json:"pipeline_id"`
	Position     DropPosition `json:"position"`
	TargetLeadID string       `json:"target_lead_id,omitempty"`
}

// Session converts raw drag events into a stable indicator signal: what is
// being dragged, what is it over, and where exactly it would land.
type Session struct {
	store     *Store
	pipelines map[string]struct{}
	activeID  string
	indicator *DropIndicator
}

// NewSession constructs a tracker over the given store and pipeline set.
func NewSession(store *Store, pipelines []leads.Pipeline) *Session {
	known := make(map[string]struct{}, len(pipelines))
	for _, pipeline := range pipelines {
		known[pipeline.PipelineID] = struct{}{}
	}
	return &Session{store: store, pipelines: known}
}

// DragStart records the dragged lead and clears any stale indicator.
func (s *Session) DragStart(leadID string) {
	s.activeID = leadID
	s.indicator = nil
}

// DragOver resolves the hovered target against the three target kinds, in
// priority order: a pipeline top zone, a pipeline column, a lead card. An
// unrecognized target clears the indicator.
func (s *Session) DragOver(over Target, dragged Rect) {
	if pipelineID, ok := strings.CutSuffix(over.ID, topZoneSuffix); ok {
		if _, known := s.pipelines[pipelineID]; known {
			s.indicator = &DropIndicator{PipelineID: pipelineID, Position: PositionTop}
			return
		}
	}

	if _, known := s.pipelines[over.ID]; known {
		s.indicator = &DropIndicator{
			PipelineID: over.ID,
			Position:   positionFor(dragged, over.Rect),
		}
		return
	}

	if lead, ok := s.store.Get(over.ID); ok && lead.PipelineID != "" {
		s.indicator = &DropIndicator{
			PipelineID:   lead.PipelineID,
			Position:     positionFor(dragged, over.Rect),
			TargetLeadID: lead.LeadID,
		}
		return
	}

	s.indicator = nil
}

// Indicator returns the current drop indicator, if any.
func (s *Session) Indicator() (DropIndicator, bool) {
	if s.indicator == nil {
		return DropIndicator{}, false
	}
	return *s.indicator, true
}

// ActiveID returns the lead currently being dragged.
func (s *Session) ActiveID() string {
	return s.activeID
}

// DragCancel clears the active lead and the indicator.
func (s *Session) DragCancel() {
	s.activeID = ""
	s.indicator = nil
}

// positionFor compares vertical centers; the dragged element below the
// target's center means bottom. Ties resolve to top.
func positionFor(dragged, over Rect) DropPosition {
	if dragged.CenterY() > over.CenterY() {
		return PositionBottom
	}
	return PositionTop
}
