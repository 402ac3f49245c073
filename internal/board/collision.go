package board

// Target is a droppable element together with its current bounding box.
type Target struct {
	ID   string
	Rect Rect
}

// ResolveCollision picks the drop target for the pointer location. Exact
// pointer containment wins, with the smallest containing rectangle preferred
// so card-level targets beat the column behind them. When nothing contains
// the pointer, the candidate with the largest bounding-box overlap against
// the dragged rectangle is used instead, which still lets drops land on
// mostly-empty columns.
func ResolveCollision(pointer Point, dragged Rect, candidates []Target) (Target, bool) {
	best := Target{}
	bestArea := 0.0
	found := false
	for _, candidate := range candidates {
		if !candidate.Rect.Contains(pointer) {
			continue
		}
		area := candidate.Rect.Area()
		if !found || area < bestArea {
			best = candidate
			bestArea = area
			found = true
		}
	}
	if found {
		return best, true
	}

	bestOverlap := 0.0
	for _, candidate := range candidates {
		overlap := dragged.OverlapArea(candidate.Rect)
		if overlap <= 0 {
			continue
		}
		if !found || overlap > bestOverlap {
			best = candidate
			bestOverlap = overlap
			found = true
		}
	}
	return best, found
}
