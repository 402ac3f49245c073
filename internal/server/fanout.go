package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/funilcrm/backend/internal/board"
)

// ChangeFanout bridges the board engine's publish and alert hooks onto the
// SSE dispatcher and the websocket hub.
type ChangeFanout struct {
	realtime *RealtimeDispatcher
	hub      *WSHub
	logger   *zap.Logger
	clock    func() time.Time
}

// NewChangeFanout constructs the bridge. Either transport may be nil.
func NewChangeFanout(realtime *RealtimeDispatcher, hub *WSHub, logger *zap.Logger) *ChangeFanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeFanout{
		realtime: realtime,
		hub:      hub,
		logger:   logger,
		clock:    time.Now,
	}
}

// PublishLeadChange fans one lead change out to every transport.
func (f *ChangeFanout) PublishLeadChange(subOriginID string, changeType board.ChangeType, leadIDs []string) {
	if f.realtime != nil {
		f.realtime.Publish(RealtimeMessage{
			SubOriginID: subOriginID,
			EventType:   RealtimeEventLeadChange,
			ChangeType:  changeType,
			LeadIDs:     leadIDs,
			Timestamp:   f.clock().UTC(),
		})
	}
	if f.hub != nil {
		f.hub.BroadcastToOrigin(subOriginID, &WSEvent{
			Type:        RealtimeEventLeadChange,
			SubOriginID: subOriginID,
			ChangeType:  changeType,
			LeadIDs:     leadIDs,
		})
	}
}

// Alert broadcasts a user-visible failure notification to every connected
// feed client and records it in the log.
func (f *ChangeFanout) Alert(message string) {
	f.logger.Warn("board alert raised", zap.String("message", message))
	if f.realtime != nil {
		f.realtime.Broadcast(RealtimeMessage{
			SubOriginID: realtimeSourceBackend,
			EventType:   RealtimeEventBoardAlert,
			Message:     message,
			Timestamp:   f.clock().UTC(),
		})
	}
}
