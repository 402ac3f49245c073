package server

import (
	"context"
	"sync"
	"time"

	"github.com/funilcrm/backend/internal/board"
)

const (
	RealtimeEventLeadChange = "lead-change"
	RealtimeEventBoardAlert = "board-alert"
	realtimeEventHeartbeat  = "heartbeat"
	realtimeSourceBackend   = "funil-backend"
)

type RealtimeMessage struct {
	SubOriginID string
	EventType   string
	ChangeType  board.ChangeType
	LeadIDs     []string
	Message     string
	Timestamp   time.Time
}

type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, subOriginID string) (<-chan RealtimeMessage, func()) {
	if subOriginID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(subOriginID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(subOriginID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.SubOriginID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.SubOriginID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// Broadcast delivers one message to every subscriber regardless of
// sub-origin. Used for operational alerts.
func (d *RealtimeDispatcher) Broadcast(message RealtimeMessage) {
	if message.EventType == "" {
		return
	}
	d.mu.RLock()
	copies := make([]*realtimeSubscriber, 0)
	for _, subscribers := range d.subscribers {
		for _, subscriber := range subscribers {
			copies = append(copies, subscriber)
		}
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(subOriginID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[subOriginID]; !ok {
		d.subscribers[subOriginID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[subOriginID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(subOriginID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[subOriginID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, subOriginID)
		}
	}
	d.mu.Unlock()
}
