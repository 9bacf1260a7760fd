package server

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/boxboard/internal/boxes"
)

const (
	realtimeEventBoxChanged = "box-change"
	realtimeEventReady      = "ready"
	realtimeEventHeartbeat  = "heartbeat"
	realtimeSourceBackend   = "boxboard-api"
)

// BoxEventDispatcher fans box events out to open event streams. Slow subscribers drop events.
type BoxEventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan boxes.BoxEvent
}

func NewBoxEventDispatcher() *BoxEventDispatcher {
	return &BoxEventDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream that is removed when ctx ends or cleanup is called.
func (d *BoxEventDispatcher) Subscribe(ctx context.Context) (<-chan boxes.BoxEvent, func()) {
	d.mu.Lock()
	d.nextID++
	subscriber := &realtimeSubscriber{
		id:     d.nextID,
		stream: make(chan boxes.BoxEvent, d.bufferSize),
	}
	d.subscribers[subscriber.id] = subscriber
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, subscriber.id)
			d.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish satisfies boxes.Notifier.
func (d *BoxEventDispatcher) Publish(event boxes.BoxEvent) {
	if event.BoxID == 0 || event.Kind == "" {
		return
	}
	d.mu.RLock()
	if len(d.subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// Subscribers reports the number of open streams.
func (d *BoxEventDispatcher) Subscribers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}
