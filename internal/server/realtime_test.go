package server

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/boxboard/internal/boxes"
)

func TestBoxEventDispatcherPublishesToEverySubscriber(t *testing.T) {
	dispatcher := NewBoxEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, firstCleanup := dispatcher.Subscribe(ctx)
	defer firstCleanup()
	second, secondCleanup := dispatcher.Subscribe(ctx)
	defer secondCleanup()

	dispatcher.Publish(boxes.BoxEvent{BoxID: 5, Kind: boxes.EventHeld, At: time.Now().UTC()})

	for index, stream := range []<-chan boxes.BoxEvent{first, second} {
		select {
		case received := <-stream:
			if received.BoxID != 5 || received.Kind != boxes.EventHeld {
				t.Fatalf("subscriber %d received unexpected event %+v", index, received)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber %d expected event within deadline", index)
		}
	}
}

func TestBoxEventDispatcherIgnoresIncompleteEvents(t *testing.T) {
	dispatcher := NewBoxEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	dispatcher.Publish(boxes.BoxEvent{Kind: boxes.EventApplied})
	dispatcher.Publish(boxes.BoxEvent{BoxID: 2})

	select {
	case event := <-stream:
		t.Fatalf("did not expect event %+v", event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBoxEventDispatcherUnsubscribesOnCancel(t *testing.T) {
	dispatcher := NewBoxEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()
	if dispatcher.Subscribers() != 1 {
		t.Fatalf("expected one subscriber, got %d", dispatcher.Subscribers())
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for dispatcher.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected subscriber to be removed after cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}

	dispatcher.Publish(boxes.BoxEvent{BoxID: 1, Kind: boxes.EventLeft})
}

func TestBoxEventDispatcherDropsWhenBufferFull(t *testing.T) {
	dispatcher := NewBoxEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	for index := 0; index < dispatcher.bufferSize+5; index++ {
		dispatcher.Publish(boxes.BoxEvent{BoxID: uint(index + 1), Kind: boxes.EventApplied})
	}
	if len(stream) != dispatcher.bufferSize {
		t.Fatalf("expected buffer to hold %d events, got %d", dispatcher.bufferSize, len(stream))
	}
}
