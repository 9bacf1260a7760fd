package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/boxboard/internal/boxes"
)

type sseEvent struct {
	name string
	data string
}

// readSSEEvent reads lines until a blank line terminates one event.
func readSSEEvent(t *testing.T, reader *bufio.Reader) sseEvent {
	t.Helper()
	var event sseEvent
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read event stream: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if event.name != "" || event.data != "" {
				return event
			}
		case strings.HasPrefix(line, "event:"):
			event.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			event.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

func TestBoxEventsStreamDeliversMutations(t *testing.T) {
	fixture := newTestFixture(t, fixtureOptions{})
	_, cookie := fixture.signup(t, "bob", "")

	server := httptest.NewServer(fixture.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/boxes/events", nil)
	if err != nil {
		t.Fatalf("failed to build stream request: %v", err)
	}
	response, err := server.Client().Do(request)
	if err != nil {
		t.Fatalf("failed to open event stream: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status %d", response.StatusCode)
	}
	if contentType := response.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected content type %q", contentType)
	}

	reader := bufio.NewReader(response.Body)
	ready := readSSEEvent(t, reader)
	if ready.name != realtimeEventReady {
		t.Fatalf("expected ready event first, got %+v", ready)
	}
	if fixture.events.Subscribers() != 1 {
		t.Fatalf("expected one subscriber, got %d", fixture.events.Subscribers())
	}

	recorder := fixture.do(t, http.MethodPost, "/api/boxes/5/hold",
		map[string]any{"conditions": []string{"Post 5 Condition 1"}}, withCookie(cookie))
	expectStatus(t, recorder, http.StatusOK)

	var changed sseEvent
	for changed.name != realtimeEventBoxChanged {
		changed = readSSEEvent(t, reader)
	}
	var payload realtimeEventPayload
	if err := json.Unmarshal([]byte(changed.data), &payload); err != nil {
		t.Fatalf("failed to decode event payload %q: %v", changed.data, err)
	}
	if payload.BoxID != 5 || payload.Kind != boxes.EventHeld || payload.Source != realtimeSourceBackend {
		t.Fatalf("unexpected event payload: %+v", payload)
	}
}

func TestBoxEventsStreamUnsubscribesOnDisconnect(t *testing.T) {
	fixture := newTestFixture(t, fixtureOptions{})

	server := httptest.NewServer(fixture.handler)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/boxes/events", nil)
	if err != nil {
		t.Fatalf("failed to build stream request: %v", err)
	}
	response, err := server.Client().Do(request)
	if err != nil {
		t.Fatalf("failed to open event stream: %v", err)
	}
	readSSEEvent(t, bufio.NewReader(response.Body))

	cancel()
	response.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for fixture.events.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected subscriber to be removed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
