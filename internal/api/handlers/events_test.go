package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Fantasim/solmigrate/internal/models"
	"github.com/Fantasim/solmigrate/internal/tx"
)

func TestEvents_StreamsPublishedEvents(t *testing.T) {
	hub := tx.NewEventHub()
	srv := httptest.NewServer(Events(hub))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(models.Event{
		Type:  models.EventPhase,
		RunID: "run-1",
		State: models.StateExecuting,
		Class: models.ClassToken,
	})

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	var eventName, data string
	timeout := time.After(2 * time.Second)
	for data == "" {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before event arrived")
			}
			if v, found := strings.CutPrefix(line, "event: "); found {
				eventName = v
			}
			if v, found := strings.CutPrefix(line, "data: "); found {
				data = v
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}

	if eventName != string(models.EventPhase) {
		t.Errorf("event name = %q, want %q", eventName, models.EventPhase)
	}

	var got models.Event
	if err := json.Unmarshal([]byte(data), &got); err != nil {
		t.Fatalf("bad event data %q: %v", data, err)
	}
	if got.RunID != "run-1" || got.State != models.StateExecuting || got.Class != models.ClassToken {
		t.Errorf("event = %+v", got)
	}
	if got.Timestamp == "" {
		t.Error("published event should carry a timestamp")
	}
}

func TestEvents_UnsubscribesOnDisconnect(t *testing.T) {
	hub := tx.NewEventHub()
	srv := httptest.NewServer(Events(hub))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	resp.Body.Close()

	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d after disconnect, want 0", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
