package relay

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBrokerFanOutAndDrop(t *testing.T) {
	b := NewBroker()
	id1, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	b.Publish("session", `{"id":"u1"}`)

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Feed != "session" || evt.Payload != `{"id":"u1"}` || evt.ID != 1 {
				t.Fatalf("subscriber %d got %+v", i, evt)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}

	b.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Fatal("unsubscribed channel still open")
	}
	if got := b.ClientCount(); got != 1 {
		t.Fatalf("ClientCount() = %d; want 1", got)
	}

	for i := 0; i < subscriberBufSize+5; i++ {
		b.Publish("cache", "{}")
	}
	published, dropped := b.Stats()
	if published != int64(subscriberBufSize+6) {
		t.Fatalf("published = %d; want %d", published, subscriberBufSize+6)
	}
	if dropped != 5 {
		t.Fatalf("dropped = %d; want 5", dropped)
	}
}

func TestSSEHandlerStreamsFilteredFeeds(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(sseHandler(b, time.Hour))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?feeds=login_required", nil)
	if err != nil {
		t.Fatalf("NewRequest() = %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET = %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Publish("session", `{"id":"u1"}`)
	b.Publish("login_required", "{\n\"url\":\"https://app.example.test/\"}")

	reader := bufio.NewReader(resp.Body)
	var frame []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read = %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			break
		}
		frame = append(frame, line)
	}

	want := []string{"id: 2", "event: login_required", "data: {", `data: "url":"https://app.example.test/"}`}
	if strings.Join(frame, "|") != strings.Join(want, "|") {
		t.Fatalf("frame = %q; want %q", frame, want)
	}
}
