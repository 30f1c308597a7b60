package server

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/relaychat/internal/chat"
)

func newRunningHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(zap.NewNop())
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(time.Second) })
	waitRunning(hub)
	return hub
}

// waitRunning returns once the Run loop has accepted a delivery.
func waitRunning(hub *Hub) {
	hub.Publish(chat.ToEveryone(), chat.Event{Name: "warmup"})
}

// attach registers a connection-less client directly, without starting pumps.
func attach(hub *Hub, sessionID, userID string) *Client {
	session := chat.NewSession(sessionID, chat.Identity{ID: userID, DisplayName: userID})
	client := NewClient(nil, hub, nil, session, "127.0.0.1:12345")
	hub.addClient(client)
	return client
}

func receive(t *testing.T, c *Client) (outboundFrame, bool) {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		if !ok {
			return outboundFrame{}, false
		}
		var f outboundFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("Invalid frame %q: %v", raw, err)
		}
		return f, true
	case <-time.After(100 * time.Millisecond):
		return outboundFrame{}, false
	}
}

func expectDelivered(t *testing.T, c *Client, event string) {
	t.Helper()
	f, ok := receive(t, c)
	if !ok {
		t.Fatalf("Expected %s for session %s, got nothing", event, c.session.ID())
	}
	if f.Event != event {
		t.Fatalf("Expected %s for session %s, got %s", event, c.session.ID(), f.Event)
	}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	if f, ok := receive(t, c); ok {
		t.Fatalf("Expected nothing for session %s, got %s", c.session.ID(), f.Event)
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)
	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("Expected empty hub, got %d clients", hub.ClientCount())
	}
}

func TestNewClient(t *testing.T) {
	hub := NewHub(zap.NewNop())
	session := chat.NewSession("s1", chat.Identity{ID: "alice"})
	client := NewClient(nil, hub, nil, session, "127.0.0.1:12345")

	if client.GetSendChan() == nil {
		t.Error("Client send channel is nil")
	}
	if client.Session() != session {
		t.Error("Client does not carry its session")
	}
	select {
	case <-client.GetSendChan():
		t.Error("Expected empty send channel but received a message")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestHubAudienceRouting(t *testing.T) {
	hub := newRunningHub(t)

	a1 := attach(hub, "a1", "alice")
	a2 := attach(hub, "a2", "alice")
	b := attach(hub, "b", "bob")
	c := attach(hub, "c", "carol")

	hub.Subscribe("a1", "room")
	hub.Subscribe("b", "room")

	t.Run("room", func(t *testing.T) {
		hub.Publish(chat.ToRoom("room"), chat.Event{Name: "room-event"})
		expectDelivered(t, a1, "room-event")
		expectDelivered(t, b, "room-event")
		expectNothing(t, a2)
		expectNothing(t, c)
	})

	t.Run("room excluding origin", func(t *testing.T) {
		hub.Publish(chat.ToRoom("room").Excluding("a1"), chat.Event{Name: "others"})
		expectDelivered(t, b, "others")
		expectNothing(t, a1)
	})

	t.Run("users reach every connection once", func(t *testing.T) {
		hub.Publish(chat.ToUsers("alice", "bob", "alice"), chat.Event{Name: "private"})
		expectDelivered(t, a1, "private")
		expectDelivered(t, a2, "private")
		expectDelivered(t, b, "private")
		expectNothing(t, a1)
		expectNothing(t, c)
	})

	t.Run("session", func(t *testing.T) {
		hub.send(chat.ToSession("c"), outboundFrame{Event: eventAck, ID: "7"})
		f, ok := receive(t, c)
		if !ok || f.Event != eventAck || f.ID != "7" {
			t.Fatalf("Expected ack 7, got %+v (ok=%v)", f, ok)
		}
		expectNothing(t, a1)
	})

	t.Run("everyone excluding origin", func(t *testing.T) {
		hub.Publish(chat.ToEveryone().Excluding("b"), chat.Event{Name: "presence"})
		expectDelivered(t, a1, "presence")
		expectDelivered(t, a2, "presence")
		expectDelivered(t, c, "presence")
		expectNothing(t, b)
	})

	t.Run("unsubscribe", func(t *testing.T) {
		hub.Unsubscribe("b", "room")
		hub.Publish(chat.ToRoom("room"), chat.Event{Name: "after-leave"})
		expectDelivered(t, a1, "after-leave")
		expectNothing(t, b)
	})
}

func TestHubSubscribeUnknownSessionIsNoop(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.Subscribe("ghost", "room")
	if got := hub.RoomSubscribers("room"); got != 0 {
		t.Errorf("Expected no subscribers, got %d", got)
	}
}

func TestHubRemoveClientCleansIndexes(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a := attach(hub, "a", "alice")
	attach(hub, "b", "bob")
	hub.Subscribe("a", "room")
	hub.Subscribe("b", "room")

	hub.removeClient(a)
	hub.removeClient(a)

	if got := hub.ClientCount(); got != 1 {
		t.Errorf("Expected 1 client, got %d", got)
	}
	if got := hub.RoomSubscribers("room"); got != 1 {
		t.Errorf("Expected 1 room subscriber, got %d", got)
	}
	if _, ok := <-a.send; ok {
		t.Error("Expected send channel to be closed")
	}
	if _, ok := hub.users["alice"]; ok {
		t.Error("Expected identity index entry to be dropped")
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := newRunningHub(t)
	slow := attach(hub, "slow", "slow")
	fast := attach(hub, "fast", "fast")

	for i := 0; i < sendBufferSize+10; i++ {
		hub.Publish(chat.ToUsers("slow"), chat.Event{Name: "flood"})
	}

	// The hub keeps serving other connections.
	hub.Publish(chat.ToUsers("fast"), chat.Event{Name: "ping"})
	expectDelivered(t, fast, "ping")

	if got := len(slow.send); got != sendBufferSize {
		t.Errorf("Expected full buffer of %d, got %d", sendBufferSize, got)
	}
}

func TestHubPublishOrderFromOneGoroutine(t *testing.T) {
	hub := newRunningHub(t)
	c := attach(hub, "c", "carol")

	for i := 0; i < 20; i++ {
		hub.Publish(chat.ToSession("c"), chat.Event{Name: "seq", Data: i})
	}
	for i := 0; i < 20; i++ {
		f, ok := receive(t, c)
		if !ok {
			t.Fatalf("Missing frame %d", i)
		}
		if got, _ := f.Data.(float64); int(got) != i {
			t.Fatalf("Expected frame %d, got %v", i, f.Data)
		}
	}
}

func TestConcurrentHubOperations(t *testing.T) {
	hub := newRunningHub(t)
	for i := 0; i < 5; i++ {
		attach(hub, string(rune('a'+i)), "user")
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			sessionID := string(rune('a' + id%5))
			hub.Subscribe(sessionID, "room")
			hub.Publish(chat.ToRoom("room"), chat.Event{Name: "concurrent"})
			hub.Unsubscribe(sessionID, "room")
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Concurrent operations test timed out")
	}
}

func TestHubShutdown(t *testing.T) {
	t.Run("without run", func(t *testing.T) {
		hub := NewHub(zap.NewNop())
		if err := hub.Shutdown(100 * time.Millisecond); err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	})

	t.Run("publish after shutdown does not block", func(t *testing.T) {
		hub := NewHub(zap.NewNop())
		go hub.Run()
		waitRunning(hub)
		c := attach(hub, "c", "carol")

		if err := hub.Shutdown(time.Second); err != nil {
			t.Fatalf("Shutdown failed: %v", err)
		}
		if got := hub.ClientCount(); got != 0 {
			t.Errorf("Expected clients to be deregistered, got %d", got)
		}
		if _, ok := <-c.send; ok {
			t.Error("Expected send channel to be closed")
		}

		done := make(chan struct{})
		go func() {
			hub.Publish(chat.ToEveryone(), chat.Event{Name: "late"})
			hub.unregisterClient(c)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Publish blocked after shutdown")
		}
		if hub.Register(c) {
			t.Error("Expected Register to fail after shutdown")
		}
	})
}
