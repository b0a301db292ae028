package websocket

import (
	"testing"
	"time"
)

func TestHubRoomSourceLifecycle(t *testing.T) {
	hub := NewHub()
	opened := make(chan string, 4)
	closed := make(chan string, 4)
	hub.SetRoomSource(func(reportID string) func() {
		opened <- reportID
		return func() { closed <- reportID }
	})
	go hub.Run()

	c1 := NewClient(hub, nil, "r1")
	c2 := NewClient(hub, nil, "r1")

	// The stream opens once, on the first client of the room.
	hub.Register <- c1
	select {
	case id := <-opened:
		if id != "r1" {
			t.Fatalf("opened room %q, want r1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("room source never opened")
	}
	hub.Register <- c2

	// The stream closes once, when the last client leaves.
	hub.Unregister <- c1
	hub.Unregister <- c2
	select {
	case id := <-closed:
		if id != "r1" {
			t.Fatalf("closed room %q, want r1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("room source never closed")
	}

	if len(opened) != 0 {
		t.Error("room source opened more than once")
	}
	if len(closed) != 0 {
		t.Error("room source closed more than once")
	}
}

func TestHubStatsTrackRooms(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	c1 := NewClient(hub, nil, "r1")
	c2 := NewClient(hub, nil, "r2")
	hub.Register <- c1
	hub.Register <- c2

	waitForStats(t, hub, 2, 2)

	hub.Unregister <- c2
	waitForStats(t, hub, 1, 1)
}

func waitForStats(t *testing.T, hub *Hub, wantClients, wantRooms int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		clients, rooms := hub.GetStats()
		if clients == wantClients && rooms == wantRooms {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	clients, rooms := hub.GetStats()
	t.Fatalf("stats = (%d clients, %d rooms), want (%d, %d)", clients, rooms, wantClients, wantRooms)
}
