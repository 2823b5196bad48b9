package stream

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"backend-runtrack/internal/tracking"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func recv(t *testing.T, client *Client) []byte {
	t.Helper()
	select {
	case msg := <-client.Send:
		return msg
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for message on %s", client.SessionID)
	}
	return nil
}

func expectSilence(t *testing.T, client *Client) {
	t.Helper()
	select {
	case msg := <-client.Send:
		t.Fatalf("unexpected message %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	client := hub.Register("session-1")
	defer hub.Unregister(client)
	other := hub.Register("session-2")
	defer hub.Unregister(other)

	hub.Broadcast("session-1", []byte("hello"))

	if msg := recv(t, client); string(msg) != "hello" {
		t.Fatalf("unexpected message %s", msg)
	}
	expectSilence(t, other)
}

func TestHubHelpers(t *testing.T) {
	ch := redisChannel("abc")
	if ch != "runs:abc:events" {
		t.Fatalf("unexpected channel %s", ch)
	}
	if sessionIDFromChannel(ch) != "abc" {
		t.Fatalf("unexpected session id")
	}
	if sessionIDFromChannel("bad") != "" {
		t.Fatalf("expected empty session id")
	}
}

func TestUnregisterCloses(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("session-2")
	hub.Unregister(client)
	_, ok := <-client.Send
	if ok {
		t.Fatalf("expected channel closed")
	}
	// a second unregister is a no-op
	hub.Unregister(client)
	if hub.Clients("session-2") != 0 {
		t.Fatalf("expected no clients")
	}
}

func TestHubObserveFansOutToSessionAndLive(t *testing.T) {
	hub := NewHub(nil)
	session := hub.Register("run-1")
	defer hub.Unregister(session)
	live := hub.Register(LiveKey)
	defer hub.Unregister(live)

	hub.Observe(tracking.Event{Type: tracking.EventPointAccepted, SessionID: "run-1", Seq: 3})

	for _, c := range []*Client{session, live} {
		var ev tracking.Event
		if err := json.Unmarshal(recv(t, c), &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.Type != tracking.EventPointAccepted || ev.Seq != 3 {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
}

func TestHubRedisNoDuplicateLocalDelivery(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	hub := NewHub(client)
	defer hub.Close()
	<-hub.ready
	ws := hub.Register("session-redis")
	defer hub.Unregister(ws)

	hub.Broadcast("session-redis", []byte("ping"))
	if msg := recv(t, ws); string(msg) != "ping" {
		t.Fatalf("unexpected message %s", msg)
	}
	expectSilence(t, ws)
}

func TestHubRedisRelaysBetweenInstances(t *testing.T) {
	s := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer clientA.Close()
	clientB := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer clientB.Close()

	hubA := NewHub(clientA)
	defer hubA.Close()
	hubB := NewHub(clientB)
	defer hubB.Close()
	<-hubA.ready
	<-hubB.ready

	follower := hubB.Register("run-9")
	defer hubB.Unregister(follower)

	hubA.Broadcast("run-9", []byte(`{"type":"stats"}`))
	if msg := recv(t, follower); string(msg) != `{"type":"stats"}` {
		t.Fatalf("unexpected relayed message %s", msg)
	}
}

func TestHubRedisDropsMalformedEnvelope(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	hub := NewHub(client)
	defer hub.Close()
	<-hub.ready
	ws := hub.Register("run-x")
	defer hub.Unregister(ws)

	if err := client.Publish(context.Background(), redisChannel("run-x"), "not json").Err(); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	expectSilence(t, ws)
}

func TestHubRedisPublishError(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	server.Close()
	defer client.Close()

	hub := NewHub(client)
	defer hub.Close()
	clientNode := hub.Register("session-bad")
	defer hub.Unregister(clientNode)

	hub.Broadcast("session-bad", []byte("ping"))
	if msg := recv(t, clientNode); string(msg) != "ping" {
		t.Fatalf("expected local delivery despite redis failure")
	}
}

type stubPersister struct{}

func (stubPersister) SaveRun(_ context.Context, _ string, rec tracking.RunRecord) (tracking.SavedRun, error) {
	return tracking.SavedRun{DurationMs: rec.EndTime - rec.StartTime}, nil
}

// stalledRedis accepts connections and never answers.
func stalledRedis(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return ln.Addr().String()
}

func within(t *testing.T, limit time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(limit):
		t.Fatalf("%s blocked for more than %s", what, limit)
	}
}

func TestHubStalledRedisDoesNotBlockTracker(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:                  stalledRedis(t),
		DialTimeout:           200 * time.Millisecond,
		ReadTimeout:           200 * time.Millisecond,
		WriteTimeout:          200 * time.Millisecond,
		MaxRetries:            -1,
		ContextTimeoutEnabled: true,
	})
	defer client.Close()

	hub := NewHub(client)
	defer hub.Close()
	follower := hub.Register(LiveKey)
	defer hub.Unregister(follower)

	source := tracking.NewPushSource()
	tr := tracking.NewTracker(tracking.DefaultConfig(), source, stubPersister{}, hub)

	within(t, 500*time.Millisecond, "start", func() {
		if _, err := tr.Start(context.Background(), tracking.Owner{UserID: "user-1", Token: "tok"}); err != nil {
			t.Errorf("start: %v", err)
		}
	})

	now := time.Now()
	within(t, 500*time.Millisecond, "push", func() {
		delivered, _, err := source.Push(context.Background(),
			tracking.GeoSample{Lat: 0, Lng: 0, Timestamp: now},
			tracking.GeoSample{Lat: 0, Lng: 0.0001, Timestamp: now.Add(time.Second)},
		)
		if err != nil || delivered != 2 {
			t.Errorf("push: delivered=%d err=%v", delivered, err)
		}
	})

	deadline := time.Now().Add(500 * time.Millisecond)
	for tr.Snapshot().PointCount < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("samples not applied, snapshot %+v", tr.Snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}

	within(t, 500*time.Millisecond, "stop", func() {
		outcome, err := tr.Stop(context.Background(), "user-1")
		if err != nil || outcome.Status != tracking.OutcomeSaved || outcome.PointCount != 2 {
			t.Errorf("stop: outcome %+v err %v", outcome, err)
		}
	})

	// local followers are still served while redis hangs
	if msg := recv(t, follower); len(msg) == 0 {
		t.Fatalf("expected a live event")
	}
}

func TestHubRelayQueueDropsWhenFull(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:                  stalledRedis(t),
		DialTimeout:           200 * time.Millisecond,
		ReadTimeout:           200 * time.Millisecond,
		WriteTimeout:          200 * time.Millisecond,
		MaxRetries:            -1,
		ContextTimeoutEnabled: true,
	})
	defer client.Close()

	hub := NewHub(client)
	defer hub.Close()

	within(t, 500*time.Millisecond, "broadcast", func() {
		for i := 0; i < publishQueueSize+50; i++ {
			hub.Broadcast("run-full", []byte("x"))
		}
	})
	if hub.Dropped() == 0 {
		t.Fatalf("expected relay copies dropped once the queue filled")
	}
}
