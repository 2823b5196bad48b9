package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"backend-runtrack/internal/tracking"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LiveKey receives every event of whichever run is active.
const LiveKey = "live"

const (
	publishQueueSize = 256
	publishTimeout   = time.Second
	subscribeTimeout = 5 * time.Second
)

// Hub fans run events out to websocket clients. With redis it also relays
// events between daemon instances; each instance skips its own envelopes.
// Redis publishes go through a bounded queue so callers never wait on the network.
type Hub struct {
	redis   *redis.Client
	origin  string
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	outbox  chan outbound
	dropped atomic.Int64

	ready   chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	pubDone chan struct{}
}

type outbound struct {
	channel string
	payload []byte
}

type Client struct {
	SessionID string
	Send      chan []byte
}

type envelope struct {
	Origin string `json:"origin"`
	Data   []byte `json:"data"`
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		origin:  uuid.NewString(),
		clients: map[string]map[*Client]struct{}{},
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		pubDone: make(chan struct{}),
	}

	if redisClient == nil {
		close(h.ready)
		close(h.done)
		close(h.pubDone)
		h.cancel = func() {}
		return h
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.outbox = make(chan outbound, publishQueueSize)
	go h.subscribeRedis(ctx)
	go h.publishRedis(ctx)
	return h
}

func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessionClients, ok := h.clients[client.SessionID]
	if !ok {
		return
	}
	if _, registered := sessionClients[client]; !registered {
		return
	}
	delete(sessionClients, client)
	if len(sessionClients) == 0 {
		delete(h.clients, client.SessionID)
	}
	close(client.Send)
}

// Clients reports how many websocket clients follow sessionID.
func (h *Hub) Clients(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// Broadcast delivers payload to local clients of sessionID and queues it for
// other instances. When the queue is full the relay copy is dropped and counted.
func (h *Hub) Broadcast(sessionID string, payload []byte) {
	h.deliver(sessionID, payload)

	if h.outbox == nil {
		return
	}
	msg, err := json.Marshal(envelope{Origin: h.origin, Data: payload})
	if err != nil {
		slog.Warn("stream envelope encode failed", "error", err)
		return
	}
	select {
	case h.outbox <- outbound{channel: redisChannel(sessionID), payload: msg}:
	default:
		n := h.dropped.Add(1)
		slog.Warn("redis relay queue full, event dropped", "session_id", sessionID, "dropped", n)
	}
}

// Dropped reports how many relay copies were discarded because redis fell behind.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Observe forwards tracker events to followers of the session and of the live key.
func (h *Hub) Observe(ev tracking.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("stream event encode failed", "type", ev.Type, "error", err)
		return
	}
	h.Broadcast(ev.SessionID, payload)
	h.Broadcast(LiveKey, payload)
}

// Close stops the redis relay. Registered clients stay open until they unregister.
// Relay copies still queued are discarded.
func (h *Hub) Close() {
	h.cancel()
	<-h.pubDone
	<-h.done
}

func (h *Hub) publishRedis(ctx context.Context) {
	defer close(h.pubDone)
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-h.outbox:
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := h.redis.Publish(pubCtx, out.channel, out.payload).Err()
			cancel()
			if err != nil {
				slog.Warn("redis publish failed", "channel", out.channel, "error", err)
			}
		}
	}
}

// deliver sends under the read lock so Unregister cannot close a channel mid-send.
// Slow clients drop messages instead of blocking the tracker.
func (h *Hub) deliver(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[sessionID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context) {
	defer close(h.done)
	pubsub := h.redis.PSubscribe(ctx, redisChannel("*"))
	defer pubsub.Close()

	if _, err := pubsub.ReceiveTimeout(ctx, subscribeTimeout); err != nil {
		slog.Warn("redis subscribe failed", "error", err)
		close(h.ready)
		return
	}
	close(h.ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				slog.Warn("dropping malformed stream envelope", "channel", msg.Channel, "error", err)
				continue
			}
			if env.Origin == h.origin {
				continue
			}
			h.deliver(sessionIDFromChannel(msg.Channel), env.Data)
		}
	}
}

func redisChannel(sessionID string) string {
	return "runs:" + sessionID + ":events"
}

func sessionIDFromChannel(ch string) string {
	// runs:{session}:events
	const prefix = "runs:"
	const suffix = ":events"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
