// Package gateway is the websocket transport: one bidirectional connection
// per client, multiplexed into per-competition rooms. It translates wire
// events into session-engine calls and bus events into room broadcasts.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Ewocs/typing-comp/internal/domain"
	"github.com/Ewocs/typing-comp/internal/event"
	"github.com/Ewocs/typing-comp/internal/notify"
)

type broadcast struct {
	sessionID string
	frame     []byte
}

// Hub tracks connected clients per competition room and fans bus events out
// to them. Slow clients are dropped rather than allowed to stall a room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool

	broadcastCh chan broadcast
}

func NewHub(bus *event.Bus) *Hub {
	h := &Hub{
		rooms:       make(map[string]map[*Client]bool),
		broadcastCh: make(chan broadcast, 1024),
	}

	bus.Subscribe(domain.EventNameParticipantJoined, func(ctx context.Context, e event.Event) error {
		joined := e.(domain.EventParticipantJoined)
		return h.publish(joined.SessionID, EventParticipantJoined, notify.ParticipantChange{
			Name:              joined.ParticipantName,
			TotalParticipants: joined.TotalParticipants,
		})
	})

	bus.Subscribe(domain.EventNameParticipantLeft, func(ctx context.Context, e event.Event) error {
		left := e.(domain.EventParticipantLeft)
		return h.publish(left.SessionID, EventParticipantLeft, notify.ParticipantChange{
			Name:              left.ParticipantName,
			TotalParticipants: left.TotalParticipants,
		})
	})

	bus.Subscribe(domain.EventNameRoundStarted, func(ctx context.Context, e event.Event) error {
		started := e.(domain.EventRoundStarted)
		return h.publish(started.SessionID, EventRoundStarted, notify.RoundStarted{
			RoundIndex: started.RoundIndex,
			Text:       started.Text,
			Duration:   int(started.Duration / time.Second),
			StartTime:  started.StartedAt.UnixMilli(),
		})
	})

	bus.Subscribe(domain.EventNameLeaderboardTick, func(ctx context.Context, e event.Event) error {
		lb := e.(domain.EventLeaderboardTick).Leaderboard
		return h.publish(lb.SessionID, EventLeaderboardUpdate, notify.FormatLeaderboard(lb))
	})

	bus.Subscribe(domain.EventNameRoundEnded, func(ctx context.Context, e event.Event) error {
		ended := e.(domain.EventRoundEnded)
		return h.publish(ended.SessionID, EventRoundEnded, notify.RoundEnded{
			RoundIndex: ended.RoundIndex,
			Results:    notify.FormatResults(ended.Results),
		})
	})

	bus.Subscribe(domain.EventNameSessionCompleted, func(ctx context.Context, e event.Event) error {
		completed := e.(domain.EventSessionCompleted)
		return h.publish(completed.SessionID, EventFinalResults, notify.FinalResults{
			Rankings: notify.FormatResults(completed.FinalResults),
		})
	})

	return h
}

// Start processes queued broadcasts until the context is cancelled.
func (h *Hub) Start(ctx context.Context) {
	slog.Info("gateway: hub started")

	for {
		select {
		case <-ctx.Done():
			slog.Info("gateway: hub shutting down")
			h.closeAll()
			return
		case b := <-h.broadcastCh:
			h.deliver(b)
		}
	}
}

func (h *Hub) publish(sessionID, name string, data any) error {
	frame, err := marshalEnvelope(name, data)
	if err != nil {
		return err
	}

	select {
	case h.broadcastCh <- broadcast{sessionID: sessionID, frame: frame}:
	default:
		slog.Warn("gateway: broadcast queue full, dropping frame",
			"session", sessionID, "event", name)
	}
	return nil
}

func (h *Hub) deliver(b broadcast) {
	h.mu.RLock()
	room := h.rooms[b.sessionID]
	targets := make([]*Client, 0, len(room))
	for c := range room {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- b.frame:
		default:
			// A full send buffer means the client stopped draining; cut it
			// loose rather than stall the whole room.
			slog.Warn("gateway: client send buffer full, closing",
				"connection", c.ID, "session", b.sessionID)
			h.leave(c)
			c.conn.Close()
		}
	}
}

func (h *Hub) join(sessionID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[sessionID] == nil {
		h.rooms[sessionID] = make(map[*Client]bool)
	}
	h.rooms[sessionID][c] = true
	c.sessionID = sessionID
}

func (h *Hub) leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[c.sessionID]
	if !ok {
		return
	}
	if _, ok := room[c]; !ok {
		return
	}

	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.sessionID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, room := range h.rooms {
		for c := range room {
			c.conn.Close()
		}
		delete(h.rooms, id)
	}
}

// RoomSize reports how many connections are attached to a session's room.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

func marshalEnvelope(name string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: name, Data: raw})
}
