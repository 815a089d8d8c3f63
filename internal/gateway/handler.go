package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Ewocs/typing-comp/internal/domain"
	"github.com/Ewocs/typing-comp/internal/errors"
	"github.com/Ewocs/typing-comp/internal/session"
	"github.com/Ewocs/typing-comp/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The server is its own origin policy; browsers talk to it directly.
	CheckOrigin: func(*http.Request) bool { return true },
}

type HandlerConfig struct {
	Registry *session.Registry
	Hub      *Hub
}

// Handler upgrades websocket connections and dispatches inbound envelopes to
// the session engine.
type Handler struct {
	registry *session.Registry
	hub      *Hub
}

func NewHandler(c HandlerConfig) *Handler {
	return &Handler{
		registry: c.Registry,
		hub:      c.Hub,
	}
}

// HandleWS upgrades the request and runs the connection's read/write pumps.
func (h *Handler) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("gateway: upgrade failed", "error", err)
		return
	}

	client := &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	telemetry.ActiveConnections.Inc()

	go client.writePump()
	client.readPump(h)
}

func (h *Handler) handleFrame(c *Client, frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		h.sendError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed frame")))
		return
	}

	ctx := context.Background()

	var err error
	switch env.Event {
	case EventCreate:
		err = h.handleCreate(ctx, c, env.Data)
	case EventJoin:
		err = h.handleJoin(ctx, c, env.Data)
	case EventStartRound:
		err = h.handleStartRound(ctx, c, env.Data)
	case EventEndRound:
		err = h.handleEndRound(ctx, c, env.Data)
	case EventProgress:
		err = h.handleProgress(ctx, c, env.Data)
	default:
		err = errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown event %q", env.Event))
	}

	if err != nil {
		h.sendError(c, err)
	}
}

func (h *Handler) handleCreate(_ context.Context, c *Client, data json.RawMessage) error {
	var req CreateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
	}

	specs := make([]domain.RoundSpec, 0, len(req.Rounds))
	for _, r := range req.Rounds {
		specs = append(specs, domain.RoundSpec{
			Text:     r.Text,
			Duration: time.Duration(r.Duration) * time.Second,
		})
	}

	sess, err := h.registry.GetOrCreate(req.Code, session.Settings{
		Mode:   domain.Mode(req.Mode),
		Rounds: specs,
	})
	if err != nil {
		return err
	}

	return h.reply(c, EventCreated, CreatedResponse{
		Code: sess.ID(),
		Mode: string(sess.Mode()),
	})
}

func (h *Handler) handleJoin(ctx context.Context, c *Client, data json.RawMessage) error {
	var req JoinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
	}
	if req.ParticipantName == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("participant name is required"))
	}

	sess, err := h.registry.Lookup(req.Code)
	if err != nil {
		return err
	}

	// Room membership first, so the joined broadcast cannot outrun it.
	h.hub.join(req.Code, c)

	total, err := sess.Join(ctx, c.ID, req.ParticipantName)
	if err != nil {
		h.hub.leave(c)
		c.sessionID = ""
		return err
	}

	c.name = req.ParticipantName

	return h.reply(c, EventJoinSuccess, JoinSuccessResponse{
		Name:              req.ParticipantName,
		Code:              req.Code,
		TotalParticipants: total,
	})
}

func (h *Handler) handleStartRound(ctx context.Context, c *Client, data json.RawMessage) error {
	var req StartRoundRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
		}
	}

	sess, err := h.lookupJoined(c)
	if err != nil {
		return err
	}
	return sess.StartRound(ctx, req.RoundIndex)
}

func (h *Handler) handleEndRound(ctx context.Context, c *Client, data json.RawMessage) error {
	var req EndRoundRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
		}
	}

	sess, err := h.lookupJoined(c)
	if err != nil {
		return err
	}
	return sess.EndRound(ctx, req.RoundIndex, session.TriggerManual)
}

func (h *Handler) handleProgress(ctx context.Context, c *Client, data json.RawMessage) error {
	var req ProgressRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
	}

	sess, err := h.lookupJoined(c)
	if err != nil {
		return err
	}

	accepted, err := sess.ApplyProgress(ctx, c.ID, domain.Progress{
		CorrectChars: req.CorrectChars,
		TotalChars:   req.TotalChars,
		Errors:       req.Errors,
		Backspaces:   req.Backspaces,
		WordsTyped:   req.WordsTyped,
		Completed:    req.Completed,
	})
	if err != nil {
		telemetry.ProgressDropped.Inc()
		return err
	}
	if accepted {
		telemetry.ProgressAccepted.Inc()
	} else {
		telemetry.ProgressDropped.Inc()
	}
	return nil
}

func (h *Handler) lookupJoined(c *Client) (*session.Session, error) {
	if c.sessionID == "" {
		return nil, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("join a competition first"))
	}
	return h.registry.Lookup(c.sessionID)
}

// disconnect cleans up after the read pump exits for any reason.
func (h *Handler) disconnect(c *Client) {
	if c.sessionID != "" {
		if sess, err := h.registry.Lookup(c.sessionID); err == nil {
			sess.Disconnect(context.Background(), c.ID)
		}
	}
	h.hub.leave(c)
}

// reply sends an envelope to a single client, bypassing the room broadcast.
func (h *Handler) reply(c *Client, name string, data any) error {
	frame, err := marshalEnvelope(name, data)
	if err != nil {
		return errors.Internal(err)
	}

	select {
	case c.send <- frame:
	default:
		slog.Warn("gateway: reply dropped, send buffer full", "connection", c.ID)
	}
	return nil
}

func (h *Handler) sendError(c *Client, err error) {
	e := errors.Convert(err)
	slog.Debug("gateway: request failed", "connection", c.ID, "code", e.Code, "message", e.Message)
	h.reply(c, EventError, ErrorResponse{Message: e.Message})
}
