package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/Ewocs/typing-comp/internal/event"
	"github.com/Ewocs/typing-comp/internal/notify"
	"github.com/Ewocs/typing-comp/internal/session"
)

type wsFixture struct {
	hub      *Hub
	registry *session.Registry
	server   *httptest.Server
	cancel   context.CancelFunc
}

func makeWSFixture(t *testing.T) *wsFixture {
	t.Helper()

	bus := event.NewBus()
	t.Cleanup(bus.Stop)

	registry := session.NewRegistry(session.RegistryConfig{
		EventBus: bus,
		Clock:    clockwork.NewFakeClock(),
	})

	hub := NewHub(bus)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Start(ctx)

	handler := NewHandler(HandlerConfig{Registry: registry, Hub: hub})

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", handler.HandleWS)
	server := httptest.NewServer(router)

	f := &wsFixture{hub: hub, registry: registry, server: server, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return f
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, name string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(Envelope{Event: name, Data: raw})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// readUntil drains frames until one matches the wanted event name. Broadcasts
// and direct replies share the socket, so interleaving is expected.
func readUntil(t *testing.T, conn *websocket.Conn, name string) json.RawMessage {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %q", name)

		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		if env.Event == name {
			return env.Data
		}
	}
}

func TestHandler_CreateJoinRoundLifecycle(t *testing.T) {
	f := makeWSFixture(t)
	conn := f.dial(t)

	send(t, conn, EventCreate, CreateRequest{
		Code:   "friday-sprint",
		Mode:   "rounds",
		Rounds: []RoundPlan{{Text: "the quick brown fox", Duration: 0}},
	})

	var created CreatedResponse
	require.NoError(t, json.Unmarshal(readUntil(t, conn, EventCreated), &created))
	require.Equal(t, "friday-sprint", created.Code)
	require.Equal(t, "rounds", created.Mode)

	send(t, conn, EventJoin, JoinRequest{Code: "friday-sprint", ParticipantName: "alice"})

	var joined JoinSuccessResponse
	require.NoError(t, json.Unmarshal(readUntil(t, conn, EventJoinSuccess), &joined))
	require.Equal(t, "alice", joined.Name)
	require.Equal(t, 1, joined.TotalParticipants)

	var change notify.ParticipantChange
	require.NoError(t, json.Unmarshal(readUntil(t, conn, EventParticipantJoined), &change))
	require.Equal(t, "alice", change.Name)

	send(t, conn, EventStartRound, StartRoundRequest{})

	var started notify.RoundStarted
	require.NoError(t, json.Unmarshal(readUntil(t, conn, EventRoundStarted), &started))
	require.Equal(t, "the quick brown fox", started.Text)

	send(t, conn, EventProgress, ProgressRequest{
		CorrectChars: 19,
		TotalChars:   19,
		WordsTyped:   4,
		Completed:    true,
	})

	send(t, conn, EventEndRound, EndRoundRequest{})

	var ended notify.RoundEnded
	require.NoError(t, json.Unmarshal(readUntil(t, conn, EventRoundEnded), &ended))
	require.Len(t, ended.Results, 1)
	require.Equal(t, "alice", ended.Results[0].Name)
	require.Equal(t, 1, ended.Results[0].Rank)

	var final notify.FinalResults
	require.NoError(t, json.Unmarshal(readUntil(t, conn, EventFinalResults), &final))
	require.Len(t, final.Rankings, 1)
}

func TestHandler_JoinUnknownCompetitionReturnsError(t *testing.T) {
	f := makeWSFixture(t)
	conn := f.dial(t)

	send(t, conn, EventJoin, JoinRequest{Code: "no-such", ParticipantName: "bob"})

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(readUntil(t, conn, EventError), &resp))
	require.NotEmpty(t, resp.Message)
}

func TestHandler_ProgressBeforeJoinReturnsError(t *testing.T) {
	f := makeWSFixture(t)
	conn := f.dial(t)

	send(t, conn, EventProgress, ProgressRequest{CorrectChars: 5, TotalChars: 5})

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(readUntil(t, conn, EventError), &resp))
	require.Contains(t, resp.Message, "join")
}

func TestHandler_MalformedFrameReturnsError(t *testing.T) {
	f := makeWSFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(readUntil(t, conn, EventError), &resp))
	require.Equal(t, "malformed frame", resp.Message)
}

func TestHandler_SecondClientSeesRoomBroadcasts(t *testing.T) {
	f := makeWSFixture(t)
	host := f.dial(t)
	guest := f.dial(t)

	send(t, host, EventCreate, CreateRequest{
		Code:   "duo",
		Mode:   "rounds",
		Rounds: []RoundPlan{{Text: "pack my box"}},
	})
	readUntil(t, host, EventCreated)

	send(t, host, EventJoin, JoinRequest{Code: "duo", ParticipantName: "alice"})
	readUntil(t, host, EventJoinSuccess)

	send(t, guest, EventJoin, JoinRequest{Code: "duo", ParticipantName: "bob"})
	readUntil(t, guest, EventJoinSuccess)

	// The host's socket sees bob arrive.
	for {
		var change notify.ParticipantChange
		require.NoError(t, json.Unmarshal(readUntil(t, host, EventParticipantJoined), &change))
		if change.Name == "bob" {
			require.Equal(t, 2, change.TotalParticipants)
			break
		}
	}

	send(t, host, EventStartRound, StartRoundRequest{})

	var started notify.RoundStarted
	require.NoError(t, json.Unmarshal(readUntil(t, guest, EventRoundStarted), &started))
	require.Equal(t, "pack my box", started.Text)
}
