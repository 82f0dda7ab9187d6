package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"tripgen/internal/domain"
	"tripgen/internal/hub"
)

const sendBuffer = 256

// WSHandler streams trips to a client while a run is generated and
// forwards run events for the scenarios the client subscribed to.
type WSHandler struct {
	runs   *RunService
	hub    *hub.Hub
	logger *slog.Logger
}

func NewWSHandler(runs *RunService, h *hub.Hub, logger *slog.Logger) *WSHandler {
	return &WSHandler{runs: runs, hub: h, logger: logger.With("component", "websocket")}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SubscribePayload struct {
	Scenarios []string `json:"scenarios"`
}

type TripMessage struct {
	Type    string      `json:"type"`
	Payload domain.Trip `json:"payload"`
}

type DoneMessage struct {
	Type    string            `json:"type"`
	Payload domain.RunSummary `json:"payload"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type PongMessage struct {
	Type string `json:"type"`
}

type wsClient struct {
	*hub.Client
	busy atomic.Bool
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	client := &wsClient{Client: hub.NewClient(uuid.New().String(), make(chan []byte, sendBuffer))}
	h.hub.Register(client.Client)
	ServerStats.IncWSConnections()
	defer ServerStats.DecWSConnections()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, cancel, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *wsClient) {
	defer func() {
		h.hub.Unregister(client.Client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}
		ServerStats.IncWSMessagesIn()

		if msgType != websocket.MessageText {
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			continue
		}

		switch msg.Type {
		case "generate":
			var req RunRequest
			if len(msg.Payload) > 0 {
				if err := json.Unmarshal(msg.Payload, &req); err != nil {
					h.trySend(client, ErrorMessage{Type: "error", Message: "invalid generate payload"})
					continue
				}
			}
			h.startRun(ctx, client, req)

		case "subscribe", "unsubscribe":
			var payload SubscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil || len(payload.Scenarios) == 0 {
				continue
			}
			if msg.Type == "subscribe" {
				h.hub.Subscribe(client.Client, payload.Scenarios)
			} else {
				h.hub.Unsubscribe(client.Client, payload.Scenarios)
			}

		case "ping":
			h.trySend(client, PongMessage{Type: "pong"})
		}
	}
}

// startRun generates in the background so the read loop keeps serving
// control frames. A client runs one generation at a time.
func (h *WSHandler) startRun(ctx context.Context, client *wsClient, req RunRequest) {
	if !client.busy.CompareAndSwap(false, true) {
		h.trySend(client, ErrorMessage{Type: "error", Message: "a run is already in progress"})
		return
	}

	go func() {
		run, err := h.runs.Generate(ctx, req, func(trip domain.Trip) error {
			return h.send(ctx, client, TripMessage{Type: "trip", Payload: trip})
		})
		client.busy.Store(false)
		if err != nil {
			if ctx.Err() == nil {
				h.trySend(client, ErrorMessage{Type: "error", Message: err.Error()})
			}
			h.logger.Debug("streamed run failed", "client_id", client.ID, "error", err)
			return
		}
		_ = h.send(ctx, client, DoneMessage{Type: "done", Payload: run.RunSummary})
	}()
}

func (h *WSHandler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, client *wsClient) {
	defer cancel()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-client.Send:
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancelWrite()
			if err != nil {
				return
			}
			ServerStats.IncWSMessagesOut()

		case <-ticker.C:
			pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancelPing()
			if err != nil {
				return
			}
		}
	}
}

// send blocks until the write loop takes msg, so a slow client slows the
// run rather than losing trips.
func (h *WSHandler) send(ctx context.Context, client *wsClient, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case client.Send <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *WSHandler) trySend(client *wsClient, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case client.Send <- data:
	default:
		h.logger.Debug("send buffer full", "client_id", client.ID)
	}
}
