package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ayoubkefii/e-learning/internal/app"
	"github.com/ayoubkefii/e-learning/internal/auth"
	"github.com/ayoubkefii/e-learning/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WSHandler struct {
	service  *app.AttemptService
	authn    Authenticator
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.AttemptService, authn Authenticator, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		authn:   authn,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{
		Kind:    string(domain.KindOf(err)),
		Message: domain.Message(err),
	}}
}

func invalidPayload(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{
		Kind:    string(domain.KindInvalidInput),
		Message: msg,
	}}
}

// ServeWS authenticates the token query parameter, upgrades the connection and
// serves start/submit requests until the client disconnects.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	id, err := h.authn.Authenticate(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})

	// Only this goroutine writes to conn.
	go h.writeLoop(conn, send, writerDone)

	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		select {
		case send <- h.handle(ctx, id, inbound):
		case <-writerDone:
			return
		}
	}

	close(send)
	<-writerDone
}

// jsonConn is the write side of a websocket connection.
type jsonConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// writeLoop drains send into conn. A failed write closes conn so the read loop
// unblocks instead of waiting for the next client frame.
func (h *WSHandler) writeLoop(conn jsonConn, send <-chan outboundMessage[any], done chan<- struct{}) {
	defer close(done)
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			h.log.Debug("ws write error", zap.Error(err))
			_ = conn.Close()
			return
		}
	}
}

func (h *WSHandler) handle(ctx context.Context, id auth.Identity, inbound inboundMessage) outboundMessage[any] {
	switch inbound.Type {
	case "start":
		var payload startRequest
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return invalidPayload("invalid start payload")
		}
		attempt, err := h.service.StartAttempt(ctx, id.UserID, payload.QuizID)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage[any]{Type: "attempt", Payload: attempt}
	case "submit":
		var payload submitRequest
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return invalidPayload("invalid submit payload")
		}
		outcome, err := h.service.SubmitAttempt(ctx, id.UserID, payload.AttemptID, payload.Answers)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage[any]{Type: "result", Payload: newSubmitResponse(outcome)}
	default:
		return invalidPayload("unsupported message type")
	}
}
