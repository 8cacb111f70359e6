package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"meditoken/internal/store"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/rs/zerolog"
)

const followTimeout = 10 * time.Second

// conn is the part of a SockJS session or WebSocket the server needs.
type conn interface {
	Recv() (string, error)
	Send(string) error
	Close(code uint32, reason string) error
}

type Server struct {
	hub      *Hub
	bridge   *Bridge
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, bridge *Bridge, logger zerolog.Logger, allowedOrigins []string) *Server {
	return &Server{
		hub:    hub,
		bridge: bridge,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), allowedOrigins)
			},
		},
	}
}

// SockJSHandler serves SockJS sessions under prefix; mount it at prefix + "/".
func (s *Server) SockJSHandler(prefix string) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		initial := ""
		if req := session.Request(); req != nil {
			initial = strings.TrimSpace(req.URL.Query().Get("clinic_id"))
		}
		s.serve(session, initial)
	})
}

// ServeWS upgrades to a plain WebSocket.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &wsConn{conn: ws}
	defer ws.Close()
	s.serve(c, strings.TrimSpace(r.URL.Query().Get("clinic_id")))
}

func (s *Server) serve(c conn, initialClinic string) {
	client := &Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
	s.hub.Register(client)
	defer s.bridge.Leave(client)

	go func() {
		for msg := range client.Send {
			if err := c.Send(string(msg)); err != nil {
				return
			}
		}
	}()

	if initialClinic != "" {
		s.follow(client, initialClinic)
	}

	for {
		msg, err := c.Recv()
		if err != nil {
			return
		}
		parsed, ok := ParseSubscribe([]byte(msg))
		if !ok {
			s.hub.Send(client, encodeError("", "unsupported message"))
			continue
		}
		target := ""
		if parsed.Action == "subscribe" {
			target = parsed.ClinicID
		}
		s.follow(client, target)
	}
}

func (s *Server) follow(client *Client, clinicID string) {
	ctx, cancel := context.WithTimeout(context.Background(), followTimeout)
	defer cancel()
	if err := s.bridge.Follow(ctx, client, clinicID); err != nil {
		s.logger.Warn().Err(err).Str("client_id", client.ID).Str("clinic_id", clinicID).Msg("realtime subscribe failed")
		s.hub.Send(client, encodeError(clinicID, followErrorText(err)))
	}
}

func followErrorText(err error) string {
	switch {
	case errors.Is(err, store.ErrTenantNotFound):
		return "clinic not found"
	case errors.Is(err, store.ErrInvalidInput):
		return "invalid clinic id"
	default:
		return "clinic unavailable"
	}
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.EqualFold(candidate, origin) {
			return true
		}
	}
	return false
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Recv() (string, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if kind == websocket.TextMessage {
			return string(data), nil
		}
	}
}

func (c *wsConn) Send(msg string) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *wsConn) Close(code uint32, reason string) error {
	message := websocket.FormatCloseMessage(int(code), reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
	return c.conn.Close()
}
