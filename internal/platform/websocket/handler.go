package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/campusclinic/clinicq/internal/platform/auth"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

// SessionLookup resolves the session cookie on the upgrade request.
type SessionLookup interface {
	Lookup(r *http.Request) (*auth.Session, error)
}

// ChatSink stores chat messages typed into a socket.
type ChatSink interface {
	StudentMessage(ctx context.Context, studentID, body string) error
	StaffMessage(ctx context.Context, staffID, studentID, body string) error
}

// Handler upgrades authenticated requests and routes inbound frames.
type Handler struct {
	hub      *Hub
	sessions SessionLookup
	chat     ChatSink
	upgrader gorillawebsocket.Upgrader
}

// NewHandler builds a Handler. Cross-origin upgrades are accepted only from
// allowedOrigins.
func NewHandler(hub *Hub, sessions SessionLookup, chat ChatSink, allowedOrigins []string) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(strings.TrimSpace(o), "/")] = struct{}{}
	}
	return &Handler{
		hub:      hub,
		sessions: sessions,
		chat:     chat,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r, allowed)
			},
		},
	}
}

func originAllowed(r *http.Request, allowed map[string]struct{}) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := allowed[origin]; ok {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

func (wsh *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", wsh.HandleConnect)
}

// DefaultTopics are subscribed on connect.
func DefaultTopics(sess *auth.Session) []string {
	if sess.IsStaff() {
		return []string{StaffTopic}
	}
	return []string{StudentTopic(sess.UserID)}
}

// CanSubscribe reports whether sess may listen on topic. Students see their
// own topic and queue boards; staff see everything.
func CanSubscribe(sess *auth.Session, topic string) bool {
	if strings.HasPrefix(topic, "queue:") {
		return true
	}
	if sess.IsStaff() {
		return topic == StaffTopic || strings.HasPrefix(topic, "student:")
	}
	return topic == StudentTopic(sess.UserID)
}

// HandleConnect authenticates the session cookie, upgrades the connection and
// starts the read and write pumps.
func (wsh *Handler) HandleConnect(c echo.Context) error {
	sess, err := wsh.sessions.Lookup(c.Request())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		return nil
	}

	client := &Client{
		ID:      uuid.New().String(),
		Session: sess,
		Topics:  DefaultTopics(sess),
		Send:    make(chan []byte, sendBuffer),
	}
	wsh.hub.Register(client)

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)
	return nil
}

func (wsh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()
	ws.SetReadLimit(maxMessageSize)

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			wsh.reply(client, "error", map[string]string{"message": "malformed message"})
			continue
		}
		wsh.handleMessage(context.Background(), client, msg)
	}
}

func (wsh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
	ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
}

func (wsh *Handler) handleMessage(ctx context.Context, client *Client, msg ClientMessage) {
	sess := client.Session

	switch msg.Action {
	case "subscribe":
		var ok []string
		for _, t := range msg.Topics {
			if CanSubscribe(sess, t) {
				ok = append(ok, t)
			}
		}
		wsh.hub.Subscribe(client, ok)
		if len(ok) < len(msg.Topics) {
			wsh.reply(client, "error", map[string]string{"message": "some topics were not allowed"})
		}

	case "unsubscribe":
		wsh.hub.Unsubscribe(client, msg.Topics)

	case "message":
		body := strings.TrimSpace(msg.Body)
		if wsh.chat == nil || body == "" {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		var err error
		if sess.IsStaff() {
			if msg.StudentID == "" {
				wsh.reply(client, "error", map[string]string{"message": "student_id is required"})
				return
			}
			err = wsh.chat.StaffMessage(ctx, sess.UserID, msg.StudentID, body)
		} else {
			err = wsh.chat.StudentMessage(ctx, sess.UserID, body)
		}
		if err != nil {
			wsh.hub.logger.Warn().Err(err).Str("user_id", sess.UserID).Msg("chat message rejected")
			wsh.reply(client, "error", map[string]string{"message": "message could not be sent"})
		}

	default:
		wsh.reply(client, "error", map[string]string{"message": "unknown action"})
	}
}

func (wsh *Handler) reply(client *Client, eventType string, payload any) {
	data, _ := json.Marshal(payload)
	wsh.hub.sendTo(client, Event{Type: eventType, Timestamp: wsh.hub.now().UTC(), Data: data})
}
