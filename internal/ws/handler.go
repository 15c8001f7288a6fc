package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"realtime-chat/backend/internal/models"
	"realtime-chat/backend/internal/session"
	"realtime-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// Message is the frame exchanged in both directions
type Message struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

type outgoing struct {
	Type    string `json:"type"`
	Content any    `json:"content,omitempty"`
}

// SessionFactory creates the session behind a connection
type SessionFactory interface {
	New(cfg session.Config, n session.Notifier, id string) *session.Session
}

// Options configures the websocket handler
type Options struct {
	// AllowedOrigins lists accepted Origin headers. Empty or "*" accepts all.
	AllowedOrigins []string
	DefaultProfile string
}

// Handler upgrades /ws requests into chat sessions
type Handler struct {
	hub      *Hub
	sessions SessionFactory
	upgrader websocket.Upgrader
	profile  string
	log      *logger.Logger
}

func NewHandler(hub *Hub, sessions SessionFactory, opts Options, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.GetGlobal()
	}
	if opts.DefaultProfile == "" {
		opts.DefaultProfile = "customer"
	}
	return &Handler{
		hub:      hub,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin:      originChecker(opts.AllowedOrigins),
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		profile: opts.DefaultProfile,
		log:     log,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return len(set) == 0 || origin == "" || set[origin]
	}
}

// Client is one websocket connection and the session it drives
type Client struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Profile Profile

	hub     *Hub
	session *session.Session
	ctx     context.Context
	cancel  context.CancelFunc
	sends   sync.WaitGroup
	log     *logger.Logger

	sendMu     sync.Mutex
	sendClosed bool
}

// ServeWs handles GET /ws?profile=&input=&response=
func (h *Handler) ServeWs(c *gin.Context) {
	profile, err := resolveProfile(c.Query("profile"), h.profile, c.Query("input"), c.Query("response"))
	if err != nil {
		logger.FromContext(c).Warn("Rejected websocket request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.FromContext(c).LogError(err, "Error upgrading connection")
		return
	}
	conn.EnableWriteCompression(true)

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		ID:      id,
		Conn:    conn,
		Send:    make(chan []byte, sendBufferSize),
		Profile: profile,
		hub:     h.hub,
		ctx:     ctx,
		cancel:  cancel,
		log:     h.log.With("client_id", id, "profile", profile.Name),
	}
	client.session = h.sessions.New(session.Config{
		InputSource:    profile.InputSource,
		ResponseSource: profile.ResponseSource,
	}, client, id)

	if !h.hub.add(client) {
		cancel()
		conn.Close()
		return
	}

	go client.WritePump()

	if err := client.session.Open(ctx); err != nil {
		client.log.LogError(err, "Failed to open session")
		client.sendMessage("alert", map[string]string{"message": "Chat is unavailable right now"})
		cancel()
		client.session.Close()
		h.hub.remove(client)
		return
	}

	client.log.Info("New WebSocket connection established",
		"input_source", profile.InputSource,
		"response_source", profile.ResponseSource)
	go client.ReadPump()
}

// Notify turns session events into frames. It never blocks.
func (c *Client) Notify(e session.Event) {
	switch e.Type {
	case session.EventHistory:
		messages := e.Messages
		if messages == nil {
			messages = []models.Message{}
		}
		c.sendMessage("chat_history", map[string]any{
			"messages":    messages,
			"load_failed": e.LoadFailed,
		})
	case session.EventMessage:
		c.sendMessage("message", e.Message)
	case session.EventCleared:
		c.sendMessage("cleared", nil)
	case session.EventSending:
		c.sendMessage("sending", map[string]bool{"is_sending": e.Sending})
	case session.EventInputCleared:
		c.sendMessage("input_cleared", nil)
	case session.EventAlert:
		c.sendMessage("alert", map[string]string{"message": e.Alert})
	case session.EventResponseSource:
		c.sendMessage("response_source", map[string]models.Source{"source": e.Source})
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.cancel()
		c.sends.Wait()
		c.session.Close()
		c.hub.remove(c)
		c.Conn.Close()
		c.log.Debug("ReadPump ended")
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.LogError(err, "Unexpected websocket close")
			}
			break
		}

		var message Message
		if err := json.Unmarshal(data, &message); err != nil {
			c.log.Warn("Error unmarshaling message", "error", err)
			c.sendError("malformed frame")
			continue
		}
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message Message) {
	switch message.Type {
	case "chat":
		var content struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(message.Content, &content); err != nil {
			c.sendError("chat content must be {text}")
			return
		}
		// Sends run beside the read loop so a second chat frame sees the
		// in-flight send instead of queueing behind it.
		c.sends.Add(1)
		go func() {
			defer c.sends.Done()
			c.handleChat(content.Text)
		}()

	case "clear":
		c.sends.Add(1)
		go func() {
			defer c.sends.Done()
			// ClearAll raises its own alert on failure
			_ = c.session.ClearAll(c.ctx)
		}()

	case "response_source":
		var content struct {
			Source string `json:"source"`
		}
		if err := json.Unmarshal(message.Content, &content); err != nil || content.Source == "" {
			c.sendError("response_source content must be {source}")
			return
		}
		c.session.SetResponseSource(models.Source(content.Source))

	case "ping":
		c.sendMessage("pong", nil)

	default:
		c.log.Warn("Unknown message type", "type", message.Type)
		c.sendError("unknown message type " + message.Type)
	}
}

func (c *Client) handleChat(text string) {
	err := c.session.Send(c.ctx, text)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrEmptyMessage), errors.Is(err, session.ErrSendInProgress):
		c.sendError(err.Error())
	default:
		// alerts and logging already happened in the session
		c.log.Debug("Send settled with error", "error", err)
	}
}

func (c *Client) sendError(text string) {
	c.sendMessage("error", map[string]string{"message": text})
}

func (c *Client) sendMessage(messageType string, content any) {
	data, err := json.Marshal(outgoing{Type: messageType, Content: content})
	if err != nil {
		c.log.LogError(err, "Error marshaling message", "type", messageType)
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.Send <- data:
	default:
		c.log.Warn("Send buffer full, dropping frame", "type", messageType)
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.Send)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Each queued frame goes out as its own websocket message
			n := len(c.Send)
			for i := 0; i < n; i++ {
				extra, ok := <-c.Send
				if !ok {
					c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, extra); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
