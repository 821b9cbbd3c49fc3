package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"familycall-platform/internal/auth"
	"familycall-platform/internal/family"
	"familycall-platform/internal/presence"
	"familycall-platform/internal/signaling"
	"familycall-platform/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients authenticate with the access token, not an Origin
	// allowlist; native apps send no Origin at all.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway bridges device WebSocket connections to the signaling relay and
// the presence tracker.
//
// Each connection is one device: it subscribes to the participant's relay
// channel, filters inbound messages through the receiver's dedupe and
// staleness checks, and forwards the device's outbound signals to the relay.
// Connect and disconnect drive presence; pongs refresh the liveness TTL so
// a dead socket goes offline after the grace period even without a clean
// close.
type Gateway struct {
	relay     signaling.Relay
	status    signaling.StatusFunc
	presence  *presence.Tracker
	directory family.Directory
	log       *slog.Logger
}

func NewGateway(relay signaling.Relay, status signaling.StatusFunc, tracker *presence.Tracker, directory family.Directory, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{relay: relay, status: status, presence: tracker, directory: directory, log: log}
}

// Handle upgrades the request. Identity comes from the access token; the
// auth middleware accepts it as a query parameter because browsers cannot
// set headers on WebSocket dials.
func (g *Gateway) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	familyID, err := auth.FamilyID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "family_id required"})
		return
	}
	userID, err := auth.UserID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	deviceID, err := auth.DeviceID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "device_id required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.From(ctx).Warn("websocket upgrade failed", "user_id", userID, "err", err)
		return
	}

	g.serve(familyID, userID, deviceID, conn)
}

func (g *Gateway) serve(familyID, userID, deviceID string, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := g.relay.Subscribe(ctx, userID)
	if err != nil {
		g.log.Error("relay subscribe failed", "user_id", userID, "err", err)
		conn.Close()
		return
	}
	defer sub.Close()

	if err := g.presence.SetOnline(ctx, userID, deviceID); err != nil {
		g.log.Warn("presence online failed", "user_id", userID, "device_id", deviceID, "err", err)
	}
	defer func() {
		offCtx, offCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer offCancel()
		if err := g.presence.SetOffline(offCtx, userID, deviceID); err != nil {
			g.log.Warn("presence offline failed", "user_id", userID, "device_id", deviceID, "err", err)
		}
	}()

	// Receiver state (dedupe floors) is per connection.
	recv := signaling.NewReceiver(g.status)

	go g.writePump(ctx, cancel, userID, deviceID, conn, sub, recv)
	g.readPump(ctx, familyID, userID, deviceID, conn)
}

// readPump forwards the device's signals to the relay. Sender identity is
// taken from the connection, never from the message body.
func (g *Gateway) readPump(ctx context.Context, familyID, userID, deviceID string, conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := g.presence.Refresh(ctx, userID, deviceID); err != nil {
			g.log.Warn("presence refresh failed", "user_id", userID, "err", err)
		}
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				g.log.Warn("websocket read failed", "user_id", userID, "device_id", deviceID, "err", err)
			}
			return
		}

		var m signaling.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			g.log.Warn("bad signal from device", "user_id", userID, "device_id", deviceID, "err", err)
			continue
		}
		m.FamilyID = familyID
		m.From = userID
		m.FromDevice = deviceID
		if m.SentAt.IsZero() {
			m.SentAt = time.Now().UTC()
		}

		// The recipient must be a member of the sender's family. The
		// receiver on the other end checks session status, but control
		// variants skip that check, so the gateway gates the destination.
		if _, err := g.directory.Member(ctx, familyID, m.To); err != nil {
			g.log.Warn("signal to non-member dropped", "user_id", userID, "to", m.To, "err", err)
			continue
		}

		if err := g.relay.Send(ctx, m); err != nil {
			g.log.Warn("signal relay failed", "session_id", m.SessionID, "variant", m.Variant, "err", err)
		}
	}
}

// writePump delivers relay messages down the socket after the receiver's
// dedupe and staleness filtering, and keeps the connection alive with pings.
func (g *Gateway) writePump(ctx context.Context, cancel context.CancelFunc, userID, deviceID string, conn *websocket.Conn, sub signaling.Subscription, recv *signaling.Receiver) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Messages():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// A device's own messages fan back through the participant
			// channel; it does not need its own echo.
			if m.FromDevice == deviceID && m.From == userID {
				continue
			}
			deliver, err := recv.Accept(ctx, m)
			if err != nil {
				g.log.Warn("signal rejected", "session_id", m.SessionID, "variant", m.Variant, "err", err)
				continue
			}
			if !deliver {
				continue
			}

			raw, err := json.Marshal(m)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
