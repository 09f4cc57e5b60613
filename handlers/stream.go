package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"gambit/presence-service/middleware"
	"gambit/presence-service/models"
	"gambit/presence-service/services"
	"gambit/presence-service/utils"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks are the gateway's job; tokens gate this endpoint.
		return true
	},
}

// StreamEnvelope is the wire frame of the push surface. The first frame of
// every stream is a baseline snapshot; everything after is a delta.
type StreamEnvelope struct {
	Type     string              `json:"type"` // baseline | delta
	Baseline interface{}         `json:"baseline,omitempty"`
	Delta    *models.StatusDelta `json:"delta,omitempty"`
}

// StreamHandler upgrades authenticated callers to a WebSocket presence
// stream scoped to a fixed id set. The scope is resolved once at subscribe
// time; a caller whose relevant-id set changes must reconnect.
type StreamHandler struct {
	engine   *services.QueryEngine
	notifier *services.ChangeNotifier
	logger   *utils.Logger
}

func NewStreamHandler(engine *services.QueryEngine, notifier *services.ChangeNotifier, logger *utils.Logger) *StreamHandler {
	return &StreamHandler{
		engine:   engine,
		notifier: notifier,
		logger:   logger,
	}
}

// Subscribe handles GET /ws/presence?scope=friends|opponents|contextual
func (h *StreamHandler) Subscribe(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	scope := c.DefaultQuery("scope", "contextual")

	// Resolve the scope and baseline before upgrading; a subscriber created
	// after a delta was published never sees it, so the baseline fetch is
	// what establishes current state.
	var baseline interface{}
	var scopeIDs []string
	ctx := c.Request.Context()

	switch scope {
	case "friends":
		result := h.engine.ResolveFriends(ctx, userID)
		baseline = result
		for _, f := range result.Friends {
			scopeIDs = append(scopeIDs, f.UserID)
		}
	case "opponents":
		result := h.engine.ResolveOpponents(ctx, userID)
		baseline = result
		for _, o := range result.Opponents {
			scopeIDs = append(scopeIDs, o.UserID)
		}
	case "contextual":
		result := h.engine.CombinedContextual(ctx, userID)
		baseline = result
		for _, u := range result.AllUsers {
			scopeIDs = append(scopeIDs, u.UserID)
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid scope, expected friends, opponents or contextual",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	defer conn.Close()

	sink := &wsSink{conn: conn}
	if err := sink.write(StreamEnvelope{Type: "baseline", Baseline: baseline}); err != nil {
		h.logger.Debug("baseline write failed", "user_id", userID, "error", err)
		return
	}

	sub := h.notifier.Subscribe(scopeIDs, sink)
	defer h.notifier.Unsubscribe(sub)

	h.logger.Info("presence stream opened", "user_id", userID, "scope", scope, "scope_size", len(scopeIDs))

	// The transport is one-directional; the read loop exists only to notice
	// the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.logger.Info("presence stream closed", "user_id", userID)
}

// wsSink adapts a websocket connection to the notifier's DeltaSink. Writes
// are serialized and bounded by a deadline so a stalled client fails fast.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) WriteDelta(delta models.StatusDelta) error {
	return s.write(StreamEnvelope{Type: "delta", Delta: &delta})
}

func (s *wsSink) write(envelope StreamEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(envelope)
}
