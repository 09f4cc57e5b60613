package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gambit/presence-service/middleware"
	"gambit/presence-service/models"
	"gambit/presence-service/services"
	"gambit/presence-service/utils"
)

type PresenceHandler struct {
	store    *services.PresenceStore
	engine   *services.QueryEngine
	notifier *services.ChangeNotifier
	logger   *utils.Logger
}

func NewPresenceHandler(store *services.PresenceStore, engine *services.QueryEngine, notifier *services.ChangeNotifier, logger *utils.Logger) *PresenceHandler {
	return &PresenceHandler{
		store:    store,
		engine:   engine,
		notifier: notifier,
		logger:   logger,
	}
}

// Heartbeat handles POST /api/v1/presence/heartbeat
func (h *PresenceHandler) Heartbeat(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	now := time.Now()

	wasOnline, err := h.store.MarkOnline(c.Request.Context(), userID, now)
	if err != nil {
		h.logger.Error("Failed to mark user online", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update presence",
		})
		return
	}

	// Only the offline-to-online transition is a delta. Races can still
	// duplicate a became-online event; subscribers treat deltas as idempotent.
	if !wasOnline {
		h.notifier.Publish(models.StatusDelta{
			UserID:    userID,
			IsOnline:  true,
			Timestamp: now,
		})
	}

	c.JSON(http.StatusOK, models.HeartbeatResponse{
		Status:    "ok",
		WasOnline: wasOnline,
	})
}

// GetStatus handles GET /api/v1/presence/status?user_id=X
func (h *PresenceHandler) GetStatus(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id parameter is required",
		})
		return
	}

	online, err := h.store.IsOnline(c.Request.Context(), userID)
	if err != nil {
		// Store unavailable degrades to unknown, never to a failed request.
		h.logger.Warn("Presence check degraded", "user_id", userID, "error", err)
		c.JSON(http.StatusOK, models.StatusResponse{
			UserID:   userID,
			IsOnline: false,
			State:    models.StateUnknown,
			Degraded: true,
		})
		return
	}

	state := models.StateOffline
	if online {
		state = models.StateOnline
	}
	c.JSON(http.StatusOK, models.StatusResponse{
		UserID:   userID,
		IsOnline: online,
		State:    state,
	})
}

// Friends handles GET /api/v1/presence/friends
func (h *PresenceHandler) Friends(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	c.JSON(http.StatusOK, h.engine.ResolveFriends(c.Request.Context(), userID))
}

// Opponents handles GET /api/v1/presence/opponents
func (h *PresenceHandler) Opponents(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	c.JSON(http.StatusOK, h.engine.ResolveOpponents(c.Request.Context(), userID))
}

// Lobby handles GET /api/v1/presence/lobby
func (h *PresenceHandler) Lobby(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	excludeFriends, _ := strconv.ParseBool(c.DefaultQuery("exclude_friends", "false"))

	result := h.engine.LobbyPage(c.Request.Context(), userID, models.LobbyRequest{
		Page:           page,
		PerPage:        perPage,
		Search:         c.Query("search"),
		ExcludeFriends: excludeFriends,
	})
	c.JSON(http.StatusOK, result)
}

// Contextual handles GET /api/v1/presence/contextual
func (h *PresenceHandler) Contextual(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	c.JSON(http.StatusOK, h.engine.CombinedContextual(c.Request.Context(), userID))
}
