package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"familycall-platform/internal/auth"
	"familycall-platform/internal/badge"
	"familycall-platform/internal/calls"
	"familycall-platform/internal/family"
	"familycall-platform/internal/history"
	"familycall-platform/internal/messaging"
	"familycall-platform/internal/notify"
	"familycall-platform/internal/presence"
	"familycall-platform/internal/session"
	"familycall-platform/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Machine   *calls.Machine
	Store     *session.Store
	Presence  *presence.Tracker
	Badges    *badge.Reconciler
	History   *history.Recorder
	Notify    *notify.Dispatcher
	Directory family.Directory
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	FamilyID string `json:"family_id"`
	Role     string `json:"role"`
	DeviceID string `json:"device_id"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials
// against the family service before issuing tokens.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.FamilyID == "" || req.Role == "" || req.DeviceID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, family_id, role, device_id required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.FamilyID, req.Role, req.DeviceID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type requestCallRequest struct {
	CalleeID string `json:"callee_id"`
	Type     string `json:"type"`
}

func (h Handlers) RequestCall(c *gin.Context) {
	familyID, userID, deviceID, ok := h.identity(c)
	if !ok {
		return
	}
	var req requestCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.CalleeID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "callee_id required"})
		return
	}
	callType := session.CallType(req.Type)
	if callType == "" {
		callType = session.CallTypeVoice
	}

	s, err := h.Machine.RequestCall(c.Request.Context(), familyID, userID, deviceID, req.CalleeID, callType)
	if err != nil {
		h.writeCallError(c, familyID, "", err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h Handlers) Answer(c *gin.Context) {
	familyID, userID, deviceID, ok := h.identity(c)
	if !ok {
		return
	}
	s, err := h.Machine.Answer(c.Request.Context(), familyID, c.Param("session_id"), userID, deviceID)
	if err != nil {
		h.writeCallError(c, familyID, c.Param("session_id"), err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) Decline(c *gin.Context) {
	familyID, userID, deviceID, ok := h.identity(c)
	if !ok {
		return
	}
	s, err := h.Machine.Decline(c.Request.Context(), familyID, c.Param("session_id"), userID, deviceID)
	if err != nil {
		h.writeCallError(c, familyID, c.Param("session_id"), err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) MarkActive(c *gin.Context) {
	familyID, userID, _, ok := h.identity(c)
	if !ok {
		return
	}
	s, err := h.Machine.MarkActive(c.Request.Context(), familyID, c.Param("session_id"), userID)
	if err != nil {
		h.writeCallError(c, familyID, c.Param("session_id"), err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type endCallRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) End(c *gin.Context) {
	familyID, userID, _, ok := h.identity(c)
	if !ok {
		return
	}
	var req endCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	s, err := h.Machine.End(c.Request.Context(), familyID, c.Param("session_id"), userID, session.EndReason(req.Reason))
	if err != nil {
		h.writeCallError(c, familyID, c.Param("session_id"), err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) Heartbeat(c *gin.Context) {
	familyID, userID, _, ok := h.identity(c)
	if !ok {
		return
	}
	s, err := h.Machine.Heartbeat(c.Request.Context(), familyID, c.Param("session_id"), userID)
	if err != nil {
		h.writeCallError(c, familyID, c.Param("session_id"), err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// GetSession is the re-sync read: a device that reconnects or receives a
// stale push reads the authoritative state here instead of trusting what it
// last saw.
func (h Handlers) GetSession(c *gin.Context) {
	familyID, userID, _, ok := h.identity(c)
	if !ok {
		return
	}
	s, err := h.Store.Get(c.Request.Context(), familyID, c.Param("session_id"))
	if err != nil {
		h.writeCallError(c, familyID, c.Param("session_id"), err)
		return
	}
	if userID != s.CallerID && userID != s.CalleeID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a session participant"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// --- Presence ---

func (h Handlers) GetPresence(c *gin.Context) {
	if _, _, _, ok := h.identity(c); !ok {
		return
	}
	participantID := c.Param("participant_id")
	online, err := h.Presence.IsOnline(c.Request.Context(), participantID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "presence lookup failed"})
		return
	}
	resp := gin.H{"participant_id": participantID, "online": online}
	if !online {
		if seen, ok, err := h.Presence.LastSeen(c.Request.Context(), participantID); err == nil && ok {
			resp["last_seen"] = seen
		}
	}
	c.JSON(http.StatusOK, resp)
}

// --- Badges ---

func (h Handlers) GetBadgeCounts(c *gin.Context) {
	_, userID, _, ok := h.identity(c)
	if !ok {
		return
	}
	counts, err := h.Badges.GetCounts(c.Request.Context(), userID, c.Param("contact_id"))
	if err != nil {
		if errors.Is(err, badge.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "contact_id required"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "badge lookup failed"})
		return
	}
	c.JSON(http.StatusOK, counts)
}

type clearBadgeRequest struct {
	Kind string `json:"kind"`
}

func (h Handlers) ClearBadge(c *gin.Context) {
	_, userID, _, ok := h.identity(c)
	if !ok {
		return
	}
	var req clearBadgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	err := h.Badges.Clear(c.Request.Context(), userID, c.Param("contact_id"), badge.Kind(req.Kind))
	if err != nil {
		if errors.Is(err, badge.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "kind must be messages or calls"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "badge clear failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// --- History ---

func (h Handlers) ListHistory(c *gin.Context) {
	familyID, userID, _, ok := h.identity(c)
	if !ok {
		return
	}
	req := history.ListRequest{FamilyID: familyID, ParticipantID: userID}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		req.Range.From = t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		req.Range.To = t
	}

	rows, err := h.History.List(c.Request.Context(), req)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": rows})
}

func (h Handlers) HistorySummary(c *gin.Context) {
	familyID, userID, _, ok := h.identity(c)
	if !ok {
		return
	}
	sum, err := h.History.Summary(c.Request.Context(), familyID, userID, c.Param("contact_id"), history.TimeRange{})
	if err != nil {
		if errors.Is(err, history.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "contact_id required"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Contacts ---

func (h Handlers) ListContacts(c *gin.Context) {
	familyID, userID, _, ok := h.identity(c)
	if !ok {
		return
	}
	members, err := h.Directory.Contacts(c.Request.Context(), familyID, userID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "contact lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": members})
}

// --- Message events ---

// MessageEvent is the intake for the messaging service: it pushes one event
// per delivered message and this side handles the alert and the unread
// counter. Replays are harmless on both paths.
func (h Handlers) MessageEvent(c *gin.Context) {
	familyID, _, _, ok := h.identity(c)
	if !ok {
		return
	}
	var ev messaging.MessageEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ev.FamilyID = familyID
	if ev.MessageID == "" || ev.SenderID == "" || ev.RecipientID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "message_id, sender_id, recipient_id required"})
		return
	}

	if err := h.Badges.OnMessageEvent(c.Request.Context(), ev); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "badge update failed"})
		return
	}
	if err := h.Notify.NotifyNewMessage(c.Request.Context(), ev); err != nil {
		if !errors.Is(err, notify.ErrDeliveryFailure) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "notification failed"})
			return
		}
		// The badge event is recorded; delivery retries ride on the next
		// message or a badge poll.
		logger.FromGin(c).Warn("message notification undelivered", "message_id", ev.MessageID, "err", err)
	}
	c.Status(http.StatusAccepted)
}

// --- helpers ---

func (h Handlers) identity(c *gin.Context) (familyID, userID, deviceID string, ok bool) {
	ctx := c.Request.Context()
	familyID, err := auth.FamilyID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "family_id required"})
		return "", "", "", false
	}
	userID, err = auth.UserID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", "", "", false
	}
	deviceID, _ = auth.DeviceID(ctx)
	return familyID, userID, deviceID, true
}

// writeCallError maps service errors onto the API contract. A lost race is
// not a failure: the 409 body carries the authoritative session so the
// client can render what actually happened.
func (h Handlers) writeCallError(c *gin.Context, familyID, sessionID string, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, session.ErrConflict):
		resp := gin.H{"error": "already handled"}
		if sessionID != "" {
			if cur, gerr := h.Store.Get(c.Request.Context(), familyID, sessionID); gerr == nil {
				resp["session"] = cur
			}
		}
		c.AbortWithStatusJSON(http.StatusConflict, resp)
	case errors.Is(err, session.ErrInvalidArgument), errors.Is(err, session.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrNotAuthorized):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not authorized to call this member"})
	case errors.Is(err, calls.ErrNotParticipant):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a session participant"})
	case errors.Is(err, family.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "family member not found"})
	default:
		logger.FromGin(c).Error("call operation failed", "session_id", sessionID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
