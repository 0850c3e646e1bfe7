package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finsight/internal/api/middleware"
	"github.com/dvloznov/finsight/internal/domain"
	"github.com/dvloznov/finsight/internal/notify"
	"github.com/dvloznov/finsight/internal/store"
)

// NotificationStore is the notification persistence used by the handlers.
type NotificationStore interface {
	ListNotifications(ctx context.Context, userID string, f store.NotificationFilter) ([]domain.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID string, ids ...string) (int64, error)
}

// Streamer pushes unread notifications to one client.
type Streamer interface {
	Stream(ctx context.Context, userID string, send notify.SendFunc) error
}

// NotificationsHandler handles notification endpoints.
type NotificationsHandler struct {
	store    NotificationStore
	streamer Streamer
	log      zerolog.Logger
}

// NewNotificationsHandler creates a new notifications handler.
func NewNotificationsHandler(s NotificationStore, streamer Streamer, log zerolog.Logger) *NotificationsHandler {
	return &NotificationsHandler{store: s, streamer: streamer, log: log}
}

// List handles GET /api/notifications?unread=true&limit=N
func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := store.NotificationFilter{UnreadOnly: query.Get("unread") == "true"}
	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	list, err := h.store.ListNotifications(ctx, middleware.UserID(ctx), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list notifications")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": list,
		"count":         len(list),
	})
}

// MarkRead handles POST /api/notifications/{id}/read
func (h *NotificationsHandler) MarkRead(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	n, err := h.store.MarkNotificationsRead(ctx, middleware.UserID(ctx), id)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to mark notification read")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to mark notification read")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// Stream handles GET /api/notifications/stream as Server-Sent Events.
func (h *NotificationsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)
	rc := http.NewResponseController(w)

	// The stream outlives the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		h.log.Error().Err(err).Msg("Streaming not supported by response writer")
		return
	}

	err := h.streamer.Stream(ctx, userID, func(n domain.Notification) error {
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", n.ID, n.Type, data); err != nil {
			return err
		}
		return rc.Flush()
	})
	if err != nil && ctx.Err() == nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("Notification stream ended")
	}
}
