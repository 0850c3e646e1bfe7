// Package notify records terminal pipeline outcomes as notifications and
// pushes unread ones to connected clients.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finsight/internal/domain"
	"github.com/dvloznov/finsight/internal/store"
)

// DefaultPollInterval is how often Stream checks for unread notifications.
const DefaultPollInterval = 3 * time.Second

// Store is the persistence the emitter and streamer need.
type Store interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	ListNotifications(ctx context.Context, userID string, f store.NotificationFilter) ([]domain.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID string, ids ...string) (int64, error)
}

// Emitter writes one notification per terminal statement outcome.
type Emitter struct {
	store Store
	log   zerolog.Logger
}

// NewEmitter creates a new emitter.
func NewEmitter(s Store, log zerolog.Logger) *Emitter {
	return &Emitter{store: s, log: log}
}

// StatementProcessed records a successful ingestion.
func (e *Emitter) StatementProcessed(ctx context.Context, st *domain.Statement, transactionCount int) error {
	return e.emit(ctx, st.UserID, domain.NotificationStatementProcessed, domain.StatementProcessedPayload{
		StatementID:      st.ID,
		Filename:         st.Filename,
		TransactionCount: transactionCount,
	})
}

// StatementFailed records a failed ingestion with its user-facing message.
func (e *Emitter) StatementFailed(ctx context.Context, st *domain.Statement, message string) error {
	return e.emit(ctx, st.UserID, domain.NotificationStatementFailed, domain.StatementFailedPayload{
		StatementID: st.ID,
		Filename:    st.Filename,
		Error:       message,
	})
}

func (e *Emitter) emit(ctx context.Context, userID string, typ domain.NotificationType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("emit %s: marshal payload: %w", typ, err)
	}
	n := &domain.Notification{UserID: userID, Type: typ, Payload: raw}
	if err := e.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("emit %s: %w", typ, err)
	}
	e.log.Debug().
		Str("notification_id", n.ID).
		Str("user_id", userID).
		Str("type", string(typ)).
		Msg("Notification created")
	return nil
}

// SendFunc delivers one notification to a client.
type SendFunc func(n domain.Notification) error

// Streamer pushes unread notifications to a connected client.
type Streamer struct {
	store    Store
	interval time.Duration
	log      zerolog.Logger
}

// NewStreamer creates a streamer polling every interval.
func NewStreamer(s Store, interval time.Duration, log zerolog.Logger) *Streamer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Streamer{store: s, interval: interval, log: log}
}

// Stream sends the user's unread notifications until ctx is done or send
// fails. A notification is marked read only after send accepted it, so a
// client that disconnects mid-batch sees the rest again on reconnect.
func (s *Streamer) Stream(ctx context.Context, userID string, send SendFunc) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.deliver(ctx, userID, send); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Streamer) deliver(ctx context.Context, userID string, send SendFunc) error {
	pending, err := s.store.ListNotifications(ctx, userID, store.NotificationFilter{UnreadOnly: true, Limit: 50})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("Stream: list unread: %w", err)
	}

	var delivered []string
	var sendErr error
	for _, n := range pending {
		if sendErr = send(n); sendErr != nil {
			break
		}
		delivered = append(delivered, n.ID)
	}

	if len(delivered) > 0 {
		// Detached so a client hanging up right after a send still has the
		// delivered ids recorded.
		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := s.store.MarkNotificationsRead(markCtx, userID, delivered...); err != nil {
			s.log.Error().Err(err).Str("user_id", userID).Msg("Failed to mark notifications read")
		}
	}
	if sendErr != nil {
		return fmt.Errorf("Stream: send: %w", sendErr)
	}
	return nil
}
