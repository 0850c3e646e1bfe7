package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dvloznov/finsight/internal/domain"
)

// CreateNotification inserts n, filling ID and CreatedAt when empty.
func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO notifications (id, user_id, type, payload, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		n.ID, n.UserID, string(n.Type), string(n.Payload), n.Read, s.timeArg(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("CreateNotification: %w", err)
	}
	return nil
}

// NotificationFilter narrows ListNotifications.
type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
}

// ListNotifications returns a user's notifications, oldest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, f NotificationFilter) ([]domain.Notification, error) {
	query := `SELECT id, user_id, type, payload, read, created_at FROM notifications WHERE user_id = ?`
	args := []any{userID}
	if f.UnreadOnly {
		query += ` AND read = ?`
		args = append(args, false)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("ListNotifications: %w", err)
	}
	defer rows.Close()

	out := []domain.Notification{}
	for rows.Next() {
		var (
			n         domain.Notification
			typ       string
			payload   string
			createdAt nullTime
		)
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &payload, &n.Read, &createdAt); err != nil {
			return nil, fmt.Errorf("ListNotifications: scan: %w", err)
		}
		n.Type = domain.NotificationType(typ)
		n.Payload = []byte(payload)
		n.CreatedAt = createdAt.Time
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationsRead flags the given notifications of userID as read
// and returns how many changed.
func (s *Store) MarkNotificationsRead(ctx context.Context, userID string, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := []any{true, userID, false}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE notifications SET read = ?
		WHERE user_id = ? AND read = ? AND id IN (`+placeholders+`)`), args...)
	if err != nil {
		return 0, fmt.Errorf("MarkNotificationsRead: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("MarkNotificationsRead: %w", err)
	}
	return n, nil
}
