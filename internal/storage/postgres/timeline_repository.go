package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// timelineRepository хранит историю статусов в timeline_events.
// Колонка reason содержит только значения domain.OrderStatus.
type timelineRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB(), now: time.Now}
}

// Append записывает переход заказа; событие без времени получает текущее.
func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if !event.Reason.Valid() {
		return fmt.Errorf("append timeline event for order %s: %w: %q", event.OrderID, domain.ErrStatusInvalid, event.Reason)
	}
	if event.Type == "" {
		event.Type = domain.TimelineEventStatusChanged
	}
	occurred := event.Occurred
	if occurred.IsZero() {
		occurred = r.now()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO timeline_events (order_id, type, reason, occurred)
		SELECT id, $2, $3, $4 FROM orders WHERE id = $1
	`, event.OrderID, event.Type, string(event.Reason), occurred.UTC())
	if err != nil {
		return fmt.Errorf("append timeline event for order %s: %w", event.OrderID, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append timeline event for order %s: %w", event.OrderID, err)
	}
	if inserted == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// List возвращает историю заказа в хронологическом порядке.
func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT type, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	defer rows.Close()

	history := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		event, err := scanTimelineEvent(rows)
		if err != nil {
			return nil, err
		}
		event.OrderID = orderID
		history = append(history, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return history, nil
}

func scanTimelineEvent(row rowScanner) (domain.TimelineEvent, error) {
	var (
		event  domain.TimelineEvent
		reason string
	)
	if err := row.Scan(&event.Type, &reason, &event.Occurred); err != nil {
		return domain.TimelineEvent{}, fmt.Errorf("scan timeline event: %w", err)
	}
	event.Reason = domain.OrderStatus(reason)
	if !event.Reason.Valid() {
		return domain.TimelineEvent{}, fmt.Errorf("scan timeline event: %w: %q", domain.ErrStatusInvalid, reason)
	}
	event.Occurred = event.Occurred.UTC()
	return event, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
