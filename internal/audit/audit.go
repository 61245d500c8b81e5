package audit

import (
	"fmt"

	"netifmon/internal/database"
	"netifmon/internal/models"
)

const MaxEvents = 500

// Service records monitor enable/disable requests.
type Service struct {
	db *database.DB
}

func NewService(db *database.DB) *Service {
	return &Service{db: db}
}

func (s *Service) LogAction(ifname, action, details, ipAddress string) error {
	_, err := s.db.Exec(
		"INSERT INTO monitor_events (ifname, action, details, ip_address) VALUES (?, ?, ?, ?)",
		ifname, action, details, ipAddress,
	)
	if err != nil {
		return fmt.Errorf("failed to record %s for %s: %w", action, ifname, err)
	}
	return nil
}

// Recent returns the newest events first, optionally limited to one
// interface.
func (s *Service) Recent(ifname string, limit int) ([]models.MonitorEvent, error) {
	if limit <= 0 || limit > MaxEvents {
		limit = MaxEvents
	}

	rows, err := s.db.Query(`
		SELECT id, ifname, action, COALESCE(details, ''), COALESCE(ip_address, ''), created_at
		FROM monitor_events
		WHERE ? = '' OR ifname = ?
		ORDER BY id DESC
		LIMIT ?
	`, ifname, ifname, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query monitor events: %w", err)
	}
	defer rows.Close()

	events := []models.MonitorEvent{}
	for rows.Next() {
		var e models.MonitorEvent
		if err := rows.Scan(&e.ID, &e.Ifname, &e.Action, &e.Details, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan monitor event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
