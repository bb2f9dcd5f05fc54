package tokens

import (
	"context"
	"time"

	"golang.org/x/time/rate"
	"melody-map/internal/common/errors"
	"melody-map/internal/common/logging"
	"melody-map/internal/providers"
)

// RefreshStats tallies one bulk refresh pass
type RefreshStats struct {
	Candidates  int `json:"candidates"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	Deactivated int `json:"deactivated"`
	Skipped     int `json:"skipped"`
}

// RefreshExpiring refreshes every active connection of a refreshable platform whose
// token expires inside the staleness buffer. Connections are refreshed one at a time,
// paced so providers see at most one exchange per pacing interval.
func (m *Manager) RefreshExpiring(ctx context.Context) (RefreshStats, error) {
	var stats RefreshStats
	var firstErr error

	limit := rate.Inf
	if m.pacing > 0 {
		limit = rate.Every(m.pacing)
	}
	limiter := rate.NewLimiter(limit, 1)

	threshold := m.now().Add(m.buffer)
	for _, platform := range m.providers.Refreshable() {
		conns, err := m.store.FindConnectionsExpiringBefore(ctx, platform, threshold, true)
		if err != nil {
			m.logger.Error("Failed to list expiring connections", err, logging.Field{Key: "platform", Value: string(platform)})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		for _, conn := range conns {
			stats.Candidates++
			if !conn.HasRefreshToken() {
				stats.Skipped++
				continue
			}

			if err := limiter.Wait(ctx); err != nil {
				return stats, errors.TimeoutError("bulk token refresh")
			}

			result := m.Refresh(ctx, conn.ID)
			switch result.Outcome {
			case providers.OutcomeSuccess:
				stats.Succeeded++
			case providers.OutcomeTerminal:
				stats.Failed++
				stats.Deactivated++
			case providers.OutcomeUnavailable:
				stats.Skipped++
			default:
				stats.Failed++
			}
		}
	}

	m.logger.Info("Bulk token refresh finished",
		logging.Field{Key: "candidates", Value: stats.Candidates},
		logging.Field{Key: "succeeded", Value: stats.Succeeded},
		logging.Field{Key: "failed", Value: stats.Failed},
		logging.Field{Key: "deactivated", Value: stats.Deactivated},
		logging.Field{Key: "skipped", Value: stats.Skipped},
	)
	return stats, firstErr
}

// DeactivateStale deactivates active connections whose token expired more than
// retention ago. Rows are kept for history.
func (m *Manager) DeactivateStale(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultStaleRetention
	}
	cutoff := m.now().Add(-retention)

	count, err := m.store.DeactivateConnectionsOlderThan(ctx, cutoff)
	if err != nil {
		m.logger.Error("Failed to deactivate stale connections", err, logging.Field{Key: "cutoff", Value: cutoff})
		return 0, err
	}

	if count > 0 {
		m.logger.Info("Deactivated stale connections",
			logging.Field{Key: "count", Value: count},
			logging.Field{Key: "cutoff", Value: cutoff},
		)
		m.publish(ctx, Event{Type: EventExpired, Count: count, Reason: "stale"})
	}
	return count, nil
}
