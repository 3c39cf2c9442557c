package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-keypad/modules/eventbus"
)

// reportStats periodically logs keypad, bus and emitter counters and, with
// MQTT enabled, publishes the health document.
func (s *Service) reportStats(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logStats()
			s.publishHealth()
		}
	}
}

func (s *Service) logStats() {
	s.mu.RLock()
	kp := s.keypad
	uptime := time.Since(s.started)
	s.mu.RUnlock()

	if kp == nil {
		return
	}

	st := kp.Stats()
	busStats := s.bus.Stats()

	slog.Info("keypad stats",
		"uptime", uptime.Round(time.Second),
		"state", st.State.String(),
		"signals", st.Signals,
		"signals_dropped", st.SignalsDropped,
		"scans", st.Scans,
		"scans_aborted", st.ScansAborted,
		"events_posted", st.EventsPosted,
		"events_overwritten", st.EventsOverwritten,
		"events_taken", st.EventsTaken,
		"bus_published", busStats.TotalPublished,
		"bus_drop_rate", eventbus.DropRate(busStats),
	)

	for id, sub := range busStats.Subscribers {
		if sub.Dropped > 0 {
			slog.Warn("event sink dropping events",
				"sink", id,
				"dropped", sub.Dropped,
				"drop_rate", eventbus.SubscriberDropRate(busStats, id),
			)
		}
	}

	if st.EventsOverwritten > 0 {
		slog.Debug("mailbox overwrote unread events", "count", st.EventsOverwritten)
	}
}

func (s *Service) publishHealth() {
	if s.emitter == nil {
		return
	}

	payload, err := json.Marshal(s.HealthCheck())
	if err != nil {
		slog.Error("failed to marshal health", "error", err)
		return
	}
	if err := s.emitter.PublishHealth(payload); err != nil {
		slog.Debug("failed to publish health", "error", err)
	}
}
