package session

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/cvpilot/cvpilot/pkg/logger"
)

// StartReaper begins reaping idle sessions on the given cron schedule.
// The schedule is evaluated once a minute; sessions idle longer than
// idleTimeout are removed on due ticks.
func (m *Manager) StartReaper(cronExpr string, idleTimeout time.Duration) error {
	g := gronx.New()
	if !g.IsValid(cronExpr) {
		return fmt.Errorf("invalid reaper cron expression %q", cronExpr)
	}
	if idleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive, got %s", idleTimeout)
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-m.reapStop:
				return
			case <-ticker.C:
				due, err := g.IsDue(cronExpr, time.Now())
				if err != nil || !due {
					continue
				}
				m.reapIdle(idleTimeout)
			}
		}
	}()
	return nil
}

func (m *Manager) reapIdle(idleTimeout time.Duration) {
	m.mu.Lock()
	var idle []string
	for id, s := range m.sessions {
		if s.IdleSince() > idleTimeout {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	for _, id := range idle {
		logger.InfoCF("session", "Reaping idle session", map[string]interface{}{
			"conversation_id": id,
			"idle_timeout":    idleTimeout.String(),
		})
		m.Remove(id)
	}
}
