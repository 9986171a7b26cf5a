package ws

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Monitor is the liveness sweep over the hub: connections silent past
// dropAfter are evicted, connections silent past pingAfter get a probe. A
// probe does not refresh the connection's heartbeat; only a client-sent
// heartbeat event does.
type Monitor struct {
	hub       *Hub
	interval  time.Duration
	pingAfter time.Duration
	dropAfter time.Duration
	nowFn     func() time.Time
	logger    *zap.SugaredLogger
}

func NewMonitor(hub *Hub, interval, pingAfter, dropAfter time.Duration, logger *zap.SugaredLogger) *Monitor {
	return &Monitor{
		hub:       hub,
		interval:  interval,
		pingAfter: pingAfter,
		dropAfter: dropAfter,
		nowFn:     time.Now,
		logger:    logger,
	}
}

// Run sweeps until ctx is cancelled. Meant to be started once per process.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Monitor) sweep() {
	now := m.nowFn()
	for _, ci := range m.hub.Connections() {
		age := now.Sub(ci.LastHeartbeat)
		switch {
		case age > m.dropAfter:
			m.logger.Infow("evicting silent connection", "user_id", ci.UserID, "silent_for", age)
			m.hub.Unregister(ci.UserID)
		case age > m.pingAfter:
			m.probe(ci.UserID)
		}
	}
}

// probe pings one connection. A failed write unregisters inside Send; a
// panicking channel is dropped here. Either way the sweep moves on to the
// remaining connections.
func (m *Monitor) probe(userID string) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Errorw("probe panic, dropping connection", "user_id", userID, "panic", rec)
			m.hub.Unregister(userID)
		}
	}()
	m.hub.Send(userID, pingEnvelope())
}
