package daemon

import (
	"context"
	"time"
)

// maintenanceInterval is how often the event loop samples queue and
// session state.
const maintenanceInterval = 30 * time.Second

// EventLoop handles the main event processing loop
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: maintenanceInterval,
	}
}

// Run runs the event loop with periodic maintenance tasks
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Info().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks(ctx)
		}
	}
}

// processTasks logs busy session lanes and the live session count.
func (e *EventLoop) processTasks(ctx context.Context) {
	stats := e.daemon.queue.GetStats()
	for lane, laneStats := range stats {
		if laneStats["queued"] > 0 || laneStats["running"] > 0 {
			e.daemon.logger.Debug().
				Str("lane", lane).
				Int("queued", laneStats["queued"]).
				Int("running", laneStats["running"]).
				Msg("Queue stats")
		}
	}

	e.daemon.logger.Debug().
		Int("sessions", e.daemon.sessionMgr.Len()).
		Msg("Session stats")
}

// HandleShutdown waits briefly for running turns to finish.
func (e *EventLoop) HandleShutdown() {
	e.daemon.logger.Info().Msg("Handling graceful shutdown")

	if !e.daemon.queue.WaitForActive(5 * time.Second) {
		e.daemon.logger.Warn().Msg("Turns still running at shutdown")
		return
	}

	e.daemon.logger.Info().Msg("All active turns completed")
}
