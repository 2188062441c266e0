package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultIdleTimeout  = 30 * time.Minute
	DefaultReapInterval = 5 * time.Minute
)

// Reaper closes sessions that have been idle longer than the timeout. Busy
// sessions are never reaped.
type Reaper struct {
	manager     *Manager
	idleTimeout time.Duration
	interval    time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

// NewReaper creates a reaper for manager.
func NewReaper(manager *Manager, idleTimeout time.Duration) *Reaper {
	if idleTimeout == 0 {
		idleTimeout = DefaultIdleTimeout
	}

	return &Reaper{
		manager:     manager,
		idleTimeout: idleTimeout,
		interval:    DefaultReapInterval,
	}
}

// Start starts the reaper loop.
func (r *Reaper) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("reaper is already running")
	}

	r.running = true
	r.stopCh = make(chan struct{})
	go r.run(r.stopCh)

	log.Info().
		Dur("idle_timeout", r.idleTimeout).
		Msg("Session reaper started")

	return nil
}

// Stop stops the reaper loop.
func (r *Reaper) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return fmt.Errorf("reaper is not running")
	}

	close(r.stopCh)
	r.running = false

	log.Info().Msg("Session reaper stopped")

	return nil
}

// IsRunning returns whether the reaper is running
func (r *Reaper) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reaper) run(stopCh chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.ReapIdle(time.Now())
		case <-stopCh:
			return
		}
	}
}

// ReapIdle closes every session idle since before now minus the timeout and
// returns how many were closed.
func (r *Reaper) ReapIdle(now time.Time) int {
	reaped := 0
	for _, s := range r.manager.List() {
		if s.Busy() || now.Sub(s.LastActivity()) < r.idleTimeout {
			continue
		}
		if err := r.manager.Close(s.ID); err != nil {
			continue
		}
		reaped++
	}

	if reaped > 0 {
		log.Info().
			Int("reaped", reaped).
			Msg("Closed idle sessions")
	}
	return reaped
}
