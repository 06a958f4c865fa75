package lsp

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// HealthConfig tunes probing and crash recovery.
type HealthConfig struct {
	// ProbeInterval is how often the monitor pings a running server.
	ProbeInterval time.Duration

	// ProbeTimeout bounds each probe request.
	ProbeTimeout time.Duration

	// DegradedLatency marks the session Degraded when a probe succeeds but
	// takes longer than this. Zero disables latency tracking.
	DegradedLatency time.Duration

	// FailureThreshold is the number of consecutive failed probes before
	// the server is declared unresponsive and recovery starts.
	FailureThreshold int

	// MaxRestarts is the maximum number of restart attempts before the
	// session is abandoned.
	MaxRestarts int

	// InitialBackoff is the delay before the first restart attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay after each failed attempt.
	BackoffMultiplier float64

	// ResetWindow is how long a restarted server must stay healthy before
	// the restart counter resets.
	ResetWindow time.Duration
}

// DefaultHealthConfig returns the standard recovery tuning.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		ProbeInterval:     30 * time.Second,
		ProbeTimeout:      5 * time.Second,
		DegradedLatency:   2 * time.Second,
		FailureThreshold:  3,
		MaxRestarts:       5,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		ResetWindow:       60 * time.Second,
	}
}

// HealthEventType classifies health monitor events.
type HealthEventType int

const (
	// HealthEventDegraded means a probe failed but the threshold has not
	// been reached.
	HealthEventDegraded HealthEventType = iota
	// HealthEventCrash means the server process died or stopped answering.
	HealthEventCrash
	// HealthEventRestarting means a restart attempt is about to run.
	HealthEventRestarting
	// HealthEventRecovered means a restart succeeded and documents were
	// replayed.
	HealthEventRecovered
	// HealthEventFailed means recovery was abandoned after MaxRestarts.
	HealthEventFailed
)

// String returns the lowercase event name.
func (t HealthEventType) String() string {
	switch t {
	case HealthEventDegraded:
		return "degraded"
	case HealthEventCrash:
		return "crash"
	case HealthEventRestarting:
		return "restarting"
	case HealthEventRecovered:
		return "recovered"
	case HealthEventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// HealthEvent is one observation from the health monitor.
type HealthEvent struct {
	Type       HealthEventType
	LanguageID string
	Attempt    int
	NextRetry  time.Duration
	Err        error
	At         time.Time
}

// HealthMonitor watches one session: it probes the server periodically,
// reacts to subprocess exits, and drives crash recovery with exponential
// backoff. Recovered servers get every open document replayed before the
// session returns to Running.
type HealthMonitor struct {
	session *Session
	config  HealthConfig
	log     *slog.Logger

	events  chan HealthEvent
	crashed chan error
	stop    chan struct{}
	done    chan struct{}

	stopOnce sync.Once

	// Owned by the run goroutine.
	failures     int
	restartCount int
	lastStart    time.Time
}

// NewHealthMonitor creates a monitor for session. It registers itself as
// the session's exit callback, so construct it before Start-ing the session.
func NewHealthMonitor(session *Session, config HealthConfig, log *slog.Logger) *HealthMonitor {
	if log == nil {
		log = slog.Default()
	}
	m := &HealthMonitor{
		session: session,
		config:  config,
		log:     log.With("component", "health", "language", session.LanguageID()),
		events:  make(chan HealthEvent, 16),
		crashed: make(chan error, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	session.OnExit(func(err error) {
		select {
		case m.crashed <- err:
		default:
		}
	})
	return m
}

// Events returns the monitor's event stream. Events are dropped, never
// blocked on, when the consumer falls behind.
func (m *HealthMonitor) Events() <-chan HealthEvent {
	return m.events
}

// Start begins probing. Call after the session is Running.
func (m *HealthMonitor) Start() {
	m.lastStart = time.Now()
	go m.run()
}

// Stop ends monitoring. It does not shut the session down.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	<-m.done
}

func (m *HealthMonitor) run() {
	defer close(m.done)
	defer close(m.events)

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case err := <-m.crashed:
			m.emit(HealthEvent{Type: HealthEventCrash, Err: err})
			if !m.recover(err) {
				return
			}
			ticker.Reset(m.config.ProbeInterval)
		case <-ticker.C:
			m.probe()
		}
	}
}

// probe pings the server once and tracks consecutive failures. Reaching
// the threshold declares the server unresponsive and starts recovery.
func (m *HealthMonitor) probe() {
	switch m.session.State() {
	case StateRunning, StateDegraded:
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.ProbeTimeout)
	start := time.Now()
	err := m.session.Ping(ctx, m.config.ProbeTimeout)
	elapsed := time.Since(start)
	cancel()

	if err == nil {
		if m.failures > 0 {
			m.log.Info("probe recovered", "after_failures", m.failures)
		}
		m.failures = 0
		if m.config.DegradedLatency > 0 && elapsed > m.config.DegradedLatency {
			m.log.Warn("probe slow", "latency", elapsed)
			m.session.MarkDegraded()
			return
		}
		m.session.MarkRunning()
		return
	}

	m.failures++
	m.log.Warn("probe failed", "consecutive", m.failures, "err", err)

	if m.failures < m.config.FailureThreshold {
		m.session.MarkDegraded()
		m.emit(HealthEvent{Type: HealthEventDegraded, Attempt: m.failures, Err: err})
		return
	}

	m.failures = 0
	m.session.MarkUnresponsive()
	m.emit(HealthEvent{Type: HealthEventCrash, Err: err})
	m.recover(err)
}

// recover restarts the server with exponential backoff. Returns false when
// recovery is abandoned or the monitor was stopped.
func (m *HealthMonitor) recover(cause error) bool {
	for {
		select {
		case <-m.stop:
			return false
		default:
		}

		switch m.session.State() {
		case StateShuttingDown, StateTerminated:
			return false
		}

		if time.Since(m.lastStart) > m.config.ResetWindow {
			m.restartCount = 0
		}
		m.restartCount++

		if m.restartCount > m.config.MaxRestarts {
			m.log.Error("recovery abandoned", "attempts", m.restartCount-1, "err", cause)
			m.emit(HealthEvent{Type: HealthEventFailed, Attempt: m.restartCount - 1, Err: &ServerStartFailedError{
				LanguageID: m.session.LanguageID(),
				Attempts:   m.restartCount - 1,
				Err:        cause,
			}})
			return false
		}

		delay := CalculateBackoff(m.restartCount, m.config.InitialBackoff, m.config.MaxBackoff, m.config.BackoffMultiplier)
		m.emit(HealthEvent{Type: HealthEventRestarting, Attempt: m.restartCount, NextRetry: delay})
		m.log.Info("restarting server", "attempt", m.restartCount, "delay", delay)

		select {
		case <-m.stop:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), InitializeTimeout+10*time.Second)
		err := m.session.Restart(ctx)
		cancel()
		if err != nil {
			cause = err
			m.log.Warn("restart attempt failed", "attempt", m.restartCount, "err", err)
			continue
		}

		m.lastStart = time.Now()
		m.failures = 0
		// Drain any crash signal from the process we just replaced.
		select {
		case <-m.crashed:
		default:
		}
		m.emit(HealthEvent{Type: HealthEventRecovered, Attempt: m.restartCount})
		return true
	}
}

func (m *HealthMonitor) emit(ev HealthEvent) {
	ev.LanguageID = m.session.LanguageID()
	ev.At = time.Now()
	select {
	case m.events <- ev:
	default:
	}
}

// CalculateBackoff returns the delay before restart attempt (1-based),
// growing geometrically from initial and capped at max.
func CalculateBackoff(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if attempt <= 1 {
		return initial
	}
	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if delay > float64(max) {
		return max
	}
	return time.Duration(delay)
}
