package runner

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Monitor periodically logs run progress and reports pool usage to the
// runner's Recorder.
type Monitor struct {
	runner   *Runner
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewMonitor creates a monitor for r.
func NewMonitor(r *Runner, interval time.Duration, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		runner:   r,
		interval: interval,
		logger:   logger,
	}
}

// Start begins periodic checks. Starting a running monitor does nothing.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(m.stopCh, m.done)
}

// Stop ends periodic checks and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	done := m.done
	m.mu.Unlock()
	<-done
}

func (m *Monitor) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check logs one progress line and records pool usage.
func (m *Monitor) check() Status {
	st := m.runner.Status()
	idle := max(0, st.Workers-st.Busy)

	m.logger.Info("runner progress",
		zap.Int("completed", st.Completed),
		zap.Int("total", st.Total),
		zap.Int("failed", st.Failed),
		zap.Int("busy", st.Busy),
		zap.Int("idle", idle),
		zap.Duration("elapsed", st.Elapsed))

	m.runner.recorder.WorkerPoolStatus(st.Busy, idle)
	m.runner.recorder.QueueDepth(st.Pending())

	if st.Workers > 0 && st.Busy == st.Workers && st.Pending() > 0 {
		m.logger.Debug("all workers are busy",
			zap.Int("workers", st.Workers),
			zap.Int("pending", st.Pending()))
	}
	return st
}
