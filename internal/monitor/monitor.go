package monitor

import (
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rampq/internal/workflow"
)

// Snapshot is a point-in-time view of the monitor's counters.
type Snapshot struct {
	Active  int `json:"current_active_tasks"`
	Peak    int `json:"max_active_tasks"`
	Tracked int `json:"active_task_count"`
}

// Monitor tracks how many jobs are simultaneously in the EXECUTING state
// across one batch. A task becomes active only once the remote side
// reports EXECUTING; tasks that jump straight to a terminal status are
// never counted. The monitor is advisory: it alerts above its threshold
// but never blocks or throttles.
//
// All counter mutations happen under one mutex; this is the only piece
// of mutable shared state in the core.
type Monitor struct {
	mu sync.Mutex

	active int
	peak   int

	startTimes map[int]time.Time
	statuses   map[int]workflow.JobStatus

	alertThreshold int
	log            logrus.FieldLogger
}

// New builds a monitor. threshold <= 0 disables alerts; a nil logger
// discards them.
func New(threshold int, log logrus.FieldLogger) *Monitor {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Monitor{
		startTimes:     make(map[int]time.Time),
		statuses:       make(map[int]workflow.JobStatus),
		alertThreshold: threshold,
		log:            log,
	}
}

// TaskStarted records bookkeeping for a task. It does not touch the
// active counter: activation happens on the EXECUTING transition only.
func (m *Monitor) TaskStarted(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startTimes[index] = time.Now()
	m.statuses[index] = workflow.StatusUnknown
}

// UpdateStatus applies a status observation for a task. The active
// counter moves exactly once per EXECUTING edge in either direction.
func (m *Monitor) UpdateStatus(index int, status workflow.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.statuses[index]
	m.statuses[index] = status

	switch {
	case status == workflow.StatusExecuting && previous != workflow.StatusExecuting:
		m.active++
		if m.active > m.peak {
			m.peak = m.active
		}
		if m.alertThreshold > 0 && m.active > m.alertThreshold {
			m.log.WithFields(logrus.Fields{
				"active":    m.active,
				"threshold": m.alertThreshold,
			}).Warn("active tasks above concurrency threshold")
		}
	case previous == workflow.StatusExecuting && status != workflow.StatusExecuting:
		if m.active > 0 {
			m.active--
		}
	}
}

// TaskCompleted clears a task's bookkeeping. If its last known status
// was still EXECUTING the counter is decremented here, so tasks that
// terminate without a final status update cannot leak active slots.
func (m *Monitor) TaskCompleted(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.startTimes, index)

	if m.statuses[index] == workflow.StatusExecuting && m.active > 0 {
		m.active--
	}
	delete(m.statuses, index)
}

// Snapshot returns the current counters.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Active:  m.active,
		Peak:    m.peak,
		Tracked: len(m.startTimes),
	}
}

// Reset clears all state between batches.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = 0
	m.peak = 0
	m.startTimes = make(map[int]time.Time)
	m.statuses = make(map[int]workflow.JobStatus)
}
