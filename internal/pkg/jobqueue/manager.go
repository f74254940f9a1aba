package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Manager runs the job queue together with the periodic tasks that feed it
type Manager struct {
	queue            *Queue
	reminderInterval time.Duration
	reminderTicker   *time.Ticker
	stopCh           chan struct{}
	wg               sync.WaitGroup
	mu               sync.Mutex
	running          bool
}

// NewManager creates a manager. A reminderInterval of zero disables the
// scheduled reminder sweep.
func NewManager(queue *Queue, reminderInterval time.Duration) *Manager {
	return &Manager{
		queue:            queue,
		reminderInterval: reminderInterval,
		stopCh:           make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	if m.reminderInterval > 0 {
		m.reminderTicker = time.NewTicker(m.reminderInterval)
		m.wg.Add(1)
		go m.reminderWorker(m.reminderTicker, m.stopCh)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.reminderTicker != nil {
		m.reminderTicker.Stop()
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// reminderWorker enqueues a reminder sweep on every tick
func (m *Manager) reminderWorker(ticker *time.Ticker, stopCh <-chan struct{}) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started reminder worker (interval: %s)", m.reminderInterval)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Reminder worker stopping")
			return
		case <-ticker.C:
			if _, err := m.queue.EnqueueReminderSweep(context.Background(), "schedule"); err != nil {
				log.Errorf("[JobQueue Manager] Error enqueueing reminder sweep: %v", err)
			}
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
