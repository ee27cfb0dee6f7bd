package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"personarelay/internal/logger"
	"personarelay/internal/models"
	"personarelay/internal/relay"
)

const (
	defaultQueueLen    = 16
	defaultAccountIdle = 5 * time.Minute
)

var (
	ErrQueueFull      = errors.New("batch queue full")
	ErrManagerStopped = errors.New("batch manager stopped")
)

// BatchProcessor handles one batch of log lines.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, b relay.Batch) ([]models.Event, error)
}

// Manager runs one worker goroutine per account so that batches from the
// same account are processed strictly in arrival order while different
// accounts proceed in parallel.
type Manager struct {
	processor BatchProcessor
	queueLen  int
	idle      time.Duration
	log       *slog.Logger

	mu      sync.Mutex
	workers map[string]*accountState
	stopped bool
	wg      sync.WaitGroup
}

func NewManager(processor BatchProcessor, queueLen int, idle time.Duration) *Manager {
	if queueLen <= 0 {
		queueLen = defaultQueueLen
	}
	if idle <= 0 {
		idle = defaultAccountIdle
	}
	return &Manager{
		processor: processor,
		queueLen:  queueLen,
		idle:      idle,
		log:       logger.For("batch-manager"),
		workers:   make(map[string]*accountState),
	}
}

// Submit queues a batch for its account without waiting for it. The returned
// channel yields the result once the batch has been processed.
func (m *Manager) Submit(ctx context.Context, b relay.Batch) (<-chan BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	task := batchTask{ctx: ctx, batch: b, result: make(chan BatchResult, 1)}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, ErrManagerStopped
	}
	state := m.ensureWorkerLocked(b.Client)
	select {
	case state.tasks <- task:
		debugLog("batch queued", "client", b.Client, "lines", len(b.Lines), "pending", len(state.tasks))
		return task.result, nil
	default:
		return nil, ErrQueueFull
	}
}

// Stop ends the worker of one account. Queued batches are dropped.
func (m *Manager) Stop(account string) {
	m.mu.Lock()
	if state, ok := m.workers[account]; ok {
		state.stop()
		delete(m.workers, account)
	}
	m.mu.Unlock()
}

// Shutdown stops every worker and waits for in-flight batches.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.stopped = true
	for account, state := range m.workers {
		state.stop()
		delete(m.workers, account)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) ensureWorkerLocked(account string) *accountState {
	if state, ok := m.workers[account]; ok {
		return state
	}
	state := newAccountState(m.queueLen)
	m.workers[account] = state
	m.wg.Add(1)
	go m.runWorker(account, state)
	return state
}

func (m *Manager) activeWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

func (m *Manager) runWorker(account string, state *accountState) {
	defer m.wg.Done()
	timer := time.NewTimer(m.idle)
	defer timer.Stop()

	for {
		select {
		case <-state.stopCh:
			debugLog("batch worker stopped", "client", account)
			return
		case task := <-state.tasks:
			m.handle(task)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(m.idle)
		case <-timer.C:
			// Submit enqueues under m.mu, so an empty queue seen here
			// cannot race with a new batch.
			m.mu.Lock()
			if len(state.tasks) == 0 && m.workers[account] == state {
				delete(m.workers, account)
				m.mu.Unlock()
				debugLog("batch worker idle exit", "client", account)
				return
			}
			m.mu.Unlock()
			timer.Reset(m.idle)
		}
	}
}

func (m *Manager) handle(task batchTask) {
	start := time.Now()
	events, err := m.processor.ProcessBatch(task.ctx, task.batch)
	if err != nil {
		m.log.Error("process batch failed", "client", task.batch.Client, "err", err)
	}
	debugLog("batch processed", "client", task.batch.Client, "events", len(events), "duration_ms", time.Since(start).Milliseconds())
	task.result <- BatchResult{Events: events, Err: err}
}
