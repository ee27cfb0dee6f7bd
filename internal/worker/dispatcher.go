package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"personarelay/internal/service/ai"
)

var ErrDispatcherBusy = errors.New("reply dispatcher busy")

// ReplyRunner generates and announces one reply.
type ReplyRunner interface {
	RunReply(ctx context.Context, req ai.ReplyRequest)
}

type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
	// JobTimeout bounds one reply generation; zero means no deadline.
	JobTimeout time.Duration
}

type accountQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher queues reply jobs per account and hands them to the pool in
// round-robin order, so one busy account cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // inbound jobs
	runner   ReplyRunner
	timeout  time.Duration
	quit     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu        sync.Mutex
	queues    map[string]*accountQueue // pending jobs per account
	ready     *list.List               // LRU queue of accounts
	positions map[string]*list.Element
}

func NewDispatcher(cfg DispatcherConfig, runner ReplyRunner) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	d := &Dispatcher{
		JobQueue:  make(chan Job, queueSize),
		runner:    runner,
		timeout:   cfg.JobTimeout,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		queues:    make(map[string]*accountQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, d.execute)

	// warm up the minimum number of workers
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// ScheduleReply queues a reply request without blocking.
func (d *Dispatcher) ScheduleReply(req ai.ReplyRequest) error {
	select {
	case <-d.quit:
		return ErrDispatcherBusy
	default:
	}
	select {
	case d.JobQueue <- Job{Type: Reply, Request: req}:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

// Stop ends dispatching and retires the workers. Jobs already running finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		d.pool.close()
		<-d.done
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		if d.dispatchOne() {
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			return
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	account := job.Request.Owner

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[account]
	if q == nil {
		q = &accountQueue{}
		d.queues[account] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[account] = d.ready.PushBack(account)
}

// drainInbound moves every buffered job into its account queue.
func (d *Dispatcher) drainInbound() {
	for {
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		default:
			return
		}
	}
}

func (d *Dispatcher) hasPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready.Len() > 0
}

// dispatchOne waits for a worker and hands it the oldest job of the account
// in the front of the LRU queue. Jobs that arrived while waiting take part in
// the pick.
func (d *Dispatcher) dispatchOne() bool {
	if !d.hasPending() {
		return false
	}
	workerChan, ok := d.pool.acquire()
	if !ok {
		return false
	}
	d.drainInbound()

	d.mu.Lock()
	elem := d.ready.Front()
	account := elem.Value.(string)
	q := d.queues[account]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		d.ready.Remove(elem)
		delete(d.positions, account)
		delete(d.queues, account)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	debugLog("reply job assigned", "client", account, "character", job.Request.Character)
	workerChan <- job
	return true
}

func (d *Dispatcher) execute(job Job) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	d.runner.RunReply(ctx, job.Request)
}
