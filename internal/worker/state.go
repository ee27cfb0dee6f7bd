package worker

import (
	"context"
	"sync"

	"personarelay/internal/models"
	"personarelay/internal/relay"
)

// BatchResult reports the outcome of one processed batch.
type BatchResult struct {
	Events []models.Event
	Err    error
}

type batchTask struct {
	ctx    context.Context
	batch  relay.Batch
	result chan BatchResult
}

// accountState is the queue of one account's batch worker.
type accountState struct {
	tasks    chan batchTask
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newAccountState(queueSize int) *accountState {
	return &accountState{
		tasks:  make(chan batchTask, queueSize),
		stopCh: make(chan struct{}),
	}
}

func (s *accountState) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
