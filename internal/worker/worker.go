package worker

import "personarelay/internal/service/ai"

// JobType tags pool jobs.
type JobType string

const (
	Reply JobType = "reply"
	Stop  JobType = "stop"
)

type Job struct {
	Type    JobType
	Request ai.ReplyRequest
}

// Worker executes reply jobs handed out by the pool.
type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
			job := <-w.jobChannel
			switch job.Type {
			case Stop:
				w.pool.retire(w.jobChannel)
				return
			case Reply:
				w.pool.run(job)
			}
		}
	}()
}
