package queue

import (
	"context"
	"sync"
)

// Job is a unit of work that the queue will execute.
type Job func(ctx context.Context)

// pending is a queued job and the ctx it was enqueued with.
type pending struct {
	ctx context.Context
	job Job
}

// GroupQueue runs jobs in per-group FIFO order with a global concurrency
// limit. At most one job per group runs at a time.
type GroupQueue struct {
	mu        sync.Mutex
	queues    map[string][]pending
	order     []string
	running   map[string]bool
	active    int
	maxActive int
	wg        sync.WaitGroup
}

// New creates a new GroupQueue limited to maxConcurrent simultaneous workers.
func New(maxConcurrent int) *GroupQueue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &GroupQueue{
		queues:    make(map[string][]pending),
		running:   make(map[string]bool),
		maxActive: maxConcurrent,
	}
}

// Enqueue adds a job to the given group's queue and tries to dispatch.
// The job runs with ctx, so cancelling it reaches the job.
func (q *GroupQueue) Enqueue(ctx context.Context, group string, job Job) {
	q.mu.Lock()
	if _, ok := q.queues[group]; !ok && !q.running[group] {
		q.order = append(q.order, group)
	}
	q.queues[group] = append(q.queues[group], pending{ctx: ctx, job: job})
	q.wg.Add(1)
	q.mu.Unlock()
	q.tryDispatch()
}

// Wait blocks until every enqueued job has finished.
func (q *GroupQueue) Wait() {
	q.wg.Wait()
}

// Len reports the number of jobs waiting to start.
func (q *GroupQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, jobs := range q.queues {
		n += len(jobs)
	}
	return n
}

func (q *GroupQueue) tryDispatch() {
	for {
		q.mu.Lock()
		if q.active >= q.maxActive {
			q.mu.Unlock()
			return
		}
		// Oldest group with pending work that is not already running.
		chosen, idx := "", -1
		for i, g := range q.order {
			if !q.running[g] && len(q.queues[g]) > 0 {
				chosen, idx = g, i
				break
			}
		}
		if idx < 0 {
			q.mu.Unlock()
			return
		}
		next := q.queues[chosen][0]
		q.queues[chosen] = q.queues[chosen][1:]
		q.order = append(q.order[:idx], q.order[idx+1:]...)
		if len(q.queues[chosen]) == 0 {
			delete(q.queues, chosen)
		}
		q.running[chosen] = true
		q.active++
		q.mu.Unlock()

		go q.run(chosen, next)
	}
}

func (q *GroupQueue) run(group string, p pending) {
	defer q.wg.Done()
	p.job(p.ctx)

	q.mu.Lock()
	q.active--
	delete(q.running, group)
	if len(q.queues[group]) > 0 {
		q.order = append(q.order, group)
	}
	q.mu.Unlock()
	q.tryDispatch()
}
