package bot

import (
	"sync"
	"time"
)

// updateTimeout bounds the handling of one inbound update, ledger calls
// included.
const updateTimeout = time.Minute

// keyedQueue runs jobs in arrival order per key and different keys
// concurrently. A key has a goroutine only while it has pending jobs.
type keyedQueue struct {
	mu      sync.Mutex
	pending map[string][]func()
	wg      sync.WaitGroup
}

func newKeyedQueue() *keyedQueue {
	return &keyedQueue{pending: make(map[string][]func())}
}

// Do schedules job after every job already queued for key.
func (q *keyedQueue) Do(key string, job func()) {
	q.mu.Lock()
	jobs, running := q.pending[key]
	q.pending[key] = append(jobs, job)
	if !running {
		q.wg.Add(1)
	}
	q.mu.Unlock()

	if !running {
		go q.run(key)
	}
}

func (q *keyedQueue) run(key string) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		jobs := q.pending[key]
		if len(jobs) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		job := jobs[0]
		jobs[0] = nil
		q.pending[key] = jobs[1:]
		q.mu.Unlock()

		job()
	}
}

// Wait blocks until every queued job has run.
func (q *keyedQueue) Wait() {
	q.wg.Wait()
}
