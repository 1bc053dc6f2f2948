package scheduler

import (
	"sort"
	"sync"
	"time"
)

type jobState int

const (
	jobStateWaiting jobState = iota
	jobStateActive
	jobStateRetrying
	jobStateCompleted
	jobStateFailed
)

type jobRecord struct {
	state     jobState
	attempt   int
	updatedAt time.Time
}

// Metrics is a point-in-time snapshot of queue occupancy.
type Metrics struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// jobRegistry tracks job states in this process. It backs the
// metrics endpoint and guarantees a single live copy of an order:
// admission rejects ids that are still waiting, running, or awaiting
// redelivery, and markActive refuses a second concurrent run of the
// same id even when the broker redelivers early.
type jobRegistry struct {
	mu   sync.Mutex
	jobs map[string]*jobRecord
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{jobs: make(map[string]*jobRecord)}
}

func (r *jobRegistry) admit(orderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record, ok := r.jobs[orderID]; ok {
		switch record.state {
		case jobStateWaiting, jobStateActive, jobStateRetrying:
			return false
		}
	}

	r.jobs[orderID] = &jobRecord{state: jobStateWaiting, updatedAt: time.Now()}
	return true
}

// markActive claims the order for a worker. Jobs enqueued by another
// process arrive without a local record, so an unknown id is created
// on the spot.
func (r *jobRegistry) markActive(orderID string, attempt int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.jobs[orderID]
	if !ok {
		record = &jobRecord{}
		r.jobs[orderID] = record
	}
	if record.state == jobStateActive {
		return false
	}

	record.state = jobStateActive
	record.attempt = attempt
	record.updatedAt = time.Now()
	return true
}

func (r *jobRegistry) markRetrying(orderID string) {
	r.setState(orderID, jobStateRetrying)
}

func (r *jobRegistry) markCompleted(orderID string) {
	r.setState(orderID, jobStateCompleted)
}

func (r *jobRegistry) markFailed(orderID string) {
	r.setState(orderID, jobStateFailed)
}

func (r *jobRegistry) forget(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, orderID)
}

func (r *jobRegistry) setState(orderID string, state jobState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.jobs[orderID]
	if !ok {
		record = &jobRecord{}
		r.jobs[orderID] = record
	}
	record.state = state
	record.updatedAt = time.Now()
}

func (r *jobRegistry) metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	var m Metrics
	for _, record := range r.jobs {
		switch record.state {
		case jobStateWaiting, jobStateRetrying:
			m.Waiting++
		case jobStateActive:
			m.Active++
		case jobStateCompleted:
			m.Completed++
		case jobStateFailed:
			m.Failed++
		}
	}
	return m
}

// purge drops terminal records past their retention window and trims
// the completed set to maxCompleted, oldest first. Returns how many
// records were removed.
func (r *jobRegistry) purge(now time.Time, completedRetention time.Duration, maxCompleted int, failedRetention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	type aged struct {
		id        string
		updatedAt time.Time
	}
	var completed []aged

	for id, record := range r.jobs {
		switch record.state {
		case jobStateCompleted:
			if completedRetention > 0 && now.Sub(record.updatedAt) > completedRetention {
				delete(r.jobs, id)
				removed++
				continue
			}
			completed = append(completed, aged{id: id, updatedAt: record.updatedAt})
		case jobStateFailed:
			if failedRetention > 0 && now.Sub(record.updatedAt) > failedRetention {
				delete(r.jobs, id)
				removed++
			}
		}
	}

	if maxCompleted > 0 && len(completed) > maxCompleted {
		sort.Slice(completed, func(i, j int) bool {
			return completed[i].updatedAt.Before(completed[j].updatedAt)
		})
		for _, record := range completed[:len(completed)-maxCompleted] {
			delete(r.jobs, record.id)
			removed++
		}
	}

	return removed
}
