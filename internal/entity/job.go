package entity

import "time"

// Job is the durable queue payload. Deliberately thin: the order row is
// the source of truth, so a job only names which order to run.
type Job struct {
	OrderID    string    `json:"order_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
