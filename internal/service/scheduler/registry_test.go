package scheduler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAdmitBlocksLiveJobs(t *testing.T) {
	r := newJobRegistry()

	require.True(t, r.admit("ord-1"))
	assert.False(t, r.admit("ord-1"), "waiting jobs must not be admitted twice")

	require.True(t, r.markActive("ord-1", 1))
	assert.False(t, r.admit("ord-1"), "active jobs must not be admitted twice")

	r.markRetrying("ord-1")
	assert.False(t, r.admit("ord-1"), "jobs awaiting redelivery must not be admitted twice")

	r.markCompleted("ord-1")
	assert.True(t, r.admit("ord-1"), "finished jobs may be admitted again")
}

func TestRegistryMarkActiveRefusesConcurrentRun(t *testing.T) {
	r := newJobRegistry()

	require.True(t, r.markActive("ord-1", 1))
	assert.False(t, r.markActive("ord-1", 2), "the same order must never run twice at once")

	r.markRetrying("ord-1")
	assert.True(t, r.markActive("ord-1", 2), "a retrying order may be claimed again")
}

func TestRegistryForgetReleasesAdmission(t *testing.T) {
	r := newJobRegistry()

	require.True(t, r.admit("ord-1"))
	r.forget("ord-1")
	assert.True(t, r.admit("ord-1"))
}

func TestRegistryMetrics(t *testing.T) {
	r := newJobRegistry()

	r.admit("ord-waiting")
	r.admit("ord-active")
	r.markActive("ord-active", 1)
	r.admit("ord-retrying")
	r.markRetrying("ord-retrying")
	r.admit("ord-completed")
	r.markCompleted("ord-completed")
	r.admit("ord-failed")
	r.markFailed("ord-failed")

	m := r.metrics()
	// retrying counts as waiting: the job occupies the queue either way
	assert.Equal(t, 2, m.Waiting)
	assert.Equal(t, 1, m.Active)
	assert.Equal(t, 1, m.Completed)
	assert.Equal(t, 1, m.Failed)
}

func TestRegistryPurgeByAge(t *testing.T) {
	r := newJobRegistry()

	r.admit("ord-old")
	r.markCompleted("ord-old")
	r.admit("ord-failed-old")
	r.markFailed("ord-failed-old")
	r.admit("ord-live")
	r.markActive("ord-live", 1)

	cutoff := time.Now().Add(48 * time.Hour)
	removed := r.purge(cutoff, 15*time.Minute, 1000, 24*time.Hour)
	assert.Equal(t, 2, removed)

	m := r.metrics()
	assert.Equal(t, 0, m.Completed)
	assert.Equal(t, 0, m.Failed)
	assert.Equal(t, 1, m.Active, "live jobs must survive the purge")
}

func TestRegistryPurgeTrimsCompletedOldestFirst(t *testing.T) {
	r := newJobRegistry()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("ord-%d", i)
		r.admit(id)
		r.markCompleted(id)
		time.Sleep(time.Millisecond)
	}

	removed := r.purge(time.Now(), time.Hour, 2, time.Hour)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 2, r.metrics().Completed)

	// the newest completions are the ones kept
	r.mu.Lock()
	_, oldestKept := r.jobs["ord-3"]
	_, newestKept := r.jobs["ord-4"]
	r.mu.Unlock()
	assert.True(t, oldestKept)
	assert.True(t, newestKept)
}
