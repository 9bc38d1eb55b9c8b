package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunningAverage(t *testing.T) {
	s := New()

	s.RecordRequest(10)
	s.RecordRequest(20)
	s.RecordRequest(30)

	snap := s.Snapshot(0)
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.InDelta(t, 20.0, snap.AvgLatencyMs, 1e-9)

	s.RecordRequest(40)
	assert.InDelta(t, 25.0, s.Snapshot(0).AvgLatencyMs, 1e-9)
}

func TestCounters(t *testing.T) {
	s := New()

	s.RecordRequest(5)
	s.RecordCacheHit()
	s.RecordEscalation(120)
	s.RecordEscalation(0)
	s.RecordError()

	snap := s.Snapshot(880)
	assert.Equal(t, int64(1), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.CacheHits)
	assert.Equal(t, int64(2), snap.Escalations)
	assert.Equal(t, int64(1), snap.Errors)
	assert.Equal(t, int64(120), snap.DailyTokenUsage)
	assert.Equal(t, int64(880), snap.TokenRemaining)
}

func TestReset(t *testing.T) {
	s := New()
	s.RecordRequest(5)
	s.RecordEscalation(100)

	s.Reset()

	snap := s.Snapshot(0)
	assert.Equal(t, Snapshot{}, snap)

	// The average restarts from scratch after a reset.
	s.RecordRequest(8)
	assert.InDelta(t, 8.0, s.Snapshot(0).AvgLatencyMs, 1e-9)
}

func TestConcurrentUpdates(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.RecordRequest(10)
				s.RecordCacheHit()
				s.RecordEscalation(1)
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot(0)
	assert.Equal(t, int64(1000), snap.TotalRequests)
	assert.Equal(t, int64(1000), snap.CacheHits)
	assert.Equal(t, int64(1000), snap.Escalations)
	assert.Equal(t, int64(1000), snap.DailyTokenUsage)
	assert.InDelta(t, 10.0, snap.AvgLatencyMs, 1e-9)
}
