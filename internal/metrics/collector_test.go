package metrics_test

import (
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/onboard-go/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorEmptySnapshot(t *testing.T) {
	c := metrics.NewCollector()
	snap := c.Snapshot()

	assert.Nil(t, snap.Submit)
	assert.Nil(t, snap.StreamOpen)
	assert.Zero(t, snap.StreamReconnects)
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
}

func TestCollectorRecordTiming(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordTiming(metrics.OpSubmit, 100*time.Millisecond, false)
	c.RecordTiming(metrics.OpSubmit, 300*time.Millisecond, true)
	c.RecordRetry(metrics.OpSubmit)

	snap := c.Snapshot()
	require.NotNil(t, snap.Submit)
	assert.Equal(t, int64(2), snap.Submit.Count)
	assert.Equal(t, int64(1), snap.Submit.Failures)
	assert.Equal(t, int64(1), snap.Submit.Retries)
	assert.Equal(t, int64(400), snap.Submit.TotalTimeMs)
	assert.Equal(t, 200.0, snap.Submit.AvgTimeMs)
	assert.Equal(t, int64(100), snap.Submit.MinTimeMs)
	assert.Equal(t, int64(300), snap.Submit.MaxTimeMs)
	assert.Nil(t, snap.Status, "untouched operations stay nil")
}

func TestCollectorReconnects(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordReconnect()
	c.RecordReconnect()
	assert.Equal(t, int64(2), c.Snapshot().StreamReconnects)
}

func TestCollectorNilSafe(t *testing.T) {
	var c *metrics.Collector
	c.RecordTiming(metrics.OpStatus, time.Second, false)
	c.RecordRetry(metrics.OpStatus)
	c.RecordReconnect()
	assert.Equal(t, metrics.Snapshot{}, c.Snapshot())
}

func TestCollectorConcurrent(t *testing.T) {
	c := metrics.NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordTiming(metrics.OpResult, time.Millisecond, false)
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	require.NotNil(t, snap.Result)
	assert.Equal(t, int64(20), snap.Result.Count)
}
