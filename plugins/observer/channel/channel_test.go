package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/anansi/internal/core"
	"firestige.xyz/anansi/internal/metrics"
)

func TestForwardsCopy(t *testing.T) {
	o := New(4)
	data := []byte{1, 2, 3}
	require.NoError(t, o.HandleFrame(core.RawFrame{Data: data, Timestamp: time.Unix(5, 0), OrigLen: 3}))

	data[0] = 0xFF // capture buffer reused by the loop
	got := <-o.C()
	assert.Equal(t, []byte{1, 2, 3}, got.Data)
	assert.Equal(t, uint32(3), got.OrigLen)
	assert.Equal(t, uint64(1), o.Sent())
}

func TestDropsWhenFull(t *testing.T) {
	o := New(1)
	before := testutil.ToFloat64(metrics.ChannelDropsTotal)

	require.NoError(t, o.HandleFrame(core.RawFrame{Data: []byte{1}}))
	require.NoError(t, o.HandleFrame(core.RawFrame{Data: []byte{2}}))
	require.NoError(t, o.HandleFrame(core.RawFrame{Data: []byte{3}}))

	assert.Equal(t, uint64(1), o.Sent())
	assert.Equal(t, uint64(2), o.Dropped())
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.ChannelDropsTotal))
	assert.Equal(t, []byte{1}, (<-o.C()).Data)
}

func TestCloseEndsRange(t *testing.T) {
	o := New(8)
	require.NoError(t, o.HandleFrame(core.RawFrame{Data: []byte{1}}))
	require.NoError(t, o.Close())
	require.NoError(t, o.Close())
	require.NoError(t, o.HandleFrame(core.RawFrame{Data: []byte{2}}))

	var n int
	for range o.C() {
		n++
	}
	assert.Equal(t, 1, n)
}

func TestConcurrentHandleAndClose(t *testing.T) {
	o := New(16)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = o.HandleFrame(core.RawFrame{Data: []byte{byte(j)}})
			}
		}()
	}
	go func() {
		for range o.C() {
		}
	}()
	time.Sleep(time.Millisecond)
	require.NoError(t, o.Close())
	wg.Wait()
}
