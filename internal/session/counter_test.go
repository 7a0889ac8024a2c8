package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vpnhouse/ratio/internal/ratio"
)

var _ ratio.SessionStatsSource = (*Counter)(nil)
var _ ratio.SessionStatsSource = (*Torrent)(nil)

func TestCounter(t *testing.T) {
	c := &Counter{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.AddUpload(3)
				c.AddDownload(1)
			}
		}()
	}
	wg.Wait()

	st, err := c.SessionStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ratio.SessionStatus{TotalDownload: 8000, TotalUpload: 24000}, st)

	c.Reset()
	st, err = c.SessionStatus(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.TotalDownload)
	assert.Zero(t, st.TotalUpload)
}

func TestTorrentClosed(t *testing.T) {
	src := &Torrent{}
	assert.False(t, src.Running())
	assert.NoError(t, src.Shutdown())

	_, err := src.SessionStatus(context.Background())
	require.Error(t, err)
}
