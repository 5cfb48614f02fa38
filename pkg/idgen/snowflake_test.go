package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnowflake_RejectsWorkerOutOfRange(t *testing.T) {
	_, err := NewSnowflake(-1)
	assert.Error(t, err)

	_, err = NewSnowflake(maxWorkerID + 1)
	assert.Error(t, err)

	_, err = NewSnowflake(maxWorkerID)
	assert.NoError(t, err)
}

func TestGenerate_UniqueAndIncreasing(t *testing.T) {
	g, err := NewSnowflake(3)
	require.NoError(t, err)

	const n = 10000
	prev := int64(0)
	for i := 0; i < n; i++ {
		id := g.Generate()
		require.Greater(t, id, prev)
		assert.Equal(t, int64(3), (id>>workerIDShift)&maxWorkerID)
		prev = id
	}
}

func TestGenerateTransferNo_Concurrent(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
		wg   sync.WaitGroup
	)

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				no := GenerateTransferNo()
				mu.Lock()
				seen[no] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 4000)
	for no := range seen {
		assert.True(t, strings.HasPrefix(no, "TRF"))
		break
	}
}
