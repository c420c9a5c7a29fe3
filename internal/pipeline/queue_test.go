package pipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/pacsbatch/internal/pipeline"
)

func TestQueue_FIFOAndDrainAfterClose(t *testing.T) {
	q := pipeline.NewQueue[int]()
	for i := 0; i < 5; i++ {
		require.True(t, q.Push(i))
	}
	q.Close()
	assert.False(t, q.Push(99), "closed queue rejects items")
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		v, ok := q.Pop(context.Background())
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.Pop(context.Background())
	assert.False(t, ok)
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := pipeline.NewQueue[string]()
	got := make(chan string, 1)
	go func() {
		v, _ := q.Pop(context.Background())
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("pop returned before anything was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push("payload")
	select {
	case v := <-got:
		assert.Equal(t, "payload", v)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestQueue_PopHonorsContext(t *testing.T) {
	q := pipeline.NewQueue[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := q.Pop(ctx)
	assert.False(t, ok)
}

func TestQueue_ManyConsumers(t *testing.T) {
	q := pipeline.NewQueue[int]()
	const items = 500

	var mu sync.Mutex
	seen := map[int]bool{}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok := q.Pop(context.Background())
				if !ok {
					return
				}
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < items; i++ {
		q.Push(i)
	}
	q.Close()
	wg.Wait()
	assert.Len(t, seen, items)
}
