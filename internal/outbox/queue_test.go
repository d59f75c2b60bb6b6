package outbox

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageQueue_FIFO(t *testing.T) {
	q := newMessageQueue(10)

	for i := 0; i < 3; i++ {
		require.True(t, q.Enqueue(Message{Sequence: int64(i)}))
	}

	for i := 0; i < 3; i++ {
		m, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, int64(i), m.Sequence)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestMessageQueue_Bounded(t *testing.T) {
	q := newMessageQueue(2)

	assert.True(t, q.Enqueue(Message{Sequence: 1}))
	assert.True(t, q.Enqueue(Message{Sequence: 2}))
	assert.False(t, q.Enqueue(Message{Sequence: 3}), "full queue rejects")
	assert.Equal(t, 2, q.Len())

	_, _ = q.TryDequeue()
	assert.True(t, q.Enqueue(Message{Sequence: 3}))
}

func TestMessageQueue_CloseRejectsAndWakes(t *testing.T) {
	q := newMessageQueue(10)

	woke := make(chan struct{})
	go func() {
		<-q.Wait()
		close(woke)
	}()

	q.Close()
	q.Close() // idempotent

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Close")
	}
	assert.False(t, q.Enqueue(Message{}))
	assert.True(t, q.Closed())
}

func TestMessageQueue_ConcurrentEnqueue(t *testing.T) {
	q := newMessageQueue(1000)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Enqueue(Message{EntryID: fmt.Sprintf("%d-%d", g, i)})
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 500, q.Len())
}
