package bot

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedQueue_OrderPerKey(t *testing.T) {
	q := newKeyedQueue()
	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		q.Do("ana", func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	q.Wait()

	if len(got) != 100 {
		t.Fatalf("ran %d jobs, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("job %d ran at position %d", v, i)
		}
	}
}

func TestKeyedQueue_KeysRunConcurrently(t *testing.T) {
	q := newKeyedQueue()
	release := make(chan struct{})
	done := make(chan struct{})

	q.Do("ana", func() { <-release })
	q.Do("beto", func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("a blocked key held up another key")
	}
	close(release)
	q.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) != 0 {
		t.Errorf("pending keys after Wait: %v", q.pending)
	}
}
