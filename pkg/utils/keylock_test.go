package utils

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("CA123")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected exclusive access per key, saw %d concurrent holders", maxSeen)
	}
	if km.Len() != 0 {
		t.Fatalf("expected entries released, got %d", km.Len())
	}
}

func TestKeyedMutex_DistinctKeysDoNotContend(t *testing.T) {
	km := NewKeyedMutex()

	unlockA := km.Lock("CA1")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("CA2")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock on a different key blocked")
	}
}

func TestKeyedMutex_UnlockIsIdempotent(t *testing.T) {
	km := NewKeyedMutex()
	unlock := km.Lock("k")
	unlock()
	unlock()
	if km.Len() != 0 {
		t.Fatalf("expected no entries, got %d", km.Len())
	}
}
