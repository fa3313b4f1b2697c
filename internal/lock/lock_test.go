package lock

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryLockerSingleWinner(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	won, err := locker.TryAcquire(ctx, "k1", time.Minute)
	if err != nil || !won {
		t.Fatalf("First acquire should win, got won=%v err=%v", won, err)
	}

	won, err = locker.TryAcquire(ctx, "k1", time.Minute)
	if err != nil || won {
		t.Fatalf("Second acquire should lose, got won=%v err=%v", won, err)
	}

	// A different key is independent.
	won, err = locker.TryAcquire(ctx, "k2", time.Minute)
	if err != nil || !won {
		t.Fatalf("Different key should win, got won=%v err=%v", won, err)
	}
}

func TestMemoryLockerExpiry(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	if won, _ := locker.TryAcquire(ctx, "k", 10*time.Millisecond); !won {
		t.Fatal("First acquire should win")
	}

	time.Sleep(20 * time.Millisecond)

	if won, _ := locker.TryAcquire(ctx, "k", time.Minute); !won {
		t.Fatal("Acquire after expiry should win")
	}
}

func TestMemoryLockerConcurrentRace(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	const n = 64
	var wg sync.WaitGroup
	wins := make(chan bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := locker.TryAcquire(ctx, "contested", time.Minute)
			if err != nil {
				t.Errorf("TryAcquire failed: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("Expected exactly 1 winner out of %d, got %d", n, winners)
	}
}
