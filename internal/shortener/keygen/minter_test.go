package keygen

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"shortly/internal/shortener/core"
)

// counterSource vends sequential ranges from an atomic counter, like the real
// allocator does.
type counterSource struct {
	counter atomic.Int64
	calls   atomic.Int64
	err     error
}

func (s *counterSource) Allocate(ctx context.Context, size int64) (int64, int64, error) {
	s.calls.Add(1)
	if s.err != nil {
		return 0, 0, s.err
	}
	end := s.counter.Add(size)
	return end - size + 1, end, nil
}

func TestMinter_SequentialWithinBlock(t *testing.T) {
	src := &counterSource{}
	m := NewMinter(src, nil, 10, nil)

	for want := int64(1); want <= 10; want++ {
		id, code, err := m.NextCode(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != want {
			t.Fatalf("expected id %d, got %d", want, id)
		}
		if len(code) != 7 {
			t.Fatalf("expected padded 7-char code, got %q", code)
		}
	}
	if src.calls.Load() != 1 {
		t.Fatalf("expected a single refill for the whole block, got %d", src.calls.Load())
	}
}

func TestMinter_RefillsWhenBlockSpent(t *testing.T) {
	src := &counterSource{}
	m := NewMinter(src, nil, 3, nil)

	for i := 0; i < 7; i++ {
		if _, _, err := m.NextCode(context.Background()); err != nil {
			t.Fatalf("unexpected error at mint %d: %v", i, err)
		}
	}
	if got := src.calls.Load(); got != 3 {
		t.Fatalf("expected 3 refills for 7 mints of block size 3, got %d", got)
	}
	if got := m.Remaining(); got != 2 {
		t.Fatalf("expected 2 ids remaining, got %d", got)
	}
}

func TestMinter_UniqueUnderConcurrency(t *testing.T) {
	src := &counterSource{}
	m := NewMinter(src, nil, 50, nil)

	const n = 2000
	var wg sync.WaitGroup
	ids := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _, err := m.NextCode(context.Background())
			if err != nil {
				t.Errorf("mint failed: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d minted", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d unique ids, got %d", n, len(seen))
	}
}

func TestMinter_AllocatorDown(t *testing.T) {
	src := &counterSource{err: errors.New("connection refused")}
	m := NewMinter(src, nil, 10, nil)

	if _, _, err := m.NextCode(context.Background()); !errors.Is(err, core.ErrAllocatorUnavailable) {
		t.Fatalf("expected ErrAllocatorUnavailable, got %v", err)
	}
}

func TestMinter_FallbackSource(t *testing.T) {
	primary := &counterSource{err: errors.New("allocator unreachable")}
	fallback := &counterSource{}
	m := NewMinter(primary, fallback, 10, nil)

	id, _, err := m.NextCode(context.Background())
	if err != nil {
		t.Fatalf("expected fallback to serve the refill: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected id 1 from fallback range, got %d", id)
	}
	if fallback.calls.Load() != 1 {
		t.Fatalf("expected one fallback allocation, got %d", fallback.calls.Load())
	}
}

func TestMinter_ServesPreReservedIDsWhileAllocatorDown(t *testing.T) {
	src := &counterSource{}
	m := NewMinter(src, nil, 5, nil)

	// Fill the block, then kill the allocator.
	if _, _, err := m.NextCode(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	src.err = errors.New("allocator down")

	// The remaining 4 pre-reserved ids still mint.
	for i := 0; i < 4; i++ {
		if _, _, err := m.NextCode(context.Background()); err != nil {
			t.Fatalf("pre-reserved mint %d failed: %v", i, err)
		}
	}
	if _, _, err := m.NextCode(context.Background()); !errors.Is(err, core.ErrAllocatorUnavailable) {
		t.Fatalf("expected ErrAllocatorUnavailable once the block is spent, got %v", err)
	}
}
