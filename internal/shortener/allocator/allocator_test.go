package allocator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeIncrementer struct {
	counter atomic.Int64
	calls   atomic.Int64
	err     error
}

func (f *fakeIncrementer) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	f.calls.Add(1)
	if f.err != nil {
		return 0, f.err
	}
	return f.counter.Add(n), nil
}

func TestAllocate_ReturnsInclusiveRange(t *testing.T) {
	primary := &fakeIncrementer{}
	a := New(primary, nil, "id_allocator:urls", nil)

	start, end, err := a.Allocate(context.Background(), 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != 1 || end != 1000 {
		t.Fatalf("expected [1, 1000], got [%d, %d]", start, end)
	}

	start, end, err = a.Allocate(context.Background(), 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != 1001 || end != 1500 {
		t.Fatalf("expected [1001, 1500], got [%d, %d]", start, end)
	}
}

func TestAllocate_RejectsInvalidSizes(t *testing.T) {
	a := New(&fakeIncrementer{}, nil, "id_allocator:urls", nil)

	for _, size := range []int64{0, -1, MaxBlockSize + 1} {
		if _, _, err := a.Allocate(context.Background(), size); !errors.Is(err, ErrInvalidSize) {
			t.Fatalf("size %d: expected ErrInvalidSize, got %v", size, err)
		}
	}
}

func TestAllocate_DisjointUnderConcurrency(t *testing.T) {
	a := New(&fakeIncrementer{}, nil, "id_allocator:urls", nil)

	type block struct{ start, end int64 }
	const n = 200
	blocks := make(chan block, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start, end, err := a.Allocate(context.Background(), 10)
			if err != nil {
				t.Errorf("allocate failed: %v", err)
				return
			}
			blocks <- block{start, end}
		}()
	}
	wg.Wait()
	close(blocks)

	claimed := make(map[int64]bool, n*10)
	for b := range blocks {
		if b.end-b.start+1 != 10 {
			t.Fatalf("block [%d, %d] is not 10 wide", b.start, b.end)
		}
		for id := b.start; id <= b.end; id++ {
			if claimed[id] {
				t.Fatalf("id %d appears in two blocks", id)
			}
			claimed[id] = true
		}
	}
	if len(claimed) != n*10 {
		t.Fatalf("expected %d distinct ids, got %d", n*10, len(claimed))
	}
}

func TestAllocate_FailsOverToSecondary(t *testing.T) {
	primary := &fakeIncrementer{err: errors.New("connection refused")}
	secondary := &fakeIncrementer{}
	// Simulates the operator seeding the secondary counter high above the
	// primary's reach.
	secondary.counter.Store(1 << 40)
	a := New(primary, secondary, "id_allocator:urls", nil)

	start, end, err := a.Allocate(context.Background(), 100)
	if err != nil {
		t.Fatalf("expected failover to serve the allocation: %v", err)
	}
	if start != 1<<40+1 || end != 1<<40+100 {
		t.Fatalf("expected range from the seeded secondary, got [%d, %d]", start, end)
	}
	if secondary.calls.Load() != 1 {
		t.Fatalf("expected one secondary call, got %d", secondary.calls.Load())
	}
}

func TestAllocate_BothCountersDown(t *testing.T) {
	primary := &fakeIncrementer{err: errors.New("primary down")}
	secondary := &fakeIncrementer{err: errors.New("secondary down")}
	a := New(primary, secondary, "id_allocator:urls", nil)

	if _, _, err := a.Allocate(context.Background(), 100); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestAllocate_NoSecondaryConfigured(t *testing.T) {
	primary := &fakeIncrementer{err: errors.New("primary down")}
	a := New(primary, nil, "id_allocator:urls", nil)

	if _, _, err := a.Allocate(context.Background(), 100); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
