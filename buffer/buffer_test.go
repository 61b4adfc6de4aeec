package buffer

import (
	"reflect"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestRing_Empty(t *testing.T) {
	r := New[int](4, zap.NewNop())

	if r.Len() != 0 {
		t.Errorf("expected empty ring, got %d items", r.Len())
	}
	if r.Cap() != 4 {
		t.Errorf("expected capacity 4, got %d", r.Cap())
	}
	if got := r.Drain(); got != nil {
		t.Errorf("expected nil drain, got %v", got)
	}
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := New[int](0, zap.NewNop())
	if r.Cap() != 1 {
		t.Errorf("expected capacity 1, got %d", r.Cap())
	}
}

func TestRing_Order(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		add      []int
		want     []int
		evicted  uint64
	}{
		{name: "partial", capacity: 5, add: []int{1, 2, 3}, want: []int{1, 2, 3}},
		{name: "exactly full", capacity: 3, add: []int{1, 2, 3}, want: []int{1, 2, 3}},
		{name: "overflow", capacity: 3, add: []int{1, 2, 3, 4, 5}, want: []int{3, 4, 5}, evicted: 2},
		{name: "wrap twice", capacity: 2, add: []int{1, 2, 3, 4, 5, 6, 7}, want: []int{6, 7}, evicted: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()

			r := New[int](tt.capacity, logger)
			for _, v := range tt.add {
				r.Add(v)
			}

			if r.Evicted() != tt.evicted {
				t.Errorf("expected %d evicted, got %d", tt.evicted, r.Evicted())
			}
			if got := r.Drain(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Drain() = %v, want %v", got, tt.want)
			}
			if r.Len() != 0 {
				t.Errorf("expected empty ring after drain, got %d", r.Len())
			}
		})
	}
}

func TestRing_AddAfterDrain(t *testing.T) {
	r := New[string](3, zap.NewNop())
	r.Add("a")
	r.Add("b")
	r.Add("c")
	r.Add("d")
	r.Drain()

	r.Add("e")
	if got := r.Drain(); !reflect.DeepEqual(got, []string{"e"}) {
		t.Errorf("Drain() = %v, want [e]", got)
	}
}

func TestRing_AddAll(t *testing.T) {
	r := New[int](4, zap.NewNop())
	r.Add(1)
	r.AddAll([]int{2, 3, 4, 5})

	if got := r.Drain(); !reflect.DeepEqual(got, []int{2, 3, 4, 5}) {
		t.Errorf("Drain() = %v, want [2 3 4 5]", got)
	}
}

func TestRing_Concurrent(t *testing.T) {
	r := New[int](1000, zap.NewNop())

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Add(i)
				r.Len()
			}
		}()
	}
	wg.Wait()

	if r.Len() != 500 {
		t.Errorf("expected 500 items, got %d", r.Len())
	}
}
