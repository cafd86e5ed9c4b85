package buffer

import (
	"reflect"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	buf := New[int](10, zap.NewNop())

	if buf.Capacity() != 10 {
		t.Errorf("Expected capacity 10, got %d", buf.Capacity())
	}
	if buf.Len() != 0 {
		t.Errorf("Expected length 0, got %d", buf.Len())
	}
	if got := buf.Drain(); got != nil {
		t.Errorf("Expected nil from empty buffer, got %v", got)
	}

	if New[int](0, zap.NewNop()).Capacity() != 1 {
		t.Error("Expected non-positive capacity to be raised to 1")
	}
}

func TestAdd_Order(t *testing.T) {
	buf := New[string](5, zap.NewNop())
	buf.Add("a", "b")
	buf.Add("c")

	if buf.Len() != 3 {
		t.Errorf("Expected length 3, got %d", buf.Len())
	}
	if got := buf.Drain(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("Expected [a b c], got %v", got)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected empty buffer after drain, got %d", buf.Len())
	}
}

func TestAdd_Overflow(t *testing.T) {
	buf := New[int](3, zap.NewNop())
	buf.Add(1, 2, 3, 4, 5)

	if buf.Len() != 3 {
		t.Errorf("Expected length 3, got %d", buf.Len())
	}
	if buf.Dropped() != 2 {
		t.Errorf("Expected 2 dropped, got %d", buf.Dropped())
	}
	if got := buf.Drain(); !reflect.DeepEqual(got, []int{3, 4, 5}) {
		t.Errorf("Expected [3 4 5], got %v", got)
	}
}

func TestDrain_AfterWrap(t *testing.T) {
	buf := New[int](3, zap.NewNop())
	buf.Add(1, 2, 3)
	buf.Drain()
	buf.Add(4, 5, 6, 7)

	if got := buf.Drain(); !reflect.DeepEqual(got, []int{5, 6, 7}) {
		t.Errorf("Expected [5 6 7], got %v", got)
	}
}

func TestConcurrentAdd(t *testing.T) {
	buf := New[int](1000, zap.NewNop())

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				buf.Add(i)
			}
		}()
	}
	wg.Wait()

	if buf.Len() != 500 {
		t.Errorf("Expected 500 items, got %d", buf.Len())
	}
}
