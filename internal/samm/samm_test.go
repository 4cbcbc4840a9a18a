package samm

import (
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestEnterExitReleases(t *testing.T) {
	var mu sync.Mutex
	var released []unsafe.Pointer

	m := New(func(ptr unsafe.Pointer, class Class, sizeClass int) {
		mu.Lock()
		released = append(released, ptr)
		mu.Unlock()
	})

	m.EnterScope()
	x := byte(1)
	m.Track(unsafe.Pointer(&x), ClassStringDescriptor, 0)
	m.ExitScope()

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(released)
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for release")
		case <-time.After(time.Millisecond):
		}
	}

	m.Shutdown()
}

func TestRetainParentMovesToParentScope(t *testing.T) {
	var mu sync.Mutex
	var releasedOrder []string

	m := New(func(ptr unsafe.Pointer, class Class, sizeClass int) {
		mu.Lock()
		releasedOrder = append(releasedOrder, "released")
		mu.Unlock()
	})

	m.EnterScope() // parent
	m.EnterScope() // child
	x := byte(1)
	m.Track(unsafe.Pointer(&x), ClassStringDescriptor, 0)
	m.RetainParent(unsafe.Pointer(&x))
	m.ExitScope() // exits child; x should now be owned by parent, not released yet

	mu.Lock()
	assert.Empty(t, releasedOrder)
	mu.Unlock()

	m.ExitScope() // exits parent; x now releases

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(releasedOrder)
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for release")
		case <-time.After(time.Millisecond):
		}
	}

	m.Shutdown()
}

func TestRetainParentAtDepthZeroBecomesPermanent(t *testing.T) {
	m := New(func(ptr unsafe.Pointer, class Class, sizeClass int) {})

	m.EnterScope()
	x := byte(1)
	m.Track(unsafe.Pointer(&x), ClassStringDescriptor, 0)
	m.RetainParent(unsafe.Pointer(&x))
	m.ExitScope()

	assert.Equal(t, 0, m.Depth())
	assert.Len(t, m.permanent, 1)
	m.Shutdown()
}
