// Package samm implements the scope-aware memory manager: a process-wide
// stack of scopes that tracks per-scope allocations and releases them in
// bulk, on a background worker, when a scope exits. This is the runtime
// collaborator spec.md §4.B describes — the core (internal/ast,
// internal/codegen) decides *where* to call Manager's methods; Manager
// itself owns the bookkeeping.
package samm

import (
	"sync"
	"unsafe"

	"github.com/sirupsen/logrus"
)

// Class tags the kind of tracked allocation, mirroring spec.md's "tagged
// by class" scope contract.
type Class int

const (
	ClassStringDescriptor Class = iota
	ClassListHeader
	ClassObjectSizeClass
	ClassOverflow
)

// tracked is one allocation tracked by a scope.
type tracked struct {
	ptr   unsafe.Pointer
	class Class
	// sizeClass is meaningful only when class == ClassObjectSizeClass.
	sizeClass int
}

type scope struct {
	allocs map[unsafe.Pointer]tracked
}

func newScope() *scope {
	return &scope{allocs: make(map[unsafe.Pointer]tracked)}
}

// ReleaseFunc is called by the background worker for every allocation in
// a scope that has exited. The caller supplies this — Manager has no
// opinion on how a string descriptor or list header is actually released.
type ReleaseFunc func(ptr unsafe.Pointer, class Class, sizeClass int)

type releaseBatch struct {
	items []tracked
}

// Manager is the process-wide (but explicitly constructed and threaded,
// per spec.md §9's "explicit context objects" design note — never a
// package-level global) scope stack plus background release worker.
type Manager struct {
	mu     sync.Mutex
	scopes []*scope

	release ReleaseFunc
	work    chan releaseBatch
	wg      sync.WaitGroup

	permanent   []tracked
	permanentMu sync.Mutex

	log *logrus.Entry
}

// New constructs a Manager and starts its background release worker.
// release is invoked once per tracked allocation when its scope exits.
func New(release ReleaseFunc) *Manager {
	m := &Manager{
		release: release,
		work:     make(chan releaseBatch, 64),
		log:      logrus.WithField("component", "samm"),
	}
	m.wg.Add(1)
	go m.worker()
	return m
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for batch := range m.work {
		for _, t := range batch.items {
			m.release(t.ptr, t.class, t.sizeClass)
		}
	}
}

// EnterScope pushes a fresh, empty tracking set.
func (m *Manager) EnterScope() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes = append(m.scopes, newScope())
}

// ExitScope pops the top scope and hands its tracking set to the
// background worker for release.
func (m *Manager) ExitScope() {
	m.mu.Lock()
	if len(m.scopes) == 0 {
		m.mu.Unlock()
		m.log.Warn("samm: exit_scope with no active scope")
		return
	}
	top := m.scopes[len(m.scopes)-1]
	m.scopes = m.scopes[:len(m.scopes)-1]
	m.mu.Unlock()

	items := make([]tracked, 0, len(top.allocs))
	for _, t := range top.allocs {
		items = append(items, t)
	}
	if len(items) > 0 {
		m.work <- releaseBatch{items: items}
	}
}

// Track registers a new allocation of the given class in the top scope.
func (m *Manager) Track(ptr unsafe.Pointer, class Class, sizeClass int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.scopes) == 0 {
		m.log.Warn("samm: track with no active scope, treating as permanently retained")
		m.permanentMu.Lock()
		m.permanent = append(m.permanent, tracked{ptr: ptr, class: class, sizeClass: sizeClass})
		m.permanentMu.Unlock()
		return
	}
	top := m.scopes[len(m.scopes)-1]
	top.allocs[ptr] = tracked{ptr: ptr, class: class, sizeClass: sizeClass}
}

// RetainParent moves ptr from the current (top) scope's tracking into the
// parent scope's, extending its lifetime by one frame — used for values
// returned from methods/functions. If there is no parent scope, the
// pointer becomes permanently retained (never released by this Manager).
//
// See DESIGN.md Open Question decision #1: a caller that does not itself
// track strings may leak a retained-to-caller string. This is documented,
// expected behavior, preserved as specified.
func (m *Manager) RetainParent(ptr unsafe.Pointer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.scopes) == 0 {
		return
	}
	top := m.scopes[len(m.scopes)-1]
	t, ok := top.allocs[ptr]
	if !ok {
		return
	}
	delete(top.allocs, ptr)

	if len(m.scopes) < 2 {
		m.permanentMu.Lock()
		m.permanent = append(m.permanent, t)
		m.permanentMu.Unlock()
		return
	}
	parent := m.scopes[len(m.scopes)-2]
	parent.allocs[ptr] = t
}

// Depth returns the number of active scopes, mostly for tests/diagnostics.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scopes)
}

// Shutdown drains pending release work, logs diagnostics for any
// permanently-retained allocations, and joins the worker. Safe to call
// once, at process teardown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	remaining := len(m.scopes)
	m.mu.Unlock()
	if remaining > 0 {
		m.log.WithField("unclosed_scopes", remaining).Warn("samm: shutdown with unclosed scopes")
	}

	close(m.work)
	m.wg.Wait()

	m.permanentMu.Lock()
	if n := len(m.permanent); n > 0 {
		m.log.WithField("permanently_retained", n).Info("samm: shutdown diagnostics")
	}
	m.permanentMu.Unlock()
}
