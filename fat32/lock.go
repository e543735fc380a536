package fat32

import "sync"

// LockMode is one of the four admission modes a caller can request on a
// cluster.
type LockMode int

const (
	LockRead LockMode = iota
	LockWrite
	LockRef
	LockDelete
)

// lockState is the per-cluster counters the admission table is checked
// against. It mirrors the source's FSObjectLockInfo exactly: Ref is a
// non-exclusive pin blocked only by Delete; Delete requires that no lock
// of any kind, including Ref, is currently held.
type lockState struct {
	cond         *sync.Cond
	readLocks    int
	refLocks     int
	writeLocked  bool
	deleteLocked bool
}

func (s *lockState) hasAnyLocks() bool {
	return s.readLocks > 0 || s.refLocks > 0 || s.writeLocked || s.deleteLocked
}

func (s *lockState) tryAdd(mode LockMode) bool {
	if s.deleteLocked {
		return false
	}
	switch mode {
	case LockRead:
		if s.writeLocked {
			return false
		}
		s.readLocks++
	case LockWrite:
		if s.readLocks > 0 || s.writeLocked {
			return false
		}
		s.writeLocked = true
	case LockRef:
		s.refLocks++
	case LockDelete:
		if s.hasAnyLocks() {
			return false
		}
		s.deleteLocked = true
	}
	return true
}

func (s *lockState) remove(mode LockMode) {
	switch mode {
	case LockRead:
		if s.readLocks == 0 {
			panic("overunlock (read)")
		}
		s.readLocks--
	case LockRef:
		if s.refLocks == 0 {
			panic("overunlock (ref)")
		}
		s.refLocks--
	case LockWrite:
		if !s.writeLocked {
			panic("overunlock (write)")
		}
		s.writeLocked = false
	case LockDelete:
		if !s.deleteLocked {
			panic("overunlock (delete)")
		}
		s.deleteLocked = false
	}
}

// LockManager coordinates per-cluster multi-mode locks: any number of Reads
// coexist, a Write excludes all Reads/Writes, a Ref pin never blocks
// anything but Delete, and Delete requires exclusive access including
// against outstanding Refs. A cluster's lockState is evicted from the table
// the moment it goes idle, so table size is bounded by live references.
type LockManager struct {
	mu    sync.Mutex
	locks map[uint32]*lockState
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[uint32]*lockState)}
}

func (m *LockManager) getOrCreate(cluster uint32) *lockState {
	if s, ok := m.locks[cluster]; ok {
		return s
	}
	s := &lockState{}
	s.cond = sync.NewCond(&m.mu)
	m.locks[cluster] = s
	return s
}

// evictIfIdle removes cluster's lockState from the table once it holds
// nothing, so opportunistic lookups don't grow the table forever.
func (m *LockManager) evictIfIdle(cluster uint32) {
	if s, ok := m.locks[cluster]; ok && !s.hasAnyLocks() {
		delete(m.locks, cluster)
	}
}

// Guard represents one admitted lock; Release must be called exactly once.
type Guard struct {
	manager *LockManager
	cluster uint32
	mode    LockMode
	held    bool
}

// Mode returns the mode this guard was acquired with.
func (g *Guard) Mode() LockMode {
	return g.mode
}

// Release gives up the lock and wakes any waiters blocked on this cluster.
func (g *Guard) Release() {
	if !g.held {
		return
	}
	g.manager.release(g.cluster, g.mode)
	g.held = false
}

func (m *LockManager) release(cluster uint32, mode LockMode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreate(cluster)
	s.remove(mode)
	s.cond.Broadcast()
	m.evictIfIdle(cluster)
}

// TryLock attempts to admit mode on cluster without blocking. ok is false if
// admission failed; the returned Guard is only valid when ok is true.
func (m *LockManager) TryLock(cluster uint32, mode LockMode) (*Guard, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreate(cluster)
	if !s.tryAdd(mode) {
		m.evictIfIdle(cluster)
		return nil, false
	}
	return &Guard{manager: m, cluster: cluster, mode: mode, held: true}, true
}

// Lock blocks until mode is admitted on cluster.
func (m *LockManager) Lock(cluster uint32, mode LockMode) *Guard {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreate(cluster)
	for !s.tryAdd(mode) {
		s.cond.Wait()
	}
	return &Guard{manager: m, cluster: cluster, mode: mode, held: true}
}
