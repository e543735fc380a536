package fat32

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockManager__MultipleReadsCoexist(t *testing.T) {
	m := NewLockManager()

	g1, ok := m.TryLock(5, LockRead)
	require.True(t, ok)
	g2, ok := m.TryLock(5, LockRead)
	require.True(t, ok)

	g1.Release()
	g2.Release()
}

func TestLockManager__WriteExcludesRead(t *testing.T) {
	m := NewLockManager()

	writeGuard, ok := m.TryLock(5, LockWrite)
	require.True(t, ok)

	_, ok = m.TryLock(5, LockRead)
	assert.False(t, ok, "read must not be admitted while a write lock is held")

	writeGuard.Release()

	_, ok = m.TryLock(5, LockRead)
	assert.True(t, ok, "read must be admitted once the write lock is released")
}

func TestLockManager__RefDoesNotBlockRead(t *testing.T) {
	m := NewLockManager()

	refGuard, ok := m.TryLock(7, LockRef)
	require.True(t, ok)

	readGuard, ok := m.TryLock(7, LockRead)
	assert.True(t, ok, "ref must not block read")

	readGuard.Release()
	refGuard.Release()
}

func TestLockManager__DeleteRequiresExclusiveAccessIncludingRef(t *testing.T) {
	m := NewLockManager()

	refGuard, ok := m.TryLock(9, LockRef)
	require.True(t, ok)

	_, ok = m.TryLock(9, LockDelete)
	assert.False(t, ok, "delete must be blocked by an outstanding ref")

	refGuard.Release()

	deleteGuard, ok := m.TryLock(9, LockDelete)
	assert.True(t, ok, "delete must be admitted once the ref is released")
	deleteGuard.Release()
}

func TestLockManager__Lock__BlocksUntilReleased(t *testing.T) {
	m := NewLockManager()

	writeGuard := m.Lock(3, LockWrite)

	done := make(chan struct{})
	go func() {
		g := m.Lock(3, LockWrite)
		g.Release()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second writer should not have been admitted yet")
	case <-time.After(50 * time.Millisecond):
	}

	writeGuard.Release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second writer was never admitted after release")
	}
}

func TestLockManager__DoubleReleasePanics(t *testing.T) {
	m := NewLockManager()
	g, ok := m.TryLock(1, LockWrite)
	require.True(t, ok)

	g.Release()
	assert.Panics(t, func() {
		m.release(1, LockWrite)
	})
}
