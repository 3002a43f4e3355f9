package storage

import (
	"os"
	"sync"
	"syscall"
)

// FileLock pairs an in-process mutex with a flock(2) advisory lock so a
// document is safe against both concurrent goroutines and a second daemon
// pointed at the same data dir.
type FileLock struct {
	path string
	mu   sync.Mutex
	file *os.File
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock blocks until both the mutex and the flock are held.
func (l *FileLock) Lock() error {
	l.mu.Lock()

	f, err := os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		l.mu.Unlock()
		return err
	}
	l.file = f
	return nil
}

// TryLock acquires the lock without blocking, reporting success.
func (l *FileLock) TryLock() bool {
	if !l.mu.TryLock() {
		return false
	}
	f, err := os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return false
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		l.mu.Unlock()
		return false
	}
	l.file = f
	return true
}

// Unlock releases the flock and removes the lock file.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	os.Remove(l.path + ".lock")
	l.file = nil
	l.mu.Unlock()
	return nil
}
