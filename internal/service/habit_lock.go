package service

import "sync"

// habitLocks 在进程内按习惯串行化“打卡变更 + 计数重算 + 持久化”。
// SQLite 不支持行锁，事务内的 FOR UPDATE 会被忽略，因此需要额外的互斥。
type habitLocks struct {
	mu    sync.Mutex
	locks map[uint]*habitLock
}

type habitLock struct {
	sync.Mutex
	refs int
}

var habitMutexes = newHabitLocks()

func newHabitLocks() *habitLocks {
	return &habitLocks{locks: make(map[uint]*habitLock)}
}

// Lock 获取指定习惯的锁，返回释放函数；无人等待时条目会被回收
func (l *habitLocks) Lock(habitID uint) func() {
	l.mu.Lock()
	lock, ok := l.locks[habitID]
	if !ok {
		lock = &habitLock{}
		l.locks[habitID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.Lock()

	return func() {
		lock.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, habitID)
		}
		l.mu.Unlock()
	}
}

func (l *habitLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
