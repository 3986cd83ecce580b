// Package keylock 提供按键串行化的互斥锁表
//
// 每个键对应一把引用计数的互斥锁，最后一个持有者释放后自动回收。
package keylock

import "sync"

// Table 按键互斥锁表，零值不可用
type Table struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sync.Mutex
	refs int
}

// New 创建锁表
func New() *Table {
	return &Table{locks: make(map[string]*entry)}
}

// Lock 获取 key 的锁，返回释放函数
func (t *Table) Lock(key string) (unlock func()) {
	t.mu.Lock()
	e, ok := t.locks[key]
	if !ok {
		e = &entry{}
		t.locks[key] = e
	}
	e.refs++
	t.mu.Unlock()

	e.Lock()
	return func() {
		e.Unlock()
		t.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}

// Len 返回当前持有或等待中的键数量
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
