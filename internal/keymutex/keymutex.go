// Package keymutex 提供按键互斥锁
// 用于对同一(校验和, 存储位置)或同一分组ID的读改写序列做短临界区串行化
package keymutex

import (
	"sync"
)

// KeyMutex 按键互斥锁
// 不同键的持锁互不影响，临界区内不得发起外部调用
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// entry 单个键的锁及其引用计数
// 引用计数归零后条目被回收，避免键空间无限增长
type entry struct {
	mu   sync.Mutex
	refs int
}

// New 创建按键互斥锁实例
func New() *KeyMutex {
	return &KeyMutex{
		locks: make(map[string]*entry),
	}
}

// Lock 获取指定键的互斥锁
func (k *KeyMutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock 释放指定键的互斥锁
// 对未持有的键调用会panic，与sync.Mutex行为一致
func (k *KeyMutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		panic("keymutex: unlock of unlocked key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}
