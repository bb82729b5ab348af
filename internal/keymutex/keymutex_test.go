package keymutex

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestKeyMutexSerialization 测试同键互斥
func TestKeyMutexSerialization(t *testing.T) {
	km := New()

	t.Run("同键串行化", func(t *testing.T) {
		var counter int
		var wg sync.WaitGroup

		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				km.Lock("key")
				counter++
				km.Unlock("key")
			}()
		}
		wg.Wait()

		assert.Equal(t, 100, counter)
	})

	t.Run("不同键互不阻塞", func(t *testing.T) {
		km.Lock("a")
		done := make(chan struct{})
		go func() {
			km.Lock("b")
			km.Unlock("b")
			close(done)
		}()
		<-done
		km.Unlock("a")
	})
}

// TestKeyMutexReclaim 测试键条目回收
func TestKeyMutexReclaim(t *testing.T) {
	km := New()

	km.Lock("key")
	km.Unlock("key")

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks, "释放后键条目应被回收")
}

// TestKeyMutexUnlockPanic 测试释放未持有的键
func TestKeyMutexUnlockPanic(t *testing.T) {
	km := New()

	assert.Panics(t, func() {
		km.Unlock("never-locked")
	})
}
