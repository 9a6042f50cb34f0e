package sessionregistry

import "sync"

// chatLockMap hands out one RWMutex per chat id, created lazily. ExecuteChat holds the
// exclusive lock for the full duration of a turn so two concurrent POST /chat calls against the
// same chat never run the agent client at once. GetOrCreate and CancelGeneration do not take
// this lock; the read-lock methods have no caller.
type chatLockMap struct {
	locks sync.Map // chatID -> *sync.RWMutex
}

func newChatLockMap() *chatLockMap {
	return &chatLockMap{}
}

func (m *chatLockMap) getOrCreate(chatID string) *sync.RWMutex {
	lock, _ := m.locks.LoadOrStore(chatID, &sync.RWMutex{})
	return lock.(*sync.RWMutex)
}

func (m *chatLockMap) Lock(chatID string)    { m.getOrCreate(chatID).Lock() }
func (m *chatLockMap) Unlock(chatID string)  { m.getOrCreate(chatID).Unlock() }
func (m *chatLockMap) RLock(chatID string)   { m.getOrCreate(chatID).RLock() }
func (m *chatLockMap) RUnlock(chatID string) { m.getOrCreate(chatID).RUnlock() }

// Delete drops the lock entry once a chat session is terminated, so the map doesn't grow
// unboundedly across the lifetime of a long-running sidecar.
func (m *chatLockMap) Delete(chatID string) {
	m.locks.Delete(chatID)
}
