package utils

import (
	"sync"

	"github.com/fansqz/lua-debugger/constants"
)

// StatusManager 记录调试器的生命周期状态的
// hook所在的VM线程和宿主线程都会读写状态，需要加锁
type StatusManager struct {
	lock   sync.RWMutex
	status constants.DebugState
}

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status: constants.Birth,
	}
}

func (s *StatusManager) Set(status constants.DebugState) {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.status = status
}

func (s *StatusManager) Get() constants.DebugState {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.status
}

func (s *StatusManager) Is(statusList ...constants.DebugState) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}
