package session

import (
	"fmt"
	"sync"
)

// TransitionError: недопустимый переход.
type TransitionError struct {
	From, To string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.From, e.To)
}

// Manager хранит состояние каждого чата в памяти. После перезапуска все
// диалоги начинаются с Idle.
type Manager struct {
	mu     sync.Mutex
	states map[int64]State
}

func NewManager() *Manager {
	return &Manager{states: map[int64]State{}}
}

// Get: текущее состояние чата (Idle, если его нет).
func (m *Manager) Get(chatID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[chatID]; ok {
		return s
	}
	return Idle{}
}

// Set переводит чат в состояние to, проверяя допустимость перехода.
func (m *Manager) Set(chatID int64, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	from, ok := m.states[chatID]
	if !ok {
		from = Idle{}
	}
	if !canEnter(from, to) {
		return &TransitionError{From: from.Name(), To: to.Name()}
	}
	if _, idle := to.(Idle); idle {
		delete(m.states, chatID)
		return nil
	}
	m.states[chatID] = to
	return nil
}

// Reset возвращает чат в Idle.
func (m *Manager) Reset(chatID int64) {
	m.mu.Lock()
	delete(m.states, chatID)
	m.mu.Unlock()
}

// Active: число чатов не в Idle.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}
