// registry.go — реестр живых сессий процесса.
// Cookie несёт только идентификатор и credential; реактивное состояние
// сессии живёт здесь, по одному Store на session id.
package session

import "sync"

// Registry — потокобезопасный реестр Store по session id.
type Registry struct {
	mu     sync.Mutex
	stores map[string]*Store
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		stores: make(map[string]*Store),
	}
}

// Get возвращает Store сессии, если она известна процессу.
func (r *Registry) Get(id string) (*Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stores[id]
	return st, ok
}

// GetOrCreate возвращает Store сессии, создавая пустой при отсутствии
// (например, после рестарта процесса при живом cookie).
func (r *Registry) GetOrCreate(id string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.stores[id]
	if !ok {
		st = NewStore()
		r.stores[id] = st
	}
	return st
}

// Delete сбрасывает и удаляет сессию из реестра.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	st, ok := r.stores[id]
	delete(r.stores, id)
	r.mu.Unlock()

	if ok {
		st.ClearSession()
	}
}

// Len возвращает число живых сессий (метрика sg_active_sessions).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}
