package history

import "sync"

// Broker fans snapshots out to the listeners of a scope. In-process stores
// publish after each committed write. Listeners run on the publishing
// goroutine, outside the broker lock.
type Broker[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func([]T)
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[string]map[int]func([]T))}
}

func (b *Broker[T]) Subscribe(scope string, fn func([]T)) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[scope] == nil {
		b.subs[scope] = make(map[int]func([]T))
	}
	b.subs[scope][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[scope], id)
			if len(b.subs[scope]) == 0 {
				delete(b.subs, scope)
			}
		})
	}
}

// Active reports whether anyone listens on scope, so publishers can skip
// loading a snapshot nobody reads.
func (b *Broker[T]) Active(scope string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[scope]) > 0
}

func (b *Broker[T]) Publish(scope string, items []T) {
	b.mu.Lock()
	listeners := make([]func([]T), 0, len(b.subs[scope]))
	for _, fn := range b.subs[scope] {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		snapshot := make([]T, len(items))
		copy(snapshot, items)
		fn(snapshot)
	}
}
