// Пакет eventbus — шина публикации/подписки со строковыми темами и областями.
//
// Область (scope) объединяет подписки одного компонента: DisposeScope снимает
// их все разом при завершении компонента. Подписчики одной темы получают
// событие в порядке регистрации, не более одного раза на публикацию.
package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrScopeDisposed — область подписки закрыта до публикации события.
var ErrScopeDisposed = errors.New("область подписки закрыта")

// Handler — обработчик постоянной подписки.
type Handler func(payload any)

type subscription struct {
	scope    string
	oneShot  bool
	handler  Handler
	future   *Future
	disposed atomic.Bool
}

// Future — результат одноразовой подписки.
type Future struct {
	done    chan struct{}
	once    sync.Once
	payload any
	err     error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(payload any, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.payload = payload
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done закрывается, когда подписка получила событие или область закрыта.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait ждёт события. Возвращает ErrScopeDisposed, если область закрыта,
// или ошибку контекста.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.payload, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Bus — шина событий.
type Bus struct {
	mu     sync.Mutex
	topics map[string][]*subscription
	logger *slog.Logger
}

// New создаёт шину событий.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		topics: make(map[string][]*subscription),
		logger: logger.With(slog.String("component", "event_bus")),
	}
}

// NewScope создаёт уникальное имя области с префиксом.
func NewScope(prefix string) string {
	return prefix + ":" + uuid.New().String()
}

// On регистрирует одноразовую подписку на следующую публикацию темы.
func (b *Bus) On(topic, scope string) *Future {
	sub := &subscription{scope: scope, oneShot: true, future: newFuture()}
	b.add(topic, sub)
	return sub.future
}

// Subscribe регистрирует постоянную подписку. Возвращает функцию отписки.
func (b *Bus) Subscribe(topic, scope string, fn Handler) func() {
	sub := &subscription{scope: scope, handler: fn}
	b.add(topic, sub)
	return func() { b.remove(topic, sub) }
}

func (b *Bus) add(topic string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = append(b.topics[topic], sub)
}

func (b *Bus) remove(topic string, target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	target.disposed.Store(true)
	subs := b.topics[topic]
	for i, s := range subs {
		if s == target {
			b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.topics[topic]) == 0 {
		delete(b.topics, topic)
	}
}

// Trigger публикует событие. Обработчики вызываются вне блокировки,
// в порядке регистрации. Возвращает число доставок.
func (b *Bus) Trigger(topic string, payload any) int {
	b.mu.Lock()
	subs := b.topics[topic]
	targets := make([]*subscription, len(subs))
	copy(targets, subs)

	kept := subs[:0:0]
	for _, s := range subs {
		if !s.oneShot {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.topics, topic)
	} else {
		b.topics[topic] = kept
	}
	b.mu.Unlock()

	delivered := 0
	for _, s := range targets {
		if s.disposed.Load() {
			continue
		}
		if s.oneShot {
			if s.future.resolve(payload, nil) {
				delivered++
			}
			continue
		}
		b.call(topic, s.handler, payload)
		delivered++
	}

	b.logger.Debug("Событие опубликовано",
		slog.String("topic", topic),
		slog.Int("delivered", delivered),
	)
	return delivered
}

// call вызывает обработчик, не давая панике подписчика остановить доставку остальным.
func (b *Bus) call(topic string, fn Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Паника в обработчике события",
				slog.String("topic", topic),
				slog.Any("panic", r),
			)
		}
	}()
	fn(payload)
}

// DisposeScope снимает все подписки области. Ожидающие Future
// завершаются с ErrScopeDisposed. Возвращает число снятых подписок.
func (b *Bus) DisposeScope(scope string) int {
	b.mu.Lock()
	var disposed []*subscription
	for topic, subs := range b.topics {
		kept := subs[:0:0]
		for _, s := range subs {
			if s.scope == scope {
				s.disposed.Store(true)
				disposed = append(disposed, s)
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(b.topics, topic)
		} else {
			b.topics[topic] = kept
		}
	}
	b.mu.Unlock()

	for _, s := range disposed {
		if s.oneShot {
			s.future.resolve(nil, ErrScopeDisposed)
		}
	}
	return len(disposed)
}

// Subscribers возвращает число активных подписок темы.
func (b *Bus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}
