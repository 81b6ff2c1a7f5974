// poller.go — периодический запуск функции обновления.
//
// Poller вызывает функцию сразу после Start и далее с фиксированным интервалом.
// Если предыдущий запуск ещё не завершён, очередной тик пропускается.
// Trigger запрашивает внеочередной запуск, не дожидаясь тика.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultPollInterval — интервал для неположительного значения.
const defaultPollInterval = time.Second

// PollFunc — функция, которую запускает Poller.
type PollFunc func(ctx context.Context) error

// Poller — фиксированный цикл опроса.
type Poller struct {
	name     string
	interval time.Duration
	fn       PollFunc
	logger   *slog.Logger

	mu        sync.Mutex
	inProcess bool
	cancel    context.CancelFunc
	done      chan struct{}
	trigger   chan struct{}
}

// NewPoller создаёт цикл опроса.
// Неположительный интервал заменяется на defaultPollInterval.
func NewPoller(name string, interval time.Duration, fn PollFunc, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.With(slog.String("component", "poller"), slog.String("poller", name)),
		trigger:  make(chan struct{}, 1),
	}
}

// Start запускает фоновую горутину. Повторный вызов игнорируется.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)

		p.logger.Debug("Опрос запущен", slog.String("interval", p.interval.String()))

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Опрос остановлен")
				return
			case <-ticker.C:
				p.RunOnce(ctx)
			case <-p.trigger:
				p.RunOnce(ctx)
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения текущего запуска.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Trigger запрашивает внеочередной запуск. Несколько запросов подряд
// схлопываются в один.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// RunOnce выполняет один запуск.
// Возвращает false, если предыдущий запуск ещё выполняется (пропуск).
func (p *Poller) RunOnce(ctx context.Context) bool {
	p.mu.Lock()
	if p.inProcess {
		p.mu.Unlock()
		p.logger.Debug("Предыдущий запуск ещё выполняется, пропуск")
		return false
	}
	p.inProcess = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inProcess = false
		p.mu.Unlock()
	}()

	if err := p.fn(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("Ошибка опроса", slog.String("error", err.Error()))
	}
	return true
}

// IsInProgress возвращает true, если запуск выполняется.
func (p *Poller) IsInProgress() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inProcess
}
