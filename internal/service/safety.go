// safety.go — периодический расчёт безопасности удаления OSD.
//
// Для каждого отслеживаемого набора OSD (ключ — backend и отсортированные osd_id)
// работает свой Poller, который вызывает calculate_safety и кладёт результат
// в expirable LRU. TTL записи — два интервала опроса: запись, не обновлённая
// за это время, считается устаревшей и исчезает из кэша.
//
// Набор, к которому не обращались дольше idleRounds интервалов, перестаёт
// опрашиваться при следующем вызове Track.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/model"
)

const (
	safetyCacheSize = 256
	idleRounds      = 10
)

// SafetyCalculator — расчёт безопасности удаления на сервере.
type SafetyCalculator interface {
	CalculateSafety(ctx context.Context, backendGUID string, osdIDs []string) (model.Safety, error)
}

type trackedSafety struct {
	poller   *Poller
	lastSeen time.Time
}

// SafetyMonitor — кэш результатов calculate_safety с фоновым обновлением.
type SafetyMonitor struct {
	calc     SafetyCalculator
	interval time.Duration
	cache    *expirable.LRU[string, model.Safety]
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	tracked map[string]*trackedSafety
	closed  bool
}

// NewSafetyMonitor создаёт монитор с интервалом опроса interval.
func NewSafetyMonitor(calc SafetyCalculator, interval time.Duration, logger *slog.Logger) *SafetyMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &SafetyMonitor{
		calc:     calc,
		interval: interval,
		cache:    expirable.NewLRU[string, model.Safety](safetyCacheSize, nil, 2*interval),
		logger:   logger.With(slog.String("component", "safety_monitor")),
		ctx:      ctx,
		cancel:   cancel,
		tracked:  make(map[string]*trackedSafety),
	}
}

// safetyKey строит ключ набора OSD. Порядок osd_id не важен.
func safetyKey(backendGUID string, osdIDs []string) string {
	ids := slices.Clone(osdIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	return backendGUID + "|" + strings.Join(ids, ",")
}

// Current возвращает свежий результат для набора OSD.
func (m *SafetyMonitor) Current(backendGUID string, osdIDs []string) (model.Safety, bool) {
	key := safetyKey(backendGUID, osdIDs)

	m.mu.Lock()
	if t, ok := m.tracked[key]; ok {
		t.lastSeen = time.Now()
	}
	m.mu.Unlock()

	s, ok := m.cache.Get(key)
	if !ok || s.Stale(time.Now(), 2*m.interval) {
		return model.Safety{}, false
	}
	return s, true
}

// Track начинает опрос набора OSD. Повторный вызов для того же набора
// только продлевает отслеживание.
func (m *SafetyMonitor) Track(backendGUID string, osdIDs []string) {
	key := safetyKey(backendGUID, osdIDs)
	now := time.Now()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if t, ok := m.tracked[key]; ok {
		t.lastSeen = now
		m.mu.Unlock()
		return
	}

	ids := slices.Clone(osdIDs)
	p := NewPoller("safety:"+key, m.interval, func(ctx context.Context) error {
		return m.calculate(ctx, key, backendGUID, ids)
	}, m.logger)
	m.tracked[key] = &trackedSafety{poller: p, lastSeen: now}

	var idle []*Poller
	for k, t := range m.tracked {
		if now.Sub(t.lastSeen) > idleRounds*m.interval {
			idle = append(idle, t.poller)
			delete(m.tracked, k)
		}
	}
	m.mu.Unlock()

	p.Start(m.ctx)
	for _, ip := range idle {
		ip.Stop()
	}
	m.logger.Debug("Отслеживание безопасности удаления",
		slog.String("backend_guid", backendGUID),
		slog.Int("osds", len(ids)),
		slog.Int("idle_stopped", len(idle)),
	)
}

func (m *SafetyMonitor) calculate(ctx context.Context, key, backendGUID string, osdIDs []string) error {
	s, err := m.calc.CalculateSafety(ctx, backendGUID, osdIDs)
	if err != nil {
		safetyChecksTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("calculate_safety: %w", err)
	}
	if s.ComputedAt.IsZero() {
		s.ComputedAt = time.Now().UTC()
	}
	m.cache.Add(key, s)
	safetyChecksTotal.WithLabelValues("ok").Inc()
	return nil
}

// Tracked возвращает число отслеживаемых наборов.
func (m *SafetyMonitor) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// Close останавливает все опросы. Повторный вызов ничего не делает.
func (m *SafetyMonitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pollers := make([]*Poller, 0, len(m.tracked))
	for _, t := range m.tracked {
		pollers = append(pollers, t.poller)
	}
	m.tracked = nil
	m.mu.Unlock()

	m.cancel()
	for _, p := range pollers {
		p.Stop()
	}
	m.cache.Purge()
}
