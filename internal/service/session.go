// session.go — сессия консоли: всё, что живёт от старта до остановки приложения.
//
// Session владеет шиной событий, реестром backend-ов, монитором безопасности
// и для каждого backend-а — хранилищем топологии, координатором операций
// и циклом опроса. Close останавливает циклы опроса и снимает подписки сессии.
//
// Claim на уровне слота идёт через шину: RequestSlotClaim публикует
// slot:claim-requested, подписчик сессии запускает ClaimOSDs на координаторе
// backend-а и публикует slot:claim-finished:<slot_id>.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/operation"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/rbac"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/eventbus"
)

// FrameworkAPI — всё, что сессии нужно от API фреймворка.
type FrameworkAPI interface {
	TopologyFetcher
	TaskRunner
	SafetyCalculator
	BackendLister
}

// SessionConfig — параметры сессии.
type SessionConfig struct {
	// BackendGUIDs — обслуживаемые backend-ы
	BackendGUIDs []string
	// RefreshInterval — интервал полного обновления топологии
	RefreshInterval time.Duration
	// SafetyInterval — интервал calculate_safety
	SafetyInterval time.Duration
	// RegistryTTL — время жизни записи реестра backend-ов
	RegistryTTL time.Duration
}

type backendSession struct {
	store       *TopologyStore
	coordinator *Coordinator
	poller      *Poller
}

// Session — корневой объект сервисного слоя.
type Session struct {
	bus      *eventbus.Bus
	registry *BackendRegistry
	safety   *SafetyMonitor
	backends map[string]*backendSession
	guids    []string

	registryPoller *Poller
	scope          string
	ctx            context.Context
	cancel         context.CancelFunc
	logger         *slog.Logger

	mu     sync.Mutex
	closed bool
	claims sync.WaitGroup
}

// NewSession создаёт сессию. Циклы опроса запускает Start.
func NewSession(api FrameworkAPI, cfg SessionConfig, logger *slog.Logger) (*Session, error) {
	if len(cfg.BackendGUIDs) == 0 {
		return nil, errors.New("не задан ни один backend")
	}
	if cfg.RefreshInterval <= 0 || cfg.SafetyInterval <= 0 || cfg.RegistryTTL <= 0 {
		return nil, errors.New("интервалы сессии должны быть положительными")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		bus:      eventbus.New(logger),
		registry: NewBackendRegistry(api, cfg.RegistryTTL, logger),
		safety:   NewSafetyMonitor(api, cfg.SafetyInterval, logger),
		backends: make(map[string]*backendSession, len(cfg.BackendGUIDs)),
		scope:    eventbus.NewScope("session"),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With(slog.String("component", "session")),
	}

	for _, guid := range cfg.BackendGUIDs {
		if _, dup := s.backends[guid]; dup {
			continue
		}
		store := NewTopologyStore(guid, api, logger)
		b := &backendSession{
			store:       store,
			coordinator: NewCoordinator(store, api, s.safety, s.bus, logger),
		}
		b.poller = NewPoller("topology:"+guid, cfg.RefreshInterval, func(ctx context.Context) error {
			_, err := s.Refresh(ctx, guid, ScopeFull)
			return err
		}, logger)
		s.backends[guid] = b
		s.guids = append(s.guids, guid)
	}

	s.registryPoller = NewPoller("backend_registry", max(cfg.RegistryTTL/2, time.Second), s.registry.Refresh, logger)
	s.bus.Subscribe(TopicSlotClaimRequested, s.scope, s.handleSlotClaim)
	return s, nil
}

// Start запускает циклы опроса.
func (s *Session) Start(ctx context.Context) {
	s.registryPoller.Start(ctx)
	for _, guid := range s.guids {
		s.backends[guid].poller.Start(ctx)
	}
	s.logger.Info("Сессия запущена", slog.Int("backends", len(s.guids)))
}

// Close останавливает сессию. Повторный вызов ничего не делает.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.claims.Wait()
	s.registryPoller.Stop()
	for _, guid := range s.guids {
		s.backends[guid].poller.Stop()
	}
	s.safety.Close()
	disposed := s.bus.DisposeScope(s.scope)
	s.registry.Purge()
	s.logger.Info("Сессия остановлена", slog.Int("disposed_subscriptions", disposed))
}

// Bus возвращает шину событий сессии.
func (s *Session) Bus() *eventbus.Bus {
	return s.bus
}

// Registry возвращает реестр backend-ов.
func (s *Session) Registry() *BackendRegistry {
	return s.registry
}

// Safety возвращает монитор безопасности удаления.
func (s *Session) Safety() *SafetyMonitor {
	return s.safety
}

// BackendGUIDs возвращает обслуживаемые backend-ы.
func (s *Session) BackendGUIDs() []string {
	return slices.Clone(s.guids)
}

func (s *Session) backend(guid string) (*backendSession, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}
	b, ok := s.backends[guid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, guid)
	}
	return b, nil
}

// Store возвращает хранилище топологии backend-а.
func (s *Session) Store(guid string) (*TopologyStore, error) {
	b, err := s.backend(guid)
	if err != nil {
		return nil, err
	}
	return b.store, nil
}

// Coordinator возвращает координатор операций backend-а.
func (s *Session) Coordinator(guid string) (*Coordinator, error) {
	b, err := s.backend(guid)
	if err != nil {
		return nil, err
	}
	return b.coordinator, nil
}

// Refresh обновляет топологию backend-а и публикует topology:refreshed.
func (s *Session) Refresh(ctx context.Context, guid string, scope Scope) (RefreshResult, error) {
	b, err := s.backend(guid)
	if err != nil {
		return RefreshResult{}, err
	}
	res, err := b.store.Refresh(ctx, scope)
	if err != nil {
		return RefreshResult{}, err
	}
	s.bus.Trigger(TopicTopologyRefreshed, Notification{
		Topic:       TopicTopologyRefreshed,
		BackendGUID: guid,
		Version:     res.Version,
		Timestamp:   time.Now().UTC(),
	})
	return res, nil
}

// View возвращает снимок топологии backend-а с именами чужих backend-ов.
func (s *Session) View(guid string) (TopologyView, error) {
	b, err := s.backend(guid)
	if err != nil {
		return TopologyView{}, err
	}
	return b.store.View(s.registry), nil
}

// RequestSlotClaim публикует запрос слота на claim и ждёт итога.
// Отмена ctx прекращает ожидание, но не операцию.
func (s *Session) RequestSlotClaim(ctx context.Context, req SlotClaimRequest) (Result, error) {
	if _, err := s.backend(req.BackendGUID); err != nil {
		return Result{}, err
	}
	req.RequestID = uuid.New().String()

	scope := eventbus.NewScope("slot-claim")
	defer s.bus.DisposeScope(scope)

	done := make(chan Result, 1)
	s.bus.Subscribe(SlotClaimFinishedTopic(req.SlotID), scope, func(payload any) {
		f, ok := payload.(SlotClaimFinished)
		if !ok || f.RequestID != req.RequestID {
			return
		}
		select {
		case done <- f.Result:
		default:
		}
	})

	if s.bus.Trigger(TopicSlotClaimRequested, req) == 0 {
		return Result{}, ErrSessionClosed
	}

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// handleSlotClaim — подписчик slot:claim-requested. Операция выполняется
// в отдельной горутине, Close дожидается её завершения.
func (s *Session) handleSlotClaim(payload any) {
	req, ok := payload.(SlotClaimRequest)
	if !ok {
		return
	}

	coord, err := s.Coordinator(req.BackendGUID)
	if err == nil {
		s.mu.Lock()
		if s.closed {
			err = ErrSessionClosed
		} else {
			s.claims.Add(1)
		}
		s.mu.Unlock()
	}
	if err != nil {
		s.finishSlotClaim(req, Result{
			Kind:    operation.KindClaimOSDs,
			Outcome: operation.OutcomePreconditionNotMet,
			State:   operation.StateRejected,
			Reason:  ReasonNotFound,
			Message: err.Error(),
			Err:     err,
		})
		return
	}

	go func() {
		defer s.claims.Done()
		ctx := rbac.WithPrincipal(s.ctx, req.Principal)
		ctx = WithConfirm(ctx, Confirmed(req.Confirmed))
		s.finishSlotClaim(req, coord.ClaimOSDs(ctx, map[string][]string{req.SlotID: req.OSDIDs}))
	}()
}

func (s *Session) finishSlotClaim(req SlotClaimRequest, res Result) {
	s.bus.Trigger(SlotClaimFinishedTopic(req.SlotID), SlotClaimFinished{
		RequestID: req.RequestID,
		Result:    res,
	})
}
