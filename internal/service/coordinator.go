// coordinator.go — мутирующие операции над топологией backend-а.
//
// Каждая операция проходит один и тот же шаблон:
//  1. Проверка: право manage, кластер не read-only, цели существуют и свободны,
//     собственные предусловия операции (safety, CanDeleteNode, свободные OSD).
//  2. Блокировка: Acquire помечает цели processing. Lease.Release вызывается
//     через defer и снимает флаги на любом пути выхода.
//  3. Подтверждение: ConfirmFunc из контекста (по умолчанию — продолжить).
//  4. Отправка задачи и ожидание её завершения.
//  5. Обновление топологии областью операции, затем снятие флагов.
//
// Итог операции — всегда Result с типизированным Outcome, ошибки наружу не выходят.
// Отправленную задачу отменить нельзя: отмена контекста прекращает только ожидание.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/albaclient"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/differ"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/model"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/operation"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/rbac"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/eventbus"
)

// TaskRunner — отправка и ожидание асинхронных задач фреймворка.
type TaskRunner interface {
	SubmitTask(ctx context.Context, tr albaclient.TaskRequest) (albaclient.TaskHandle, error)
	AwaitTask(ctx context.Context, h albaclient.TaskHandle) (albaclient.TaskResult, error)
}

// SafetyGate — актуальные результаты calculate_safety.
type SafetyGate interface {
	// Current возвращает свежий результат для набора OSD.
	Current(backendGUID string, osdIDs []string) (model.Safety, bool)
	// Track начинает периодический расчёт для набора OSD.
	Track(backendGUID string, osdIDs []string)
}

// ConfirmFunc — подтверждение операции пользователем.
type ConfirmFunc func(ctx context.Context, message string) (bool, error)

type confirmKey struct{}

// WithConfirm задаёт функцию подтверждения для операций, запущенных с ctx.
func WithConfirm(ctx context.Context, fn ConfirmFunc) context.Context {
	return context.WithValue(ctx, confirmKey{}, fn)
}

// Confirmed возвращает ConfirmFunc с заранее известным ответом.
func Confirmed(ok bool) ConfirmFunc {
	return func(context.Context, string) (bool, error) { return ok, nil }
}

// Result — итог операции.
type Result struct {
	OperationID string            `json:"operation_id"`
	Kind        operation.Kind    `json:"kind"`
	Outcome     operation.Outcome `json:"outcome"`
	State       operation.State   `json:"state"`
	// Reason — код причины для precondition_not_met
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	// Requested и Claimed — запрошенные и фактически забранные OSD (claim_osds)
	Requested []string `json:"requested,omitempty"`
	Claimed   []string `json:"claimed,omitempty"`
	// SlotID — слот, созданный generate_empty_slot
	SlotID string        `json:"slot_id,omitempty"`
	Safety *model.Safety `json:"safety,omitempty"`

	Err error `json:"-"`
}

// plan — проверенная операция, готовая к блокировке и отправке.
type plan struct {
	targets   Targets
	requested []string
	// safetyOSDs — OSD, для которых нужен свежий calculate_safety
	safetyOSDs []string
	confirm    string
	task       albaclient.TaskRequest
	scope      Scope

	nodeID string
	slotID string
	osdID  string

	// afterTask разбирает результат задачи до обновления топологии
	afterTask func(res albaclient.TaskResult, r *Result) error
	// afterRefresh вычисляет итог по обновлённой топологии
	afterRefresh func(r *Result)
}

// Coordinator выполняет операции над топологией одного backend-а.
type Coordinator struct {
	store  *TopologyStore
	tasks  TaskRunner
	safety SafetyGate
	bus    *eventbus.Bus
	logger *slog.Logger
}

// NewCoordinator создаёт координатор операций. safety может быть nil:
// тогда удаление OSD и непустых слотов всегда отклоняется.
func NewCoordinator(store *TopologyStore, tasks TaskRunner, safety SafetyGate, bus *eventbus.Bus, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		tasks:  tasks,
		safety: safety,
		bus:    bus,
		logger: logger.With(
			slog.String("component", "coordinator"),
			slog.String("backend_guid", store.BackendGUID()),
		),
	}
}

// Store возвращает хранилище топологии координатора.
func (c *Coordinator) Store() *TopologyStore {
	return c.store
}

// ClaimOSDs забирает OSD в backend. osds: slot_id → osd_id; пустой список
// слота означает все свободные OSD слота.
// Сервер может забрать меньше запрошенного: тогда итог partial_success.
func (c *Coordinator) ClaimOSDs(ctx context.Context, osds map[string][]string) Result {
	return c.run(ctx, operation.KindClaimOSDs, func() (*plan, error) {
		if len(osds) == 0 {
			return nil, precondition(ReasonInvalidArguments, "не выбраны OSD")
		}
		p := &plan{scope: ScopeStack}
		var claims []albaclient.OSDClaim
		seen := make(map[string]bool)

		for _, slotID := range differ.SortedKeys(osds) {
			n, sl, ok := c.store.locateSlotLocked(slotID)
			if !ok {
				return nil, precondition(ReasonNotFound, "слот %s не найден", slotID)
			}
			if n.ReadOnly() {
				return nil, precondition(ReasonReadOnly, "узел %s входит в кластер только для чтения", n.NodeID)
			}
			if sl.Processing || n.Processing() {
				return nil, precondition(ReasonProcessing, "над слотом %s уже выполняется операция", slotID)
			}

			ids := osds[slotID]
			if len(ids) == 0 {
				for _, o := range sl.ClaimableOSDs() {
					ids = append(ids, o.ID)
				}
			}
			if len(ids) == 0 {
				return nil, precondition(ReasonNothingToDo, "в слоте %s нет свободных OSD", slotID)
			}
			for _, id := range ids {
				if seen[id] {
					continue
				}
				o, ok := sl.FindOSD(id)
				if !ok {
					return nil, precondition(ReasonNotFound, "OSD %s не найден в слоте %s", id, slotID)
				}
				if o.Processing {
					return nil, precondition(ReasonProcessing, "над OSD %s уже выполняется операция", id)
				}
				if !o.Unclaimed() {
					return nil, precondition(ReasonInvalidArguments, "OSD %s уже забран backend-ом %s", id, o.ClaimedBy)
				}
				seen[id] = true
				claims = append(claims, albaclient.OSDClaim{NodeID: n.NodeID, SlotID: sl.ID, OSDID: id})
				p.targets.OSDs = append(p.targets.OSDs, id)
			}
			p.targets.Slots = append(p.targets.Slots, SlotRef{NodeID: n.NodeID, SlotID: sl.ID})
		}
		if len(p.targets.Slots) == 1 {
			p.nodeID, p.slotID = p.targets.Slots[0].NodeID, p.targets.Slots[0].SlotID
		}

		p.requested = slices.Clone(p.targets.OSDs)
		p.task = albaclient.ClaimOSDsTask(c.store.BackendGUID(), claims)
		p.confirm = fmt.Sprintf("Забрать %d OSD в backend?", len(claims))

		known := false
		p.afterTask = func(res albaclient.TaskResult, r *Result) error {
			ids, ok, err := albaclient.ClaimedOSDs(res)
			if err != nil {
				return err
			}
			known = ok
			r.Claimed = ids
			return nil
		}
		p.afterRefresh = func(r *Result) {
			if !known {
				r.Claimed = c.claimedOSDs(r.Requested)
			}
			if len(r.Claimed) < len(r.Requested) {
				r.Outcome = operation.OutcomePartialSuccess
				r.Message = fmt.Sprintf("забрано %d из %d OSD", len(r.Claimed), len(r.Requested))
			}
		}
		return p, nil
	})
}

// claimedOSDs возвращает OSD из ids, которые по текущей топологии принадлежат backend-у.
func (c *Coordinator) claimedOSDs(ids []string) []string {
	claimed := []string{}
	c.store.Read(func() {
		owner := c.store.backendIDLocked()
		if owner == "" {
			return
		}
		for _, id := range ids {
			if _, _, o, ok := c.store.locateOSDLocked(id); ok && o.ClaimedBy == owner {
				claimed = append(claimed, id)
			}
		}
	})
	return claimed
}

// RemoveOSD удаляет OSD из слота. Требует свежего calculate_safety.
func (c *Coordinator) RemoveOSD(ctx context.Context, osdID string) Result {
	return c.run(ctx, operation.KindRemoveOSD, func() (*plan, error) {
		n, sl, o, err := c.osdTarget(osdID)
		if err != nil {
			return nil, err
		}
		return &plan{
			targets:    Targets{OSDs: []string{o.ID}},
			safetyOSDs: []string{o.ID},
			confirm:    fmt.Sprintf("Удалить OSD %s из слота %s?", o.ID, sl.ID),
			task:       albaclient.RemoveOSDTask(n.GUID, o.ID),
			scope:      ScopeStack,
			nodeID:     n.NodeID,
			slotID:     sl.ID,
			osdID:      o.ID,
		}, nil
	})
}

// RestartOSD перезапускает OSD.
func (c *Coordinator) RestartOSD(ctx context.Context, osdID string) Result {
	return c.run(ctx, operation.KindRestartOSD, func() (*plan, error) {
		n, sl, o, err := c.osdTarget(osdID)
		if err != nil {
			return nil, err
		}
		return &plan{
			targets: Targets{OSDs: []string{o.ID}},
			confirm: fmt.Sprintf("Перезапустить OSD %s?", o.ID),
			task:    albaclient.RestartOSDTask(n.GUID, o.ID),
			scope:   ScopeStack,
			nodeID:  n.NodeID,
			slotID:  sl.ID,
			osdID:   o.ID,
		}, nil
	})
}

// osdTarget находит OSD и проверяет общие предусловия операций над ним.
// Вызывается под блокировкой чтения хранилища.
func (c *Coordinator) osdTarget(osdID string) (*model.Node, *model.Slot, *model.OSD, error) {
	n, sl, o, ok := c.store.locateOSDLocked(osdID)
	if !ok {
		return nil, nil, nil, precondition(ReasonNotFound, "OSD %s не найден", osdID)
	}
	if n.ReadOnly() {
		return nil, nil, nil, precondition(ReasonReadOnly, "узел %s входит в кластер только для чтения", n.NodeID)
	}
	if o.Processing || sl.Processing || n.Processing() {
		return nil, nil, nil, precondition(ReasonProcessing, "над OSD %s уже выполняется операция", osdID)
	}
	return n, sl, o, nil
}

// RemoveSlot удаляет слот вместе с его OSD.
// Для непустого слота требуется свежий calculate_safety по всем его OSD.
func (c *Coordinator) RemoveSlot(ctx context.Context, slotID string) Result {
	return c.run(ctx, operation.KindRemoveSlot, func() (*plan, error) {
		n, sl, ok := c.store.locateSlotLocked(slotID)
		if !ok {
			return nil, precondition(ReasonNotFound, "слот %s не найден", slotID)
		}
		if sl.Placeholder {
			return nil, precondition(ReasonInvalidArguments, "слот %s ещё не создан на узле", slotID)
		}
		if n.ReadOnly() {
			return nil, precondition(ReasonReadOnly, "узел %s входит в кластер только для чтения", n.NodeID)
		}
		if sl.Busy() || n.Processing() {
			return nil, precondition(ReasonProcessing, "над слотом %s уже выполняется операция", slotID)
		}
		osdIDs := sl.OSDIDs()
		return &plan{
			targets:    Targets{Slots: []SlotRef{{NodeID: n.NodeID, SlotID: sl.ID}}, OSDs: osdIDs},
			safetyOSDs: osdIDs,
			confirm:    fmt.Sprintf("Удалить слот %s узла %s вместе с %d OSD?", sl.ID, n.NodeID, len(osdIDs)),
			task:       albaclient.RemoveSlotTask(n.GUID, sl.ID),
			scope:      ScopeStack,
			nodeID:     n.NodeID,
			slotID:     sl.ID,
		}, nil
	})
}

// ReplaceNode заменяет узел новым. На время операции заняты узел,
// все его слоты и OSD.
func (c *Coordinator) ReplaceNode(ctx context.Context, nodeID, newNodeID string) Result {
	return c.run(ctx, operation.KindReplaceNode, func() (*plan, error) {
		if newNodeID == "" || newNodeID == nodeID {
			return nil, precondition(ReasonInvalidArguments, "не указан новый узел для замены %s", nodeID)
		}
		n, err := c.nodeTarget(nodeID)
		if err != nil {
			return nil, err
		}
		t := Targets{Nodes: []string{n.NodeID}}
		for _, sl := range n.Slots {
			t.Slots = append(t.Slots, SlotRef{NodeID: n.NodeID, SlotID: sl.ID})
			t.OSDs = append(t.OSDs, sl.OSDIDs()...)
		}
		return &plan{
			targets: t,
			confirm: fmt.Sprintf("Заменить узел %s узлом %s?", n.NodeID, newNodeID),
			task:    albaclient.ReplaceNodeTask(n.GUID, newNodeID),
			scope:   ScopeFull,
			nodeID:  n.NodeID,
		}, nil
	})
}

// DeleteNode удаляет узел. Разрешено только если CanDeleteNode.
// После успешного удаления публикуется node:deleted.
func (c *Coordinator) DeleteNode(ctx context.Context, nodeID string) Result {
	return c.run(ctx, operation.KindDeleteNode, func() (*plan, error) {
		n, err := c.nodeTarget(nodeID)
		if err != nil {
			return nil, err
		}
		if !c.store.aggregatesLocked().deletable[n.NodeID] {
			return nil, precondition(ReasonNotDeletable, "узел %s нельзя удалить: есть OSD не в статусе error или available", n.NodeID)
		}
		p := &plan{
			targets: Targets{Nodes: []string{n.NodeID}},
			confirm: fmt.Sprintf("Удалить узел %s?", n.NodeID),
			task:    albaclient.DeleteNodeTask(n.GUID),
			scope:   ScopeRelations,
			nodeID:  n.NodeID,
		}
		p.afterRefresh = func(r *Result) {
			c.bus.Trigger(TopicNodeDeleted, Notification{
				Topic:       TopicNodeDeleted,
				BackendGUID: c.store.BackendGUID(),
				OperationID: r.OperationID,
				NodeID:      nodeID,
				Timestamp:   time.Now().UTC(),
			})
		}
		return p, nil
	})
}

// nodeTarget находит узел и проверяет, что он доступен для записи и свободен.
// Вызывается под блокировкой чтения хранилища.
func (c *Coordinator) nodeTarget(nodeID string) (*model.Node, error) {
	n, ok := c.store.findNodeLocked(nodeID)
	if !ok {
		return nil, precondition(ReasonNotFound, "узел %s не найден", nodeID)
	}
	if n.ReadOnly() {
		return nil, precondition(ReasonReadOnly, "узел %s входит в кластер только для чтения", nodeID)
	}
	if n.Busy() {
		return nil, precondition(ReasonProcessing, "над узлом %s уже выполняется операция", nodeID)
	}
	return n, nil
}

// InitializeSlots создаёт count OSD типа osdType в каждом из пустых слотов.
// Все слоты должны принадлежать одному узлу. Пустой osdType — первый
// поддерживаемый узлом тип.
func (c *Coordinator) InitializeSlots(ctx context.Context, slotIDs []string, count int, osdType string) Result {
	return c.run(ctx, operation.KindInitializeSlots, func() (*plan, error) {
		if len(slotIDs) == 0 || count < 1 {
			return nil, precondition(ReasonInvalidArguments, "нужны слоты и положительное число OSD")
		}
		p := &plan{scope: ScopeStack}
		var node *model.Node
		seen := make(map[string]bool, len(slotIDs))
		for _, id := range slotIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			n, sl, ok := c.store.locateSlotLocked(id)
			if !ok {
				return nil, precondition(ReasonNotFound, "слот %s не найден", id)
			}
			if node == nil {
				node = n
			} else if node != n {
				return nil, precondition(ReasonInvalidArguments, "слоты разных узлов инициализируются отдельно")
			}
			if sl.Processing || n.Processing() {
				return nil, precondition(ReasonProcessing, "над слотом %s уже выполняется операция", id)
			}
			if !sl.CanInitialize() {
				return nil, precondition(ReasonNothingToDo, "слот %s уже содержит OSD", id)
			}
			if !sl.Capabilities.Fill {
				return nil, precondition(ReasonInvalidArguments, "слот %s не поддерживает инициализацию", id)
			}
			p.targets.Slots = append(p.targets.Slots, SlotRef{NodeID: n.NodeID, SlotID: sl.ID})
		}
		if node.ReadOnly() {
			return nil, precondition(ReasonReadOnly, "узел %s входит в кластер только для чтения", node.NodeID)
		}

		types := node.Metadata.SupportedOSDTypes
		if osdType == "" && len(types) > 0 {
			osdType = types[0]
		}
		if osdType == "" {
			return nil, precondition(ReasonInvalidArguments, "не указан тип OSD")
		}
		if len(types) > 0 && !slices.Contains(types, osdType) {
			return nil, precondition(ReasonInvalidArguments, "узел %s не поддерживает тип OSD %s", node.NodeID, osdType)
		}

		fills := make([]albaclient.SlotFill, 0, len(p.targets.Slots))
		for _, ref := range p.targets.Slots {
			fills = append(fills, albaclient.SlotFill{
				SlotID:          ref.SlotID,
				Count:           count,
				OSDType:         osdType,
				AlbaBackendGUID: c.store.BackendGUID(),
			})
		}
		p.nodeID = node.NodeID
		if len(fills) == 1 {
			p.slotID = fills[0].SlotID
		}
		p.task = albaclient.FillSlotsTask(node.GUID, fills)
		p.confirm = fmt.Sprintf("Инициализировать %d слот(ов) узла %s по %d OSD типа %s?", len(fills), node.NodeID, count, osdType)
		return p, nil
	})
}

// GenerateEmptySlot просит узел GENERIC или S3 создать пустой слот.
// Слот хранится как локальная заглушка, пока не появится в снимке.
func (c *Coordinator) GenerateEmptySlot(ctx context.Context, nodeID string) Result {
	return c.run(ctx, operation.KindGenerateEmptySlot, func() (*plan, error) {
		n, ok := c.store.findNodeLocked(nodeID)
		if !ok {
			return nil, precondition(ReasonNotFound, "узел %s не найден", nodeID)
		}
		if !n.Type.SupportsDynamicSlots() {
			return nil, precondition(ReasonInvalidArguments, "узел %s типа %s не создаёт слоты по запросу", nodeID, n.Type)
		}
		if n.ReadOnly() {
			return nil, precondition(ReasonReadOnly, "узел %s входит в кластер только для чтения", nodeID)
		}
		if n.Processing() {
			return nil, precondition(ReasonProcessing, "над узлом %s уже выполняется операция", nodeID)
		}
		p := &plan{
			// Узел блокируется целиком: операции над его слотами и OSD отклоняются до завершения.
			targets: Targets{Nodes: []string{n.NodeID}},
			confirm: fmt.Sprintf("Создать пустой слот на узле %s?", n.NodeID),
			task:    albaclient.GenerateEmptySlotTask(n.GUID),
			scope:   ScopeStack,
			nodeID:  n.NodeID,
		}
		p.afterTask = func(res albaclient.TaskResult, r *Result) error {
			slotID, err := albaclient.GeneratedSlotID(res)
			if err != nil {
				return err
			}
			if err := c.store.AddPlaceholder(nodeID, slotID); err != nil {
				return err
			}
			r.SlotID = slotID
			return nil
		}
		return p, nil
	})
}

// run выполняет шаблон операции. validate вызывается под блокировкой чтения
// хранилища и возвращает *PreconditionError при отказе.
func (c *Coordinator) run(ctx context.Context, kind operation.Kind, validate func() (*plan, error)) (r Result) {
	principal, _ := rbac.FromContext(ctx)
	op := operation.New(kind, principal.Subject)
	log := c.logger.With(
		slog.String("operation_id", op.ID),
		slog.String("kind", string(kind)),
		slog.String("subject", principal.Subject),
	)
	r = Result{OperationID: op.ID, Kind: kind}

	var p *plan
	c.notify(TopicOperationStarted, op, nil, nil)
	defer func() {
		r.State = op.State()
		operationsTotal.WithLabelValues(string(kind), string(r.Outcome)).Inc()
		operationDuration.WithLabelValues(string(kind)).Observe(time.Since(op.StartedAt).Seconds())
		c.notify(TopicOperationFinished, op, p, &r)

		attrs := []any{
			slog.String("outcome", string(r.Outcome)),
			slog.String("state", string(r.State)),
			slog.String("duration", time.Since(op.StartedAt).String()),
		}
		if r.Message != "" {
			attrs = append(attrs, slog.String("message", r.Message))
		}
		switch r.Outcome {
		case operation.OutcomeTaskSubmissionFailed, operation.OutcomeTaskFailed:
			log.Warn("Операция завершилась ошибкой", attrs...)
		default:
			log.Info("Операция завершена", attrs...)
		}
	}()

	c.fire(op, operation.EventValidate, log)

	if !rbac.CanManage(ctx) {
		c.reject(op, &r, precondition(ReasonForbidden, "недостаточно прав для операции %s", kind), log)
		return r
	}

	var err error
	c.store.Read(func() { p, err = validate() })
	if err != nil {
		c.reject(op, &r, err, log)
		return r
	}
	r.Requested = p.requested

	// Пустой слот удаляется без расчёта безопасности.
	if len(p.safetyOSDs) > 0 {
		safety, ok := c.currentSafety(p.safetyOSDs)
		if !ok {
			c.reject(op, &r, precondition(ReasonSafetyUnknown,
				"безопасность удаления ещё не рассчитана, повторите попытку позже"), log)
			return r
		}
		r.Safety = &safety
		p.confirm += fmt.Sprintf(" Останется в норме: %d, станет критичным: %d, будет потеряно: %d.",
			safety.Good, safety.Critical, safety.Lost)
	}

	lease, err := c.store.Acquire(p.targets)
	if err != nil {
		c.reject(op, &r, err, log)
		return r
	}
	defer lease.Release()

	c.fire(op, operation.EventConfirm, log)
	proceed, err := c.confirmFunc(ctx)(ctx, p.confirm)
	if err != nil || !proceed {
		c.fire(op, operation.EventCancel, log)
		r.Outcome = operation.OutcomeCancelled
		r.Message = "операция отменена"
		r.Err = err
		return r
	}

	handle, err := c.tasks.SubmitTask(ctx, p.task)
	if err != nil {
		c.fire(op, operation.EventFail, log)
		r.Outcome = operation.OutcomeTaskSubmissionFailed
		r.Message = err.Error()
		r.Err = err
		return r
	}
	c.fire(op, operation.EventSubmit, log)
	r.TaskID = handle.ID

	res, err := c.tasks.AwaitTask(ctx, handle)
	taskDone := time.Now()
	if err == nil && p.afterTask != nil {
		err = p.afterTask(res, &r)
	}

	// Задача уже на сервере: обновление выполняется даже после отмены ctx.
	c.refresh(context.WithoutCancel(ctx), p.scope, taskDone, log)

	if err != nil {
		c.fire(op, operation.EventFail, log)
		r.Outcome = operation.OutcomeTaskFailed
		r.Message = taskFailureMessage(err)
		r.Err = err
		return r
	}

	r.Outcome = operation.OutcomeCompleted
	if p.afterRefresh != nil {
		p.afterRefresh(&r)
	}
	c.fire(op, operation.EventComplete, log)
	return r
}

func (c *Coordinator) reject(op *operation.Operation, r *Result, err error, log *slog.Logger) {
	c.fire(op, operation.EventReject, log)
	r.Outcome = operation.OutcomePreconditionNotMet
	r.Err = err
	r.Message = err.Error()
	var pe *PreconditionError
	if errors.As(err, &pe) {
		r.Reason = pe.Reason
		r.Message = pe.Message
	}
}

func (c *Coordinator) currentSafety(osdIDs []string) (model.Safety, bool) {
	if c.safety == nil {
		return model.Safety{}, false
	}
	s, ok := c.safety.Current(c.store.BackendGUID(), osdIDs)
	if !ok {
		c.safety.Track(c.store.BackendGUID(), osdIDs)
	}
	return s, ok
}

func (c *Coordinator) confirmFunc(ctx context.Context) ConfirmFunc {
	if fn, ok := ctx.Value(confirmKey{}).(ConfirmFunc); ok && fn != nil {
		return fn
	}
	return Confirmed(true)
}

// refresh загружает снимок, начатый не раньше завершения задачи.
func (c *Coordinator) refresh(ctx context.Context, scope Scope, since time.Time, log *slog.Logger) {
	if _, err := c.store.RefreshSince(ctx, scope, since); err != nil {
		log.Warn("Не удалось обновить топологию после задачи",
			slog.String("scope", string(scope)),
			slog.String("error", err.Error()),
		)
	}
}

// fire выполняет переход автомата. Переходы шаблона всегда допустимы,
// ошибка означает дефект шаблона.
func (c *Coordinator) fire(op *operation.Operation, ev operation.Event, log *slog.Logger) {
	if err := op.Fire(context.Background(), ev); err != nil {
		log.Error("Недопустимый переход операции",
			slog.String("event", string(ev)),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) notify(topic string, op *operation.Operation, p *plan, r *Result) {
	n := Notification{
		Topic:       topic,
		BackendGUID: c.store.BackendGUID(),
		OperationID: op.ID,
		Kind:        op.Kind,
		Subject:     op.Subject,
		Timestamp:   time.Now().UTC(),
	}
	if p != nil {
		n.NodeID, n.SlotID, n.OSDID = p.nodeID, p.slotID, p.osdID
	}
	if r != nil {
		n.Outcome = r.Outcome
		n.Message = r.Message
		if r.SlotID != "" {
			n.SlotID = r.SlotID
		}
	}
	c.bus.Trigger(topic, n)
}

// taskFailureMessage возвращает сообщение сервера для TaskError.
func taskFailureMessage(err error) string {
	var te *albaclient.TaskError
	if errors.As(err, &te) {
		return te.Message
	}
	return err.Error()
}
