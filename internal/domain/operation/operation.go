// Пакет operation — жизненный цикл одной мутирующей операции над топологией.
//
// Каждый запуск операции — новый экземпляр автомата:
//
//	idle → validating → (rejected | confirming) → (cancelled | submitted) → (failed | completed)
//
// Конечные состояния: rejected, cancelled, failed, completed. В idle вернуться нельзя.
// Ошибка отправки задачи переводит операцию из confirming сразу в failed.
package operation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

// State — состояние операции.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateRejected   State = "rejected"
	StateConfirming State = "confirming"
	StateCancelled  State = "cancelled"
	StateSubmitted  State = "submitted"
	StateFailed     State = "failed"
	StateCompleted  State = "completed"
)

// Event — событие автомата.
type Event string

const (
	EventValidate Event = "validate"
	EventReject   Event = "reject"
	EventConfirm  Event = "confirm"
	EventCancel   Event = "cancel"
	EventSubmit   Event = "submit"
	EventFail     Event = "fail"
	EventComplete Event = "complete"
)

// Kind — вид операции.
type Kind string

const (
	KindClaimOSDs         Kind = "claim_osds"
	KindRemoveOSD         Kind = "remove_osd"
	KindRemoveSlot        Kind = "remove_slot"
	KindRestartOSD        Kind = "restart_osd"
	KindReplaceNode       Kind = "replace_node"
	KindDeleteNode        Kind = "delete_node"
	KindInitializeSlots   Kind = "initialize_slots"
	KindGenerateEmptySlot Kind = "generate_empty_slot"
)

// terminalStates — состояния, из которых переходов нет.
var terminalStates = map[State]bool{
	StateRejected:  true,
	StateCancelled: true,
	StateFailed:    true,
	StateCompleted: true,
}

// events — матрица переходов.
var events = fsm.Events{
	{Name: string(EventValidate), Src: []string{string(StateIdle)}, Dst: string(StateValidating)},
	{Name: string(EventReject), Src: []string{string(StateValidating)}, Dst: string(StateRejected)},
	{Name: string(EventConfirm), Src: []string{string(StateValidating)}, Dst: string(StateConfirming)},
	{Name: string(EventCancel), Src: []string{string(StateConfirming)}, Dst: string(StateCancelled)},
	{Name: string(EventSubmit), Src: []string{string(StateConfirming)}, Dst: string(StateSubmitted)},
	{Name: string(EventFail), Src: []string{string(StateConfirming), string(StateSubmitted)}, Dst: string(StateFailed)},
	{Name: string(EventComplete), Src: []string{string(StateSubmitted)}, Dst: string(StateCompleted)},
}

// TransitionRecord — запись о переходе.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Event     Event     `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// TransitionError — недопустимый переход.
type TransitionError struct {
	Code    string
	Message string
}

func (e *TransitionError) Error() string {
	return e.Message
}

// Operation — экземпляр операции.
type Operation struct {
	// ID — UUID запуска
	ID string
	// Kind — вид операции
	Kind Kind
	// Subject — кто инициировал (sub из JWT)
	Subject string
	// StartedAt — время создания
	StartedAt time.Time

	machine *fsm.FSM

	mu      sync.Mutex
	history []TransitionRecord
}

// New создаёт операцию в состоянии idle.
func New(kind Kind, subject string) *Operation {
	op := &Operation{
		ID:        uuid.New().String(),
		Kind:      kind,
		Subject:   subject,
		StartedAt: time.Now().UTC(),
	}
	op.machine = fsm.NewFSM(
		string(StateIdle),
		events,
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				op.record(e)
			},
		},
	)
	return op
}

func (o *Operation) record(e *fsm.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history, TransitionRecord{
		From:      State(e.Src),
		To:        State(e.Dst),
		Event:     Event(e.Event),
		Timestamp: time.Now().UTC(),
	})
}

// State возвращает текущее состояние.
func (o *Operation) State() State {
	return State(o.machine.Current())
}

// Can проверяет, допустимо ли событие в текущем состоянии.
func (o *Operation) Can(event Event) bool {
	return o.machine.Can(string(event))
}

// Terminal — операция завершена.
func (o *Operation) Terminal() bool {
	return terminalStates[o.State()]
}

// Fire выполняет переход по событию.
//
// Ошибки:
//   - INVALID_TRANSITION — событие недопустимо в текущем состоянии
func (o *Operation) Fire(ctx context.Context, event Event) error {
	from := o.State()
	if err := o.machine.Event(ctx, string(event)); err != nil {
		var invalid fsm.InvalidEventError
		if errors.As(err, &invalid) || !o.Can(event) {
			return &TransitionError{
				Code:    "INVALID_TRANSITION",
				Message: fmt.Sprintf("событие %s недопустимо в состоянии %s", event, from),
			}
		}
		return fmt.Errorf("переход %s по событию %s: %w", from, event, err)
	}
	return nil
}

// History возвращает копию истории переходов.
func (o *Operation) History() []TransitionRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]TransitionRecord, len(o.history))
	copy(out, o.history)
	return out
}
