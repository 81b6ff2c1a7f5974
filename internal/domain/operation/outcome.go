package operation

// Outcome — типизированный итог операции.
type Outcome string

const (
	// OutcomeCompleted — задача выполнена полностью
	OutcomeCompleted Outcome = "completed"
	// OutcomePartialSuccess — задача выполнена, но сервер сделал меньше, чем просили
	OutcomePartialSuccess Outcome = "partial_success"
	// OutcomePreconditionNotMet — проверка не пройдена, сервер не вызывался
	OutcomePreconditionNotMet Outcome = "precondition_not_met"
	// OutcomeCancelled — пользователь не подтвердил операцию
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeTaskSubmissionFailed — задачу не удалось отправить
	OutcomeTaskSubmissionFailed Outcome = "task_submission_failed"
	// OutcomeTaskFailed — задача завершилась ошибкой на сервере
	OutcomeTaskFailed Outcome = "task_failed"
)

// outcomeStates — конечное состояние автомата для каждого итога.
var outcomeStates = map[Outcome]State{
	OutcomeCompleted:            StateCompleted,
	OutcomePartialSuccess:       StateCompleted,
	OutcomePreconditionNotMet:   StateRejected,
	OutcomeCancelled:            StateCancelled,
	OutcomeTaskSubmissionFailed: StateFailed,
	OutcomeTaskFailed:           StateFailed,
}

// TerminalState возвращает конечное состояние, соответствующее итогу.
func (o Outcome) TerminalState() State {
	return outcomeStates[o]
}

// Succeeded — сервер выполнил задачу (полностью или частично).
func (o Outcome) Succeeded() bool {
	return o == OutcomeCompleted || o == OutcomePartialSuccess
}
