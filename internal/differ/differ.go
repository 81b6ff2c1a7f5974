// Пакет differ — сверка упорядоченной коллекции сущностей с новым снимком сервера.
//
// Reconcile сохраняет идентичность объектов: сущность, чей идентификатор присутствует
// в снимке, обновляется на месте, поэтому локальное состояние UI (processing, expanded)
// переживает каждое обновление. Новые идентификаторы создаются и добавляются в конец,
// исчезнувшие удаляются (если политика Retain не просит их оставить).
package differ

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// ErrDuplicateID — снимок содержит два элемента с одинаковым идентификатором.
var ErrDuplicateID = errors.New("дублирующийся идентификатор в снимке")

// Rules описывает, как идентифицировать, создавать и обновлять сущности.
type Rules[E any, R any, ID comparable] struct {
	// Identify возвращает идентификатор сырой записи снимка.
	Identify func(R) ID
	// IdentifyExisting возвращает идентификатор существующей сущности.
	IdentifyExisting func(E) ID
	// Create создаёт сущность для впервые увиденного идентификатора.
	Create func(R) E
	// Update обновляет существующую сущность на месте.
	Update func(E, R)
	// Retain — политика для сущностей, отсутствующих в снимке.
	// true оставляет сущность в коллекции (например, пока над ней идёт операция).
	// nil — всегда удалять.
	Retain func(E) bool
}

// Result — итог сверки.
type Result[E any] struct {
	// Items — новая упорядоченная коллекция
	Items []E
	// Added — создано сущностей
	Added int
	// Updated — обновлено на месте
	Updated int
	// Removed — удалено (идентификатор исчез из снимка)
	Removed int
	// Retained — отсутствуют в снимке, но оставлены политикой Retain
	Retained int
}

// Changed возвращает true, если состав коллекции изменился.
func (r Result[E]) Changed() bool {
	return r.Added > 0 || r.Removed > 0
}

// Reconcile сверяет existing с incoming.
//
// Порядок результата стабилен: сохранённые сущности идут в прежнем порядке,
// новые добавляются в конец в порядке incoming. При дубликате идентификатора
// в incoming возвращается ErrDuplicateID, а existing не изменяется — проверка
// выполняется до первого вызова Create/Update.
func Reconcile[E any, R any, ID comparable](existing []E, incoming []R, rules Rules[E, R, ID]) (Result[E], error) {
	byID := make(map[ID]R, len(incoming))
	order := make([]ID, 0, len(incoming))
	for _, rec := range incoming {
		id := rules.Identify(rec)
		if _, dup := byID[id]; dup {
			return Result[E]{Items: existing}, fmt.Errorf("%w: %v", ErrDuplicateID, id)
		}
		byID[id] = rec
		order = append(order, id)
	}

	res := Result[E]{Items: make([]E, 0, max(len(existing), len(incoming)))}
	seen := make(map[ID]bool, len(existing))

	for _, entity := range existing {
		id := rules.IdentifyExisting(entity)
		if seen[id] {
			// Дубликат в текущей коллекции — оставляем только первый экземпляр
			res.Removed++
			continue
		}
		seen[id] = true

		if rec, ok := byID[id]; ok {
			rules.Update(entity, rec)
			res.Items = append(res.Items, entity)
			res.Updated++
			continue
		}

		if rules.Retain != nil && rules.Retain(entity) {
			res.Items = append(res.Items, entity)
			res.Retained++
			continue
		}
		res.Removed++
	}

	for _, id := range order {
		if seen[id] {
			continue
		}
		res.Items = append(res.Items, rules.Create(byID[id]))
		res.Added++
	}

	return res, nil
}

// SortStable упорядочивает коллекцию вторичным компаратором.
// Равные элементы сохраняют порядок, полученный после Reconcile.
func SortStable[E any](items []E, compare func(a, b E) int) {
	slices.SortStableFunc(items, compare)
}

// SortedKeys возвращает ключи map в возрастающем порядке.
// Используется для превращения вложенных map снимка в упорядоченный incoming.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
