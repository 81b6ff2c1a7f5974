package differ

import (
	"errors"
	"strings"
	"testing"
)

// item — тестовая сущность с локальным флагом, который не приходит из снимка.
type item struct {
	id         string
	value      int
	processing bool
}

// record — тестовая сырая запись снимка.
type record struct {
	id    string
	value int
}

func testRules(created *int) Rules[*item, record, string] {
	return Rules[*item, record, string]{
		Identify:         func(r record) string { return r.id },
		IdentifyExisting: func(e *item) string { return e.id },
		Create: func(r record) *item {
			*created++
			return &item{id: r.id, value: r.value}
		},
		Update: func(e *item, r record) { e.value = r.value },
		Retain: func(e *item) bool { return e.processing },
	}
}

func ids(items []*item) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, it.id)
	}
	return strings.Join(parts, ",")
}

func TestReconcile_IdentityPreserved(t *testing.T) {
	var created int
	a := &item{id: "a", value: 1}
	b := &item{id: "b", value: 2}

	res, err := Reconcile([]*item{a, b}, []record{{"a", 10}, {"b", 20}}, testRules(&created))
	if err != nil {
		t.Fatalf("Reconcile вернул ошибку: %v", err)
	}

	if res.Items[0] != a || res.Items[1] != b {
		t.Fatal("ожидались те же указатели для сохранённых сущностей")
	}
	if a.value != 10 || b.value != 20 {
		t.Errorf("поля не обновлены: a=%d b=%d", a.value, b.value)
	}
	if created != 0 {
		t.Errorf("Create вызван %d раз, ожидалось 0", created)
	}
	if res.Updated != 2 || res.Added != 0 || res.Removed != 0 {
		t.Errorf("неверные счётчики: %+v", res)
	}
	if res.Changed() {
		t.Error("Changed() = true, состав коллекции не менялся")
	}
}

func TestReconcile_ProcessingSurvivesUpdate(t *testing.T) {
	var created int
	a := &item{id: "a", value: 1, processing: true}

	res, err := Reconcile([]*item{a}, []record{{"a", 5}}, testRules(&created))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Items[0].processing {
		t.Error("processing сброшен обновлением")
	}
}

func TestReconcile_DropAndRetain(t *testing.T) {
	var created int
	a := &item{id: "a"}
	b := &item{id: "b", processing: true}
	c := &item{id: "c"}

	res, err := Reconcile([]*item{a, b, c}, []record{{"c", 3}}, testRules(&created))
	if err != nil {
		t.Fatal(err)
	}

	if got := ids(res.Items); got != "b,c" {
		t.Errorf("состав = %q, ожидается b,c", got)
	}
	if res.Removed != 1 || res.Retained != 1 {
		t.Errorf("Removed=%d Retained=%d, ожидается 1 и 1", res.Removed, res.Retained)
	}
}

func TestReconcile_NilRetainDropsEverything(t *testing.T) {
	var created int
	rules := testRules(&created)
	rules.Retain = nil

	res, err := Reconcile([]*item{{id: "a", processing: true}}, nil, rules)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 0 {
		t.Errorf("ожидалась пустая коллекция, получено %q", ids(res.Items))
	}
}

func TestReconcile_StableOrderNewAppended(t *testing.T) {
	var created int
	existing := []*item{{id: "z"}, {id: "m"}}

	res, err := Reconcile(existing, []record{{"b", 0}, {"m", 0}, {"a", 0}, {"z", 0}}, testRules(&created))
	if err != nil {
		t.Fatal(err)
	}

	if got := ids(res.Items); got != "z,m,b,a" {
		t.Errorf("порядок = %q, ожидается z,m,b,a", got)
	}
	if created != 2 {
		t.Errorf("Create вызван %d раз, ожидалось 2", created)
	}
}

func TestReconcile_DuplicateIncomingRejected(t *testing.T) {
	var created int
	a := &item{id: "a", value: 1}

	res, err := Reconcile([]*item{a}, []record{{"a", 2}, {"b", 0}, {"b", 1}}, testRules(&created))
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("ожидалась ErrDuplicateID, получено %v", err)
	}
	if a.value != 1 {
		t.Error("existing изменён несмотря на ошибку")
	}
	if created != 0 {
		t.Error("Create вызван несмотря на ошибку")
	}
	if len(res.Items) != 1 || res.Items[0] != a {
		t.Error("при ошибке должна вернуться исходная коллекция")
	}
}

func TestReconcile_ResultHasUniqueIDs(t *testing.T) {
	var created int
	dup := []*item{{id: "a"}, {id: "a"}, {id: "b"}}

	res, err := Reconcile(dup, []record{{"a", 1}, {"b", 1}, {"c", 1}}, testRules(&created))
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]bool)
	for _, it := range res.Items {
		if seen[it.id] {
			t.Fatalf("идентификатор %q встречается дважды", it.id)
		}
		seen[it.id] = true
	}
	if got := ids(res.Items); got != "a,b,c" {
		t.Errorf("состав = %q, ожидается a,b,c", got)
	}
}

func TestSortStable(t *testing.T) {
	items := []*item{{id: "x", value: 2}, {id: "y", value: 1}, {id: "z", value: 2}}
	SortStable(items, func(a, b *item) int { return a.value - b.value })

	if got := ids(items); got != "y,x,z" {
		t.Errorf("порядок = %q, ожидается y,x,z", got)
	}
}

func TestSortedKeys(t *testing.T) {
	keys := SortedKeys(map[string]int{"b": 1, "a": 2, "c": 3})
	if strings.Join(keys, "") != "abc" {
		t.Errorf("ключи = %v, ожидается [a b c]", keys)
	}
}
