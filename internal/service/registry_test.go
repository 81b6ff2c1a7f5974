package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/model"
)

type failingLister struct{}

func (failingLister) ListBackends(context.Context) ([]model.BackendRef, error) {
	return nil, errors.New("connection refused")
}

func TestBackendRegistry_Refresh(t *testing.T) {
	api := newFakeAPI()
	api.backends = []model.BackendRef{
		{GUID: "g1", AlbaID: "B1", Name: "backend-1"},
		{GUID: "g2", AlbaID: "B2", Name: "backend-2"},
		{GUID: "g3", Name: "без alba_id"},
	}
	r := NewBackendRegistry(api, time.Minute, testLogger())

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d, хотели 2", r.Len())
	}
	if name, ok := r.Name("B2"); !ok || name != "backend-2" {
		t.Errorf("Name(B2) = %q, %v", name, ok)
	}
	if ref, ok := r.Lookup("B1"); !ok || ref.GUID != "g1" {
		t.Errorf("Lookup(B1) = %+v, %v", ref, ok)
	}
	if _, ok := r.Name("B9"); ok {
		t.Error("неизвестный alba_id найден")
	}

	r.Purge()
	if r.Len() != 0 {
		t.Error("Purge не очистил реестр")
	}
}

func TestBackendRegistry_RefreshErrorKeepsEntries(t *testing.T) {
	r := NewBackendRegistry(failingLister{}, time.Minute, testLogger())
	r.Put(model.BackendRef{GUID: "g1", AlbaID: "B1", Name: "backend-1"})

	if err := r.Refresh(context.Background()); err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if _, ok := r.Name("B1"); !ok {
		t.Error("ошибка обновления удалила записи")
	}
}

func TestBackendRegistry_EntriesExpire(t *testing.T) {
	r := NewBackendRegistry(failingLister{}, 30*time.Millisecond, testLogger())
	r.Put(model.BackendRef{GUID: "g1", AlbaID: "B1", Name: "backend-1"})
	r.Put(model.BackendRef{GUID: "g2", Name: "пропущен"})

	if r.Len() != 1 {
		t.Fatalf("Len = %d, хотели 1", r.Len())
	}
	time.Sleep(80 * time.Millisecond)
	if _, ok := r.Lookup("B1"); ok {
		t.Error("запись не устарела")
	}
}
