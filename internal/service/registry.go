// registry.go — реестр backend-ов для отображения чужих claim.
//
// OSD, забранный другим backend-ом, несёт только alba_id владельца.
// BackendRegistry сопоставляет alba_id с именем и guid. Реестр принадлежит
// сессии, записи устаревают через ttl и обновляются из ListBackends.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/model"
)

const registryCacheSize = 1024

// BackendLister — источник списка backend-ов.
type BackendLister interface {
	ListBackends(ctx context.Context) ([]model.BackendRef, error)
}

// BackendRegistry — alba_id → backend.
type BackendRegistry struct {
	lister BackendLister
	cache  *expirable.LRU[string, model.BackendRef]
	logger *slog.Logger
}

// NewBackendRegistry создаёт пустой реестр.
func NewBackendRegistry(lister BackendLister, ttl time.Duration, logger *slog.Logger) *BackendRegistry {
	return &BackendRegistry{
		lister: lister,
		cache:  expirable.NewLRU[string, model.BackendRef](registryCacheSize, nil, ttl),
		logger: logger.With(slog.String("component", "backend_registry")),
	}
}

// Refresh перечитывает список backend-ов.
// При ошибке прежние записи остаются до истечения ttl.
func (r *BackendRegistry) Refresh(ctx context.Context) error {
	refs, err := r.lister.ListBackends(ctx)
	if err != nil {
		return fmt.Errorf("получение списка backend-ов: %w", err)
	}
	for _, ref := range refs {
		if ref.AlbaID == "" {
			continue
		}
		r.cache.Add(ref.AlbaID, ref)
	}
	registryEntries.Set(float64(r.cache.Len()))
	r.logger.Debug("Реестр backend-ов обновлён", slog.Int("backends", len(refs)))
	return nil
}

// Put добавляет или обновляет запись.
func (r *BackendRegistry) Put(ref model.BackendRef) {
	if ref.AlbaID == "" {
		return
	}
	r.cache.Add(ref.AlbaID, ref)
	registryEntries.Set(float64(r.cache.Len()))
}

// Lookup возвращает backend по alba_id.
func (r *BackendRegistry) Lookup(albaID string) (model.BackendRef, bool) {
	return r.cache.Get(albaID)
}

// Name возвращает имя backend-а по alba_id.
func (r *BackendRegistry) Name(albaID string) (string, bool) {
	ref, ok := r.cache.Get(albaID)
	if !ok || ref.Name == "" {
		return "", false
	}
	return ref.Name, true
}

// Len возвращает число записей.
func (r *BackendRegistry) Len() int {
	return r.cache.Len()
}

// Purge очищает реестр.
func (r *BackendRegistry) Purge() {
	r.cache.Purge()
	registryEntries.Set(0)
}
