// health.go — health endpoints консоли.
// /health/live — процесс жив
// /health/ready — API фреймворка доступен и топология загружена
// /metrics — Prometheus метрики
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/config"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/service"
)

// DependencyHealth — состояние зависимостей (topologymetrics).
type DependencyHealth interface {
	// Health возвращает ключ "dependency:host:port" → true, если зависимость доступна.
	Health() map[string]bool
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	session     *service.Session
	deps        DependencyHealth
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// deps может быть nil — мониторинг зависимостей не запущен.
func NewHealthHandler(session *service.Session, deps DependencyHealth) *HealthHandler {
	return &HealthHandler{
		session:     session,
		deps:        deps,
		promHandler: promhttp.Handler(),
	}
}

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks"`
}

// HealthLive — liveness probe.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "alba-console",
	})
}

// HealthReady — readiness probe. 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "alba-console",
		Checks:    map[string]healthCheckResult{},
	}

	resp.Checks["framework_api"] = h.checkFramework()
	resp.Checks["topology"] = h.checkTopology()

	statuses := make([]string, 0, len(resp.Checks))
	for _, c := range resp.Checks {
		statuses = append(statuses, c.Status)
	}
	resp.Status = overallStatus(statuses...)

	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

func (h *HealthHandler) checkFramework() healthCheckResult {
	if h.deps == nil {
		return healthCheckResult{Status: statusDegraded, Message: "мониторинг зависимостей не запущен"}
	}
	for key, ok := range h.deps.Health() {
		if !strings.HasPrefix(key, service.FrameworkDependency) {
			continue
		}
		if ok {
			return healthCheckResult{Status: statusOK}
		}
		return healthCheckResult{Status: statusFail, Message: "API фреймворка недоступен"}
	}
	return healthCheckResult{Status: statusDegraded, Message: "проверка API фреймворка ещё не выполнялась"}
}

// checkTopology: fail, если сессия закрыта; degraded, пока не все backend-ы загружены.
func (h *HealthHandler) checkTopology() healthCheckResult {
	if h.session == nil {
		return healthCheckResult{Status: statusFail, Message: "сессия не инициализирована"}
	}
	for _, guid := range h.session.BackendGUIDs() {
		store, err := h.session.Store(guid)
		if err != nil {
			return healthCheckResult{Status: statusFail, Message: err.Error()}
		}
		if store.Version() == 0 {
			return healthCheckResult{Status: statusDegraded, Message: "топология backend-а " + guid + " ещё не загружена"}
		}
	}
	return healthCheckResult{Status: statusOK}
}

// overallStatus: fail, если есть fail; degraded, если есть degraded; иначе ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}
