package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики сервисного слоя.
var (
	refreshDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ac_topology_refresh_duration_seconds",
		Help:    "Длительность обновления топологии backend-а",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 0.05s … ~25s
	}, []string{"backend", "scope"})

	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ac_topology_refresh_total",
		Help: "Количество обновлений топологии",
	}, []string{"backend", "scope", "result"}) // result: ok, error

	topologyChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ac_topology_changes_total",
		Help: "Изменения состава топологии при сверке",
	}, []string{"backend", "entity", "change"}) // change: added, removed, retained

	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ac_operations_total",
		Help: "Количество операций по виду и итогу",
	}, []string{"kind", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ac_operation_duration_seconds",
		Help:    "Длительность операций над топологией",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"kind"})

	registryEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ac_backend_registry_entries",
		Help: "Количество backend-ов в реестре сессии",
	})

	safetyChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ac_safety_checks_total",
		Help: "Количество расчётов безопасности удаления",
	}, []string{"result"})
)
