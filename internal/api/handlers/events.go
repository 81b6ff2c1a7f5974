// events.go — SSE-поток уведомлений шины событий.
// Формат: event: <topic>\ndata: {json}\n\n. Между событиями раз в
// sseInterval отправляется комментарий-heartbeat.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/eventbus"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/service"
)

// streamTopics — темы, которые транслируются клиентам.
var streamTopics = []string{
	service.TopicOperationStarted,
	service.TopicOperationFinished,
	service.TopicNodeDeleted,
	service.TopicTopologyRefreshed,
}

// streamBuffer — сколько уведомлений ждут отправки медленному клиенту.
const streamBuffer = 64

// StreamEvents — GET /api/v1/events[?backend_guid=...].
func (h *APIHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	backendFilter := r.URL.Query().Get("backend_guid")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	// Поток живёт дольше таймаута записи сервера
	_ = rc.SetWriteDeadline(time.Time{})
	if err := rc.Flush(); err != nil {
		http.Error(w, "SSE не поддерживается", http.StatusInternalServerError)
		return
	}

	bus := h.session.Bus()
	scope := eventbus.NewScope("sse")
	defer bus.DisposeScope(scope)

	events := make(chan service.Notification, streamBuffer)
	for _, topic := range streamTopics {
		bus.Subscribe(topic, scope, func(payload any) {
			n, ok := payload.(service.Notification)
			if !ok || (backendFilter != "" && n.BackendGUID != backendFilter) {
				return
			}
			select {
			case events <- n:
			default:
				h.logger.Warn("Клиент SSE не успевает читать, уведомление пропущено",
					slog.String("topic", n.Topic),
				)
			}
		})
	}

	ctx := r.Context()
	h.logger.Debug("SSE клиент подключён", slog.String("remote_addr", r.RemoteAddr))

	ticker := time.NewTicker(h.sseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE клиент отключён", slog.String("remote_addr", r.RemoteAddr))
			return
		case n := <-events:
			data, err := json.Marshal(n)
			if err != nil {
				h.logger.Error("Ошибка сериализации уведомления", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Topic, data); err != nil {
				return
			}
			_ = rc.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		}
	}
}
