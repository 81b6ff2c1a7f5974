// Пакет albaclient — HTTP-клиент REST API фреймворка ALBA.
// Поддерживает TLS с кастомным CA (AC_API_CA_CERT_PATH) и Bearer-токен.
//
// Операции:
//   - снимки топологии: узлы backend-а (со stack или без), кластеры узлов, backend, список backend-ов;
//   - задачи: SubmitTask возвращает идентификатор асинхронной задачи,
//     AwaitTask опрашивает tasks/{id}/ с экспоненциальной задержкой до готовности;
//   - calculate_safety поверх SubmitTask/AwaitTask.
package albaclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/model"
)

// Ошибки клиента.
var (
	// ErrUnexpectedStatus — сервер ответил статусом, отличным от 2xx
	ErrUnexpectedStatus = errors.New("неожиданный статус ответа")
	// ErrTaskNotReady — задача ещё выполняется
	ErrTaskNotReady = errors.New("задача ещё не завершена")
	// ErrTaskFailed — задача завершилась ошибкой
	ErrTaskFailed = errors.New("задача завершилась ошибкой")
)

// TaskError — задача завершилась на сервере с ошибкой.
type TaskError struct {
	TaskID  string
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("задача %s: %s", e.TaskID, e.Message)
}

// Unwrap позволяет сравнивать с ErrTaskFailed через errors.Is.
func (e *TaskError) Unwrap() error {
	return ErrTaskFailed
}

// TokenProvider — функция, возвращающая токен для авторизации запросов к API.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken возвращает TokenProvider с постоянным токеном.
// Пустой токен отключает заголовок Authorization.
func StaticToken(token string) TokenProvider {
	if token == "" {
		return nil
	}
	return func(context.Context) (string, error) { return token, nil }
}

// Options — параметры клиента.
type Options struct {
	// BaseURL — адрес API, например https://ovs.example.com/api
	BaseURL string
	// CACertPath — путь к CA-сертификату (пустая строка — системный пул)
	CACertPath string
	// Timeout — таймаут одного HTTP-запроса
	Timeout time.Duration
	// TokenProvider — источник Bearer-токена (может быть nil)
	TokenProvider TokenProvider
	// TaskPollInterval — начальный интервал опроса задачи
	TaskPollInterval time.Duration
	// TaskMaxWait — максимальное время ожидания задачи (0 — без ограничения)
	TaskMaxWait time.Duration
}

// TaskRequest — запрос на запуск асинхронной задачи.
type TaskRequest struct {
	// Method — HTTP-метод (по умолчанию POST)
	Method string
	// Path — путь относительно BaseURL, например alba/nodes/{guid}/fill_slots
	Path string
	// Query — параметры строки запроса
	Query url.Values
	// Payload — тело запроса (сериализуется в JSON)
	Payload any
}

// TaskHandle — идентификатор запущенной задачи.
type TaskHandle struct {
	ID string
}

// TaskResult — результат успешно завершённой задачи.
type TaskResult struct {
	TaskID string
	// Result — сырой результат задачи (может быть null)
	Result json.RawMessage
}

// taskStatus — ответ tasks/{id}/.
type taskStatus struct {
	Ready      bool            `json:"ready"`
	Successful bool            `json:"successful"`
	Result     json.RawMessage `json:"result"`
}

// listResponse — обёртка списков API.
type listResponse[T any] struct {
	Data []T `json:"data"`
}

// Client — HTTP-клиент API фреймворка.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	tokenProvider TokenProvider
	pollInterval  time.Duration
	maxWait       time.Duration
	logger        *slog.Logger
}

// New создаёт клиент API.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	if opts.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(opts.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата API: %w", err)
		}
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
		logger.Info("CA-сертификат API добавлен в пул доверия",
			slog.String("ca_cert", opts.CACertPath),
		)
	}

	pollInterval := opts.TaskPollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	return &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		httpClient:    httpClient,
		tokenProvider: opts.TokenProvider,
		pollInterval:  pollInterval,
		maxWait:       opts.TaskMaxWait,
		logger:        logger.With(slog.String("component", "alba_client")),
	}, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{RootCAs: caCertPool}, nil
}

// BaseURL возвращает адрес API.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchNodes запрашивает узлы backend-а.
// contents — набор полей (например stack, node_metadata, _relations).
func (c *Client) FetchNodes(ctx context.Context, backendGUID string, contents []string) ([]model.NodeRecord, error) {
	query := url.Values{}
	query.Set("contents", strings.Join(contents, ","))
	query.Set("discover", "false")

	var resp listResponse[model.NodeRecord]
	if err := c.getJSON(ctx, "alba/backends/"+backendGUID+"/nodes/", query, &resp); err != nil {
		return nil, fmt.Errorf("запрос узлов backend %s: %w", backendGUID, err)
	}
	return resp.Data, nil
}

// FetchClusters запрашивает кластеры узлов.
func (c *Client) FetchClusters(ctx context.Context) ([]model.ClusterRecord, error) {
	query := url.Values{}
	query.Set("contents", "_relations,read_only,supported_osd_types")

	var resp listResponse[model.ClusterRecord]
	if err := c.getJSON(ctx, "alba/nodeclusters/", query, &resp); err != nil {
		return nil, fmt.Errorf("запрос кластеров узлов: %w", err)
	}
	return resp.Data, nil
}

// FetchBackend запрашивает backend с пресетами и использованием.
func (c *Client) FetchBackend(ctx context.Context, backendGUID string) (*model.BackendRecord, error) {
	query := url.Values{}
	query.Set("contents", "name,alba_id,scaling,presets,usages")

	var rec model.BackendRecord
	if err := c.getJSON(ctx, "alba/backends/"+backendGUID+"/", query, &rec); err != nil {
		return nil, fmt.Errorf("запрос backend %s: %w", backendGUID, err)
	}
	return &rec, nil
}

// ListBackends запрашивает краткий список всех backend-ов.
func (c *Client) ListBackends(ctx context.Context) ([]model.BackendRef, error) {
	query := url.Values{}
	query.Set("contents", "name,alba_id")

	var resp listResponse[model.BackendRef]
	if err := c.getJSON(ctx, "alba/backends/", query, &resp); err != nil {
		return nil, fmt.Errorf("запрос списка backend-ов: %w", err)
	}
	return resp.Data, nil
}

// SubmitTask запускает асинхронную задачу. Ответ API — JSON-строка с id задачи.
func (c *Client) SubmitTask(ctx context.Context, tr TaskRequest) (TaskHandle, error) {
	method := tr.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader = http.NoBody
	if tr.Payload != nil {
		data, err := json.Marshal(tr.Payload)
		if err != nil {
			return TaskHandle{}, fmt.Errorf("сериализация параметров задачи %s: %w", tr.Path, err)
		}
		body = bytes.NewReader(data)
	}

	var taskID string
	if err := c.doJSON(ctx, method, tr.Path, tr.Query, body, &taskID); err != nil {
		return TaskHandle{}, fmt.Errorf("запуск задачи %s: %w", tr.Path, err)
	}
	if taskID == "" {
		return TaskHandle{}, fmt.Errorf("запуск задачи %s: пустой идентификатор задачи", tr.Path)
	}

	c.logger.Debug("Задача запущена",
		slog.String("path", tr.Path),
		slog.String("task_id", taskID),
	)
	return TaskHandle{ID: taskID}, nil
}

// AwaitTask ждёт завершения задачи, опрашивая tasks/{id}/.
// Ошибка задачи возвращается как *TaskError без повторов.
// Отмена ctx прекращает ожидание, но не задачу на сервере.
func (c *Client) AwaitTask(ctx context.Context, h TaskHandle) (TaskResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInterval
	b.MaxInterval = 10 * c.pollInterval
	b.MaxElapsedTime = c.maxWait

	result, err := backoff.RetryWithData(func() (TaskResult, error) {
		var status taskStatus
		if err := c.getJSON(ctx, "tasks/"+h.ID+"/", nil, &status); err != nil {
			if errors.Is(err, ErrUnexpectedStatus) {
				return TaskResult{}, backoff.Permanent(err)
			}
			return TaskResult{}, err
		}
		if !status.Ready {
			return TaskResult{}, ErrTaskNotReady
		}
		if !status.Successful {
			return TaskResult{}, backoff.Permanent(&TaskError{
				TaskID:  h.ID,
				Message: taskErrorMessage(status.Result),
			})
		}
		return TaskResult{TaskID: h.ID, Result: status.Result}, nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return TaskResult{}, fmt.Errorf("ожидание задачи %s: %w", h.ID, err)
	}
	return result, nil
}

// taskErrorMessage извлекает текст ошибки: строка или объект с полем message.
func taskErrorMessage(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil && text != "" {
		return text
	}
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
	}
	if len(raw) == 0 {
		return "неизвестная ошибка"
	}
	return string(raw)
}

// CalculateSafety запускает расчёт безопасности удаления OSD и ждёт результат.
func (c *Client) CalculateSafety(ctx context.Context, backendGUID string, osdIDs []string) (model.Safety, error) {
	query := url.Values{}
	query.Set("asd_id", strings.Join(osdIDs, ","))

	h, err := c.SubmitTask(ctx, TaskRequest{
		Method: http.MethodGet,
		Path:   "alba/backends/" + backendGUID + "/calculate_safety/",
		Query:  query,
	})
	if err != nil {
		return model.Safety{}, err
	}
	res, err := c.AwaitTask(ctx, h)
	if err != nil {
		return model.Safety{}, err
	}

	var safety model.Safety
	if err := json.Unmarshal(res.Result, &safety); err != nil {
		return model.Safety{}, fmt.Errorf("декодирование результата calculate_safety: %w", err)
	}
	safety.ComputedAt = time.Now().UTC()
	return safety, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, query, http.NoBody, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body io.Reader, out any) error {
	reqURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("создание запроса %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.tokenProvider != nil {
		token, err := c.tokenProvider(ctx)
		if err != nil {
			return fmt.Errorf("получение токена API: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("запрос %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s %s вернул %d: %s",
			ErrUnexpectedStatus, method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа %s %s: %w", method, path, err)
	}
	return nil
}
