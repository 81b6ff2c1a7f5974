// Точка входа консоли топологии ALBA.
// Загружает конфигурацию, создаёт клиент API фреймворка, сессию с хранилищами
// топологии и координаторами операций, запускает циклы опроса,
// мониторинг зависимостей и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/albaclient"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/api/handlers"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/api/middleware"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/config"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/server"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Консоль ALBA запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.Int("backends", len(cfg.BackendGUIDs)),
	)

	if os.Getenv("AC_DEPHEALTH_GROUP") == "" {
		logger.Warn("AC_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Клиент API фреймворка
	apiClient, err := albaclient.New(albaclient.Options{
		BaseURL:          cfg.APIURL,
		CACertPath:       cfg.APICACertPath,
		Timeout:          cfg.APITimeout,
		TokenProvider:    albaclient.StaticToken(cfg.APIToken),
		TaskPollInterval: cfg.TaskPollInterval,
		TaskMaxWait:      cfg.TaskMaxWait,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента API", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Сессия: хранилища топологии, координаторы, монитор безопасности, реестр backend-ов
	session, err := service.NewSession(apiClient, service.SessionConfig{
		BackendGUIDs:    cfg.BackendGUIDs,
		RefreshInterval: cfg.RefreshInterval,
		SafetyInterval:  cfg.SafetyInterval,
		RegistryTTL:     cfg.RegistryTTL,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания сессии", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session.Start(ctx)

	// 5. topologymetrics — мониторинг API фреймворка
	var deps handlers.DependencyHealth
	dephealthSvc, err := service.NewDephealthService(
		"alba-console",
		cfg.DephealthGroup,
		cfg.APIURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		deps = dephealthSvc
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 6. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTOptions{
		JWKSURL:         cfg.JWTJWKSURL,
		Issuer:          cfg.JWTIssuer,
		ManageGroups:    cfg.RoleManageGroups,
		ReadGroups:      cfg.RoleReadGroups,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		Leeway:          cfg.JWTLeeway,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 7. HTTP-сервер
	healthHandler := handlers.NewHealthHandler(session, deps)
	apiHandler := handlers.NewAPIHandler(session, cfg.SSEInterval, logger)
	srv := server.New(cfg, logger, healthHandler, apiHandler, jwtAuth.Middleware())

	runErr := srv.Run(ctx)

	// 8. Остановка фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	session.Close()
	cancel()

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("Консоль ALBA остановлена")
}
