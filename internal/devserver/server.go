// Package devserver собирает HTTP сервер, реализующий контракт, который
// потребляет клиентский SDK: auth endpoints, профиль пользователя и
// websocket канал событий. Предназначен для локальной разработки и
// интеграционных тестов.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/apikit/internal/devserver/handlers"
	"github.com/iudanet/apikit/internal/devserver/jwt"
	"github.com/iudanet/apikit/internal/devserver/middleware"
	"github.com/iudanet/apikit/internal/devserver/storage"
)

// Config задает параметры сервера
type Config struct {
	Logger *slog.Logger

	Addr    string // например ":8080"
	Secret  string // секрет подписи JWT
	Version string

	AccessTTL  time.Duration // default 15m
	RefreshTTL time.Duration // default 720h

	RateLimit       int           // запросов на окно, default 100
	RateLimitWindow time.Duration // default 1m
}

// Server владеет HTTP сервером и его зависимостями
type Server struct {
	log    *slog.Logger
	http   *http.Server
	events *handlers.EventsHandler
}

// New собирает сервер поверх готовых хранилищ
func New(cfg Config, users storage.UserStore, tokens storage.TokenStore) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 720 * time.Hour
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 100
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = time.Minute
	}

	jwtCfg := jwt.Config{
		Secret:     []byte(cfg.Secret),
		Issuer:     "apikit-dev",
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}

	auth := handlers.NewAuthHandler(cfg.Logger, users, tokens, jwtCfg)
	profile := handlers.NewProfileHandler(cfg.Logger, users)
	health := handlers.NewHealthHandler(cfg.Logger, cfg.Version)
	events := handlers.NewEventsHandler(cfg.Logger, cfg.Version)

	requireAuth := middleware.Auth(cfg.Logger, jwtCfg)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/signup", auth.Signup)
	mux.HandleFunc("POST /auth/login", auth.Login)
	mux.HandleFunc("POST /auth/token", auth.Grant)
	mux.HandleFunc("POST /auth/logout", auth.Logout)
	mux.Handle("GET /users/me", requireAuth(http.HandlerFunc(profile.Me)))
	mux.HandleFunc("GET /events", events.Handle)
	mux.HandleFunc("GET /health", health.Health)

	// Цепочка: recovery снаружи, затем логирование, затем rate limit
	var handler http.Handler = mux
	handler = middleware.RateLimit(cfg.RateLimit, cfg.RateLimitWindow, cfg.Logger)(handler)
	handler = middleware.LoggingWithSkip(cfg.Logger, []string{"/health"})(handler)
	handler = middleware.Recovery(cfg.Logger)(handler)

	return &Server{
		log: cfg.Logger,
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		events: events,
	}
}

// Events возвращает обработчик websocket событий для рассылки
func (s *Server) Events() *handlers.EventsHandler {
	return s.events
}

// Run запускает сервер и блокируется до его остановки
func (s *Server) Run() error {
	s.log.Info("dev server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown останавливает сервер, дожидаясь активных запросов
func (s *Server) Shutdown(ctx context.Context) error {
	s.events.Close()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}
