// internal/http/server.go
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/YaganovValera/nodestream/pkg/logger"
)

// ReadyChecker возвращает nil, если сервис готов.
type ReadyChecker func() error

// SessionInfo: снимок состояния активного потребителя для /session.
type SessionInfo struct {
	Session string `json:"session"`
	Group   string `json:"group"`
	Topic   string `json:"topic"`
	Epoch   uint64 `json:"epoch"`
	Retired bool   `json:"retired"`
}

// SessionReporter возвращает текущее состояние; ok == false: потребитель ещё не создан.
type SessionReporter func() (SessionInfo, bool)

// Config задаёт адрес, таймауты и пути служебных эндпоинтов.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MetricsPath     string
	HealthzPath     string
	ReadyzPath      string
	SessionPath     string
}

func (c *Config) applyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.HealthzPath == "" {
		c.HealthzPath = "/healthz"
	}
	if c.ReadyzPath == "" {
		c.ReadyzPath = "/readyz"
	}
	if c.SessionPath == "" {
		c.SessionPath = "/session"
	}
}

// Server обслуживает /metrics, /healthz, /readyz и /session.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	log             *logger.Logger
}

// NewServer собирает chi-роутер со служебными эндпоинтами.
func NewServer(cfg Config, check ReadyChecker, session SessionReporter, log *logger.Logger) (*Server, error) {
	cfg.applyDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("http: Addr is required")
	}
	log = log.Named("http-server")

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      Routes(cfg, check, session, log),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             log,
	}, nil
}

// Routes возвращает обработчик без запуска сервера.
func Routes(cfg Config, check ReadyChecker, session SessionReporter, log *logger.Logger) http.Handler {
	cfg.applyDefaults()
	r := chi.NewRouter()
	r.Use(requestID(log))

	r.Handle(cfg.MetricsPath, promhttp.Handler())
	r.Get(cfg.HealthzPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get(cfg.ReadyzPath, func(w http.ResponseWriter, _ *http.Request) {
		if err := check(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("NOT READY: %v", err)))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})
	r.Get(cfg.SessionPath, func(w http.ResponseWriter, r *http.Request) {
		info, ok := session()
		if !ok {
			http.Error(w, "consumer not started", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(info); err != nil {
			log.WithContext(r.Context()).Warn("http: encode session", zap.Error(err))
		}
	})
	return r
}

// requestID проставляет X-Request-ID и кладёт его в контекст логгера.
func requestID(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)
			ctx := logger.ContextWithRequestID(r.Context(), reqID)
			log.WithContext(ctx).Debug("http: request", zap.String("path", r.URL.Path))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Start запускает ListenAndServe и выполняет graceful shutdown по ctx.Done().
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("http: starting server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http: listen: %w", err)
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.log.Info("http: shutdown signal received")
	case err := <-errCh:
		serveErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("http: graceful shutdown failed", zap.Error(err))
		return err
	}
	s.log.Info("http: server stopped gracefully")
	return serveErr
}
