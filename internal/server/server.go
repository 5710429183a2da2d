// Package server exposes the conversation engine over HTTP with an SSE
// event feed per conversation.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/safespace/narratives/internal/convo"
	"github.com/safespace/narratives/internal/history"
	"github.com/safespace/narratives/internal/llm"
	"github.com/safespace/narratives/internal/scenario"
)

// Config holds the server's collaborators and listen address.
type Config struct {
	Addr      string
	Client    *llm.Client
	Scenarios *scenario.Registry
	Engine    convo.Config
	Store     *history.Store // nil disables archiving
	Logger    *slog.Logger
}

type Server struct {
	config    Config
	registry  *ConversationRegistry
	scenarios *scenario.Registry
	baseCtx   context.Context
	cancel    context.CancelFunc
	httpSrv   *http.Server
	logger    *slog.Logger

	conversationsStarted metric.Int64Counter
	messagesSubmitted    metric.Int64Counter
	evaluationsCompleted metric.Int64Counter
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    cfg,
		registry:  NewConversationRegistry(),
		scenarios: cfg.Scenarios,
		baseCtx:   ctx,
		cancel:    cancel,
		logger:    cfg.Logger,
	}

	meter := otel.Meter("github.com/safespace/narratives/internal/server")
	s.conversationsStarted, _ = meter.Int64Counter("conversations.started",
		metric.WithDescription("Conversations started"))
	s.messagesSubmitted, _ = meter.Int64Counter("messages.submitted",
		metric.WithDescription("User messages accepted for streaming"))
	s.evaluationsCompleted, _ = meter.Int64Counter("evaluations.completed",
		metric.WithDescription("Evaluations returned to a caller"))

	mux := http.NewServeMux()

	// Go 1.22+ method+pattern routing.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /scenarios", s.handleListScenarios)
	mux.HandleFunc("POST /conversations", s.handleStartConversation)
	mux.HandleFunc("GET /conversations", s.handleListConversations)
	mux.HandleFunc("GET /conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("GET /conversations/{id}/events", s.handleConversationEvents)
	mux.HandleFunc("POST /conversations/{id}/messages", s.handleSubmitMessage)
	mux.HandleFunc("POST /conversations/{id}/cancel", s.handleCancelStream)
	mux.HandleFunc("POST /conversations/{id}/end", s.handleEndConversation)
	mux.HandleFunc("POST /conversations/{id}/evaluate", s.handleEvaluateAgain)
	mux.HandleFunc("GET /history", s.handleListHistory)
	mux.HandleFunc("GET /history/{id}", s.handleGetHistory)

	s.httpSrv = &http.Server{
		Handler:      csrfProtect(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE requires no write timeout
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	return s
}

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		s.logger.Info("shutting down", "signal", sig.String())
		s.Shutdown()
	}()

	s.logger.Info("listening", "addr", s.config.Addr)
	s.httpSrv.Addr = s.config.Addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// csrfProtect rejects cross-origin POST requests. Browsers set the
// Origin header on cross-origin requests, so checking it blocks CSRF
// from remote pages while allowing CLI and same-host callers.
func csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			origin := r.Header.Get("Origin")
			if origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					http.Error(w, `{"error":"invalid Origin header"}`, http.StatusForbidden)
					return
				}
				host := u.Hostname()
				if host != "localhost" && host != "127.0.0.1" && host != "::1" {
					http.Error(w, `{"error":"cross-origin request blocked"}`, http.StatusForbidden)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown gracefully stops the server and closes every conversation.
func (s *Server) Shutdown() {
	s.registry.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)

	s.cancel()
}
