// Package server wires the HTTP dispatcher (spec §6 "HTTP surface"):
// one route per endpoint-bearing dialect transformer, the admin CRUD
// surface, health/root, and a wildcard fallback for anything else.
// Grounded on the teacher's internal/server/server.go for the process
// lifecycle (Start/Stop, graceful shutdown, OS-specific address-in-use
// diagnostics, kept close to verbatim) with setupRoutes rewritten around
// chi and internal/pipeline instead of the teacher's single ProxyHandler,
// and the wildcard/catch-all semantics grounded on
// original_source/pyllms/src/api/routes.py's catch_all (exact-registered
// endpoints are excluded from the wildcard's own prefix scan).
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mihaisavezi/claude-code-open/internal/admin"
	"github.com/mihaisavezi/claude-code-open/internal/apierror"
	"github.com/mihaisavezi/claude-code-open/internal/config"
	"github.com/mihaisavezi/claude-code-open/internal/middleware"
	"github.com/mihaisavezi/claude-code-open/internal/pipeline"
	"github.com/mihaisavezi/claude-code-open/internal/provider"
	"github.com/mihaisavezi/claude-code-open/internal/transformer"
)

// Server owns the process lifecycle and the chi dispatcher.
type Server struct {
	config       *config.Manager
	engine       *pipeline.Engine
	transformers *transformer.Registry
	providers    *provider.Registry
	logger       *slog.Logger
	httpServer   *http.Server
}

// New builds a Server. transformers must already hold every registered
// dialect transformer (openai.New(), anthropic.New(), gemini.New(), ...);
// gemini has no EndPoint() and is therefore never bound to a dispatcher
// route, matching spec §4.7's Open Question 1 resolution.
func New(configManager *config.Manager, engine *pipeline.Engine, transformers *transformer.Registry, providers *provider.Registry, logger *slog.Logger) *Server {
	return &Server{
		config:       configManager,
		engine:       engine,
		transformers: transformers,
		providers:    providers,
		logger:       logger,
	}
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return errors.New("configuration not loaded")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	router := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 30 * time.Second,
	}

	s.logger.Info("starting server", "address", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "error", err)
			if strings.Contains(err.Error(), "address already in use") || strings.Contains(err.Error(), "bind: address already in use") {
				s.handleAddressInUse(addr)
				os.Exit(1)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("server exited")

	return nil
}

func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)

	r.Group(func(pub chi.Router) {
		pub.Use(middlewareSet.HealthChain().Handler)
		pub.Get("/health", s.handleHealth)
		pub.Get("/", s.handleRoot)
	})

	registered := map[string]bool{"/health": true, "/": true}

	r.Group(func(api chi.Router) {
		api.Use(middlewareSet.DefaultChain().Handler)

		for _, t := range s.transformers.WithEndpoint() {
			t := t
			ep := t.EndPoint()
			api.Post(ep, s.handleEndpoint(t))
			registered[ep] = true
		}

		adminRouter := chi.NewRouter()
		adminRouter.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
		admin.New(s.providers).Mount(adminRouter)
		api.Mount("/", adminRouter)
		registered["/providers"] = true

		api.NotFound(s.handleWildcard(registered))
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok"}`)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"service":"claude-code-open"}`)
}

// handleEndpoint adapts one dialect transformer's HTTP binding into a
// pipeline.Engine.Handle call, mapping pipeline errors onto the spec §7
// error envelope and streaming the provider response back unbuffered.
func (s *Server) handleEndpoint(t transformer.EndpointTransformer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readAll(r)
		if err != nil {
			apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidRequest, "failed to read request body")
			return
		}

		resp, err := s.engine.Handle(r.Context(), t, body)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		defer resp.Body.Close()

		copyResponse(w, resp)
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrNoProvider):
		apierror.Write(w, http.StatusNotFound, apierror.CodeRouteNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		apierror.Write(w, http.StatusGatewayTimeout, apierror.CodeProviderTimeout, err.Error())
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			apierror.Write(w, http.StatusGatewayTimeout, apierror.CodeProviderTimeout, err.Error())
			return
		}
		apierror.Write(w, http.StatusBadGateway, apierror.CodeProviderConnectionErr, err.Error())
	}
}

// handleWildcard implements the catch_all fallback: an exact match on an
// already-registered endpoint never reaches here (chi resolves it first).
// Any other path is scanned against the endpoint-bearing transformers and
// handed to the pipeline handler of the first whose EndPoint is a prefix
// of it; a path no EndPoint prefixes is a 404.
func (s *Server) handleWildcard(registered map[string]bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if registered[r.URL.Path] {
			apierror.Write(w, http.StatusNotFound, apierror.CodeRouteNotFound, "route not found")
			return
		}
		for _, t := range s.transformers.WithEndpoint() {
			if strings.HasPrefix(r.URL.Path, t.EndPoint()) {
				s.handleEndpoint(t)(w, r)
				return
			}
		}
		apierror.Write(w, http.StatusNotFound, apierror.CodeRouteNotFound, fmt.Sprintf("no route registered for %s", r.URL.Path))
	}
}

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// copyResponse streams resp back to w without buffering the whole body,
// preserving SSE framing for streaming completions.
func copyResponse(w http.ResponseWriter, resp *http.Response) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

// handleAddressInUse attempts to find and display the PID using the
// specified address. Kept from the teacher nearly verbatim: OS process
// inspection has no connection to the pipeline/provider rework above.
func (s *Server) handleAddressInUse(addr string) {
	s.logger.Error("address already in use", "address", addr)

	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		s.logger.Error("failed to parse address", "address", addr, "error", err)
		return
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		s.logger.Error("invalid port number", "port", portStr, "error", err)
		return
	}

	pid := s.findProcessUsingPort(port)
	if pid > 0 {
		processInfo := s.getProcessInfo(pid)
		s.logger.Error("port is being used by another process",
			"port", port,
			"pid", pid,
			"process", processInfo)
	} else {
		s.logger.Error("could not determine which process is using the port", "port", port)
	}
}

func (s *Server) findProcessUsingPort(port int) int {
	switch runtime.GOOS {
	case "linux", "darwin":
		return s.findProcessUsingPortUnix(port)
	case "windows":
		return s.findProcessUsingPortWindows(port)
	default:
		s.logger.Warn("unsupported OS for port detection", "os", runtime.GOOS)
		return 0
	}
}

func (s *Server) findProcessUsingPortUnix(port int) int {
	if pid := s.tryNetstat(port); pid > 0 {
		return pid
	}
	if pid := s.tryLsof(port); pid > 0 {
		return pid
	}
	if pid := s.trySS(port); pid > 0 {
		return pid
	}
	return 0
}

func (s *Server) tryNetstat(port int) int {
	cmd := exec.Command("netstat", "-tlnp")

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	lines := strings.Split(string(output), "\n")
	portPattern := fmt.Sprintf(":%d ", port)

	for _, line := range lines {
		if strings.Contains(line, portPattern) && strings.Contains(line, "LISTEN") {
			parts := strings.Fields(line)
			if len(parts) >= 7 {
				pidProgram := parts[6]
				if pidStr := strings.Split(pidProgram, "/")[0]; pidStr != "-" {
					if pid, err := strconv.Atoi(pidStr); err == nil {
						return pid
					}
				}
			}
		}
	}

	return 0
}

func (s *Server) tryLsof(port int) int {
	if port < 1 || port > 65535 {
		return 0
	}
	cmd := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", port))

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	pidStr := strings.TrimSpace(string(output))
	if pidStr != "" {
		if pid, err := strconv.Atoi(pidStr); err == nil {
			return pid
		}
	}

	return 0
}

func (s *Server) trySS(port int) int {
	cmd := exec.Command("ss", "-tlnp")

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	lines := strings.Split(string(output), "\n")
	portPattern := fmt.Sprintf(":%d ", port)

	for _, line := range lines {
		if strings.Contains(line, portPattern) && strings.Contains(line, "LISTEN") {
			if idx := strings.Index(line, "pid="); idx != -1 {
				pidPart := line[idx+4:]
				if commaIdx := strings.Index(pidPart, ","); commaIdx != -1 {
					pidStr := pidPart[:commaIdx]
					if pid, err := strconv.Atoi(pidStr); err == nil {
						return pid
					}
				}
			}
		}
	}

	return 0
}

func (s *Server) findProcessUsingPortWindows(port int) int {
	cmd := exec.Command("netstat", "-ano")

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	lines := strings.Split(string(output), "\n")
	portPattern := fmt.Sprintf(":%d ", port)

	for _, line := range lines {
		if strings.Contains(line, portPattern) && strings.Contains(line, "LISTENING") {
			parts := strings.Fields(line)
			if len(parts) >= 5 {
				pidStr := parts[4]
				if pid, err := strconv.Atoi(pidStr); err == nil {
					return pid
				}
			}
		}
	}

	return 0
}

func (s *Server) getProcessInfo(pid int) string {
	switch runtime.GOOS {
	case "linux", "darwin":
		return s.getProcessInfoUnix(pid)
	case "windows":
		return s.getProcessInfoWindows(pid)
	default:
		return fmt.Sprintf("PID %d", pid)
	}
}

func (s *Server) getProcessInfoUnix(pid int) string {
	if pid < 1 || pid > 4194304 {
		return fmt.Sprintf("PID %d (invalid)", pid)
	}
	cmd := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "comm=")

	output, err := cmd.Output()
	if err == nil {
		processName := strings.TrimSpace(string(output))
		if processName != "" {
			return fmt.Sprintf("%s (PID: %d)", processName, pid)
		}
	}

	return fmt.Sprintf("PID: %d", pid)
}

func (s *Server) getProcessInfoWindows(pid int) string {
	cmd := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH")

	output, err := cmd.Output()
	if err == nil {
		lines := strings.Split(string(output), "\n")
		if len(lines) > 0 && lines[0] != "" {
			parts := strings.Split(lines[0], ",")
			if len(parts) >= 1 {
				processName := strings.Trim(parts[0], "\"")
				return fmt.Sprintf("%s (PID: %d)", processName, pid)
			}
		}
	}

	return fmt.Sprintf("PID: %d", pid)
}
