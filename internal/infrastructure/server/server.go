package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termlink/internal/controlplane"
	"github.com/GriffinCanCode/termlink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termlink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termlink/internal/mockplane"
	"github.com/GriffinCanCode/termlink/internal/remote"
)

// DefaultShutdownTimeout bounds how long Close waits for open connections
const DefaultShutdownTimeout = 5 * time.Second

// Config configures the local control-plane server
type Config struct {
	// SocketPath, when set, is listened on instead of Addr
	SocketPath string
	Addr       string

	// Shell is the program PTY sessions run; empty uses the scripted shell
	Shell      string
	WorkingDir string
	// Integration makes scripted sessions publish prompts and events
	Integration bool

	Profiles       []string
	DefaultProfile string

	Cookie string
	Key    string

	ShutdownTimeout time.Duration
	Logger          *zap.Logger
	Metrics         *monitoring.Metrics
}

// Server exposes an in-memory control plane over the termlink protocol
type Server struct {
	cfg     Config
	log     *zap.Logger
	metrics *monitoring.Metrics
	plane   *mockplane.Plane
	http    *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new server instance
func NewServer(cfg Config) (*Server, error) {
	if cfg.SocketPath == "" && cfg.Addr == "" {
		return nil, errors.New("server: a socket path or listen address is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	log := logging.OrNop(cfg.Logger)
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}

	var shell mockplane.ShellFactory
	if cfg.Shell != "" {
		shell = mockplane.PTY(mockplane.PTYOptions{
			Shell:      cfg.Shell,
			WorkingDir: cfg.WorkingDir,
			Logger:     log,
		})
	} else {
		opts := mockplane.ScriptedOptions{Integration: cfg.Integration, Cwd: cfg.WorkingDir}
		if cfg.Integration {
			opts.Username, opts.Hostname = "user", "mockplane"
		}
		shell = mockplane.Scripted(opts)
	}

	version := remote.Version{Major: 1, Minor: 0}
	plane := mockplane.New(mockplane.Options{
		Profiles:       cfg.Profiles,
		DefaultProfile: cfg.DefaultProfile,
		Shell:          shell,
		Version:        version,
		Logger:         log,
	})

	handler := controlplane.NewHandler(plane, controlplane.ServerOptions{
		Cookie:            cfg.Cookie,
		Key:               cfg.Key,
		Version:           version,
		MinLibraryVersion: remote.Version{Major: 1, Minor: 0},
		Logger:            log,
		Metrics:           metrics,
	})

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !plane.Live() {
			http.Error(w, "closed", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	log.Info("Control plane initialized",
		zap.String("shell", shellName(cfg.Shell)),
		zap.Strings("profiles", cfg.Profiles))

	return &Server{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		plane:   plane,
		http: &http.Server{
			Handler:           monitoring.Middleware(metrics, mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func shellName(shell string) string {
	if shell == "" {
		return "scripted"
	}
	return shell
}

// Plane returns the in-memory control plane being served
func (s *Server) Plane() *mockplane.Plane { return s.plane }

// Listen binds the socket or address without serving yet
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	if s.cfg.SocketPath == "" {
		ln, err := net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
		}
		s.listener = ln
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if info, err := os.Stat(s.cfg.SocketPath); err == nil && info.Mode()&fs.ModeSocket != 0 {
		_ = os.Remove(s.cfg.SocketPath)
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen unix://%s: %w", s.cfg.SocketPath, err)
	}
	s.listener = ln
	return nil
}

// Endpoint is what clients should dial
func (s *Server) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.cfg.SocketPath != "":
		return "unix://" + s.cfg.SocketPath
	case s.listener != nil:
		return "ws://" + s.listener.Addr().String()
	default:
		return "ws://" + s.cfg.Addr
	}
}

// Run listens if needed and serves until Close
func (s *Server) Run() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	s.log.Info("Starting control plane", zap.String("endpoint", s.Endpoint()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the server and its sessions
func (s *Server) Close() error {
	s.log.Info("Shutting down control plane...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := s.http.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		err = s.http.Close()
	}

	if perr := s.plane.Close(); perr != nil {
		s.log.Error("Failed to close sessions", zap.Error(perr))
	}
	if s.cfg.SocketPath != "" {
		if rerr := os.Remove(s.cfg.SocketPath); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			s.log.Warn("Failed to remove socket", zap.Error(rerr))
		}
	}
	s.log.Info("Control plane stopped", s.metrics.Snapshot().Fields()...)
	return err
}
