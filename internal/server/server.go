package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"tabletop-server/internal/imaging"
	"tabletop-server/internal/storage"
	"tabletop-server/internal/tabletop"
)

const maintenanceInterval = 30 * time.Second

type Server struct {
	cfg         Config
	logger      *slog.Logger
	sessions    *tabletop.Store
	connections *ConnectionManager
	persistence *PersistenceManager
	rateLimiter *RateLimiter
	health      *ConnectionHealth
	images      imaging.Options
	newID       func() string

	stop     context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewServer wires the session store, registry and persistence around store
// and starts the background tasks. Call Shutdown to stop them.
func NewServer(cfg Config, store storage.Store, logger *slog.Logger) (*Server, *http.Server) {
	sessions := tabletop.NewStore()
	ctx, stop := context.WithCancel(context.Background())

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		sessions:    sessions,
		connections: NewConnectionManager(),
		persistence: NewPersistenceManager(store, sessions, logger),
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		health:      NewConnectionHealth(),
		images:      imaging.Options{MaxWidth: cfg.ImageMaxWidth, Quality: cfg.ImageQuality, MaxPixels: cfg.ImageMaxPixels},
		newID:       func() string { return uuid.New().String() },
		stop:        stop,
	}

	s.wg.Add(1)
	go s.maintenanceTask(ctx)
	if cfg.AutosaveInterval > 0 {
		s.wg.Add(1)
		go s.autosaveTask(ctx, cfg.AutosaveInterval)
	}

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.RegisterRoutes(),
		IdleTimeout: time.Minute,
		ReadTimeout: 10 * time.Second,
	}
	return s, httpServer
}

// Sessions exposes the live session store.
func (s *Server) Sessions() *tabletop.Store { return s.sessions }

// Restore loads stored snapshots into memory. Call before serving.
func (s *Server) Restore(ctx context.Context) error {
	n, err := s.persistence.RestoreAll(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("restored sessions", slog.Int("count", n))
	return nil
}

// Shutdown stops background tasks, optionally saves every session, tells
// connected clients and closes the storage backend.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.stop()
		s.wg.Wait()

		if s.cfg.SaveOnShutdown {
			n, saveErr := s.persistence.SaveAll(ctx)
			if saveErr != nil {
				s.logger.Error("save on shutdown incomplete", slog.String("error", saveErr.Error()))
			}
			s.logger.Info("saved sessions on shutdown", slog.Int("count", n))
		}

		for _, c := range s.connections.Clients() {
			s.send(c, "server_shutdown", ServerShutdown{Message: "Server is shutting down"})
			c.CloseAfterFlush(websocket.StatusGoingAway, "server shutting down")
		}

		err = s.persistence.Close()
	})
	return err
}

// maintenanceTask reaps idle connections and prunes rate limiter state.
func (s *Server) maintenanceTask(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapIdle()
			s.rateLimiter.Cleanup()
		}
	}
}

// reapIdle closes connections that sent nothing for IdleTimeout. Clients that
// only watch must send ping as a heartbeat.
func (s *Server) reapIdle() {
	if s.cfg.IdleTimeout <= 0 {
		return
	}
	for _, id := range s.health.GetInactiveConnections(s.cfg.IdleTimeout) {
		// A frame may have arrived since the scan.
		if !s.health.IsInactive(id, s.cfg.IdleTimeout) {
			continue
		}
		s.health.RemoveConnection(id)
		if c := s.connections.Client(id); c != nil {
			s.logger.Info("closing idle connection", slog.String("conn", id))
			c.Close(websocket.StatusPolicyViolation, "idle timeout")
		}
	}
}

// autosaveTask stores sessions changed since their last snapshot.
func (s *Server) autosaveTask(ctx context.Context, every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.persistence.SaveChanged(ctx)
			if err != nil {
				s.logger.Error("autosave failed", slog.String("error", err.Error()))
			}
			if n > 0 {
				s.logger.Info("autosave completed", slog.Int("sessions", n))
			}
		}
	}
}
