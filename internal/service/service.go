// Package service wires the profiler's data plane, destination
// fan-out, run registry, telemetry, and control API into a single
// daemon lifecycle with an explicit Initialize/Start/Stop sequence.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/causalprof/profilomatic/internal/controlapi"
	"github.com/causalprof/profilomatic/internal/destination"
	"github.com/causalprof/profilomatic/internal/repository"
	"github.com/causalprof/profilomatic/pkg/config"
	"github.com/causalprof/profilomatic/pkg/profiler"
	"github.com/causalprof/profilomatic/pkg/telemetry"
	"github.com/causalprof/profilomatic/pkg/utils"
)

// Service is the main application daemon.
type Service struct {
	config *config.Config
	logger utils.Logger

	db             *repository.Repositories
	fanout         *destination.Fanout
	prof           *profiler.Profiler
	control        *controlapi.Server
	telemetryClose telemetry.ShutdownFunc
	runID          int64
	hasRun         bool

	running bool
}

// New creates a new Service instance.
func New(cfg *config.Config, logger utils.Logger) (*Service, error) {
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}

	return &Service{
		config: cfg,
		logger: logger,
	}, nil
}

// Initialize initializes all service components.
func (s *Service) Initialize(ctx context.Context) error {
	s.logger.Info("Initializing service components...")

	shutdown, err := telemetry.Init(ctx)
	if err != nil {
		s.logger.Warn("telemetry init failed, continuing without tracing: %v", err)
		shutdown = func(context.Context) error { return nil }
	}
	s.telemetryClose = shutdown

	if err := s.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := s.initFanout(); err != nil {
		return fmt.Errorf("failed to initialize destinations: %w", err)
	}

	if err := s.initProfiler(); err != nil {
		return fmt.Errorf("failed to initialize profiler: %w", err)
	}

	s.initControlAPI()

	s.logger.Info("Service components initialized successfully")
	return nil
}

// initDatabase initializes the run registry database connection.
func (s *Service) initDatabase() error {
	s.logger.Info("Connecting to run registry database (%s)...", s.config.Database.Type)

	dbConfig := &repository.DBConfig{
		Type:     s.config.Database.Type,
		Host:     s.config.Database.Host,
		Port:     s.config.Database.Port,
		Database: s.config.Database.Database,
		User:     s.config.Database.User,
		Password: s.config.Database.Password,
		MaxConns: s.config.Database.MaxConns,
	}

	gormDB, err := repository.NewGormDB(dbConfig)
	if err != nil {
		return err
	}

	s.db = repository.NewRepositories(gormDB)
	s.logger.Info("Run registry database connection established")

	return nil
}

// initFanout builds the destination fan-out and adds each sink the
// configuration enables.
func (s *Service) initFanout() error {
	s.logger.Info("Initializing destination fan-out...")

	fanout := destination.NewFanout(s.logger)
	dests := s.config.Destinations

	if dests.File.Enabled {
		sink, err := destination.NewFile(destination.FileConfig{
			Dir:       dests.File.Path,
			Compress:  dests.File.Compress,
			NoFlush:   dests.File.NoFlush,
			MaxSizeMB: dests.File.MaxSizeMB,
		})
		if err != nil {
			return fmt.Errorf("file destination: %w", err)
		}
		fanout.AddDestination(sink)
	}

	if dests.Socket.Enabled {
		fanout.AddDestination(destination.NewSocket(destination.SocketConfig{
			Address:  dests.Socket.Address,
			Compress: dests.Socket.Compress,
		}))
	}

	if dests.WebSocket.Enabled {
		ws := destination.NewWebSocket(dests.WebSocket.Address, s.logger)
		go func() {
			if err := ws.ListenAndServe(); err != nil {
				s.logger.Error("websocket destination stopped: %v", err)
			}
		}()
		fanout.AddDestination(ws)
	}

	if dests.OTel.Enabled {
		fanout.AddDestination(destination.NewOTel(s.config.Profiler.SourceName))
	}

	if dests.COS.Enabled {
		sink, err := destination.NewCOS(destination.COSConfig{
			Bucket:    dests.COS.Bucket,
			Region:    dests.COS.Region,
			SecretID:  dests.COS.SecretID,
			SecretKey: dests.COS.SecretKey,
			Domain:    dests.COS.Domain,
			Scheme:    dests.COS.Scheme,
			KeyPrefix: dests.COS.KeyPrefix,
			Compress:  dests.COS.Compress,
		})
		if err != nil {
			return fmt.Errorf("cos destination: %w", err)
		}
		fanout.AddDestination(sink)
	}

	s.fanout = fanout
	s.logger.Info("Initialized %d destination(s)", fanout.Len())
	return nil
}

// initProfiler configures and starts the process-wide profiler.
func (s *Service) initProfiler() error {
	s.logger.Info("Configuring profiler...")

	pc := s.config.Profiler
	cfg := profiler.Config{
		SourceName:                pc.SourceName,
		SimultaneousTasksProfiled: pc.SimultaneousTasksProfiled,
		MaxOverhead:               pc.MaxOverhead,
		TimeGranularity:           pc.TimeGranularity,
		CodeGranularity:           pc.CodeGranularity,
		StoreAllLogs:              pc.StoreAllLogs,
		MaxActionsPerRun:          pc.MaxActionsPerRun,
		ElidedPrefixes:            pc.ElidedPrefixes,
		SelfProfile:               pc.SelfProfile,
	}

	p, err := profiler.Configure(cfg, s.logger, nil, s.fanout)
	if err != nil {
		return err
	}
	s.prof = p

	if s.db != nil {
		id, err := s.db.Runs.CreateRun(context.Background(), pc.SourceName)
		if err != nil {
			s.logger.Error("failed to create run record: %v", err)
		} else {
			s.runID = id
			s.hasRun = true
		}
	}

	s.logger.Info("Profiler configured")
	return nil
}

// initControlAPI builds (but does not start) the control API server.
func (s *Service) initControlAPI() {
	if !s.config.ControlAPI.Enabled {
		return
	}
	var runs repository.RunRepository
	if s.db != nil {
		runs = s.db.Runs
	}
	s.control = controlapi.New(s.config.ControlAPI.Address, s.prof, runs, s.logger)
}

// Start starts the service.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting service...")

	if s.control != nil {
		go func() {
			if err := s.control.ListenAndServe(); err != nil {
				s.logger.Error("control API stopped: %v", err)
			}
		}()
	}

	s.running = true
	s.logger.Info("Service started successfully")

	return nil
}

// Stop stops the service gracefully.
func (s *Service) Stop() error {
	s.logger.Info("Stopping service...")

	if s.hasRun && s.db != nil {
		stats := s.prof.Stats()
		ctx := context.Background()
		_ = s.db.Runs.UpdateCounters(ctx, s.runID, repository.RunCounters{
			DroppedCount:     stats.Dropped,
			MalformedCount:   stats.Malformed,
			CapExceededCount: stats.CapExceeded,
		})
		if err := s.db.Runs.FinishRun(ctx, s.runID); err != nil {
			s.logger.Error("failed to finish run record: %v", err)
		}
	}

	if s.control != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.control.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shut down control API: %v", err)
		}
	}

	if s.prof != nil {
		if err := s.prof.Stop(); err != nil {
			s.logger.Error("failed to stop profiler: %v", err)
		}
	}

	if s.fanout != nil {
		if err := s.fanout.Close(); err != nil {
			s.logger.Error("failed to close destination fan-out: %v", err)
		}
	}

	if s.telemetryClose != nil {
		if err := s.telemetryClose(context.Background()); err != nil {
			s.logger.Error("failed to shut down telemetry: %v", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection: %v", err)
		}
	}

	s.running = false
	s.logger.Info("Service stopped")

	return nil
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running
}

// Stats returns service statistics.
func (s *Service) Stats() ServiceStats {
	stats := ServiceStats{
		Running: s.running,
	}

	if s.prof != nil {
		stats.Profiler = s.prof.Stats()
	}

	return stats
}

// HealthCheck performs a health check on the service.
func (s *Service) HealthCheck(ctx context.Context) error {
	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database health check failed: %w", err)
		}
	}
	return nil
}

// ServiceStats holds service statistics.
type ServiceStats struct {
	Running  bool           `json:"running"`
	Profiler profiler.Stats `json:"profiler"`
}
