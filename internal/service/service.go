package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mxschmitt/pg-datasource/internal/config"
	"github.com/mxschmitt/pg-datasource/internal/database"
	"github.com/mxschmitt/pg-datasource/internal/datasource"
	"github.com/mxschmitt/pg-datasource/internal/metadata"
	"github.com/mxschmitt/pg-datasource/internal/retention"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var ErrProbeRunning = errors.New("probe is already running")

type Service struct {
	config     *config.Config
	logger     *zap.Logger
	dataSource *datasource.DataSource
	db         *database.Database
	baseDir    string
	cron       *cron.Cron
	probeMu    sync.Mutex
}

func New(ctx context.Context, cfg *config.Config, ds *datasource.DataSource, logger *zap.Logger) (*Service, error) {
	db, err := database.New(ds)
	if err != nil {
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	// Ensure base directory exists
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	// A flag left behind by a crashed process would block every probe.
	if err := metadata.WriteProbeStatus(cfg.StateDir, &metadata.ProbeStatus{Running: false}); err != nil {
		return nil, fmt.Errorf("failed to reset probe status: %w", err)
	}

	if err := db.Open(ctx); err != nil {
		return nil, err
	}

	logger.Info("Configured database",
		zap.String("host", db.Host),
		zap.Uint16("port", db.Port),
		zap.String("database", db.Name),
		zap.Duration("connect_timeout", db.ConnectTimeout),
		zap.Duration("socket_timeout", db.SocketTimeout))

	s := &Service{
		config:     cfg,
		logger:     logger,
		dataSource: ds,
		db:         db,
		baseDir:    cfg.StateDir,
	}

	// Setup scheduler
	if err := s.setupScheduler(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup scheduler: %w", err)
	}

	return s, nil
}

func (s *Service) setupScheduler() error {
	cronExpr := strings.TrimSpace(s.config.ProbeCron)
	if cronExpr == "" || strings.EqualFold(cronExpr, "off") {
		s.logger.Info("Scheduled probes disabled")
		return nil
	}

	// robfig/cron/v3 expects 5 fields; drop a leading seconds field.
	parts := strings.Fields(cronExpr)
	if len(parts) == 6 {
		cronExpr = strings.Join(parts[1:], " ")
	}

	loc, err := time.LoadLocation(s.config.TZ)
	if err != nil {
		s.logger.Warn("Invalid timezone, using UTC", zap.String("tz", s.config.TZ), zap.Error(err))
		loc = time.UTC
	}

	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc(cronExpr, func() {
		if _, err := s.RunProbe(context.Background()); err != nil {
			s.logger.Warn("Scheduled probe skipped", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	c.Start()
	s.cron = c

	s.logger.Info("Scheduled connectivity probes",
		zap.String("cron", cronExpr),
		zap.String("timezone", loc.String()))

	return nil
}

// RunProbe pings the database and records the outcome. A failed ping is a
// failed probe, not an error; the error return is reserved for probes that
// could not run at all.
func (s *Service) RunProbe(ctx context.Context) (*metadata.ProbeResult, error) {
	if !s.probeMu.TryLock() {
		return nil, ErrProbeRunning
	}
	defer s.probeMu.Unlock()

	if err := metadata.WriteProbeStatus(s.baseDir, &metadata.ProbeStatus{Running: true}); err != nil {
		s.logger.Warn("Failed to write probe status", zap.Error(err))
	}
	defer func() {
		_ = metadata.WriteProbeStatus(s.baseDir, &metadata.ProbeStatus{Running: false})
	}()

	startedAt := time.Now()
	result := &metadata.ProbeResult{
		ProbeID:   fmt.Sprintf("probe-%s", startedAt.Format("20060102-150405")),
		StartedAt: startedAt.Format(time.RFC3339),
		Status:    "failed",
		Database:  s.db.Name,
	}

	s.logger.Debug("Starting probe", zap.String("probe_id", result.ProbeID))

	if err := s.db.Ping(ctx); err != nil {
		result.Error = err.Error()
	} else {
		result.Status = "success"
		version, err := s.db.ServerVersion(ctx)
		if err != nil {
			s.logger.Warn("Failed to detect PostgreSQL version", zap.Error(err))
		}
		result.ServerVersion = version
	}

	finishedAt := time.Now()
	result.FinishedAt = finishedAt.Format(time.RFC3339)
	result.DurationMs = finishedAt.Sub(startedAt).Milliseconds()

	if err := metadata.WriteLastProbe(s.baseDir, result); err != nil {
		s.logger.Warn("Failed to write last probe", zap.Error(err))
	}
	if err := metadata.AppendProbeHistory(s.baseDir, result, startedAt); err != nil {
		s.logger.Warn("Failed to write probe history", zap.Error(err))
	}
	s.pruneHistory(finishedAt)

	if result.Status == "success" {
		s.logger.Info("Probe completed",
			zap.String("probe_id", result.ProbeID),
			zap.String("server_version", result.ServerVersion),
			zap.Int64("duration_ms", result.DurationMs))
	} else {
		s.logger.Error("Probe failed",
			zap.String("probe_id", result.ProbeID),
			zap.String("error", result.Error),
			zap.Int64("duration_ms", result.DurationMs))
	}

	return result, nil
}

func (s *Service) pruneHistory(now time.Time) {
	deleted, err := retention.CleanupProbeHistory(s.baseDir, s.config.ProbeRetentionDays, now)
	if err != nil {
		s.logger.Warn("Failed to prune probe history", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("Pruned probe history",
			zap.Int("days_deleted", deleted),
			zap.Int("retention_days", s.config.ProbeRetentionDays))
	}
}

func (s *Service) GetLastProbe() (*metadata.ProbeResult, error) {
	return metadata.ReadLastProbe(s.baseDir)
}

func (s *Service) GetRunning() (bool, error) {
	status, err := metadata.ReadProbeStatus(s.baseDir)
	if err != nil {
		return false, err
	}
	return status.Running, nil
}

// Ping checks connectivity without recording a probe.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Service) DataSource() *datasource.DataSource {
	return s.dataSource
}

func (s *Service) Database() *database.Database {
	return s.db
}

func (s *Service) Shutdown(ctx context.Context) error {
	defer s.db.Close()
	if s.cron != nil {
		cronCtx := s.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
