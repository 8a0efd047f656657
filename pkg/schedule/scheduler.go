// Package schedule starts stored flow definitions on cron schedules.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/cadenzr/cadenza/pkg/models"
)

// FlowStarter is the engine surface the scheduler needs.
type FlowStarter interface {
	StartFlow(ctx context.Context, tenantID string, def *models.FlowDefinition) (string, error)
}

// Entry binds a cron expression to a tenant's flow definition.
type Entry struct {
	Name       string                 `json:"name"`
	TenantID   string                 `json:"tenant_id"`
	CronExpr   string                 `json:"cron"`
	Enabled    bool                   `json:"enabled"`
	Definition *models.FlowDefinition `json:"definition"`
}

type Scheduler struct {
	logger  *slog.Logger
	starter FlowStarter
	entries []Entry

	cron *cron.Cron
	jobs map[string]cron.EntryID
	mu   sync.Mutex
}

func NewScheduler(logger *slog.Logger, starter FlowStarter) *Scheduler {
	return &Scheduler{
		logger:  logger.With("module", "scheduler"),
		starter: starter,
		jobs:    make(map[string]cron.EntryID),
	}
}

// Configure validates and stores the schedule entries. It replaces any
// previously configured set.
func (s *Scheduler) Configure(entries []Entry) error {
	for _, entry := range entries {
		if entry.Name == "" {
			return errors.New("schedule entry name is required")
		}

		if entry.TenantID == "" {
			return fmt.Errorf("tenant id required for schedule entry %s", entry.Name)
		}

		if entry.Definition == nil {
			return fmt.Errorf("flow definition required for schedule entry %s", entry.Name)
		}

		if _, err := cron.ParseStandard(entry.CronExpr); err != nil {
			return fmt.Errorf("invalid cron expression '%s' for entry %s: %w", entry.CronExpr, entry.Name, err)
		}
	}

	s.entries = entries

	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting scheduler", "entries_count", len(s.entries))

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	for _, entry := range s.entries {
		if err := s.startEntry(ctx, entry); err != nil {
			s.logger.ErrorContext(ctx, "Failed to start schedule entry", "entry", entry.Name, "error", err)

			return err
		}
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started successfully")

	return nil
}

func (s *Scheduler) startEntry(ctx context.Context, entry Entry) error {
	logger := s.logger.With("entry", entry.Name, "tenant_id", entry.TenantID)

	if !entry.Enabled {
		logger.InfoContext(ctx, "Schedule entry is disabled, skipping")

		return nil
	}

	logger.InfoContext(ctx, "Starting schedule entry", "cron", entry.CronExpr)

	entryID, err := s.cron.AddFunc(entry.CronExpr, func() {
		s.fire(ctx, entry)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job for entry %s: %w", entry.Name, err)
	}

	s.mu.Lock()
	s.jobs[entry.Name] = entryID
	s.mu.Unlock()

	return nil
}

func (s *Scheduler) fire(ctx context.Context, entry Entry) {
	logger := s.logger.With("entry", entry.Name, "tenant_id", entry.TenantID)

	flowID, err := s.starter.StartFlow(ctx, entry.TenantID, entry.Definition)
	if err != nil {
		logger.ErrorContext(ctx, "Scheduled flow start failed", "error", err)

		return
	}

	logger.InfoContext(ctx, "Scheduled flow started", "flow_id", flowID)
}

func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	s.logger.Info("Scheduler stopped")
}
