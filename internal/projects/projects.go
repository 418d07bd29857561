// Package projects answers questions that span the registry and the
// per-workspace databases: listing with statistics, project info, renaming
// and registry-wide retention sweeps.
package projects

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/taskmem/internal/apperr"
	"github.com/HendryAvila/taskmem/internal/registry"
	"github.com/HendryAvila/taskmem/internal/tracker"
)

// MaxNameLen bounds a friendly project name.
const MaxNameLen = 100

// DefaultWorkers bounds concurrent database inspections.
const DefaultWorkers = 4

// Registry is the subset of the project registry used here.
type Registry interface {
	Touch(ctx context.Context, workspacePath string) (registry.Project, error)
	SetName(ctx context.Context, workspacePath, name string) (registry.Project, error)
	List(ctx context.Context, limit, offset int) ([]registry.Project, int, error)
	All(ctx context.Context) ([]registry.Project, error)
}

// Inspector opens project databases without registering the access.
type Inspector interface {
	DBPath(workspacePath string) string
	Inspect(ctx context.Context, workspacePath string, fn func(*sqlx.Tx) error) (bool, error)
	InspectWrite(ctx context.Context, workspacePath string, fn func(*sqlx.Tx) error) (bool, error)
}

// Info is a registry record joined with what its database holds.
type Info struct {
	registry.Project
	Name       string         `json:"name"`
	DBPath     string         `json:"db_path"`
	DBExists   bool           `json:"db_exists"`
	Stats      *tracker.Stats `json:"stats,omitempty"`
	StatsError string         `json:"stats_error,omitempty"`
}

// CleanupOutcome is the result of a retention sweep on one project.
type CleanupOutcome struct {
	ProjectID     string                 `json:"project_id"`
	WorkspacePath string                 `json:"workspace_path"`
	DBExists      bool                   `json:"db_exists"`
	Result        *tracker.CleanupResult `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// Service implements the project operations.
type Service struct {
	registry Registry
	router   Inspector
	workers  int
	logger   *slog.Logger
}

// NewService creates a Service. workers <= 0 means DefaultWorkers.
func NewService(reg Registry, router Inspector, workers int, logger *slog.Logger) *Service {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{registry: reg, router: router, workers: workers, logger: logger}
}

func (s *Service) info(p registry.Project) Info {
	return Info{Project: p, Name: p.Name(), DBPath: s.router.DBPath(p.WorkspacePath)}
}

// List returns one page of registered projects, most recently accessed
// first. With includeStats every project database on the page is inspected
// concurrently; a failing or missing database is reported on its row.
func (s *Service) List(ctx context.Context, limit, offset int, includeStats bool) ([]Info, int, error) {
	projects, total, err := s.registry.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	items := make([]Info, len(projects))
	for i, p := range projects {
		items[i] = s.info(p)
	}
	if !includeStats {
		return items, total, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range items {
		g.Go(func() error {
			s.collect(gctx, &items[i])
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

func (s *Service) collect(ctx context.Context, info *Info) {
	var st tracker.Stats
	exists, err := s.router.Inspect(ctx, info.WorkspacePath, func(tx *sqlx.Tx) error {
		var err error
		st, err = tracker.CollectStats(ctx, tx)
		return err
	})
	info.DBExists = exists
	if err != nil {
		s.logger.Warn("project stats failed", "project_id", info.ID, "workspace", info.WorkspacePath, "error", err)
		info.StatsError = apperr.ToPayload(err).Message
		return
	}
	if exists {
		info.Stats = &st
	}
}

// Info returns the record for workspacePath, registering it if needed, with
// its database statistics.
func (s *Service) Info(ctx context.Context, workspacePath string) (Info, error) {
	p, err := s.registry.Touch(ctx, workspacePath)
	if err != nil {
		return Info{}, err
	}
	info := s.info(p)
	s.collect(ctx, &info)
	return info, nil
}

// SetName sets the friendly name for workspacePath. An empty name restores
// the default directory-name display.
func (s *Service) SetName(ctx context.Context, workspacePath, name string) (Info, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n > MaxNameLen {
		return Info{}, apperr.Validation("name", "name must be at most %d characters, got %d", MaxNameLen, n)
	}
	p, err := s.registry.SetName(ctx, workspacePath, name)
	if err != nil {
		return Info{}, err
	}
	return s.info(p), nil
}

// CleanupAll runs the retention sweep on every registered project. One
// project failing does not stop the others; its outcome carries the error.
// Sweeping does not count as accessing a project.
func (s *Service) CleanupAll(ctx context.Context, retentionDays int) ([]CleanupOutcome, error) {
	if retentionDays <= 0 {
		return nil, apperr.Validation("retention_days", "retention_days must be positive, got %d", retentionDays)
	}
	projects, err := s.registry.All(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]CleanupOutcome, len(projects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, p := range projects {
		out[i] = CleanupOutcome{ProjectID: p.ID, WorkspacePath: p.WorkspacePath}
		g.Go(func() error {
			var res tracker.CleanupResult
			exists, err := s.router.InspectWrite(gctx, p.WorkspacePath, func(tx *sqlx.Tx) error {
				var err error
				res, err = tracker.PurgeDeleted(gctx, tx, retentionDays)
				return err
			})
			out[i].DBExists = exists
			switch {
			case err != nil:
				s.logger.Warn("cleanup failed", "project_id", p.ID, "workspace", p.WorkspacePath, "error", err)
				out[i].Error = apperr.ToPayload(err).Message
			case exists:
				out[i].Result = &res
				s.logger.Info("cleanup done", "project_id", p.ID, "purged", res.PurgedCount)
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}
