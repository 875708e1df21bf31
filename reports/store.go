// Package reports keeps the history of scenario runs and flags runs whose
// outcome differs from the previous run of the same scenario on the same
// snapshot.
package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"clonetest/observability/metrics"
	"clonetest/scenario"
	"clonetest/snapshot"
)

// ErrNotFound is returned when no run matches a lookup.
var ErrNotFound = errors.New("reports: run not found")

// Run is the stored summary of one scenario run.
type Run struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Scenario    string    `gorm:"size:256;index:idx_runs_key"`
	ChainID     string    `gorm:"size:64;index:idx_runs_key"`
	Height      uint64    `gorm:"index:idx_runs_key"`
	Status      string    `gorm:"size:16;index"`
	Error       string
	FailedStep  int
	StateRoot   string `gorm:"size:66"`
	EventDigest string `gorm:"size:66"`
	Messages    int
	Bindings    string `gorm:"type:text"`
	Report      string `gorm:"type:text"`
	StartedAt   time.Time
	DurationMS  int64
	CreatedAt   time.Time
}

// Key returns the snapshot the run executed against.
func (r Run) Key() snapshot.Key { return snapshot.Key{ChainID: r.ChainID, Height: r.Height} }

// AutoMigrate creates or updates the schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Run{})
}

// Open connects to dsn: postgres URLs select the Postgres driver, anything
// else is a SQLite path or URI.
func Open(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	case strings.TrimSpace(dsn) == "":
		return nil, errors.New("reports: dsn must not be empty")
	default:
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("reports: open: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("reports: migrate: %w", err)
	}
	return db, nil
}

// Store persists runs.
type Store struct {
	db      *gorm.DB
	logger  *slog.Logger
	metrics *metrics.HistoryMetrics
}

// NewStore wraps a migrated database.
func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, metrics: metrics.History()}
}

// Save records report.
func (s *Store) Save(ctx context.Context, report *scenario.Report) (*Run, error) {
	if report == nil {
		return nil, errors.New("reports: nil report")
	}
	bindings, err := json.Marshal(report.Bindings)
	if err != nil {
		return nil, err
	}
	full, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	run := &Run{
		ID:          report.RunID,
		Scenario:    report.Scenario,
		ChainID:     report.Snapshot.ChainID,
		Height:      report.Snapshot.Height,
		Status:      report.Status.String(),
		Error:       report.Error,
		FailedStep:  report.FailedStep,
		StateRoot:   report.StateRoot.Hex(),
		EventDigest: report.EventDigest().Hex(),
		Messages:    len(report.Messages),
		Bindings:    string(bindings),
		Report:      string(full),
		StartedAt:   report.Started,
		DurationMS:  report.Duration.Milliseconds(),
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("reports: save %s: %w", report.RunID, err)
	}
	s.metrics.ObserveSaved(report.Scenario, run.Status, report.Duration)
	return run, nil
}

// Get returns the run with id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// History returns the runs of name on key, newest first. A limit of zero
// returns every run.
func (s *Store) History(ctx context.Context, name string, key snapshot.Key, limit int) ([]Run, error) {
	q := s.db.WithContext(ctx).
		Where("scenario = ? AND chain_id = ? AND height = ?", name, key.ChainID, key.Height).
		Order("started_at desc").Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// Verdict compares a run with its predecessor.
type Verdict struct {
	Previous         *Run
	StatusChanged    bool
	StateRootChanged bool
	EventsChanged    bool
}

// Consistent reports whether the run reproduced its predecessor, or had none.
func (v Verdict) Consistent() bool {
	return !v.StatusChanged && !v.StateRootChanged && !v.EventsChanged
}

// CheckDeterminism compares report with the most recent earlier run of the
// same scenario on the same snapshot.
func (s *Store) CheckDeterminism(ctx context.Context, report *scenario.Report) (Verdict, error) {
	var prev Run
	err := s.db.WithContext(ctx).
		Where("scenario = ? AND chain_id = ? AND height = ? AND id <> ?",
			report.Scenario, report.Snapshot.ChainID, report.Snapshot.Height, report.RunID).
		Order("started_at desc").Order("created_at desc").
		First(&prev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.metrics.ObserveCheck("first")
		return Verdict{}, nil
	}
	if err != nil {
		return Verdict{}, err
	}
	v := Verdict{
		Previous:         &prev,
		StatusChanged:    prev.Status != report.Status.String(),
		StateRootChanged: prev.StateRoot != report.StateRoot.Hex(),
		EventsChanged:    prev.EventDigest != report.EventDigest().Hex(),
	}
	if v.Consistent() {
		s.metrics.ObserveCheck("consistent")
		return v, nil
	}
	s.metrics.ObserveCheck("diverged")
	s.logger.Warn("scenario diverged from previous run",
		slog.String("scenario", report.Scenario),
		slog.String("snapshot", report.Snapshot.String()),
		slog.String("run_id", report.RunID.String()),
		slog.String("previous_run_id", prev.ID.String()),
		slog.Bool("status_changed", v.StatusChanged),
		slog.Bool("state_root_changed", v.StateRootChanged),
		slog.Bool("events_changed", v.EventsChanged))
	return v, nil
}
