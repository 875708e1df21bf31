package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"clonetest/observability"
	"clonetest/redeploy"
	"clonetest/shim"
	"clonetest/snapshot"
	"clonetest/vm"
)

const defaultParallelism = 4

// Runner executes scenarios against snapshots of one store.
type Runner struct {
	store       *snapshot.Store
	registry    *vm.Registry
	envOpts     []vm.Option
	vars        map[string]string
	parallelism int
	logger      *slog.Logger
	metrics     *observability.ForkMetrics
	events      *observability.EventMetrics
	tracer      trace.Tracer
	clock       func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink. A nil sink disables metrics.
func WithMetrics(m *observability.ForkMetrics) Option {
	return func(r *Runner) {
		r.metrics = m
		if m == nil {
			r.events = nil
		}
	}
}

// WithParallelism bounds the scenarios RunAll executes at once.
func WithParallelism(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// WithEnvOptions configures the execution environment of every run.
func WithEnvOptions(opts ...vm.Option) Option {
	return func(r *Runner) { r.envOpts = append(r.envOpts, opts...) }
}

// WithVars seeds the variables every run starts with.
func WithVars(vars map[string]string) Option {
	return func(r *Runner) {
		for k, v := range vars {
			r.vars[k] = v
		}
	}
}

// NewRunner returns a runner resolving contract code through registry.
func NewRunner(store *snapshot.Store, registry *vm.Registry, opts ...Option) *Runner {
	r := &Runner{
		store:       store,
		registry:    registry,
		vars:        make(map[string]string),
		parallelism: defaultParallelism,
		logger:      slog.Default(),
		metrics:     observability.Fork(),
		events:      observability.Events(),
		tracer:      otel.Tracer("clonetest/scenario"),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes sc on a fresh overlay over snap. Steps run in order; the
// context is checked between steps, so a cancelled run stops at the next
// step boundary. Run never returns nil.
func (r *Runner) Run(ctx context.Context, snap *snapshot.Snapshot, sc Scenario) *Report {
	report := &Report{
		RunID:      uuid.New(),
		Scenario:   sc.Name,
		Snapshot:   snap.Key(),
		Status:     StatusInitialized,
		FailedStep: -1,
		Started:    r.clock().UTC(),
	}
	ctx, span := r.tracer.Start(ctx, "scenario.run", trace.WithAttributes(
		attribute.String("scenario", sc.Name),
		attribute.String("snapshot", snap.Key().String()),
		attribute.String("run_id", report.RunID.String()),
	))
	defer span.End()

	logger := r.logger.With(
		slog.String("scenario", sc.Name),
		slog.String("run_id", report.RunID.String()),
		slog.String("snapshot", snap.Key().String()))

	if err := sc.Validate(); err != nil {
		report.fail(-1, err)
		r.finish(span, logger, report, nil)
		return report
	}

	sh := shim.New(r.store, snap, logger)
	env := vm.NewEnv(snap.Manifest(), r.registry, append([]vm.Option{vm.WithLogger(logger)}, r.envOpts...)...)
	manager := redeploy.NewManager(env, snap.Manifest(), logger)
	c := newContext(sh.NewOverlay(), env, manager, r.vars)

	report.Status = StatusRunning
	logger.Info("scenario started", slog.Int("steps", len(sc.Steps)), slog.Int("assertions", len(sc.Assertions)))

	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			report.fail(i, fmt.Errorf("cancelled before step %d: %w", i, err))
			break
		}
		c.step = i
		if err := r.runStep(ctx, i, step.Kind(), func(ctx context.Context) error { return step.run(ctx, c) }); err != nil {
			report.fail(i, fmt.Errorf("step %d (%s): %w", i, step.Kind(), err))
			break
		}
	}
	if report.Status == StatusRunning {
		for i, a := range sc.Assertions {
			index := len(sc.Steps) + i
			if err := ctx.Err(); err != nil {
				report.fail(index, fmt.Errorf("cancelled before assertion %d: %w", i, err))
				break
			}
			if err := r.runStep(ctx, index, a.Kind(), func(ctx context.Context) error { return a.check(ctx, c) }); err != nil {
				report.fail(index, fmt.Errorf("assertion %d (%s): %w", i, a.Kind(), err))
				break
			}
		}
	}
	if report.Status == StatusRunning {
		report.Status = StatusPassed
	}
	r.finish(span, logger, report, c)
	return report
}

func (r *Runner) runStep(ctx context.Context, index int, kind string, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "scenario.step", trace.WithAttributes(
		attribute.Int("index", index),
		attribute.String("kind", kind),
	))
	defer span.End()
	start := r.clock()
	err := fn(ctx)
	r.metrics.ObserveStep(kind, r.clock().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *Runner) finish(span trace.Span, logger *slog.Logger, report *Report, c *Context) {
	if c != nil {
		report.Messages = c.messages
		report.Events = c.events
		report.Bindings = c.bindings
		root, err := c.overlay.Root()
		if err != nil && report.Status == StatusPassed {
			report.fail(-1, fmt.Errorf("state root: %w", err))
		}
		report.StateRoot = root
	}
	report.Duration = r.clock().Sub(report.Started)
	r.metrics.RecordScenario(report.Status.String())
	r.events.Record(report.Events)
	span.SetAttributes(attribute.String("status", report.Status.String()))
	if report.Status == StatusFailed {
		span.RecordError(report.err)
		span.SetStatus(codes.Error, report.Error)
		logger.Warn("scenario failed",
			slog.Int("step", report.FailedStep),
			slog.Duration("duration", report.Duration),
			slog.Any("error", report.err))
		return
	}
	logger.Info("scenario passed",
		slog.Int("messages", len(report.Messages)),
		slog.String("state_root", report.StateRoot.Hex()),
		slog.Duration("duration", report.Duration))
}

// RunAll runs every scenario concurrently, at most parallelism at a time,
// each on its own overlay. Reports are returned in input order.
func (r *Runner) RunAll(ctx context.Context, snap *snapshot.Snapshot, scenarios []Scenario) []*Report {
	reports := make([]*Report, len(scenarios))
	var g errgroup.Group
	g.SetLimit(r.parallelism)
	for i := range scenarios {
		i := i
		g.Go(func() error {
			reports[i] = r.Run(ctx, snap, scenarios[i])
			return nil
		})
	}
	_ = g.Wait()
	return reports
}
