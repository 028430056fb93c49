package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eugenenazirov/crowdsale-migrations/internal/artifact"
	"github.com/eugenenazirov/crowdsale-migrations/internal/storage"
)

// RunOptions selects which migrations a run applies.
type RunOptions struct {
	Network string
	// From and To bound the run by migration number, inclusive. Zero means unbounded.
	From  int
	To    int
	Reset bool
}

// Report summarises a completed (or aborted) run.
type Report struct {
	RunID       string
	Network     string
	Executed    []string
	Deployments []storage.Deployment
}

// Runner applies migrations against a network.
type Runner struct {
	migrations []Migration
	store      storage.Storage
	deployer   Deployer
	artifacts  Artifacts
	logger     *zap.Logger

	newID func() string
	clock func() time.Time
}

// RunnerOption configures Runner behaviour.
type RunnerOption func(*Runner)

// WithMigrations replaces the default migration set.
func WithMigrations(migrations ...Migration) RunnerOption {
	return func(r *Runner) {
		r.migrations = migrations
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.clock = clock
	}
}

// WithIDGenerator overrides run and record id generation, primarily for tests.
func WithIDGenerator(newID func() string) RunnerOption {
	return func(r *Runner) {
		r.newID = newID
	}
}

// NewRunner constructs a Runner with the provided dependencies.
func NewRunner(store storage.Storage, deployer Deployer, artifacts Artifacts, logger *zap.Logger, opts ...RunnerOption) (*Runner, error) {
	r := &Runner{
		migrations: All(),
		store:      store,
		deployer:   deployer,
		artifacts:  artifacts,
		logger:     logger,
		newID: func() string {
			return uuid.NewString()
		},
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	sorted, err := sortMigrations(r.migrations)
	if err != nil {
		return nil, err
	}
	r.migrations = sorted
	return r, nil
}

// Migrations returns the ordered migration set.
func (r *Runner) Migrations() []Migration {
	out := make([]Migration, len(r.migrations))
	copy(out, r.migrations)
	return out
}

// Pending returns the migrations a run with opts would execute.
func (r *Runner) Pending(opts RunOptions) ([]Migration, error) {
	if opts.From > 0 && opts.To > 0 && opts.From > opts.To {
		return nil, ErrInvalidRange
	}

	last := 0
	if !opts.Reset {
		var err error
		last, err = r.store.LastCompleted(opts.Network)
		if err != nil {
			return nil, fmt.Errorf("read migration progress: %w", err)
		}
	}

	pending := make([]Migration, 0, len(r.migrations))
	for _, m := range r.migrations {
		if m.Number <= last {
			continue
		}
		if opts.From > 0 && m.Number < opts.From {
			continue
		}
		if opts.To > 0 && m.Number > opts.To {
			continue
		}
		pending = append(pending, m)
	}
	return pending, nil
}

// Run executes pending migrations one after another. It stops at the first
// failure; progress of the migrations that completed before it is kept.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	pending, err := r.Pending(opts)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:       r.newID(),
		Network:     opts.Network,
		Executed:    []string{},
		Deployments: []storage.Deployment{},
	}
	logger := r.logger.With(zap.String("run_id", report.RunID), zap.String("network", opts.Network))

	if opts.Reset {
		if err := r.store.Reset(opts.Network); err != nil {
			return report, fmt.Errorf("reset migration progress: %w", err)
		}
	}

	if len(pending) == 0 {
		logger.Info("network is up to date")
		return report, nil
	}

	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		logger.Info("running migration", zap.Int("number", m.Number), zap.String("migration", m.Name))
		start := r.clock()

		recorder := &recordingDeployer{runner: r, report: report, migration: m.Name, network: opts.Network, next: r.deployer}
		if err := m.Run(ctx, recorder, r.artifacts); err != nil {
			logger.Error("migration failed", zap.String("migration", m.Name), zap.Error(err))
			return report, fmt.Errorf("migration %s: %w", m.Name, err)
		}

		if err := r.store.SetLastCompleted(opts.Network, m.Number); err != nil {
			return report, fmt.Errorf("record migration %s: %w", m.Name, err)
		}
		report.Executed = append(report.Executed, m.Name)

		logger.Info("migration completed",
			zap.String("migration", m.Name),
			zap.Duration("duration", r.clock().Sub(start)),
		)
	}

	return report, nil
}

// recordingDeployer stamps every deployment with run metadata and saves it.
type recordingDeployer struct {
	runner    *Runner
	report    *Report
	migration string
	network   string
	next      Deployer
}

func (d *recordingDeployer) Deploy(ctx context.Context, contract *artifact.Artifact, args ...string) (*storage.Deployment, error) {
	if contract == nil {
		return nil, errors.New("deploy: nil contract")
	}

	deployment, err := d.next.Deploy(ctx, contract, args...)
	if err != nil {
		// A record returned with an error is a mined creation that failed.
		// It is saved flagged Failed and the error is returned unchanged.
		if deployment != nil {
			deployment.Failed = true
			if saveErr := d.record(contract, deployment, args); saveErr != nil {
				d.runner.logger.Error("failed to record failed deployment", zap.Error(saveErr))
			}
		}
		return deployment, err
	}
	if deployment == nil {
		deployment = &storage.Deployment{}
	}
	if err := d.record(contract, deployment, args); err != nil {
		return deployment, err
	}
	return deployment, nil
}

func (d *recordingDeployer) record(contract *artifact.Artifact, deployment *storage.Deployment, args []string) error {
	if deployment.ID == "" {
		deployment.ID = d.runner.newID()
	}
	deployment.RunID = d.report.RunID
	deployment.Migration = d.migration
	deployment.Network = d.network
	if deployment.Contract == "" {
		deployment.Contract = contract.ContractName
	}
	if deployment.Args == nil {
		deployment.Args = append([]string(nil), args...)
	}
	if deployment.DeployedAt.IsZero() {
		deployment.DeployedAt = d.runner.clock()
	}

	if err := d.runner.store.SaveDeployment(*deployment); err != nil {
		return fmt.Errorf("save deployment of %s: %w", contract.ContractName, err)
	}
	d.report.Deployments = append(d.report.Deployments, *deployment)

	msg := "contract deployed"
	if deployment.Failed {
		msg = "contract deployment failed"
	}
	d.runner.logger.Info(msg,
		zap.String("run_id", d.report.RunID),
		zap.String("contract", deployment.Contract),
		zap.String("address", deployment.Address),
		zap.String("tx_hash", deployment.TxHash),
		zap.Uint64("gas_used", deployment.GasUsed),
		zap.Bool("dry_run", deployment.DryRun),
	)
	return nil
}
