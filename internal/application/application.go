package application

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eugenenazirov/crowdsale-migrations/internal/api"
	"github.com/eugenenazirov/crowdsale-migrations/internal/artifact"
	"github.com/eugenenazirov/crowdsale-migrations/internal/config"
	"github.com/eugenenazirov/crowdsale-migrations/internal/deployer"
	"github.com/eugenenazirov/crowdsale-migrations/internal/migration"
	"github.com/eugenenazirov/crowdsale-migrations/internal/storage"
)

// ErrMissingPrivateKey is returned when a live deployment is requested without a signing key.
var ErrMissingPrivateKey = errors.New(config.PrivateKeyEnv + " must be set for non dry-run deployments")

// dialFunc connects to a JSON-RPC endpoint. The returned func releases the connection.
type dialFunc func(ctx context.Context, rawURL string) (deployer.ChainClient, func(), error)

// App encapsulates the application dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	storage   storage.Storage
	artifacts *artifact.Store
	registry  *prometheus.Registry
	metrics   *deployer.Metrics
	planner   *migration.Runner
	server    *http.Server

	dial dialFunc
}

// New initializes the application with all dependencies from the provided
// configuration. The RPC endpoint is only contacted by Migrate.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	store, err := storage.NewFileStorage(cfg.RecordsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open deployment records: %w", err)
	}

	artifactsDir := cfg.ArtifactsDir
	if _, statErr := os.Stat(artifactsDir); statErr != nil && !filepath.IsAbs(artifactsDir) {
		if resolved, err := resolveProjectPath(artifactsDir); err == nil {
			artifactsDir = resolved
		}
	}
	artifacts := artifact.NewStore(artifactsDir)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := deployer.NewMetrics(registry)

	planner, err := migration.NewRunner(store, nil, artifacts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	handler := api.NewHandler(planner, store)
	router := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithMetrics(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	)

	return &App{
		cfg:       cfg,
		logger:    logger,
		storage:   store,
		artifacts: artifacts,
		registry:  registry,
		metrics:   metrics,
		planner:   planner,
		server:    NewServer(cfg, router),
		dial:      dialEthereum,
	}, nil
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// MigrateOptions mirrors the migrate command flags.
type MigrateOptions struct {
	From  int
	To    int
	Reset bool
}

// Migrate runs pending migrations on the configured network.
func (a *App) Migrate(ctx context.Context, opts MigrateOptions) (*migration.Report, error) {
	d, release, err := a.newDeployer(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	store, err := a.runStorage()
	if err != nil {
		return nil, err
	}

	runner, err := migration.NewRunner(store, d, a.artifacts, a.logger)
	if err != nil {
		return nil, err
	}

	a.logger.Info("starting migrations",
		zap.String("network", a.cfg.Network),
		zap.Bool("dry_run", a.cfg.DryRun),
		zap.String("artifacts_dir", a.artifacts.Dir()),
	)

	return runner.Run(ctx, migration.RunOptions{
		Network: a.cfg.Network,
		From:    opts.From,
		To:      opts.To,
		Reset:   opts.Reset,
	})
}

// Pending lists the migrations still to run on the configured network.
func (a *App) Pending() ([]migration.Migration, error) {
	return a.planner.Pending(migration.RunOptions{Network: a.cfg.Network})
}

// LastCompleted returns the progress recorded for the configured network.
func (a *App) LastCompleted() (int, error) {
	return a.storage.LastCompleted(a.cfg.Network)
}

// Deployments returns the records for the configured network.
func (a *App) Deployments() ([]storage.Deployment, error) {
	return a.storage.Deployments(a.cfg.Network)
}

// Start starts the status server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// runStorage returns the store a run writes to. Dry runs work on a scratch
// copy of the network progress so they never touch the records file.
func (a *App) runStorage() (storage.Storage, error) {
	if !a.cfg.DryRun {
		return a.storage, nil
	}

	last, err := a.storage.LastCompleted(a.cfg.Network)
	if err != nil {
		return nil, err
	}
	scratch := storage.NewMemoryStorage()
	if last > 0 {
		if err := scratch.SetLastCompleted(a.cfg.Network, last); err != nil {
			return nil, err
		}
	}
	return scratch, nil
}

func (a *App) newDeployer(ctx context.Context) (migration.Deployer, func(), error) {
	var from common.Address
	key := a.cfg.PrivateKey

	if a.cfg.DryRun {
		if key != "" {
			parsed, err := deployer.ParsePrivateKey(key)
			if err != nil {
				return nil, nil, err
			}
			from = crypto.PubkeyToAddress(parsed.PublicKey)
		}
		return deployer.NewDryRun(from, a.logger, a.metrics), func() {}, nil
	}

	if key == "" {
		return nil, nil, ErrMissingPrivateKey
	}
	parsed, err := deployer.ParsePrivateKey(key)
	if err != nil {
		return nil, nil, err
	}

	client, release, err := a.dial(ctx, a.cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", a.cfg.Network, err)
	}

	opts := deployer.Options{
		GasLimit:           a.cfg.GasLimit,
		GasPriceMultiplier: a.cfg.GasPriceMultiplier,
		Confirmations:      a.cfg.Confirmations,
		PollInterval:       a.cfg.PollInterval,
		Timeout:            a.cfg.DeployTimeout,
	}
	if a.cfg.ChainID > 0 {
		opts.ChainID = big.NewInt(a.cfg.ChainID)
	}

	d, err := deployer.New(client, parsed, opts, a.logger, a.metrics)
	if err != nil {
		release()
		return nil, nil, err
	}
	return d, release, nil
}

func dialEthereum(ctx context.Context, rawURL string) (deployer.ChainClient, func(), error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// resolveProjectPath locates a file or directory relative to the project root by walking up the directory tree.
func resolveProjectPath(relative string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, relative)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("unable to locate %s", relative)
}
