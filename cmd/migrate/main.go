package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/eugenenazirov/crowdsale-migrations/internal/application"
	"github.com/eugenenazirov/crowdsale-migrations/internal/config"
	"github.com/eugenenazirov/crowdsale-migrations/internal/logging"
	"github.com/eugenenazirov/crowdsale-migrations/internal/migration"
	"github.com/eugenenazirov/crowdsale-migrations/internal/storage"
)

var signalNotify = signal.Notify

type cli struct {
	app *kingpin.Application

	configFile   *string
	network      *string
	rpcURL       *string
	artifactsDir *string
	recordsFile  *string
	logLevel     *string
	port         *string

	migrate *kingpin.CmdClause
	reset   *bool
	from    *int
	to      *int
	dryRun  *bool

	status   *kingpin.CmdClause
	networks *kingpin.CmdClause
	serve    *kingpin.CmdClause
	version  *kingpin.CmdClause
}

func newCLI() *cli {
	app := kingpin.New("crowdsale-migrate", "Deploys the CrowdSale contract and tracks migration progress per network")
	c := &cli{
		app:          app,
		configFile:   app.Flag("config", "Path to YAML configuration file").String(),
		network:      app.Flag("network", "Target network name").String(),
		rpcURL:       app.Flag("rpc-url", "JSON-RPC endpoint of the target network").String(),
		artifactsDir: app.Flag("artifacts-dir", "Directory holding compiled contract artifacts").String(),
		recordsFile:  app.Flag("records-file", "YAML file with migration progress and deployment records").String(),
		logLevel:     app.Flag("log-level", "Log level (debug, info, warn, error)").String(),
		port:         app.Flag("port", "HTTP port exposed by the status server").String(),
	}

	c.migrate = app.Command("migrate", "Run pending migrations").Default()
	c.reset = c.migrate.Flag("reset", "Clear recorded progress and run every migration again").Bool()
	c.from = c.migrate.Flag("from", "Lowest migration number to run").Default("0").Int()
	c.to = c.migrate.Flag("to", "Highest migration number to run").Default("0").Int()
	c.dryRun = c.migrate.Flag("dry-run", "Encode deployments and predict addresses without sending transactions or saving progress").Bool()

	c.status = app.Command("status", "Show migration progress for the network")
	c.networks = app.Command("networks", "List deployment records for the network")
	c.serve = app.Command("serve", "Serve the read-only status API")
	c.version = app.Command("version", "Print build information")

	return c
}

func (c *cli) overrides() *config.CLIOverrides {
	overrides := &config.CLIOverrides{
		ConfigFile: *c.configFile,
	}

	for _, flag := range []struct {
		value  *string
		target **string
	}{
		{c.network, &overrides.Network},
		{c.rpcURL, &overrides.RPCURL},
		{c.artifactsDir, &overrides.ArtifactsDir},
		{c.recordsFile, &overrides.RecordsFile},
		{c.logLevel, &overrides.LogLevel},
		{c.port, &overrides.Port},
	} {
		if *flag.value != "" {
			*flag.target = flag.value
		}
	}

	if *c.dryRun {
		overrides.DryRun = c.dryRun
	}

	return overrides
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "crowdsale-migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	c := newCLI()
	command, err := c.app.Parse(args)
	if err != nil {
		return err
	}

	if command == c.version.FullCommand() {
		_, err := fmt.Fprintln(out, BuildInfo())
		return err
	}

	cfg, err := config.Load(c.overrides())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", zap.Error(err))
		return err
	}

	switch command {
	case c.migrate.FullCommand():
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := app.Migrate(ctx, application.MigrateOptions{
			From:  *c.from,
			To:    *c.to,
			Reset: *c.reset,
		})
		if report != nil {
			printReport(out, report)
		}
		if err != nil {
			logger.Error("migration failed", zap.String("network", cfg.Network), zap.Error(err))
			return err
		}
		return nil

	case c.status.FullCommand():
		last, err := app.LastCompleted()
		if err != nil {
			return err
		}
		pending, err := app.Pending()
		if err != nil {
			return err
		}
		printStatus(out, cfg.Network, last, pending)
		return nil

	case c.networks.FullCommand():
		deployments, err := app.Deployments()
		if err != nil {
			return err
		}
		printDeployments(out, cfg.Network, deployments)
		return nil

	case c.serve.FullCommand():
		if err := app.Start(); err != nil {
			logger.Error("failed to start server", zap.Error(err))
			return err
		}
		shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)
		return nil
	}

	return fmt.Errorf("unknown command %q", command)
}

func printReport(out io.Writer, report *migration.Report) {
	if len(report.Executed) == 0 && len(report.Deployments) == 0 {
		fmt.Fprintf(out, "Network %s is up to date.\n", report.Network)
		return
	}
	fmt.Fprintf(out, "Run %s on %s executed %d migration(s).\n", report.RunID, report.Network, len(report.Executed))
	if len(report.Deployments) > 0 {
		printDeployments(out, report.Network, report.Deployments)
	}
}

func printStatus(out io.Writer, network string, last int, pending []migration.Migration) {
	fmt.Fprintf(out, "Network:                  %s\n", network)
	fmt.Fprintf(out, "Last completed migration: %d\n", last)
	if len(pending) == 0 {
		fmt.Fprintln(out, "Pending:                  none")
		return
	}
	fmt.Fprintln(out, "Pending:")
	for _, m := range pending {
		fmt.Fprintf(out, "  %s\n", m.Name)
	}
}

func printDeployments(out io.Writer, network string, deployments []storage.Deployment) {
	if len(deployments) == 0 {
		fmt.Fprintf(out, "No deployments recorded on %s.\n", network)
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MIGRATION\tCONTRACT\tADDRESS\tTX\tGAS USED\tSTATUS\tDEPLOYED AT")
	for _, d := range deployments {
		tx, gas := d.TxHash, "-"
		if tx == "" {
			tx = "-"
		}
		if d.GasUsed > 0 {
			gas = humanize.Comma(int64(d.GasUsed))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Migration, d.Contract, d.Address, tx, gas, deploymentStatus(d), d.DeployedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}

func deploymentStatus(d storage.Deployment) string {
	switch {
	case d.Failed:
		return "reverted"
	case d.DryRun:
		return "dry-run"
	}
	return "deployed"
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
