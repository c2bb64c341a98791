// Package main provides orchctl, the operator CLI for schedules and runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/unlock/orchestration-service/internal/config"
	"github.com/unlock/orchestration-service/internal/observability"
	"github.com/unlock/orchestration-service/internal/temporal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// cli holds the Temporal facades shared by every subcommand. They are built
// once in the root's pre-run hook.
type cli struct {
	out       io.Writer
	tenant    string
	timeout   time.Duration
	client    client.Client
	engine    *temporal.Engine
	scheduler *temporal.Scheduler
}

func newRootCommand(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "orchctl",
		Short:         "Operate orchestration-service schedules and workflow runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.connect()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			c.close()
		},
	}
	root.PersistentFlags().StringVar(&c.tenant, "tenant", "", "Restrict operations to one tenant")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "Per-command deadline")

	root.AddCommand(c.scheduleCommand(), c.runsCommand())
	return root
}

func (c *cli) connect() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "warn",
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.RFC3339,
	})
	logger = logger.With().Str("component", "orchctl").Logger()

	tc, err := temporal.NewClient(temporal.ClientConfig{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		APIKey:    cfg.Temporal.APIKey,
		TLS: &temporal.TLSConfig{
			Enabled:    cfg.Temporal.TLSEnabled,
			CertPath:   cfg.Temporal.TLSCertPath,
			KeyPath:    cfg.Temporal.TLSKeyPath,
			CACertPath: cfg.Temporal.TLSCAPath,
			ServerName: cfg.Temporal.TLSServerName,
		},
		Logger: observability.NewTemporalLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("connect to temporal: %w", err)
	}

	settings := temporal.WorkflowSettings{
		ContentTimeout:     cfg.Workflows.ContentExecutionTimeout,
		IdentityTimeout:    cfg.Workflows.IdentityExecutionTimeout,
		PerformanceTimeout: cfg.Workflows.PerformanceExecutionTimeout,
		VoiceThreshold:     cfg.Workflows.VoiceThreshold,
		MaxRevisions:       cfg.Workflows.MaxRevisions,
		ApprovalDue:        cfg.Workflows.ApprovalDue,
	}

	// No outbox here: runs started by schedules publish from the server.
	c.client = tc
	c.engine = temporal.NewEngine(tc, settings.EngineConfig(), nil, nil, logger)
	c.scheduler = temporal.NewScheduler(tc.ScheduleClient(), c.engine, logger)
	return nil
}

func (c *cli) close() {
	if c.engine != nil {
		c.engine.Close()
	}
	if c.client != nil {
		c.client.Close()
	}
}

// context derives the per-command context, carrying the tenant when set.
func (c *cli) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if c.tenant != "" {
		ctx = observability.WithTenant(ctx, c.tenant)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
