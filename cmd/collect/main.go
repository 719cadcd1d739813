package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"inventory-collector/pkg/config"
	"inventory-collector/pkg/db"
	"inventory-collector/pkg/gen"
	"inventory-collector/pkg/hashistack/secretmanager"
	"inventory-collector/pkg/kafka"
	"inventory-collector/pkg/logger"
	"inventory-collector/pkg/metrics"
	"inventory-collector/pkg/minio"
	"inventory-collector/pkg/queue"
	"inventory-collector/pkg/redis"
	"inventory-collector/services/bootstrap"
	"inventory-collector/services/collector"
	"inventory-collector/services/identity"
	"inventory-collector/services/job"
	"inventory-collector/services/plugin"
	"inventory-collector/services/rule"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "collect",
		Usage: "start and inspect inventory collection jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "collector-id",
				Usage:    "collector to run",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "domain-id",
				Usage:    "domain owning the collector",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "workspace-id",
				Usage: "workspace to collect into (defaults to the collector's)",
			},
			&cli.StringFlag{
				Name:  "secret-id",
				Usage: "collect with a single secret of the collector's filter",
			},
		},
		Action: collectAction,
		Commands: []*cli.Command{
			{
				Name:  "job",
				Usage: "job commands",
				Commands: []*cli.Command{
					{
						Name:  "show",
						Usage: "print a job and its tasks",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "job-id", Required: true},
						},
						Action: showJobAction,
					},
					{
						Name:  "cancel",
						Usage: "cancel a running job",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "job-id", Required: true},
						},
						Action: cancelJobAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// deps is the part of the service graph the command needs. The worker-only
// modules (queue server, sweeper, executor) are left out.
type deps struct {
	Orchestrator *collector.Orchestrator
	Jobs         *job.Manager
}

func withDeps(ctx context.Context, fn func(deps) error) error {
	var d deps
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		queue.Client,
		secretmanager.Module,
		minio.Client,
		kafka.Module,
		gen.Module,
		metrics.Module,
		bootstrap.Module,
		identity.Module,
		plugin.Module,
		rule.Module,
		job.Module,
		collector.Module,
		fx.Populate(&d.Orchestrator, &d.Jobs),
		fx.NopLogger,
	)
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := app.Stop(context.Background()); err != nil {
			zap.L().Warn("failed to stop cleanly", zap.Error(err))
		}
	}()
	return fn(d)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func collectAction(ctx context.Context, cmd *cli.Command) error {
	return withDeps(ctx, func(d deps) error {
		j, err := d.Orchestrator.Collect(ctx, collector.CollectParams{
			CollectorID: cmd.String("collector-id"),
			DomainID:    cmd.String("domain-id"),
			WorkspaceID: cmd.String("workspace-id"),
			SecretID:    cmd.String("secret-id"),
		})
		if err != nil {
			return err
		}
		return printJSON(j)
	})
}

func showJobAction(ctx context.Context, cmd *cli.Command) error {
	return withDeps(ctx, func(d deps) error {
		j, err := d.Jobs.Get(ctx, cmd.String("job-id"))
		if err != nil {
			return err
		}
		tasks, err := d.Jobs.ListTasks(ctx, j.JobID)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"job": j, "tasks": tasks})
	})
}

func cancelJobAction(ctx context.Context, cmd *cli.Command) error {
	return withDeps(ctx, func(d deps) error {
		j, err := d.Jobs.Cancel(ctx, cmd.String("job-id"))
		if err != nil {
			return err
		}
		return printJSON(j)
	})
}
