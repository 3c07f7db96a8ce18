package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/apikey"
	apikeydomain "github.com/smallbiznis/milkrun/internal/apikey/domain"
	"github.com/smallbiznis/milkrun/internal/audit"
	"github.com/smallbiznis/milkrun/internal/authorization"
	"github.com/smallbiznis/milkrun/internal/clock"
	"github.com/smallbiznis/milkrun/internal/config"
	"github.com/smallbiznis/milkrun/internal/customer"
	"github.com/smallbiznis/milkrun/internal/delivery"
	"github.com/smallbiznis/milkrun/internal/ledger"
	"github.com/smallbiznis/milkrun/internal/migration"
	"github.com/smallbiznis/milkrun/internal/monthlypayment"
	"github.com/smallbiznis/milkrun/internal/observability"
	"github.com/smallbiznis/milkrun/internal/payment"
	"github.com/smallbiznis/milkrun/internal/penalty"
	"github.com/smallbiznis/milkrun/internal/pricing"
	"github.com/smallbiznis/milkrun/internal/redis"
	"github.com/smallbiznis/milkrun/internal/scheduler"
	"github.com/smallbiznis/milkrun/internal/seed"
	"github.com/smallbiznis/milkrun/internal/server"
	"github.com/smallbiznis/milkrun/internal/status"
	"github.com/smallbiznis/milkrun/internal/subscription"
	"github.com/smallbiznis/milkrun/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "milkrun",
		Short:   "Milk subscription billing engine",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(
		newMigrateCmd(),
		newServeCmd(),
		newSchedulerCmd(),
		newAllCmd(),
		newRunJobCmd(),
		newAPIKeyCmd(),
		newSeedCmd(),
	)
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the operator API and payment webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(engineModules(), server.Module).Run()
			return nil
		},
	}
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the daily billing jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(engineModules(), scheduler.RunModule).Run()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then the API and the scheduler in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			fx.New(engineModules(), server.Module, scheduler.RunModule).Run()
			return nil
		},
	}
}

func newRunJobCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:       "run-job <name>",
		Short:     "Run one scheduler job now, ignoring its schedule",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{scheduler.JobPenaltySweep, scheduler.JobMonthlyRecords, scheduler.JobOverdueEnforcement, scheduler.JobEnsureDeliveries, scheduler.JobStatusRefresh},
		RunE: func(cmd *cobra.Command, args []string) error {
			var sched *scheduler.Scheduler
			app := fx.New(engineModules(), fx.Populate(&sched), fx.NopLogger)

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return fmt.Errorf("start: %w", err)
			}
			defer func() { _ = app.Stop(context.Background()) }()

			result, err := sched.RunJob(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "maximum run time")
	return cmd
}

func newAPIKeyCmd() *cobra.Command {
	var name, role string
	apikeyCmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage operator API keys",
	}
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc apikeydomain.Service
			app := fx.New(
				config.Module,
				observability.Module,
				fx.Provide(registerSnowflake),
				db.Module,
				clock.Module,
				audit.Module,
				apikey.Module,
				fx.Populate(&svc),
				fx.NopLogger,
			)

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return fmt.Errorf("start: %w", err)
			}
			defer func() { _ = app.Stop(context.Background()) }()

			secret, err := svc.Create(ctx, apikeydomain.CreateRequest{
				Name: name,
				Role: apikeydomain.Role(strings.ToLower(strings.TrimSpace(role))),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, secret)
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name")
	create.Flags().StringVar(&role, "role", string(apikeydomain.RoleAdmin), "admin or delivery_agent")
	_ = create.MarkFlagRequired("name")
	apikeyCmd.AddCommand(create)
	return apikeyCmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load a demo delivery route into an empty database",
		RunE: func(cmd *cobra.Command, args []string) error {
			var seeder *seed.Seeder
			app := fx.New(engineModules(), seed.Module, fx.Populate(&seeder), fx.NopLogger)

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return fmt.Errorf("start: %w", err)
			}
			defer func() { _ = app.Stop(context.Background()) }()

			result, err := seeder.EnsureDemoRoute(ctx, seed.DefaultDemoRoute)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		migration.Module,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

// engineModules wires the billing engine without any entry point.
func engineModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		redis.Module,
		pricing.Module,
		ledger.Module,
		status.Module,
		customer.Module,
		subscription.Module,
		delivery.Module,
		penalty.Module,
		monthlypayment.Module,
		audit.Module,
		payment.Module,
		apikey.Module,
		authorization.Module,
		scheduler.Module,
	)
}

func registerSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
